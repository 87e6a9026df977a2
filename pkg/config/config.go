// Package config loads the configuration of a reliable session listener
// from TOML or JSON files and WSRM_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/logging"
	"github.com/ajitpratap0/wsrm-go/pkg/observability"
	"github.com/ajitpratap0/wsrm-go/pkg/transport"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "WSRM_"

// Config is the complete configuration of a listener process
type Config struct {
	Listener  ListenerConfig              `json:"listener" toml:"listener"`
	Transport transport.Config            `json:"transport" toml:"transport"`
	Logging   LoggingConfig               `json:"logging" toml:"logging"`
	Metrics   observability.MetricsConfig `json:"metrics" toml:"metrics"`
	Tracing   observability.TracingConfig `json:"tracing" toml:"tracing"`
}

// ListenerConfig describes the endpoint the listener serves
type ListenerConfig struct {
	// URI selects the inner transport, e.g. http://0.0.0.0:8080/rm
	URI string `json:"uri" toml:"uri"`
	// Kind is "input", "duplex" or "reply"
	Kind string `json:"kind" toml:"kind"`
	// LocalAddresses restricts the CreateSequence To addresses served
	LocalAddresses []string `json:"localAddresses,omitempty" toml:"local_addresses,omitempty"`
}

// LoggingConfig selects the log level and format
type LoggingConfig struct {
	Level string `json:"level" toml:"level"`
	// Format is "text" or "json"
	Format string `json:"format" toml:"format"`
}

// Channel kinds accepted in ListenerConfig.Kind
var channelKinds = []string{"input", "duplex", "reply"}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Listener: ListenerConfig{
			URI:  "http://0.0.0.0:8080/rm",
			Kind: "duplex",
		},
		Transport: transport.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: observability.MetricsConfig{
			ServiceName: "wsrm-listener",
			MetricsPath: "/metrics",
			MetricsAddr: ":9090",
			Namespace:   "wsrm",
			Subsystem:   "listener",
		},
		Tracing: observability.TracingConfig{
			ServiceName:  "wsrm-listener",
			ExporterType: observability.ExporterTypeNoop,
			SampleRate:   1.0,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. The format follows the extension: .toml or .json.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := decodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return rmerrors.WrapError(err, rmerrors.CodeValidationError,
				fmt.Sprintf("config parse failed (%s)", path), rmerrors.CategoryValidation, rmerrors.SeverityError)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			sort.Strings(keys)
			return rmerrors.UnknownKeys(path, keys)
		}
		return nil
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return rmerrors.WrapError(err, rmerrors.CodeValidationError,
				fmt.Sprintf("config load failed (%s)", path), rmerrors.CategoryValidation, rmerrors.SeverityError)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return rmerrors.WrapError(err, rmerrors.CodeValidationError,
				fmt.Sprintf("config parse failed (%s)", path), rmerrors.CategoryValidation, rmerrors.SeverityError)
		}
		return nil
	default:
		return rmerrors.InvalidEnum("config extension", ext, []string{".toml", ".json"})
	}
}

// LookupFunc reads one environment variable
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from WSRM_* variables read through lookup.
// Set but unparsable values are errors.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("LISTEN_URI", &c.Listener.URI)
	e.str("LISTENER_KIND", &c.Listener.Kind)
	e.list("LOCAL_ADDRESSES", &c.Listener.LocalAddresses)

	s := &c.Transport.Session
	e.str("VERSION", &s.Version)
	e.integer("MAX_PENDING_CHANNELS", &s.MaxPendingChannels)
	e.integer("MAX_RECENT_OFFERS", &s.MaxRecentOffers)
	e.duration("OPEN_TIMEOUT", &s.OpenTimeout)
	e.duration("CLOSE_TIMEOUT", &s.CloseTimeout)
	e.duration("RECEIVE_TIMEOUT", &s.ReceiveTimeout)
	e.duration("SEND_TIMEOUT", &s.SendTimeout)
	e.duration("INACTIVITY_TIMEOUT", &s.InactivityTimeout)

	e.integer64("MAX_MESSAGE_SIZE", &c.Transport.Connection.MaxMessageSize)

	e.str("LOG_LEVEL", &c.Logging.Level)
	e.str("LOG_FORMAT", &c.Logging.Format)

	e.str("METRICS_ADDR", &c.Metrics.MetricsAddr)

	var exporter string
	if e.str("TRACING_EXPORTER", &exporter) {
		c.Tracing.ExporterType = observability.ExporterType(exporter)
	}
	e.str("TRACING_ENDPOINT", &c.Tracing.Endpoint)
	e.boolean("TRACING_INSECURE", &c.Tracing.Insecure)

	return rmerrors.CombineValidationErrors(e.errs)
}

type envReader struct {
	lookup LookupFunc
	errs   []rmerrors.RMError
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) bool {
	v, ok := e.get(key)
	if ok {
		*dst = v
	}
	return ok
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, rmerrors.InvalidFieldValue(EnvPrefix+key, v, "must be an integer"))
		return
	}
	*dst = n
}

func (e *envReader) integer64(key string, dst *int64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, rmerrors.InvalidFieldValue(EnvPrefix+key, v, "must be an integer"))
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, rmerrors.InvalidFieldValue(EnvPrefix+key, v, "must be a duration such as 30s"))
		return
	}
	*dst = d
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, rmerrors.InvalidFieldValue(EnvPrefix+key, v, "must be a boolean"))
		return
	}
	*dst = b
}

// Validate checks every section and reports all problems at once
func (c Config) Validate() error {
	v := rmerrors.NewValidator("")

	v.Check(strings.TrimSpace(c.Listener.URI) != "", "listener.uri", c.Listener.URI, "is required")
	v.Enum("listener.kind", c.Listener.Kind, channelKinds)
	v.Add(c.Transport.Validate())

	v.Enum("logging.level", strings.ToLower(c.Logging.Level), []string{"debug", "info", "warn", "error", "fatal"})
	v.Enum("logging.format", c.Logging.Format, []string{"text", "json"})

	if c.Tracing.ExporterType != "" {
		v.Enum("tracing.exporter_type", string(c.Tracing.ExporterType), []string{string(observability.ExporterTypeNoop),
			string(observability.ExporterTypeOTLPGRPC), string(observability.ExporterTypeOTLPHTTP)})
	}
	v.Check(c.Tracing.SampleRate >= 0 && c.Tracing.SampleRate <= 1, "tracing.sample_rate", c.Tracing.SampleRate, "must be between 0 and 1")

	return v.Err()
}

// NewLogger builds the logger the logging section describes
func (c Config) NewLogger() logging.Logger {
	var formatter logging.Formatter = logging.NewTextFormatter()
	if c.Logging.Format == "json" {
		formatter = logging.NewJSONFormatter()
	}
	logger := logging.New(os.Stderr, formatter)
	logger.SetLevel(logging.ParseLevel(strings.ToLower(c.Logging.Level)))
	return logger
}
