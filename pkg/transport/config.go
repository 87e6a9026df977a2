package transport

import (
	"fmt"
	"time"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
)

// Config is the complete configuration of an inner transport and the
// reliable session layered over it
type Config struct {
	Features      FeatureConfig         `json:"features" toml:"features"`
	Connection    ConnectionConfig      `json:"connection" toml:"connection"`
	Reliability   ReliabilityConfig     `json:"reliability" toml:"reliability"`
	Observability ObservabilityConfig   `json:"observability" toml:"observability"`
	Session       ReliableSessionConfig `json:"session" toml:"session"`
}

// FeatureConfig selects the listener middleware
type FeatureConfig struct {
	EnableReliability   bool `json:"enable_reliability" toml:"enable_reliability"`
	EnableObservability bool `json:"enable_observability" toml:"enable_observability"`
}

// ConnectionConfig tunes the inner channels
type ConnectionConfig struct {
	// MaxMessageSize bounds one received envelope in bytes
	MaxMessageSize int64 `json:"max_message_size" toml:"max_message_size"`
	// ReceiveBuffer is the number of received items a channel queues
	ReceiveBuffer int `json:"receive_buffer" toml:"receive_buffer"`
	// AcceptBacklog is the number of channels queued for Accept
	AcceptBacklog     int           `json:"accept_backlog" toml:"accept_backlog"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" toml:"read_header_timeout"`
	// ReplyTimeout bounds how long an HTTP exchange waits for its reply
	ReplyTimeout time.Duration `json:"reply_timeout" toml:"reply_timeout"`
	// AllowedOrigins restricts WebSocket upgrades; empty allows same-origin only
	AllowedOrigins []string `json:"allowed_origins,omitempty" toml:"allowed_origins,omitempty"`
}

// ReliabilityConfig for retrying transient accept failures
type ReliabilityConfig struct {
	MaxRetries         int           `json:"max_retries" toml:"max_retries"`
	InitialRetryDelay  time.Duration `json:"initial_retry_delay" toml:"initial_retry_delay"`
	MaxRetryDelay      time.Duration `json:"max_retry_delay" toml:"max_retry_delay"`
	RetryBackoffFactor float64       `json:"retry_backoff_factor" toml:"retry_backoff_factor"`
}

// ObservabilityConfig for channel logging and metrics
type ObservabilityConfig struct {
	EnableMetrics bool   `json:"enable_metrics" toml:"enable_metrics"`
	EnableLogging bool   `json:"enable_logging" toml:"enable_logging"`
	LogLevel      string `json:"log_level" toml:"log_level"`
}

// ReliableSessionConfig is the read-only configuration of a reliable
// session listener
type ReliableSessionConfig struct {
	AcknowledgementInterval time.Duration `json:"acknowledgement_interval" toml:"acknowledgement_interval"`
	InactivityTimeout       time.Duration `json:"inactivity_timeout" toml:"inactivity_timeout"`
	// MaxPendingChannels bounds sessions admitted but not yet accepted
	MaxPendingChannels    int  `json:"max_pending_channels" toml:"max_pending_channels"`
	MaxRetryCount         int  `json:"max_retry_count" toml:"max_retry_count"`
	MaxTransferWindowSize int  `json:"max_transfer_window_size" toml:"max_transfer_window_size"`
	Ordered               bool `json:"ordered" toml:"ordered"`
	FlowControlEnabled    bool `json:"flow_control_enabled" toml:"flow_control_enabled"`
	// Version is "wsrm11" or "wsrm-feb2005"
	Version string `json:"version" toml:"version"`

	OpenTimeout    time.Duration `json:"open_timeout" toml:"open_timeout"`
	CloseTimeout   time.Duration `json:"close_timeout" toml:"close_timeout"`
	ReceiveTimeout time.Duration `json:"receive_timeout" toml:"receive_timeout"`
	SendTimeout    time.Duration `json:"send_timeout" toml:"send_timeout"`

	// MaxRecentOffers bounds the memory of offers whose sessions ended
	MaxRecentOffers int `json:"max_recent_offers" toml:"max_recent_offers"`
}

// ProtocolVersion parses Version
func (c ReliableSessionConfig) ProtocolVersion() (protocol.Version, error) {
	return protocol.ParseVersion(c.Version)
}

// KeepAliveInterval is how often an idle session probes its peer so that
// MaxRetryCount probes fit in half the inactivity timeout
func (c ReliableSessionConfig) KeepAliveInterval() time.Duration {
	if c.MaxRetryCount <= 0 {
		return c.InactivityTimeout / 2
	}
	return c.InactivityTimeout / 2 / time.Duration(c.MaxRetryCount)
}

// Validate checks every field and reports all problems at once
func (c ReliableSessionConfig) Validate() error {
	v := rmerrors.NewValidator("session")

	for _, d := range []struct {
		field string
		value time.Duration
	}{
		{"acknowledgement_interval", c.AcknowledgementInterval},
		{"inactivity_timeout", c.InactivityTimeout},
		{"open_timeout", c.OpenTimeout},
		{"close_timeout", c.CloseTimeout},
		{"receive_timeout", c.ReceiveTimeout},
		{"send_timeout", c.SendTimeout},
	} {
		v.Check(d.value > 0, d.field, d.value, "must be positive")
	}

	v.Check(c.MaxPendingChannels > 0, "max_pending_channels", c.MaxPendingChannels, "must be at least 1")
	v.Check(c.MaxRetryCount > 0, "max_retry_count", c.MaxRetryCount, "must be at least 1")
	v.Check(c.MaxTransferWindowSize > 0 && c.MaxTransferWindowSize <= 4096,
		"max_transfer_window_size", c.MaxTransferWindowSize, "must be between 1 and 4096")
	v.Check(c.MaxRecentOffers >= 0, "max_recent_offers", c.MaxRecentOffers, "must not be negative")
	if _, err := c.ProtocolVersion(); err != nil {
		v.Enum("version", c.Version, []string{protocol.WSRM11.String(), protocol.WSRMFeb2005.String()})
	}
	if c.AcknowledgementInterval > 0 && c.InactivityTimeout > 0 {
		v.Check(c.AcknowledgementInterval < c.InactivityTimeout, "acknowledgement_interval", c.AcknowledgementInterval,
			fmt.Sprintf("must be shorter than inactivity_timeout (%v)", c.InactivityTimeout))
	}
	return v.Err()
}

// Validate checks the transport sections and the session section
func (c Config) Validate() error {
	v := rmerrors.NewValidator("")
	v.Check(c.Connection.MaxMessageSize > 0, "connection.max_message_size", c.Connection.MaxMessageSize, "must be positive")
	v.Check(c.Connection.ReceiveBuffer >= 0, "connection.receive_buffer", c.Connection.ReceiveBuffer, "must not be negative")
	v.Check(c.Connection.AcceptBacklog >= 0, "connection.accept_backlog", c.Connection.AcceptBacklog, "must not be negative")
	v.Check(c.Reliability.MaxRetries >= 0, "reliability.max_retries", c.Reliability.MaxRetries, "must not be negative")
	if c.Reliability.MaxRetries > 0 {
		v.Check(c.Reliability.RetryBackoffFactor >= 1, "reliability.retry_backoff_factor", c.Reliability.RetryBackoffFactor, "must be at least 1")
	}
	v.Add(c.Session.Validate())
	return v.Err()
}

// DefaultReliableSessionConfig returns the session defaults
func DefaultReliableSessionConfig() ReliableSessionConfig {
	return ReliableSessionConfig{
		AcknowledgementInterval: 200 * time.Millisecond,
		InactivityTimeout:       10 * time.Minute,
		MaxPendingChannels:      4,
		MaxRetryCount:           8,
		MaxTransferWindowSize:   8,
		Ordered:                 true,
		FlowControlEnabled:      true,
		Version:                 protocol.WSRM11.String(),
		OpenTimeout:             time.Minute,
		CloseTimeout:            time.Minute,
		ReceiveTimeout:          time.Minute,
		SendTimeout:             time.Minute,
		MaxRecentOffers:         1024,
	}
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		Features: FeatureConfig{
			EnableReliability:   true,
			EnableObservability: true,
		},
		Connection: ConnectionConfig{
			MaxMessageSize:    4 << 20,
			ReceiveBuffer:     16,
			AcceptBacklog:     16,
			ReadHeaderTimeout: 10 * time.Second,
			ReplyTimeout:      time.Minute,
		},
		Reliability: ReliabilityConfig{
			MaxRetries:         3,
			InitialRetryDelay:  100 * time.Millisecond,
			MaxRetryDelay:      5 * time.Second,
			RetryBackoffFactor: 2.0,
		},
		Observability: ObservabilityConfig{
			EnableMetrics: true,
			EnableLogging: true,
			LogLevel:      "info",
		},
		Session: DefaultReliableSessionConfig(),
	}
}
