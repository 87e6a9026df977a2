package wsrm

import (
	"github.com/ajitpratap0/wsrm-go/pkg/config"
	"github.com/ajitpratap0/wsrm-go/pkg/listener"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
	"github.com/ajitpratap0/wsrm-go/pkg/transport"
)

// Version represents the current version of the module
const Version = "0.3.0"

// These exports provide direct access to the core components
var (
	// NewListener layers a reliable session listener over an inner listener
	NewListener = listener.New

	// Listen builds the inner listener through a registry first
	Listen = listener.Listen

	// NewRegistry creates a transport registry with HTTP and WebSocket
	NewRegistry = transport.NewDefaultRegistry

	// NewMemoryNetwork creates an in-process network for tests
	NewMemoryNetwork = transport.NewMemoryNetwork

	// LoadConfig reads a TOML or JSON configuration file
	LoadConfig = config.Load

	// DefaultConfig returns the configuration used when nothing is set
	DefaultConfig = config.Default
)

// Protocol versions
const (
	WSRM11      = protocol.WSRM11
	WSRMFeb2005 = protocol.WSRMFeb2005
)

// Channel kinds
const (
	KindInput  = listener.KindInput
	KindDuplex = listener.KindDuplex
	KindReply  = listener.KindReply
)

// Listener options
var (
	WithLogger            = listener.WithLogger
	WithMetrics           = listener.WithMetrics
	WithTracer            = listener.WithTracer
	WithClock             = listener.WithClock
	WithSettings          = listener.WithSettings
	WithStrategy          = listener.WithStrategy
	WithChannelKind       = listener.WithChannelKind
	WithLocalAddresses    = listener.WithLocalAddresses
	WithUnderstoodHeaders = listener.WithUnderstoodHeaders
	WithFaultConverter    = listener.WithFaultConverter
)

// CreateSequenceResponse builds the reply a session sends to its create
var CreateSequenceResponse = listener.CreateSequenceResponse

// Registry options
var (
	WithRegistryConfig     = transport.WithRegistryConfig
	WithRegistryLogger     = transport.WithRegistryLogger
	WithRegistryMiddleware = transport.WithRegistryMiddleware
)
