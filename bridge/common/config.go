package common

import (
	"fmt"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultReconnectInterval     = time.Second
	DefaultReadBufferSize        = 256 * 1024 // 256 KB scratch for inbound frames
	DefaultMaxFrameSize          = 64 << 20   // 64 MB
	DefaultMaxConcurrentHandlers = 64
	DefaultRequestTimeoutSec     = 30
	DefaultEndpoint              = "localhost:9090"
)

// ServerMode selects how the route server receives requests
type ServerMode string

const (
	// ServerModeBridge forwards requests from an out-of-process host over a session
	ServerModeBridge ServerMode = "bridge"
	// ServerModeListener serves HTTP in-process
	ServerModeListener ServerMode = "listener"
)

// --------------------------------------------------------------------------
// Socket configuration
// --------------------------------------------------------------------------

// SocketConfig holds protocol specific socket settings applied by
// IConnector.UpgradeConnection. Unix sockets ignore the TCP settings.
type SocketConfig struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	// ReadBufferSize and WriteBufferSize set the kernel socket buffers, 0 keeps the OS default
	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultSocketConfig returns the socket settings used by the CLI
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		TCPNoDelay:      true,
		TCPKeepAliveSec: 30,
	}
}

// --------------------------------------------------------------------------
// Session configuration
// --------------------------------------------------------------------------

// SessionConfig configures the simulation side of the bridge
type SessionConfig struct {
	// Endpoint of the host, an address for tcp or a socket path for unix
	Endpoint string

	// ReconnectInterval is the pause between two connection attempts
	ReconnectInterval time.Duration
	// ReadBufferSize is the size of the reusable scratch buffer for inbound frames
	ReadBufferSize int
	// MaxFrameSize is the largest accepted payload, larger frames end the connection
	MaxFrameSize int
	// MaxConcurrentHandlers bounds the request handlers running at once
	MaxConcurrentHandlers int
	// WriteTimeoutSec bounds a single frame write, 0 disables the deadline
	WriteTimeoutSec int

	Socket SocketConfig
}

// DefaultSessionConfig returns the session settings used by the CLI
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Endpoint:              DefaultEndpoint,
		ReconnectInterval:     DefaultReconnectInterval,
		ReadBufferSize:        DefaultReadBufferSize,
		MaxFrameSize:          DefaultMaxFrameSize,
		MaxConcurrentHandlers: DefaultMaxConcurrentHandlers,
		Socket:                DefaultSocketConfig(),
	}
}

// WithDefaults returns a copy where every unset field has its default value
func (c SessionConfig) WithDefaults() SessionConfig {
	d := DefaultSessionConfig()
	if c.Endpoint == "" {
		c.Endpoint = d.Endpoint
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = d.ReconnectInterval
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	if c.MaxConcurrentHandlers <= 0 {
		c.MaxConcurrentHandlers = d.MaxConcurrentHandlers
	}
	return c
}

// String returns a formatted string representation of the configuration
func (c SessionConfig) String() string {
	var sb strings.Builder
	writeSessionSection(&sb, c)
	return sb.String()
}

// --------------------------------------------------------------------------
// Route server configuration
// --------------------------------------------------------------------------

// ServerConfig configures the simulation side route server
type ServerConfig struct {
	// Mode is either bridge or listener
	Mode ServerMode
	// Transport is the name of the bridge transport (tcp, unix)
	Transport string
	// Serializer is the name of the bridge serializer (cbor, json, gob)
	Serializer string

	// Session is used in bridge mode
	Session SessionConfig
	// Options are sent to the host in bridge mode. In listener mode
	// Options.Address is served in-process.
	Options Options

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c ServerConfig) String() string {
	var sb strings.Builder
	addSection(&sb, "Route Server")
	addField(&sb, "Mode", string(c.Mode))
	addField(&sb, "Address", orNone(c.Options.Address))
	addField(&sb, "Request Timeout", fmt.Sprintf("%d sec", c.Options.RequestTimeoutSec))
	addField(&sb, "Max Body Size", fmt.Sprintf("%d bytes", c.Options.MaxRequestBodySize))
	addField(&sb, "CORS Origins", orNone(strings.Join(c.Options.CORSOrigins, ", ")))

	if c.Mode == ServerModeBridge {
		addSection(&sb, "Bridge")
		addField(&sb, "Transport", c.Transport)
		addField(&sb, "Serializer", c.Serializer)
		writeSessionSection(&sb, c.Session)
	}

	addSection(&sb, "Logging")
	addField(&sb, "Log Level", c.LogLevel)
	return sb.String()
}

// --------------------------------------------------------------------------
// Host configuration
// --------------------------------------------------------------------------

// HostConfig configures the out-of-process HTTP host
type HostConfig struct {
	// Endpoint the host accepts the simulation connection on
	Endpoint   string
	Transport  string
	Serializer string

	// ReadBufferSize is the size of the reusable scratch buffer for inbound frames
	ReadBufferSize int
	// MaxFrameSize is the largest accepted payload
	MaxFrameSize int
	// DefaultRequestTimeoutSec is used when the simulation does not set one
	DefaultRequestTimeoutSec int

	Socket SocketConfig

	// Logging configuration
	LogLevel string
}

// DefaultHostConfig returns the host settings used by the CLI
func DefaultHostConfig() HostConfig {
	return HostConfig{
		Endpoint:                 DefaultEndpoint,
		Transport:                "tcp",
		Serializer:               "cbor",
		ReadBufferSize:           DefaultReadBufferSize,
		MaxFrameSize:             DefaultMaxFrameSize,
		DefaultRequestTimeoutSec: DefaultRequestTimeoutSec,
		Socket:                   DefaultSocketConfig(),
		LogLevel:                 "info",
	}
}

// WithDefaults returns a copy where every unset field has its default value
func (c HostConfig) WithDefaults() HostConfig {
	d := DefaultHostConfig()
	if c.Endpoint == "" {
		c.Endpoint = d.Endpoint
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	if c.DefaultRequestTimeoutSec <= 0 {
		c.DefaultRequestTimeoutSec = d.DefaultRequestTimeoutSec
	}
	return c
}

// String returns a formatted string representation of the configuration
func (c HostConfig) String() string {
	var sb strings.Builder
	addSection(&sb, "HTTP Host")
	addField(&sb, "Endpoint", c.Endpoint)
	addField(&sb, "Transport", c.Transport)
	addField(&sb, "Serializer", c.Serializer)
	addField(&sb, "Read Buffer", fmt.Sprintf("%d bytes", c.ReadBufferSize))
	addField(&sb, "Max Frame Size", fmt.Sprintf("%d bytes", c.MaxFrameSize))
	addField(&sb, "Request Timeout", fmt.Sprintf("%d sec", c.DefaultRequestTimeoutSec))
	writeSocketFields(&sb, c.Socket)

	addSection(&sb, "Logging")
	addField(&sb, "Log Level", c.LogLevel)
	return sb.String()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func addSection(sb *strings.Builder, title string) {
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
}

func addField(sb *strings.Builder, name, value string) {
	sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
}

func writeSessionSection(sb *strings.Builder, c SessionConfig) {
	addSection(sb, "Bridge Session")
	addField(sb, "Endpoint", c.Endpoint)
	addField(sb, "Reconnect Interval", c.ReconnectInterval.String())
	addField(sb, "Read Buffer", fmt.Sprintf("%d bytes", c.ReadBufferSize))
	addField(sb, "Max Frame Size", fmt.Sprintf("%d bytes", c.MaxFrameSize))
	addField(sb, "Max Handlers", fmt.Sprintf("%d", c.MaxConcurrentHandlers))
	writeSocketFields(sb, c.Socket)
}

func writeSocketFields(sb *strings.Builder, c SocketConfig) {
	addField(sb, "TCP No Delay", fmt.Sprintf("%t", c.TCPNoDelay))
	addField(sb, "TCP Keep Alive", fmt.Sprintf("%d sec", c.TCPKeepAliveSec))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
