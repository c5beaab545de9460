package common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ValentinKolb/ugKV/lib/conn"
	"github.com/ValentinKolb/ugKV/lib/proto"
	"github.com/ValentinKolb/ugKV/lib/queue"
)

// --------------------------------------------------------------------------
// Transport Types
// --------------------------------------------------------------------------

// TransportType names the socket family a server listens on or a client dials
type TransportType string

const (
	TransportTCP  TransportType = "tcp"
	TransportUnix TransportType = "unix"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a server
type ServerConfig struct {
	// Transport settings
	Endpoint        string
	Transport       TransportType
	ReadBufferSize  int
	TimeoutSecond   int64
	TCPNoDelay      bool
	TCPKeepAliveSec int

	// Connection settings
	MaxConnections  int
	MaxPayloadBytes uint32

	// Execution settings
	Workers int

	// Table settings
	InitialCapacity int
	GrowthIncrement int
	LoadFactor      float64

	// Metrics endpoint (empty = disabled)
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// DefaultServerConfig returns a configuration that serves TCP on port 8080
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Endpoint:        ":8080",
		Transport:       TransportTCP,
		ReadBufferSize:  64 * 1024,
		TimeoutSecond:   5,
		TCPNoDelay:      true,
		TCPKeepAliveSec: 30,
		MaxConnections:  conn.DefaultMaxConnections,
		MaxPayloadBytes: proto.DefaultMaxPayloadSize,
		Workers:         queue.DefaultWorkers,
		InitialCapacity: 4096,
		GrowthIncrement: 3,
		LoadFactor:      0.65,
		LogLevel:        "info",
	}
}

// Validate checks the configuration for values the server cannot run with
func (c *ServerConfig) Validate() error {
	var errs []error

	if c.Endpoint == "" {
		errs = append(errs, fmt.Errorf("%w: endpoint must not be empty", ErrInvalidConfig))
	}
	if c.Transport != TransportTCP && c.Transport != TransportUnix {
		errs = append(errs, fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("%w: at least one worker is required", ErrInvalidConfig))
	}
	if c.MaxConnections < 1 {
		errs = append(errs, fmt.Errorf("%w: max connections must be positive", ErrInvalidConfig))
	}
	if c.MaxPayloadBytes == 0 {
		errs = append(errs, fmt.Errorf("%w: max payload size must be positive", ErrInvalidConfig))
	}
	if c.ReadBufferSize < proto.HeaderSize {
		errs = append(errs, fmt.Errorf("%w: read buffer must hold at least one header (%d bytes)", ErrInvalidConfig, proto.HeaderSize))
	}
	if c.InitialCapacity < 1 || c.GrowthIncrement < 1 {
		errs = append(errs, fmt.Errorf("%w: table capacity and growth increment must be positive", ErrInvalidConfig))
	}
	if c.LoadFactor <= 0 || c.LoadFactor > 1 {
		errs = append(errs, fmt.Errorf("%w: load factor must be in (0, 1]", ErrInvalidConfig))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}

	return errors.Join(errs...)
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Transport")
	addField("Endpoint", c.Endpoint)
	addField("Type", string(c.Transport))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.ReadBufferSize))
	addField("Write Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	if c.Transport == TransportTCP {
		addField("TCP No Delay", fmt.Sprintf("%t", c.TCPNoDelay))
		addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.TCPKeepAliveSec))
	}

	addSection("Connections")
	addField("Max Connections", fmt.Sprintf("%d", c.MaxConnections))
	addField("Max Payload", fmt.Sprintf("%d bytes", c.MaxPayloadBytes))

	addSection("Execution")
	addField("Workers", fmt.Sprintf("%d", c.Workers))

	addSection("Table")
	addField("Initial Capacity", fmt.Sprintf("%d slots", c.InitialCapacity))
	addField("Growth Increment", fmt.Sprintf("%d slots", c.GrowthIncrement))
	addField("Load Factor", fmt.Sprintf("%.2f", c.LoadFactor))

	addSection("Observability")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics", c.MetricsEndpoint)
	} else {
		addField("Metrics", "disabled")
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoint      string
	Transport     TransportType
	TimeoutSecond int
}

// Validate checks the client configuration
func (c *ClientConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("%w: endpoint must not be empty", ErrInvalidConfig)
	}
	if c.Transport != TransportTCP && c.Transport != TransportUnix {
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	return nil
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	sb.WriteString("\nCLIENT CONFIGURATION\n")
	sb.WriteString(fmt.Sprintf("  %-22s: %s\n", "Endpoint", c.Endpoint))
	sb.WriteString(fmt.Sprintf("  %-22s: %s\n", "Transport", c.Transport))
	sb.WriteString(fmt.Sprintf("  %-22s: %d sec\n", "Timeout", c.TimeoutSecond))

	return sb.String()
}
