package smb2proto

import (
	"fmt"
	"time"
)

// Logger is the teacher's own minimal logging interface (config.go),
// kept as-is so callers can plug log, zap, or anything else without this
// module taking a hard logging dependency.
type Logger interface {
	Printf(format string, v ...interface{})
}

// EncryptionMode selects how aggressively this client asks for
// SMB3 transport encryption.
type EncryptionMode int

const (
	// EncryptionIfRequired does not encrypt sessions: the server's
	// encrypt-data session and share flags are not consulted, so it
	// behaves like EncryptionDisabled.
	EncryptionIfRequired EncryptionMode = iota
	// EncryptionRequired fails negotiation if no cipher can be agreed on.
	EncryptionRequired
	// EncryptionDisabled never encrypts a session. The 3.1.1 NEGOTIATE
	// request still offers the cipher list, as in every mode.
	EncryptionDisabled
)

// Config holds the configuration for one SMB2/SMB3 connection, trimmed
// from the teacher's filesystem-facing Config (config.go) down to the
// transport/protocol runtime's concerns — connection-pool fields
// (MaxIdle/MaxOpen/IdleTimeout/Cache) belong to the out-of-scope facade,
// not this layer — and extended per SPEC_FULL.md §6.3.
type Config struct {
	// Server connection
	Server string // Hostname or IP address
	Port   int    // SMB port (default: 445)

	// Authentication
	Username    string
	Password    string
	Domain      string
	GuestAccess bool

	// SMB protocol
	Signing            bool           // Require message signing
	EncryptionMode     EncryptionMode // Encryption negotiation policy
	CompressionEnabled bool           // Offer and honor compression
	MultiProtocol      bool           // Passed to the Negotiator; no SMB1 probe is sent, NEGOTIATE is always SMB2
	DFS                bool           // Not consulted; NEGOTIATE always advertises the DFS capability

	// Identity
	ClientNetname string // Not consulted; no netname negotiate context is sent

	// Timeouts
	Timeout time.Duration // TCP dial timeout (default: 30s); sends and receives have no timeout

	// Retry and reliability
	RetryPolicy *RetryPolicy // nil = use default

	// Logging
	Logger Logger
}

// setDefaults sets default values for any unspecified configuration options.
func (c *Config) setDefaults() {
	if c.Port == 0 {
		c.Port = 445
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("server is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if !c.GuestAccess && c.Username == "" {
		return fmt.Errorf("username is required for non-guest access")
	}
	return nil
}
