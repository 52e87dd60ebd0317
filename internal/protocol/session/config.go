package session

import (
	"time"

	"github.com/danmuck/blimpws/internal/protocol/frame"
)

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig selects wss:// transport and optional mutual authentication.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Config defines transport/session defaults shared by client and server.
type Config struct {
	HandshakeTimeout time.Duration
	// CloseTimeout bounds the write of the close frame.
	CloseTimeout time.Duration
	// HeartbeatInterval enables keepalive pings when > 0.
	HeartbeatInterval time.Duration
	Limits            frame.Limits
	SecurityMode      SecurityMode
	TLS               TLSConfig
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  5 * time.Second,
		CloseTimeout:      2 * time.Second,
		HeartbeatInterval: 0,
		Limits:            frame.DefaultLimits(),
		SecurityMode:      SecurityModeDevelopment,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = def.CloseTimeout
	}
	if c.HeartbeatInterval < 0 {
		c.HeartbeatInterval = 0
	}
	if c.Limits.MaxPayloadBytes <= 0 {
		c.Limits = def.Limits
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}
