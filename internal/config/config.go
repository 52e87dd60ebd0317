package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/blimpws/internal/protocol/subprotocol"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidConfig = errors.New("config: invalid")

type TLSConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// SessionConfig is the file form of session.Config.
type SessionConfig struct {
	SecurityMode     string    `toml:"security_mode"`
	HandshakeTimeout string    `toml:"handshake_timeout"`
	CloseTimeout     string    `toml:"close_timeout"`
	Heartbeat        string    `toml:"heartbeat"`
	MaxPayloadBytes  int64     `toml:"max_payload_bytes"`
	TLS              TLSConfig `toml:"tls"`
}

// GroundConfig configures groundctl, the accepting side.
type GroundConfig struct {
	Name        string        `toml:"name"`
	Addr        string        `toml:"addr"`
	Path        string        `toml:"path"`
	AuthToken   string        `toml:"auth_token"`
	CorsOrigins []string      `toml:"cors_origins"`
	Session     SessionConfig `toml:"session"`
}

// BlimpConfig configures blimpctl, the dialing side.
type BlimpConfig struct {
	ID           string        `toml:"id"`
	URL          string        `toml:"url"`
	Subprotocols []string      `toml:"subprotocols"`
	AuthToken    string        `toml:"auth_token"`
	Session      SessionConfig `toml:"session"`
}

func LoadGroundConfig(path string) (GroundConfig, error) {
	var cfg GroundConfig
	if err := loadToml(path, &cfg); err != nil {
		return GroundConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "groundctl"
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:9100"
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if err := ValidateGroundConfig(cfg); err != nil {
		return GroundConfig{}, err
	}
	return cfg, nil
}

func LoadBlimpConfig(path string) (BlimpConfig, error) {
	var cfg BlimpConfig
	if err := loadToml(path, &cfg); err != nil {
		return BlimpConfig{}, err
	}
	if cfg.ID == "" {
		cfg.ID = "blimpctl"
	}
	if cfg.URL == "" {
		cfg.URL = "ws://127.0.0.1:9100/ws"
	}
	if err := ValidateBlimpConfig(cfg); err != nil {
		return BlimpConfig{}, err
	}
	return cfg, nil
}

// loadToml decodes strictly: unknown keys are an error.
func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config parse failed (%s): %w: %s", path, ErrInvalidConfig, strict.String())
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateGroundConfig(cfg GroundConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: ground config missing name", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("%w: ground config missing addr", ErrInvalidConfig)
	}
	if !strings.HasPrefix(strings.TrimSpace(cfg.Path), "/") {
		return fmt.Errorf("%w: ground config path must start with /", ErrInvalidConfig)
	}
	return validateSession(cfg.Session)
}

func ValidateBlimpConfig(cfg BlimpConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("%w: blimp config missing id", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return fmt.Errorf("%w: blimp config missing url", ErrInvalidConfig)
	}
	for i, token := range cfg.Subprotocols {
		if _, err := subprotocol.Parse(strings.TrimSpace(token)); err != nil {
			return fmt.Errorf("%w: subprotocols[%d]: %w", ErrInvalidConfig, i, err)
		}
	}
	return validateSession(cfg.Session)
}

func validateSession(cfg SessionConfig) error {
	durations := map[string]string{
		"handshake_timeout": cfg.HandshakeTimeout,
		"close_timeout":     cfg.CloseTimeout,
		"heartbeat":         cfg.Heartbeat,
	}
	for key, raw := range durations {
		if _, err := parseDuration(raw); err != nil {
			return fmt.Errorf("%w: session.%s: %w", ErrInvalidConfig, key, err)
		}
	}
	if cfg.MaxPayloadBytes < 0 {
		return fmt.Errorf("%w: session.max_payload_bytes must not be negative", ErrInvalidConfig)
	}
	return nil
}

// parseDuration treats an empty value as zero (use the default).
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}
