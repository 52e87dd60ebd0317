package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/blimpws/internal/client"
	"github.com/danmuck/blimpws/internal/protocol/session"
	"github.com/danmuck/blimpws/internal/protocol/subprotocol"
)

// blimpctl config.toml key mapping to client settings.
type fileConfig struct {
	URL                   string   `toml:"url"`
	Subprotocols          []string `toml:"subprotocols"`
	AuthToken             string   `toml:"auth_token"`
	Heartbeat             string   `toml:"heartbeat"`
	HandshakeTimeout      string   `toml:"handshake_timeout"`
	SessionSecurityMode   string   `toml:"session_security_mode"`
	SessionTLSEnabled     bool     `toml:"session_tls_enabled"`
	SessionTLSMutual      bool     `toml:"session_tls_mutual"`
	SessionTLSCertFile    string   `toml:"session_tls_cert_file"`
	SessionTLSKeyFile     string   `toml:"session_tls_key_file"`
	SessionTLSCAFile      string   `toml:"session_tls_ca_file"`
	SessionTLSServerName  string   `toml:"session_tls_server_name"`
	SessionTLSInsecureDev bool     `toml:"session_tls_insecure_skip_verify"`
}

// blimpctl loader for TOML config with default overlay.
func loadClientConfig(path string) (client.Config, error) {
	cfg := client.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return client.Config{}, fmt.Errorf("load blimpctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return client.Config{}, fmt.Errorf("load blimpctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("url") {
		cfg.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("subprotocols") {
		offers, err := parseOffers(raw.Subprotocols)
		if err != nil {
			return client.Config{}, fmt.Errorf("load blimpctl config: %w", err)
		}
		cfg.Offers = offers
	}
	if meta.IsDefined("auth_token") {
		cfg.AuthToken = strings.TrimSpace(raw.AuthToken)
	}
	if meta.IsDefined("heartbeat") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Heartbeat))
		if err != nil {
			return client.Config{}, fmt.Errorf("parse heartbeat: %w", err)
		}
		cfg.Session.HeartbeatInterval = d
	}
	if meta.IsDefined("handshake_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HandshakeTimeout))
		if err != nil {
			return client.Config{}, fmt.Errorf("parse handshake_timeout: %w", err)
		}
		cfg.Session.HandshakeTimeout = d
	}
	if meta.IsDefined("session_security_mode") {
		cfg.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SessionSecurityMode))
	}
	if meta.IsDefined("session_tls_enabled") {
		cfg.Session.TLS.Enabled = raw.SessionTLSEnabled
	}
	if meta.IsDefined("session_tls_mutual") {
		cfg.Session.TLS.Mutual = raw.SessionTLSMutual
	}
	if meta.IsDefined("session_tls_cert_file") {
		cfg.Session.TLS.CertFile = strings.TrimSpace(raw.SessionTLSCertFile)
	}
	if meta.IsDefined("session_tls_key_file") {
		cfg.Session.TLS.KeyFile = strings.TrimSpace(raw.SessionTLSKeyFile)
	}
	if meta.IsDefined("session_tls_ca_file") {
		cfg.Session.TLS.CAFile = strings.TrimSpace(raw.SessionTLSCAFile)
	}
	if meta.IsDefined("session_tls_server_name") {
		cfg.Session.TLS.ServerName = strings.TrimSpace(raw.SessionTLSServerName)
	}
	if meta.IsDefined("session_tls_insecure_skip_verify") {
		cfg.Session.TLS.InsecureSkipVerify = raw.SessionTLSInsecureDev
	}

	cfg.Session = cfg.Session.WithDefaults()
	return cfg, nil
}

// parseOffers keeps file order; it is the order offered to the ground station.
func parseOffers(tokens []string) ([]subprotocol.Subprotocol, error) {
	out := make([]subprotocol.Subprotocol, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		sp, err := subprotocol.Parse(token)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, nil
}
