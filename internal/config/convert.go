package config

import (
	"strings"
	"time"

	"github.com/danmuck/blimpws/internal/client"
	"github.com/danmuck/blimpws/internal/protocol/session"
	"github.com/danmuck/blimpws/internal/protocol/subprotocol"
	"github.com/danmuck/blimpws/internal/server"
)

// SessionFromFile overlays file values on session defaults.
func SessionFromFile(in SessionConfig) (session.Config, error) {
	cfg := session.DefaultConfig()
	if mode := strings.TrimSpace(in.SecurityMode); mode != "" {
		cfg.SecurityMode = session.SecurityMode(mode)
	}
	var err error
	if cfg.HandshakeTimeout, err = orDefault(in.HandshakeTimeout, cfg.HandshakeTimeout); err != nil {
		return session.Config{}, err
	}
	if cfg.CloseTimeout, err = orDefault(in.CloseTimeout, cfg.CloseTimeout); err != nil {
		return session.Config{}, err
	}
	if cfg.HeartbeatInterval, err = orDefault(in.Heartbeat, cfg.HeartbeatInterval); err != nil {
		return session.Config{}, err
	}
	if in.MaxPayloadBytes > 0 {
		cfg.Limits.MaxPayloadBytes = in.MaxPayloadBytes
	}
	cfg.TLS = session.TLSConfig{
		Enabled:            in.TLS.Enabled,
		Mutual:             in.TLS.Mutual,
		CertFile:           strings.TrimSpace(in.TLS.CertFile),
		KeyFile:            strings.TrimSpace(in.TLS.KeyFile),
		CAFile:             strings.TrimSpace(in.TLS.CAFile),
		ServerName:         strings.TrimSpace(in.TLS.ServerName),
		InsecureSkipVerify: in.TLS.InsecureSkipVerify,
	}
	return cfg.WithDefaults(), nil
}

func orDefault(raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return parseDuration(raw)
}

func (g GroundConfig) ServerConfig() (server.Config, error) {
	sessCfg, err := SessionFromFile(g.Session)
	if err != nil {
		return server.Config{}, err
	}
	return server.Config{
		Name:        g.Name,
		ListenAddr:  g.Addr,
		Path:        g.Path,
		AuthToken:   g.AuthToken,
		CorsOrigins: g.CorsOrigins,
		Session:     sessCfg,
	}.WithDefaults(), nil
}

func (b BlimpConfig) ClientConfig() (client.Config, error) {
	sessCfg, err := SessionFromFile(b.Session)
	if err != nil {
		return client.Config{}, err
	}
	offers := make([]subprotocol.Subprotocol, 0, len(b.Subprotocols))
	for _, token := range b.Subprotocols {
		sp, err := subprotocol.Parse(strings.TrimSpace(token))
		if err != nil {
			return client.Config{}, err
		}
		offers = append(offers, sp)
	}
	return client.Config{
		URL:       b.URL,
		Offers:    offers,
		AuthToken: b.AuthToken,
		Session:   sessCfg,
	}, nil
}
