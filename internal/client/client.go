// Package client dials a ground station and owns the resulting session.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/blimpws/internal/auth"
	"github.com/danmuck/blimpws/internal/observability"
	"github.com/danmuck/blimpws/internal/protocol/session"
	"github.com/danmuck/blimpws/internal/protocol/subprotocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrNoCompatibleSubprotocol = errors.New("client: no compatible subprotocol")
	ErrHandshakeRejected       = errors.New("client: handshake rejected")
	ErrNotConnected            = errors.New("client: not connected")
	ErrAlreadyConnected        = errors.New("client: already connected")
	ErrInvalidURL              = errors.New("client: invalid url")
)

// Config describes one ground station endpoint and what this side offers it.
type Config struct {
	URL string
	// Offers in preference order; the peer takes the first it can parse.
	Offers    []subprotocol.Subprotocol
	AuthToken string
	Session   session.Config
}

func DefaultConfig() Config {
	return Config{
		URL:     "ws://127.0.0.1:9100/ws",
		Offers:  []subprotocol.Subprotocol{subprotocol.Default()},
		Session: session.DefaultConfig(),
	}
}

// Client manages at most one live session at a time.
type Client struct {
	cfg    Config
	target *url.URL
	offers []string
	logger zerolog.Logger

	mu   sync.Mutex
	sess *session.Session
}

func New(cfg Config) (*Client, error) {
	cfg.Session = cfg.Session.WithDefaults()
	if len(cfg.Offers) == 0 {
		cfg.Offers = []subprotocol.Subprotocol{subprotocol.Default()}
	}
	for _, sp := range cfg.Offers {
		if err := sp.Validate(); err != nil {
			return nil, err
		}
	}
	target, err := parseTarget(cfg.URL, cfg.Session.TLS.Enabled)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "wss" {
		cfg.Session.TLS.Enabled = true
	}
	if err := cfg.Session.ValidateClientTransport(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:    cfg,
		target: target,
		offers: subprotocol.Tokens(cfg.Offers),
		logger: observability.Component("client"),
	}, nil
}

func parseTarget(raw string, tlsEnabled bool) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidURL, raw)
	}
	if tlsEnabled && u.Scheme == "ws" {
		u.Scheme = "wss"
	}
	return u, nil
}

// Offers returns the tokens sent in Sec-WebSocket-Protocol, in order.
func (c *Client) Offers() []string {
	return slices.Clone(c.offers)
}

// Connect performs the handshake and binds a session to the chosen subprotocol.
func (c *Client) Connect(ctx context.Context) (*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil && c.sess.State() == session.StateConnected {
		return nil, ErrAlreadyConnected
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.Session.HandshakeTimeout,
		Subprotocols:     c.offers,
	}
	if c.target.Scheme == "wss" {
		tlsCfg, err := c.cfg.Session.ClientTLS(c.target.Host)
		if err != nil {
			return nil, fmt.Errorf("%w: tls config: %w", session.ErrTransport, err)
		}
		dialer.TLSClientConfig = tlsCfg
	}
	header := http.Header{}
	auth.SetBearer(header, c.cfg.AuthToken)

	conn, resp, err := dialer.DialContext(ctx, c.target.String(), header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			body := readBody(resp)
			c.logger.Warn().Int("status", resp.StatusCode).Str("body", body).Msg("client.Client.Connect handshake rejected")
			return nil, fmt.Errorf("%w: status=%d body=%q", ErrHandshakeRejected, resp.StatusCode, body)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", session.ErrTransport, c.target.Redacted(), err)
	}

	chosen := conn.Subprotocol()
	sp, err := c.accept(chosen)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseProtocolError, "subprotocol")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.Session.CloseTimeout))
		_ = conn.Close()
		c.logger.Warn().Str("chosen", chosen).Strs("offers", c.offers).Msg("client.Client.Connect incompatible subprotocol")
		return nil, err
	}
	sess, err := session.New(conn, sp, c.cfg.Session)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.sess = sess
	c.logger.Info().
		Uint64("session", sess.ID()).
		Str("subprotocol", chosen).
		Str("remote", sess.RemoteAddr()).
		Msg("client.Client.Connect connected")
	return sess, nil
}

// accept checks the peer's choice against what was offered.
func (c *Client) accept(chosen string) (subprotocol.Subprotocol, error) {
	if chosen == "" {
		return subprotocol.Subprotocol{}, fmt.Errorf("%w: peer selected none", ErrNoCompatibleSubprotocol)
	}
	sp, err := subprotocol.Parse(chosen)
	if err != nil {
		return subprotocol.Subprotocol{}, fmt.Errorf("%w: %w", ErrNoCompatibleSubprotocol, err)
	}
	if !slices.Contains(c.offers, chosen) {
		return subprotocol.Subprotocol{}, fmt.Errorf("%w: %q was not offered", ErrNoCompatibleSubprotocol, chosen)
	}
	return sp, nil
}

func readBody(resp *http.Response) string {
	if resp.Body == nil {
		return ""
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return strings.TrimSpace(string(data))
}

// Session returns the live session, or nil.
func (c *Client) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Disconnect closes the held session.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.Close()
}

func (c *Client) Send(v any) error {
	sess := c.Session()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.Send(v)
}

func (c *Client) Recv(out any) error {
	sess := c.Session()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.Recv(out)
}
