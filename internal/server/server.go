// Package server accepts vehicle connections, negotiates a subprotocol and
// hands each resulting session to a caller-supplied handler.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/blimpws/internal/auth"
	"github.com/danmuck/blimpws/internal/observability"
	"github.com/danmuck/blimpws/internal/protocol/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrAddressInUse   = errors.New("server: address in use")
	ErrNotBound       = errors.New("server: not bound")
	ErrAlreadyBound   = errors.New("server: already bound")
	ErrAlreadyRunning = errors.New("server: already running")
	ErrInvalidOrigin  = errors.New("server: invalid cors origin")
)

// Handler owns one accepted session until it returns.
type Handler func(ctx context.Context, sess *session.Session)

type Config struct {
	// Name labels logs and metrics.
	Name       string
	ListenAddr string
	Path       string
	// AuthToken enables bearer checks on the upgrade request when set.
	AuthToken   string
	CorsOrigins []string
	Session     session.Config
}

func DefaultConfig() Config {
	return Config{
		Name:       "groundctl",
		ListenAddr: "127.0.0.1:9100",
		Path:       "/ws",
		Session:    session.DefaultConfig(),
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Name) == "" {
		c.Name = def.Name
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	c.Path = strings.TrimSpace(c.Path)
	if c.Path == "" {
		c.Path = def.Path
	}
	if !strings.HasPrefix(c.Path, "/") {
		c.Path = "/" + c.Path
	}
	c.Session = c.Session.WithDefaults()
	return c
}

func (c Config) Validate() error {
	for _, origin := range c.CorsOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			continue
		}
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("%w: %q", ErrInvalidOrigin, origin)
		}
	}
	return c.Session.ValidateServerTransport()
}

// Server is the accepting side of the session layer.
type Server struct {
	cfg       Config
	logger    zerolog.Logger
	validator auth.Validator
	started   time.Time

	mu      sync.Mutex
	ln      net.Listener
	running bool

	sessionsMu sync.Mutex
	sessions   map[uint64]*session.Session
	// draining is set once shutdown has closed the tracked sessions.
	draining bool
}

func New(cfg Config) *Server {
	cfg = cfg.WithDefaults()
	observability.RegisterMetrics()
	s := &Server{
		cfg:      cfg,
		logger:   observability.Component("server").With().Str("node", cfg.Name).Logger(),
		started:  time.Now(),
		sessions: make(map[uint64]*session.Session),
	}
	if strings.TrimSpace(cfg.AuthToken) != "" {
		s.validator = auth.StaticToken{Token: strings.TrimSpace(cfg.AuthToken)}
	}
	return s
}

// Bind reserves the listen address. TLS wraps the listener when enabled.
func (s *Server) Bind() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return ErrAlreadyBound
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: %s: %w", ErrAddressInUse, s.cfg.ListenAddr, err)
		}
		return fmt.Errorf("%w: listen %s: %w", session.ErrTransport, s.cfg.ListenAddr, err)
	}
	if s.cfg.Session.TLS.Enabled {
		tlsCfg, err := s.cfg.Session.ServerTLS()
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("%w: tls config: %w", session.ErrTransport, err)
		}
		ln = tls.NewListener(ln, tlsCfg)
	}
	s.ln = ln
	s.logger.Info().Str("addr", ln.Addr().String()).Bool("tls", s.cfg.Session.TLS.Enabled).Msg("server.Server.Bind")
	return nil
}

// Unbind releases the listener. Calling it when unbound is a no-op.
func (s *Server) Unbind() error {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address, or "" when unbound.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Config() Config {
	return s.cfg
}

// Run serves the bound listener until ctx is cancelled, then closes every
// live session. Handlers run on their own goroutines and are not awaited.
func (s *Server) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("server: nil handler")
	}
	s.mu.Lock()
	ln := s.ln
	if ln == nil {
		s.mu.Unlock()
		return ErrNotBound
	}
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()
	s.sessionsMu.Lock()
	s.draining = false
	s.sessionsMu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	httpSrv := &http.Server{
		Handler:           s.Engine(ctx, handler),
		ReadHeaderTimeout: s.cfg.Session.HandshakeTimeout,
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Str("path", s.cfg.Path).Msg("server.Server.Run listening")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Session.CloseTimeout)
		_ = httpSrv.Shutdown(shutdownCtx)
		cancel()
		s.closeAllSessions()
		_ = s.Unbind()
		<-serveErr
		s.logger.Info().Msg("server.Server.Run stopped")
		return nil
	case err := <-serveErr:
		s.closeAllSessions()
		if errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
			return nil
		}
		return fmt.Errorf("%w: serve: %w", session.ErrTransport, err)
	}
}

// ActiveSessions reports how many sessions are tracked.
func (s *Server) ActiveSessions() int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	return len(s.sessions)
}

// trackSession reports false once shutdown has started; the caller owns
// closing the refused session.
func (s *Server) trackSession(sess *session.Session) bool {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if s.draining {
		return false
	}
	s.sessions[sess.ID()] = sess
	return true
}

func (s *Server) untrackSession(sess *session.Session) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	delete(s.sessions, sess.ID())
}

// Server shutdown helper that closes and drains tracked sessions. Upgrades
// that complete afterwards are refused by trackSession.
func (s *Server) closeAllSessions() {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.draining = true
	for id, sess := range s.sessions {
		_ = sess.CloseWith(websocket.CloseGoingAway, "server shutdown")
		delete(s.sessions, id)
	}
}
