package session

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/blimpws/internal/observability"
	"github.com/danmuck/blimpws/internal/protocol/codec"
	"github.com/danmuck/blimpws/internal/protocol/frame"
	"github.com/danmuck/blimpws/internal/protocol/subprotocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnectionClosed = errors.New("session: connection closed")
	ErrStreamExhausted  = errors.New("session: stream exhausted")
	ErrTransport        = errors.New("session: transport error")
)

// State is the session lifecycle phase.
type State int32

const (
	StateConnected State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var nextSessionID atomic.Uint64

// Session is one negotiated connection with independently locked halves.
type Session struct {
	id    uint64
	conn  *websocket.Conn
	sp    subprotocol.Subprotocol
	codec codec.Codec
	cfg   Config

	readMu  sync.Mutex
	writeMu sync.Mutex

	state       atomic.Int32
	closeCalled atomic.Bool
	releaseOnce sync.Once
	done        chan struct{}
}

// New binds an established connection to its negotiated subprotocol.
// The codec is resolved here and fixed for the session lifetime.
func New(conn *websocket.Conn, sp subprotocol.Subprotocol, cfg Config) (*Session, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: nil connection", ErrTransport)
	}
	if err := sp.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	c, err := codec.ForLimits(sp.Flavour, cfg.Limits)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(cfg.Limits.MaxPayloadBytes)

	s := &Session{
		id:    nextSessionID.Add(1),
		conn:  conn,
		sp:    sp,
		codec: c,
		cfg:   cfg,
		done:  make(chan struct{}),
	}
	s.state.Store(int32(StateConnected))
	observability.SessionOpened()
	log.Debug().
		Uint64("session", s.id).
		Str("subprotocol", sp.String()).
		Str("remote", s.RemoteAddr()).
		Msg("session.New")

	if cfg.HeartbeatInterval > 0 {
		go s.keepalive(cfg.HeartbeatInterval)
	}
	return s, nil
}

func (s *Session) ID() uint64 {
	return s.id
}

func (s *Session) Subprotocol() subprotocol.Subprotocol {
	return s.sp
}

func (s *Session) Flavour() subprotocol.Flavour {
	return s.sp.Flavour
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the underlying connection has been released.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) RemoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (s *Session) LocalAddr() string {
	if addr := s.conn.LocalAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Send encodes v under the session flavour and writes one data frame.
// Concurrent Sends are serialized; Send never waits on Recv.
func (s *Session) Send(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() != StateConnected {
		return ErrConnectionClosed
	}
	f, err := s.codec.Encode(v)
	if err != nil {
		observability.RecordSessionError("send", "serialization")
		return err
	}
	mt, err := f.Kind.MessageType()
	if err != nil {
		return fmt.Errorf("%w: %w", codec.ErrSerialization, err)
	}
	if err := s.conn.WriteMessage(mt, f.Payload); err != nil {
		if s.State() != StateConnected || errors.Is(err, websocket.ErrCloseSent) {
			return ErrConnectionClosed
		}
		observability.RecordSessionError("send", "transport")
		log.Warn().Uint64("session", s.id).Err(err).Msg("session.Session.Send write failed")
		s.release()
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	observability.RecordFrame("send", s.sp.Flavour.String(), len(f.Payload))
	return nil
}

// Recv blocks until one data frame arrives and decodes it into out.
// Control frames are consumed by the transport and never reach the codec.
func (s *Session) Recv(out any) error {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.State() != StateConnected {
		return ErrConnectionClosed
	}
	for {
		mt, payload, err := s.conn.ReadMessage()
		if err != nil {
			return s.readFailed(err)
		}
		kind := frame.FromMessageType(mt)
		if !kind.IsData() {
			continue
		}
		observability.RecordFrame("recv", s.sp.Flavour.String(), len(payload))
		if err := s.codec.Decode(frame.Frame{Kind: kind, Payload: payload}, out); err != nil {
			s.rejectFrame(err)
			return err
		}
		return nil
	}
}

// Receive is the typed form of Recv.
func Receive[T any](s *Session) (T, error) {
	var out T
	if err := s.Recv(&out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Close sends a normal-closure frame and releases the connection.
// A second Close returns ErrConnectionClosed.
func (s *Session) Close() error {
	return s.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith is Close with an explicit close code and reason.
func (s *Session) CloseWith(code int, reason string) error {
	if !s.closeCalled.CompareAndSwap(false, true) {
		return ErrConnectionClosed
	}
	if !s.state.CompareAndSwap(int32(StateConnected), int32(StateClosing)) {
		s.release()
		return nil
	}
	msg := websocket.FormatCloseMessage(code, reason)
	err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.CloseTimeout))
	s.release()
	if err != nil && !peerGone(err) {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	log.Debug().Uint64("session", s.id).Int("code", code).Msg("session.Session.Close")
	return nil
}

func (s *Session) readFailed(err error) error {
	var closeErr *websocket.CloseError
	switch {
	case s.closeCalled.Load() || s.State() != StateConnected:
		return ErrConnectionClosed
	case errors.As(err, &closeErr) && closeErr.Code == websocket.CloseAbnormalClosure:
		// gorilla reports EOF without a close frame as 1006, which is never sent on the wire
		s.release()
		return fmt.Errorf("%w: %s", ErrStreamExhausted, closeErr.Text)
	case errors.As(err, &closeErr):
		s.release()
		log.Debug().Uint64("session", s.id).Int("code", closeErr.Code).Msg("session.Session.Recv peer closed")
		return fmt.Errorf("%w: code=%d text=%q", ErrConnectionClosed, closeErr.Code, closeErr.Text)
	default:
		observability.RecordSessionError("recv", "transport")
		log.Warn().Uint64("session", s.id).Err(err).Msg("session.Session.Recv read failed")
		s.release()
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
}

// rejectFrame closes the session after an undecodable data frame.
func (s *Session) rejectFrame(err error) {
	code := websocket.CloseInvalidFramePayloadData
	kind := "deserialization"
	if errors.Is(err, codec.ErrFlavourMismatch) {
		code = websocket.CloseUnsupportedData
		kind = "flavour_mismatch"
	}
	observability.RecordSessionError("recv", kind)
	log.Warn().Uint64("session", s.id).Err(err).Msg("session.Session.Recv rejected frame")
	if !s.state.CompareAndSwap(int32(StateConnected), int32(StateClosing)) {
		return
	}
	msg := websocket.FormatCloseMessage(code, kind)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.CloseTimeout))
	s.release()
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
		_ = s.conn.Close()
		observability.SessionClosed()
	})
}

func (s *Session) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.CloseTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Uint64("session", s.id).Err(err).Msg("session.Session.keepalive ping failed")
				return
			}
		}
	}
}

// peerGone reports write errors meaning the peer already finished closing.
func peerGone(err error) bool {
	return errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
