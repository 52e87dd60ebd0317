// Package frame describes the transport-level units exchanged over a session.
package frame

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// Kind is the physical type of one WebSocket frame.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindText
	KindBinary
	KindClose
	KindPing
	KindPong
)

var (
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrUnknownKind     = errors.New("frame: unknown kind")
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	case KindClose:
		return "close"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	default:
		return "unknown"
	}
}

// IsData reports whether frames of this kind carry application values.
func (k Kind) IsData() bool {
	return k == KindText || k == KindBinary
}

func (k Kind) IsControl() bool {
	return k == KindClose || k == KindPing || k == KindPong
}

// Frame is one complete message as delivered by the transport.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// Limits constrains frame memory use in both directions.
type Limits struct {
	MaxPayloadBytes int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// Check enforces limits on an outbound frame.
func (l Limits) Check(f Frame) error {
	if l.MaxPayloadBytes > 0 && int64(len(f.Payload)) > l.MaxPayloadBytes {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(f.Payload), l.MaxPayloadBytes)
	}
	return nil
}

// FromMessageType maps a gorilla/websocket message type to a Kind.
func FromMessageType(mt int) Kind {
	switch mt {
	case websocket.TextMessage:
		return KindText
	case websocket.BinaryMessage:
		return KindBinary
	case websocket.CloseMessage:
		return KindClose
	case websocket.PingMessage:
		return KindPing
	case websocket.PongMessage:
		return KindPong
	default:
		return KindUnknown
	}
}

// MessageType maps a Kind back to the gorilla/websocket message type.
func (k Kind) MessageType() (int, error) {
	switch k {
	case KindText:
		return websocket.TextMessage, nil
	case KindBinary:
		return websocket.BinaryMessage, nil
	case KindClose:
		return websocket.CloseMessage, nil
	case KindPing:
		return websocket.PingMessage, nil
	case KindPong:
		return websocket.PongMessage, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
}
