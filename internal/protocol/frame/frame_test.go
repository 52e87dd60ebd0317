package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gorilla/websocket"
)

func TestKindMessageTypeRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindText, KindBinary, KindClose, KindPing, KindPong} {
		mt, err := k.MessageType()
		if err != nil {
			t.Fatalf("message type for %s: %v", k, err)
		}
		if got := FromMessageType(mt); got != k {
			t.Fatalf("kind mismatch: got=%s want=%s", got, k)
		}
	}
}

func TestUnknownKind(t *testing.T) {
	if _, err := KindUnknown.MessageType(); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if got := FromMessageType(42); got != KindUnknown {
		t.Fatalf("expected unknown kind, got %s", got)
	}
}

func TestKindClassification(t *testing.T) {
	if !KindText.IsData() || !KindBinary.IsData() {
		t.Fatalf("text and binary are data kinds")
	}
	if KindClose.IsData() || KindPing.IsData() || KindPong.IsData() {
		t.Fatalf("control kinds are not data")
	}
	if !KindClose.IsControl() || KindBinary.IsControl() {
		t.Fatalf("unexpected control classification")
	}
	if FromMessageType(websocket.BinaryMessage).String() != "binary" {
		t.Fatalf("unexpected kind name")
	}
}

func TestLimitsCheck(t *testing.T) {
	limits := Limits{MaxPayloadBytes: 4}
	if err := limits.Check(Frame{Kind: KindBinary, Payload: []byte{1, 2, 3, 4}}); err != nil {
		t.Fatalf("payload at limit must pass: %v", err)
	}
	err := limits.Check(Frame{Kind: KindBinary, Payload: bytes.Repeat([]byte{1}, 5)})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if err := (Limits{}).Check(Frame{Payload: make([]byte, 1<<20)}); err != nil {
		t.Fatalf("zero limit disables the check: %v", err)
	}
}
