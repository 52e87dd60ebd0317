// Package codec converts application values to and from transport frames.
//
// Each flavour is registered independently. A codec only accepts frames whose
// physical kind matches its flavour; control frames never reach a codec.
package codec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/blimpws/internal/protocol/frame"
	"github.com/danmuck/blimpws/internal/protocol/subprotocol"
)

var (
	ErrFlavourMismatch    = errors.New("codec: flavour mismatch")
	ErrDeserialization    = errors.New("codec: deserialization failed")
	ErrSerialization      = errors.New("codec: serialization failed")
	ErrControlFrame       = errors.New("codec: control frame")
	ErrUnsupportedFlavour = errors.New("codec: unsupported flavour")
)

// Codec encodes values into frames of one kind and decodes them back.
type Codec interface {
	Flavour() subprotocol.Flavour
	Encode(v any) (frame.Frame, error)
	Decode(f frame.Frame, out any) error
}

// Factory builds a codec bounded by limits.
type Factory func(limits frame.Limits) Codec

var (
	registryMu sync.RWMutex
	registry   = map[subprotocol.Flavour]Factory{
		subprotocol.FlavourBinary: func(l frame.Limits) Codec { return NewCBOR(l) },
		subprotocol.FlavourJSON:   func(l frame.Limits) Codec { return NewJSON(l) },
	}
)

// Register installs or replaces the codec factory for a flavour.
func Register(flavour subprotocol.Flavour, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[flavour] = factory
}

// For resolves the codec for a flavour with default limits.
func For(flavour subprotocol.Flavour) (Codec, error) {
	return ForLimits(flavour, frame.DefaultLimits())
}

func ForLimits(flavour subprotocol.Flavour, limits frame.Limits) (Codec, error) {
	registryMu.RLock()
	factory, ok := registry[flavour]
	registryMu.RUnlock()
	if !ok || factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFlavour, flavour)
	}
	return factory(limits), nil
}

// checkKind enforces flavour/frame agreement before any payload is inspected.
func checkKind(f frame.Frame, want frame.Kind, flavour subprotocol.Flavour) error {
	if f.Kind.IsControl() {
		return fmt.Errorf("%w: %s", ErrControlFrame, f.Kind)
	}
	if f.Kind != want {
		return fmt.Errorf("%w: %s frame under %s flavour", ErrFlavourMismatch, f.Kind, flavour)
	}
	return nil
}

func finishEncode(f frame.Frame, limits frame.Limits) (frame.Frame, error) {
	if err := limits.Check(f); err != nil {
		return frame.Frame{}, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return f, nil
}
