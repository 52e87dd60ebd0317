package codec

import (
	"fmt"

	"github.com/danmuck/blimpws/internal/protocol/frame"
	"github.com/danmuck/blimpws/internal/protocol/subprotocol"
	"github.com/fxamacker/cbor/v2"
)

// CBOR is the binary flavour: self-describing CBOR in binary frames.
type CBOR struct {
	enc    cbor.EncMode
	dec    cbor.DecMode
	limits frame.Limits
}

func NewCBOR(limits frame.Limits) *CBOR {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: cbor enc mode: %v", err))
	}
	dec, err := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: cbor dec mode: %v", err))
	}
	return &CBOR{enc: enc, dec: dec, limits: limits}
}

func (c *CBOR) Flavour() subprotocol.Flavour {
	return subprotocol.FlavourBinary
}

func (c *CBOR) Encode(v any) (frame.Frame, error) {
	payload, err := c.enc.Marshal(v)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return finishEncode(frame.Frame{Kind: frame.KindBinary, Payload: payload}, c.limits)
}

func (c *CBOR) Decode(f frame.Frame, out any) error {
	if err := checkKind(f, frame.KindBinary, c.Flavour()); err != nil {
		return err
	}
	if err := c.dec.Unmarshal(f.Payload, out); err != nil {
		return fmt.Errorf("%w: %w", ErrDeserialization, err)
	}
	return nil
}
