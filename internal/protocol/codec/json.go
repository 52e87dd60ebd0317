package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/danmuck/blimpws/internal/protocol/frame"
	"github.com/danmuck/blimpws/internal/protocol/subprotocol"
)

// JSON is the text flavour: one JSON document per text frame.
type JSON struct {
	limits frame.Limits
}

func NewJSON(limits frame.Limits) *JSON {
	return &JSON{limits: limits}
}

func (c *JSON) Flavour() subprotocol.Flavour {
	return subprotocol.FlavourJSON
}

func (c *JSON) Encode(v any) (frame.Frame, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return finishEncode(frame.Frame{Kind: frame.KindText, Payload: payload}, c.limits)
}

func (c *JSON) Decode(f frame.Frame, out any) error {
	if err := checkKind(f, frame.KindText, c.Flavour()); err != nil {
		return err
	}
	if !utf8.Valid(f.Payload) {
		return fmt.Errorf("%w: text frame is not valid utf-8", ErrDeserialization)
	}
	dec := json.NewDecoder(bytes.NewReader(f.Payload))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrDeserialization, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: trailing data after json document", ErrDeserialization)
	}
	return nil
}
