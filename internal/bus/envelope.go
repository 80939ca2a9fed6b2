package bus

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is the unit exchanged through the store: an event name, its
// payload, and the origin of the bus instance that published it.
type Envelope struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
	Origin  string         `json:"origin,omitempty"`
}

// ErrMissingName marks a store value whose envelope carries no event name.
var ErrMissingName = errors.New("envelope has no name")

// DecodeError reports a store value that could not be decoded into an
// Envelope.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode envelope: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Encode returns the canonical JSON encoding of e.
func Encode(e Envelope) (string, error) {
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(data), nil
}

// Decode parses a store value into an Envelope. Non-JSON input and input
// without a name are rejected with a DecodeError. A missing payload decodes
// as an empty map so envelopes from slightly older producers still deliver;
// unknown fields are ignored for the same reason.
func Decode(value string) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(value), &e); err != nil {
		return Envelope{}, &DecodeError{Err: err}
	}
	if e.Name == "" {
		return Envelope{}, &DecodeError{Err: ErrMissingName}
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	return e, nil
}
