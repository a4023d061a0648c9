// Package ingest accepts {type, message} webhook payloads over HTTP and
// NATS and forwards decoded events to the manager fan-out.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Envelope is one raw webhook payload before kind-specific decoding.
// Params: type discriminator and loose message body.
// Returns: intermediate decode unit.
type Envelope struct {
	Type    string         `json:"type"`
	Message map[string]any `json:"message"`
}

// DecodeEnvelopes decodes one webhook request body.
// Params: raw JSON bytes holding one envelope object or an array.
// Returns: envelopes or decode error; trailing JSON tokens reject the
// whole payload.
func DecodeEnvelopes(raw []byte) ([]Envelope, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	if payload[0] == '[' {
		var envelopes []Envelope
		if err := decoder.Decode(&envelopes); err != nil {
			return nil, fmt.Errorf("decode webhook batch: %w", err)
		}
		if len(envelopes) == 0 {
			return nil, errors.New("webhook batch must contain at least one entry")
		}
		if err := ensureJSONEOF(decoder); err != nil {
			return nil, err
		}
		return envelopes, nil
	}

	var envelope Envelope
	if err := decoder.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}
	return []Envelope{envelope}, nil
}

// ensureJSONEOF rejects trailing tokens after a decoded JSON payload.
// Params: decoder positioned after primary decode.
// Returns: nil on EOF or error on trailing tokens.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode trailing json: %w", err)
	}
	return errors.New("unexpected trailing json tokens")
}
