package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the wrapper every bus message is published in.
type Envelope struct {
	Topic      string          `json:"topic"`
	Originator string          `json:"originator,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"`
	MimeType   string          `json:"mime-type,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

var emptyPayload = json.RawMessage("{}")

// DecodeEnvelope parses a message value. A missing or null payload is
// replaced by an empty object.
func DecodeEnvelope(value []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, fmt.Errorf("invalid message JSON: %w", err)
	}
	if p := bytes.TrimSpace(env.Payload); len(p) == 0 || bytes.Equal(p, []byte("null")) {
		env.Payload = emptyPayload
	}
	return &env, nil
}
