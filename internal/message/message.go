// Package message defines the JSON envelope exchanged between contexts.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed indicates data that does not have the envelope shape.
var ErrMalformed = errors.New("malformed message")

// Message is a decoded envelope: a "type" discriminator plus verb specific members.
type Message struct {
	Type   string
	Fields map[string]json.RawMessage
}

// New builds a message with a single payload member stored under key.
// An empty key produces a message without payload.
func New(kind, key string, payload any) (Message, error) {
	m := Message{Type: kind, Fields: map[string]json.RawMessage{}}
	if key == "" {
		return m, nil
	}
	if err := m.Set(key, payload); err != nil {
		return Message{}, err
	}
	return m, nil
}

// MustNew is like New but panics on encoding errors. Use only with static payloads.
func MustNew(kind, key string, payload any) Message {
	m, err := New(kind, key, payload)
	if err != nil {
		panic(err)
	}
	return m
}

// Set encodes v and stores it under key.
func (m *Message) Set(key string, v any) error {
	if key == "type" {
		return fmt.Errorf("%w: reserved member %q", ErrMalformed, key)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s.%s: %w", m.Type, key, err)
	}
	if m.Fields == nil {
		m.Fields = map[string]json.RawMessage{}
	}
	m.Fields[key] = b
	return nil
}

// Has reports whether the member is present.
func (m Message) Has(key string) bool {
	_, ok := m.Fields[key]
	return ok
}

// Decode unmarshals the member stored under key into v.
func (m Message) Decode(key string, v any) error {
	raw, ok := m.Fields[key]
	if !ok {
		return fmt.Errorf("%w: %s has no member %q", ErrMalformed, m.Type, key)
	}
	return json.Unmarshal(raw, v)
}

// Valid reports whether the message carries the structural shape required for dispatch.
func (m Message) Valid() bool { return m.Type != "" }

// Clone returns a copy whose member map can be mutated independently.
func (m Message) Clone() Message {
	out := Message{Type: m.Type, Fields: make(map[string]json.RawMessage, len(m.Fields))}
	for k, v := range m.Fields {
		out.Fields[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// MarshalJSON flattens the message into {"type": ..., members...}.
func (m Message) MarshalJSON() ([]byte, error) {
	obj := make(map[string]json.RawMessage, len(m.Fields)+1)
	for k, v := range m.Fields {
		obj[k] = v
	}
	t, err := json.Marshal(m.Type)
	if err != nil {
		return nil, err
	}
	obj["type"] = t
	return json.Marshal(obj)
}

// UnmarshalJSON accepts any JSON object with a string "type" member.
func (m *Message) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return ErrMalformed
	}
	raw, ok := obj["type"]
	if !ok {
		return ErrMalformed
	}
	var kind string
	if err := json.Unmarshal(raw, &kind); err != nil || kind == "" {
		return ErrMalformed
	}
	delete(obj, "type")
	m.Type = kind
	m.Fields = obj
	return nil
}

// Parse decodes raw wire data into a Message.
func Parse(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}
