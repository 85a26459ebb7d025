package main

import "github.com/neighborly-app/chat-gateway/internal/normalize"

// Envelope is one wire message, either direction: a flat JSON map with
// a required "type" field. Handler-specific fields live beside it.
type Envelope map[string]any

// Type returns the message type, or "" when absent or not a string.
func (e Envelope) Type() string {
	t, _ := e["type"].(string)
	return t
}

// ID reads a numeric identifier field, tolerating the number/string
// variants clients send.
func (e Envelope) ID(key string) (int64, bool) {
	v, ok := e[key]
	if !ok {
		return 0, false
	}
	return normalize.ID(v)
}

// String returns a string field, or "" when absent or not a string.
func (e Envelope) String(key string) string {
	s, _ := e[key].(string)
	return s
}
