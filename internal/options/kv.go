// Package options holds the per-client option values guests and the shim
// consult synchronously.
package options

import (
	"encoding/json"
	"sync"
)

// KV is a synchronous key value store of JSON values. Setting nil removes the key.
type KV interface {
	Get(key string) (json.RawMessage, bool)
	Set(key string, value any) error
}

type memoryKV struct {
	mu   sync.RWMutex
	vals map[string]json.RawMessage
}

// NewMemoryKV returns a process local KV.
func NewMemoryKV() KV {
	return &memoryKV{vals: map[string]json.RawMessage{}}
}

func (m *memoryKV) Get(key string) (json.RawMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vals[key]
	return v, ok
}

func (m *memoryKV) Set(key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if value == nil || string(b) == "null" {
		delete(m.vals, key)
		return nil
	}
	m.vals[key] = b
	return nil
}
