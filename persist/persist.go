// Package persist provides the key-value backends nodes use to keep data
// across invocations and process restarts. Values are namespaced by node
// full path so two nodes never collide.
package persist

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when a key has never been stored in a namespace.
var ErrNotFound = errors.New("persist: key not found")

// Backend stores and retrieves namespaced key-value pairs. Implementations
// must be safe for concurrent use.
type Backend interface {
	Store(ctx context.Context, namespace, key string, value any) error
	Get(ctx context.Context, namespace, key string) (any, error)
}

// Memory keeps values in process memory. Data does not survive a restart;
// meant for tests and channels without durability requirements.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]any
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{data: map[string]map[string]any{}}
}

func (m *Memory) Store(_ context.Context, namespace, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.data[namespace]
	if !ok {
		ns = map[string]any{}
		m.data[namespace] = ns
	}
	ns[key] = value
	return nil
}

func (m *Memory) Get(_ context.Context, namespace, key string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ns, ok := m.data[namespace]; ok {
		if v, ok := ns[key]; ok {
			return v, nil
		}
	}
	return nil, ErrNotFound
}
