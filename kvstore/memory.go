package kvstore

import (
	"context"
	"iter"
	"slices"
	"strings"
	"sync"
)

// Memory is an in-memory Store implementation.
// It is safe for concurrent use and intended primarily for testing.
type Memory struct {
	mu     sync.RWMutex
	sets   map[string]map[string]struct{}
	values map[string][]byte
	closed bool
}

// NewMemory creates a new in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		sets:   make(map[string]map[string]struct{}),
		values: make(map[string][]byte),
	}
}

func (m *Memory) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if len(members) == 0 {
		return nil
	}
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{}, len(members))
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

func (m *Memory) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	set, ok := m.sets[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(set, member)
	}
	if len(set) == 0 {
		delete(m.sets, key)
	}
	return nil
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	set := m.sets[key]
	out := make([]string, 0, len(set))
	for member := range set {
		out = append(out, member)
	}
	return out, nil
}

// SMembersMulti implements MultiReader.
func (m *Memory) SMembersMulti(_ context.Context, keys []string) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make(map[string][]string, len(keys))
	for _, k := range keys {
		set := m.sets[k]
		if len(set) == 0 {
			continue
		}
		members := make([]string, 0, len(set))
		for member := range set {
			members = append(members, member)
		}
		out[k] = members
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy to prevent mutation.
	return slices.Clone(v), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.values[key] = slices.Clone(value)
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, k := range keys {
		delete(m.sets, k)
		delete(m.values, k)
	}
	return nil
}

func (m *Memory) Keys(_ context.Context, prefix string) iter.Seq2[string, error] {
	// Snapshot matching keys under read lock.
	m.mu.RLock()
	closed := m.closed
	var matches []string
	for k := range m.sets {
		if strings.HasPrefix(k, prefix) {
			matches = append(matches, k)
		}
	}
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			matches = append(matches, k)
		}
	}
	m.mu.RUnlock()

	return func(yield func(string, error) bool) {
		if closed {
			yield("", ErrClosed)
			return
		}
		for _, k := range matches {
			if !yield(k, nil) {
				return
			}
		}
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
