// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a process-local Store used in tests and test mode.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func cloneRecord(r *Record) *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Value = append(json.RawMessage(nil), r.Value...)
	return &out
}

// Get implements Store.
func (m *InMemoryStore) Get(_ context.Context, key string) (*Record, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneRecord(m.records[key]), nil
}

// GetLike implements Store. Records are ordered by key.
func (m *InMemoryStore) GetLike(_ context.Context, prefix string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0)
	for key, r := range m.records {
		if strings.HasPrefix(key, prefix) {
			out = append(out, *cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Set implements Store.
func (m *InMemoryStore) Set(_ context.Context, key string, value json.RawMessage) (*Record, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRecord(m.put(key, value)), nil
}

// SetIfVersion implements Store.
func (m *InMemoryStore) SetIfVersion(_ context.Context, key string, value json.RawMessage, version Version) (*Record, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var current Version
	if r, ok := m.records[key]; ok {
		current = r.Version
	}
	if current != version {
		return nil, ErrVersionConflict
	}
	return cloneRecord(m.put(key, value)), nil
}

// put writes under m.mu, bumping the version.
func (m *InMemoryStore) put(key string, value json.RawMessage) *Record {
	now := m.now()
	r, ok := m.records[key]
	if !ok {
		r = &Record{ID: uuid.NewString(), Key: key, CreatedAt: now, Version: "0"}
		m.records[key] = r
	}
	n, _ := strconv.ParseInt(string(r.Version), 10, 64)
	r.Version = Version(strconv.FormatInt(n+1, 10))
	r.Value = normalize(value)
	r.UpdatedAt = now
	return r
}

// Delete implements Store. Deleting a missing key is not an error.
func (m *InMemoryStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

// DeleteLike implements Store.
func (m *InMemoryStore) DeleteLike(_ context.Context, prefix string) error {
	if prefix == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.records {
		if strings.HasPrefix(key, prefix) {
			delete(m.records, key)
		}
	}
	return nil
}

// CreateMany implements Store. Either every entry is written or none is.
func (m *InMemoryStore) CreateMany(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		if e.Key == "" {
			return ErrEmptyKey
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.put(e.Key, e.Value)
	}
	return nil
}
