// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package kv is the JSON key/value layer memories and personas live in.
//
// Keys are hierarchical strings. Every value is stored as a JSON document and
// replaced wholesale on write; records carry an opaque version used for
// conditional writes.
package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/jllopis/kairos-memory/pkg/errors"
)

var (
	// ErrVersionConflict is returned by SetIfVersion when the stored version
	// differs from the expected one.
	ErrVersionConflict = errors.New(errors.CodeConflict, "version conflict", nil).WithRecoverable(true)

	// ErrConditionalUnsupported is returned by stores that cannot compare versions.
	ErrConditionalUnsupported = errors.New(errors.CodeUnsupported, "conditional writes are not supported by this store", nil)

	// ErrEmptyKey is returned for operations on the empty key.
	ErrEmptyKey = errors.New(errors.CodeInvalidInput, "key must not be empty", nil)

	// ErrDecode is returned when a stored value does not match the requested type.
	ErrDecode = errors.New(errors.CodeInternal, "stored value does not match the requested type", nil)
)

var jsonNull = json.RawMessage("null")

// Version is an opaque record version. It arrives as a JSON string or
// number and is compared only for equality. The empty version means
// "record must not exist" in SetIfVersion.
type Version string

// UnmarshalJSON accepts strings, numbers and null.
func (v *Version) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, jsonNull):
		*v = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Version(s)
	default:
		*v = Version(data)
	}
	return nil
}

// Record is a stored document with its raw JSON value.
type Record struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Version   Version         `json:"version"`
	ExpireAt  *time.Time      `json:"expireAt"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// JsonData is a Record whose value has been decoded into T.
type JsonData[T any] struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Value     T          `json:"value"`
	Version   Version    `json:"version"`
	ExpireAt  *time.Time `json:"expireAt"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Entry is one item of a bulk write.
type Entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Store is implemented by every key/value backend.
//
// Get returns nil, nil for a key that was never set. Set creates or
// replaces. SetIfVersion writes only when the stored version equals version
// and fails with ErrVersionConflict otherwise.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	GetLike(ctx context.Context, prefix string) ([]Record, error)
	Set(ctx context.Context, key string, value json.RawMessage) (*Record, error)
	SetIfVersion(ctx context.Context, key string, value json.RawMessage, version Version) (*Record, error)
	Delete(ctx context.Context, key string) error
	DeleteLike(ctx context.Context, prefix string) error
	CreateMany(ctx context.Context, entries []Entry) error
}

// Decode converts a raw record into JsonData[T]. A nil record decodes to nil.
func Decode[T any](r *Record) (*JsonData[T], error) {
	if r == nil {
		return nil, nil
	}
	out := &JsonData[T]{
		ID:        r.ID,
		Key:       r.Key,
		Version:   r.Version,
		ExpireAt:  r.ExpireAt,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Value) > 0 {
		if err := json.Unmarshal(r.Value, &out.Value); err != nil {
			return nil, errors.Wrap(ErrDecode, err).WithContext("key", r.Key)
		}
	}
	return out, nil
}

func encode(key string, value any) (json.RawMessage, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "value is not JSON serializable", err).
			WithContext("key", key)
	}
	return data, nil
}

// GetKey reads key and decodes its value. It returns nil, nil when the key is absent.
func GetKey[T any](ctx context.Context, s Store, key string) (*JsonData[T], error) {
	r, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return Decode[T](r)
}

// SetKey replaces the value stored at key.
func SetKey[T any](ctx context.Context, s Store, key string, value T) (*JsonData[T], error) {
	raw, err := encode(key, value)
	if err != nil {
		return nil, err
	}
	r, err := s.Set(ctx, key, raw)
	if err != nil {
		return nil, err
	}
	return Decode[T](r)
}

// SetKeyIfVersion replaces the value at key only if its version still equals version.
func SetKeyIfVersion[T any](ctx context.Context, s Store, key string, value T, version Version) (*JsonData[T], error) {
	raw, err := encode(key, value)
	if err != nil {
		return nil, err
	}
	r, err := s.SetIfVersion(ctx, key, raw, version)
	if err != nil {
		return nil, err
	}
	return Decode[T](r)
}

// GetKeysLike returns every record whose key starts with prefix.
func GetKeysLike[T any](ctx context.Context, s Store, prefix string) ([]JsonData[T], error) {
	records, err := s.GetLike(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]JsonData[T], 0, len(records))
	for i := range records {
		d, err := Decode[T](&records[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

// Item is one typed element of a bulk write.
type Item[T any] struct {
	Key   string
	Value T
}

// CreateMany writes every item in one store call.
func CreateMany[T any](ctx context.Context, s Store, items []Item[T]) error {
	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		raw, err := encode(it.Key, it.Value)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Key: it.Key, Value: raw})
	}
	return s.CreateMany(ctx, entries)
}

func normalize(value json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(value)) == 0 {
		return jsonNull
	}
	return append(json.RawMessage(nil), value...)
}
