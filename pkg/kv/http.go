// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/url"

	"github.com/jllopis/kairos-memory/pkg/backend"
	"github.com/jllopis/kairos-memory/pkg/errors"
)

const (
	jsonDataPath     = "/json-data"
	jsonDataLikePath = "/json-data/key-like"
	jsonDataBulkPath = "/json-data/bulk"
)

// HTTPStore is the backend's /json-data API.
type HTTPStore struct {
	client *backend.Client
}

// NewHTTPStore creates a store over an authenticated backend client.
func NewHTTPStore(client *backend.Client) *HTTPStore {
	return &HTTPStore{client: client}
}

type setBody struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type conditionalSetBody struct {
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value"`
	Version *Version        `json:"version"`
}

type bulkBody struct {
	Data []Entry `json:"data"`
}

// Get implements Store. A JSON null body or a 404 both mean absent.
func (s *HTTPStore) Get(ctx context.Context, key string) (*Record, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	var r *Record
	err := s.client.DoJSON(ctx, backend.Request{
		Operation: "kv.get",
		Method:    http.MethodGet,
		Path:      jsonDataPath,
		Query:     url.Values{"key": {key}},
	}, &r)
	if errors.Is(err, errors.CodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetLike implements Store.
func (s *HTTPStore) GetLike(ctx context.Context, prefix string) ([]Record, error) {
	records := []Record{}
	err := s.client.DoJSON(ctx, backend.Request{
		Operation: "kv.get_like",
		Method:    http.MethodGet,
		Path:      jsonDataLikePath,
		Query:     url.Values{"key": {prefix}},
	}, &records)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Set implements Store. The backend may answer null, in which case Set returns nil.
func (s *HTTPStore) Set(ctx context.Context, key string, value json.RawMessage) (*Record, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	var r *Record
	err := s.client.DoJSON(ctx, backend.Request{
		Operation: "kv.set",
		Method:    http.MethodPost,
		Path:      jsonDataPath,
		Body:      setBody{Key: key, Value: normalize(value)},
	}, &r)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// SetIfVersion implements Store. The expected version travels in the body;
// null asks the backend to create only. A 409 answer is a conflict.
func (s *HTTPStore) SetIfVersion(ctx context.Context, key string, value json.RawMessage, version Version) (*Record, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	body := conditionalSetBody{Key: key, Value: normalize(value)}
	if version != "" {
		body.Version = &version
	}

	var r *Record
	err := s.client.DoJSON(ctx, backend.Request{
		Operation: "kv.set_if_version",
		Method:    http.MethodPost,
		Path:      jsonDataPath,
		Body:      body,
	}, &r)
	if stderrors.Is(err, backend.ErrConflict) {
		return nil, errors.Wrap(ErrVersionConflict, err).
			WithContext("key", key).
			WithContext("version", string(version))
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Delete implements Store.
func (s *HTTPStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, err := s.client.Do(ctx, backend.Request{
		Operation: "kv.delete",
		Method:    http.MethodDelete,
		Path:      jsonDataPath,
		Query:     url.Values{"key": {key}},
	})
	return err
}

// DeleteLike implements Store.
func (s *HTTPStore) DeleteLike(ctx context.Context, prefix string) error {
	if prefix == "" {
		return ErrEmptyKey
	}
	_, err := s.client.Do(ctx, backend.Request{
		Operation: "kv.delete_like",
		Method:    http.MethodDelete,
		Path:      jsonDataLikePath,
		Query:     url.Values{"key": {prefix}},
	})
	return err
}

// CreateMany implements Store.
func (s *HTTPStore) CreateMany(ctx context.Context, entries []Entry) error {
	data := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Key == "" {
			return ErrEmptyKey
		}
		data = append(data, Entry{Key: e.Key, Value: normalize(e.Value)})
	}
	_, err := s.client.Do(ctx, backend.Request{
		Operation: "kv.create_many",
		Method:    http.MethodPost,
		Path:      jsonDataBulkPath,
		Body:      bulkBody{Data: data},
	})
	return err
}
