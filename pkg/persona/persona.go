// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package persona resolves the persona records that scope retrieval and
// shape the persona prompt.
package persona

import (
	"context"
	"encoding/json"

	"github.com/jllopis/kairos-memory/pkg/errors"
	"github.com/jllopis/kairos-memory/pkg/kv"
)

// ErrPersonaNotFound is returned when no persona is stored for the pair.
var ErrPersonaNotFound = errors.New(errors.CodeNotFound, "persona not found", nil)

// Key returns the record key of personaID owned by userEmail.
func Key(namespace, userEmail, personaID string) string {
	key := "users/" + userEmail + "/personas/" + personaID
	if namespace == "" {
		return key
	}
	return namespace + "/" + key
}

// Persona is a stored persona. Only CollectionName is interpreted; every
// other field is kept as-is.
type Persona struct {
	CollectionName string
	Fields         map[string]any
}

// UnmarshalJSON keeps unknown fields in Fields.
func (p *Persona) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	p.Fields = fields
	p.CollectionName, _ = fields["collectionName"].(string)
	return nil
}

// MarshalJSON renders every stored field.
func (p Persona) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Fields)+1)
	for k, v := range p.Fields {
		out[k] = v
	}
	if p.CollectionName != "" {
		out["collectionName"] = p.CollectionName
	}
	return json.Marshal(out)
}

// Resolver looks personas up in a key/value store.
type Resolver struct {
	store     kv.Store
	namespace string
}

// NewResolver creates a resolver reading keys under namespace.
func NewResolver(store kv.Store, namespace string) *Resolver {
	return &Resolver{store: store, namespace: namespace}
}

// Resolve returns the persona or ErrPersonaNotFound.
func (r *Resolver) Resolve(ctx context.Context, userEmail, personaID string) (*Persona, error) {
	data, err := kv.GetKey[*Persona](ctx, r.store, Key(r.namespace, userEmail, personaID))
	if err != nil {
		return nil, err
	}
	if data == nil || data.Value == nil {
		return nil, errors.Wrap(ErrPersonaNotFound, nil).
			WithContext("user_email", userEmail).
			WithContext("persona_id", personaID)
	}
	return data.Value, nil
}
