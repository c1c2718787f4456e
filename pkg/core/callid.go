// SPDX-License-Identifier: Apache-2.0
package core

import (
	"context"

	"github.com/google/uuid"
)

type callIDKey struct{}

// WithCallID attaches a handler invocation id to the context.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey{}, id)
}

// CallID returns the invocation id if present.
func CallID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callIDKey{}).(string)
	return id, ok && id != ""
}

// EnsureCallID returns ctx unchanged when it already carries an id, otherwise
// a child context with a fresh one.
func EnsureCallID(ctx context.Context) (context.Context, string) {
	if id, ok := CallID(ctx); ok {
		return ctx, id
	}
	id := "call-" + uuid.NewString()
	return WithCallID(ctx, id), id
}
