// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys used on spans and metrics.
const (
	// Handler attributes
	AttrHandlerName    = "kairos.handler.name"
	AttrHandlerKind    = "kairos.handler.kind" // tool, resource, prompt
	AttrHandlerArgs    = "kairos.handler.arguments"
	AttrHandlerSuccess = "kairos.handler.success"

	// Session attributes
	AttrSessionID = "kairos.session.id"
	AttrCallID    = "kairos.call.id"

	// Backend attributes
	AttrBackendOperation = "kairos.backend.operation"
	AttrBackendMethod    = "http.request.method"
	AttrBackendStatus    = "http.response.status_code"

	// Memory attributes
	AttrMemoryStrategy = "kairos.memory.strategy"
	AttrMemoryCount    = "kairos.memory.count"
	AttrMemoryCreated  = "kairos.memory.created"
	AttrMemoryAttempts = "kairos.memory.attempts"

	// Capability attributes
	AttrPersonaID    = "kairos.persona.id"
	AttrCollection   = "kairos.retrieval.collection"
	AttrDocsCount    = "kairos.retrieval.docs_count"
	AttrContentType  = "kairos.content.type"
	AttrCodeLanguage = "kairos.code.language"

	// Error attributes
	AttrErrorCode = "error.code"
	AttrComponent = "component"
)

const maxArgsLen = 500

// HandlerAttributes returns attributes for a handler invocation span.
func HandlerAttributes(kind, name, sessionID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrHandlerKind, kind),
		attribute.String(AttrHandlerName, name),
	}
	if sessionID != "" {
		attrs = append(attrs, attribute.String(AttrSessionID, sessionID))
	}
	return attrs
}

// HandlerArgs returns the raw arguments attribute, truncated.
func HandlerArgs(args string) []attribute.KeyValue {
	if args == "" {
		return nil
	}
	return []attribute.KeyValue{attribute.String(AttrHandlerArgs, truncate(args, maxArgsLen))}
}

// BackendAttributes returns attributes for a backend call span.
func BackendAttributes(operation, method string, status int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrBackendOperation, operation),
		attribute.String(AttrBackendMethod, method),
	}
	if status > 0 {
		attrs = append(attrs, attribute.Int(AttrBackendStatus, status))
	}
	return attrs
}

// MemoryAttributes returns attributes for an append.
func MemoryAttributes(strategy string, count int, created bool, attempts int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrMemoryStrategy, strategy),
		attribute.Int(AttrMemoryCount, count),
		attribute.Bool(AttrMemoryCreated, created),
	}
	if attempts > 1 {
		attrs = append(attrs, attribute.Int(AttrMemoryAttempts, attempts))
	}
	return attrs
}

// RetrievalAttributes returns attributes for a relevant-docs lookup.
func RetrievalAttributes(personaID, collection string, docs int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrCollection, collection),
		attribute.Int(AttrDocsCount, docs),
	}
	if personaID != "" {
		attrs = append(attrs, attribute.String(AttrPersonaID, personaID))
	}
	return attrs
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
