// Package retrieval holds the direct vector retrieval path used when the
// server searches Qdrant itself instead of asking the backend.
package retrieval

import "context"

// Embedder converts text into a vector.
type Embedder interface {
	// Embed converts a text string into a vector.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed implements Embedder.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// Document payload keys. TextField becomes the document content; every other
// payload field is returned as metadata.
const (
	TextField   = "text"
	SourceField = "source"
)

// DefaultLimit is the number of documents returned when the caller does not ask.
const DefaultLimit = 4
