// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"net/http"
)

// RelevantDocsPath is the retrieval endpoint.
const RelevantDocsPath = "/experiments/relevant-docs"

// RelevantDocs implements Retriever against the backend.
func (c *Client) RelevantDocs(ctx context.Context, q DocsQuery) ([]Document, error) {
	docs := []Document{}
	err := c.DoJSON(ctx, Request{
		Operation: "relevant-docs",
		Method:    http.MethodPost,
		Path:      RelevantDocsPath,
		Body:      q,
	}, &docs)
	if err != nil {
		return nil, err
	}
	return docs, nil
}
