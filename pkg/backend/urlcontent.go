// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// URLContentPath is the URL normalisation endpoint.
const URLContentPath = "/experiments/url-content"

// URLContent implements ContentFetcher against the backend. A JSON string
// body is unquoted; any other body is returned as received.
func (c *Client) URLContent(ctx context.Context, q URLQuery) (string, error) {
	query := url.Values{"url": {q.URL}}
	if q.Type != "" {
		query.Set("type", string(q.Type))
	}

	resp, err := c.Do(ctx, Request{
		Operation: "url-content",
		Method:    http.MethodGet,
		Path:      URLContentPath,
		Query:     query,
	})
	if err != nil {
		return "", err
	}

	if strings.Contains(resp.ContentType, "json") {
		var text string
		if json.Unmarshal(resp.Body, &text) == nil {
			return text, nil
		}
	}
	return string(resp.Body), nil
}
