// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"net/http"
)

// ExecuteCodePath is the sandbox endpoint.
const ExecuteCodePath = "/experiments/execute-code"

// ExecuteCode implements CodeExecutor against the backend.
// LangUnknown fails with ErrUnsupportedLanguage without touching the network.
func (c *Client) ExecuteCode(ctx context.Context, req CodeRequest) (*CodeResult, error) {
	if req.Language == LangUnknown {
		return nil, ErrUnsupportedLanguage
	}

	var result CodeResult
	if err := c.DoJSON(ctx, Request{
		Operation: "execute-code",
		Method:    http.MethodPost,
		Path:      ExecuteCodePath,
		Body:      req,
	}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
