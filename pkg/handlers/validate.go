// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/mail"
	"net/url"
	"slices"
	"strings"

	"github.com/jllopis/kairos-memory/pkg/errors"
)

// ErrInvalidInput is the sentinel every validation failure wraps.
var ErrInvalidInput = errors.New(errors.CodeInvalidInput, "invalid input", nil)

// FieldError describes one failing input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every failing field of one request.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return strings.Join(parts, "; ")
}

// validator accumulates field errors so callers see all of them at once.
type validator struct {
	fields []FieldError
}

func (v *validator) fail(field, format string, args ...any) {
	v.fields = append(v.fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) required(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		v.fail(field, "is required")
		return false
	}
	return true
}

func (v *validator) email(field, value string) {
	if !v.required(field, value) {
		return
	}
	// The address becomes a key segment, so '/' is refused even though
	// RFC 5322 allows it in the local part.
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value || strings.Contains(value, "/") {
		v.fail(field, "must be a valid email address")
	}
}

func (v *validator) absoluteURL(field, value string) {
	if !v.required(field, value) {
		return
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.fail(field, "must be an absolute http or https URL")
	}
}

func (v *validator) oneOf(field, value string, allowed []string) {
	if !slices.Contains(allowed, value) {
		v.fail(field, "must be one of %s", strings.Join(allowed, ", "))
	}
}

func (v *validator) positive(field string, n *int) {
	if n != nil && *n <= 0 {
		v.fail(field, "must be a positive integer")
	}
}

func (v *validator) nonEmptyItems(field string, items []string) {
	for i, item := range items {
		if strings.TrimSpace(item) == "" {
			v.fail(fmt.Sprintf("%s[%d]", field, i), "must not be empty")
		}
	}
}

func (v *validator) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return invalid(&ValidationError{Fields: v.fields})
}

func invalid(ve *ValidationError) error {
	return errors.Wrap(ErrInvalidInput, ve)
}

// bind decodes raw arguments into out. Type mismatches are reported as
// field errors rather than decoding failures.
func bind(args any, out any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return invalid(&ValidationError{Fields: []FieldError{{Field: "arguments", Message: "must be a JSON object"}}})
	}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if stderrors.As(err, &typeErr) && typeErr.Field != "" {
			return invalid(&ValidationError{Fields: []FieldError{{
				Field:   typeErr.Field,
				Message: "must be " + article(typeErr.Type.String()),
			}}})
		}
		return invalid(&ValidationError{Fields: []FieldError{{Field: "arguments", Message: "must be a JSON object"}}})
	}
	return nil
}

func article(goType string) string {
	switch {
	case strings.HasPrefix(goType, "[]"):
		return "an array"
	case strings.Contains(goType, "int"):
		return "an integer"
	case goType == "string":
		return "a string"
	default:
		return "a " + goType
	}
}
