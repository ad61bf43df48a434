// Package jsonx decodes low-trust JSON request bodies with tight shape checks.
package jsonx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

var (
	ErrEmptyBody    = errors.New("empty body")
	ErrTrailingJSON = errors.New("trailing data")
)

// maxBody caps how much of a request body is read.
const maxBody = 1 << 20

// ReadBody reads at most 1MB of r's body and rejects empty or all-whitespace input.
func ReadBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}
	return body, nil
}

// DecodeStrict decodes exactly one JSON value from data into dst.
//
// Unknown fields, type mismatches and trailing values are errors; the HTTP
// layer maps all of them to 400. Required fields and business rules are
// not checked here.
func DecodeStrict[T any](data []byte, dst *T) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ErrTrailingJSON
	}
	return nil
}

// ParseStrictJSONBody is ReadBody followed by DecodeStrict.
func ParseStrictJSONBody[T any](r *http.Request, dst *T) error {
	body, err := ReadBody(r)
	if err != nil {
		return err
	}
	return DecodeStrict(body, dst)
}
