// Package ingress performs shape checks on inbound request bodies.
//
// The gateway deliberately does no schema validation: the payload stays
// an opaque JSON value so provider-specific fields survive the round
// trip untouched. Ingress only enforces the size limit and that the
// body is well-formed UTF-8 JSON.
package ingress

import (
	"encoding/json"
	"errors"
	"io"
	"unicode/utf8"
)

// ErrRequestTooLarge is returned when the body exceeds the configured
// request size limit. The check happens before any JSON parsing, so an
// oversized body is never fully decoded.
var ErrRequestTooLarge = errors.New("request body exceeds size limit")

// ErrMalformedRequest is returned when the body is not valid UTF-8 JSON.
var ErrMalformedRequest = errors.New("request body is not valid JSON")

// ReadBody reads the request body up to max bytes. If the reader yields
// more than max bytes, ErrRequestTooLarge is returned and the remainder
// is left unread.
func ReadBody(r io.Reader, max int64) ([]byte, error) {
	// Read one byte past the limit so overflow is detectable without
	// draining an arbitrarily large body.
	body, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > max {
		return nil, ErrRequestTooLarge
	}
	return body, nil
}

// Parse validates that body is well-formed UTF-8 JSON and returns it as
// an opaque json.RawMessage. The bytes are passed through unchanged, so
// unknown fields and key order are preserved end to end.
func Parse(body []byte) (json.RawMessage, error) {
	if !utf8.Valid(body) {
		return nil, ErrMalformedRequest
	}
	if !json.Valid(body) {
		return nil, ErrMalformedRequest
	}
	return json.RawMessage(body), nil
}
