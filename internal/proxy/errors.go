package proxy

import (
	"encoding/json"
	"net/http"
)

// Error types used in the standardized error envelope. The taxonomy
// kinds (invalid_request through upstream_error) mirror what upstream
// providers signal; the remaining kinds are gateway-origin.
const (
	ErrTypeProxy            = "proxy_error"
	ErrTypeInvalidRequest   = "invalid_request"
	ErrTypeRequestTooLarge  = "request_too_large"
	ErrTypeNotFound         = "not_found"
	ErrTypeMethodNotAllowed = "method_not_allowed"
	ErrTypeInternal         = "internal_error"
)

// ErrorKind classifies a forwarding failure. The set is closed so the
// handler can match it exhaustively; every kind surfaces to the caller
// as a 502 proxy_error.
type ErrorKind string

const (
	KindTimeout          ErrorKind = "timeout"
	KindNetwork          ErrorKind = "network"
	KindResponseTooLarge ErrorKind = "response_too_large"
	KindUnexpected       ErrorKind = "unexpected"
)

// UpstreamError reports a failed upstream call. Its Error text carries
// only the coarse kind: transport diagnostics can contain hostnames and
// internal network details, so the underlying error is kept for
// Unwrap/errors.Is but never rendered into caller-visible text.
type UpstreamError struct {
	Kind ErrorKind
	Err  error
}

func (e *UpstreamError) Error() string {
	return "upstream request failed: " + string(e.Kind)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Type  string      `json:"type"`
	Error errorDetail `json:"error"`
}

// ErrorBody builds the standardized error envelope
// {"type":"error","error":{"type":kind,"message":message}}.
func ErrorBody(kind, message string) []byte {
	body, _ := json.Marshal(errorEnvelope{
		Type:  "error",
		Error: errorDetail{Type: kind, Message: message},
	})
	return body
}

type taxonomyEntry struct {
	kind    string
	message string
}

// upstreamErrorMap fixes what of an upstream error status is safe to
// expose. The semantic signal (auth vs rate limit vs server error)
// survives; provider-specific error taxonomy, rate-limit numbers, and
// diagnostic strings do not.
var upstreamErrorMap = map[int]taxonomyEntry{
	http.StatusBadRequest:          {"invalid_request", "The request was malformed or missing required parameters"},
	http.StatusUnauthorized:        {"authentication_error", "Authentication failed"},
	http.StatusForbidden:           {"permission_denied", "Access to the requested resource is forbidden"},
	http.StatusNotFound:            {"not_found", "The requested resource was not found"},
	http.StatusTooManyRequests:     {"rate_limited", "Rate limit exceeded"},
	http.StatusInternalServerError: {"upstream_error", "The provider encountered an internal error"},
	http.StatusBadGateway:          {"upstream_error", "The provider is temporarily unavailable"},
	http.StatusServiceUnavailable:  {"upstream_error", "The provider is temporarily unavailable"},
	529:                            {"upstream_error", "The provider is temporarily overloaded"},
}

// Normalize maps an upstream status code to the status and safe error
// body the caller may see. Unmapped 4xx collapse to client_error,
// unmapped 5xx to upstream_error; anything else should not occur on an
// error path and becomes a 502. Pure function, no state.
func Normalize(status int) (int, []byte) {
	if e, ok := upstreamErrorMap[status]; ok {
		return status, ErrorBody(e.kind, e.message)
	}
	if status >= 400 && status < 500 {
		return status, ErrorBody("client_error", "The request could not be processed")
	}
	if status >= 500 {
		return status, ErrorBody("upstream_error", "The provider encountered an error")
	}
	return http.StatusBadGateway, ErrorBody("upstream_error", "Unexpected provider response")
}
