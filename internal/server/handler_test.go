package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/howard-nolan/isogate/internal/config"
	"github.com/howard-nolan/isogate/internal/proxy"
)

// countingUpstream wraps an upstream handler and counts how many calls
// actually reached it.
type countingUpstream struct {
	calls   atomic.Int64
	handler http.HandlerFunc
}

func (c *countingUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.calls.Add(1)
	c.handler(w, r)
}

// newTestServer wires a full gateway against the given upstream
// handler and returns the server plus the upstream call counter.
func newTestServer(t *testing.T, upstream http.HandlerFunc, mutate func(*config.Config)) (*Server, *countingUpstream) {
	t.Helper()
	t.Setenv("TEST_UPSTREAM_KEY", "sk-test-credential")

	counter := &countingUpstream{handler: upstream}
	us := httptest.NewServer(counter)
	t.Cleanup(us.Close)

	cfg := &config.Config{
		Provider: "anthropic",
		Providers: map[string]config.ProviderConfig{
			"anthropic": {Endpoint: us.URL, APIKeyEnv: "TEST_UPSTREAM_KEY"},
		},
		MaxRequestBytes:  1024,
		MaxResponseBytes: 1024 * 1024,
		TimeoutSeconds:   2,
		Host:             "127.0.0.1",
		Port:             9000,
		LoggingMode:      config.LogOff,
		Disclosure:       config.DisclosureNormalized,
	}
	if mutate != nil {
		mutate(cfg)
	}

	logger := zap.NewNop()
	return New(cfg, proxy.New(cfg, logger), logger), counter
}

func do(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {}, nil)

	w := do(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestUnlistedPathRejected(t *testing.T) {
	s, upstream := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {}, nil)

	// The allowlist is closed: no passthrough of arbitrary paths.
	for _, path := range []string{"/v1/complete", "/v1/messages/extra", "/admin"} {
		w := do(s, http.MethodPost, path, []byte(`{}`))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.JSONEq(t,
			`{"type":"error","error":{"type":"not_found","message":"Not found"}}`,
			w.Body.String(), path)
	}
	assert.Zero(t, upstream.calls.Load())
}

func TestWrongMethodRejected(t *testing.T) {
	s, upstream := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {}, nil)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		w := do(s, method, "/v1/messages", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, method)
		assert.JSONEq(t,
			`{"type":"error","error":{"type":"method_not_allowed","message":"Method not allowed"}}`,
			w.Body.String(), method)
	}
	assert.Zero(t, upstream.calls.Load())
}

func TestOversizedBodyRejectedBeforeUpstream(t *testing.T) {
	s, upstream := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}, nil)

	// Twice the configured limit, and not even valid JSON: the size
	// check must win, and the upstream must never be called.
	body := []byte(strings.Repeat("x", 2048))
	w := do(s, http.MethodPost, "/v1/messages", body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.JSONEq(t,
		`{"type":"error","error":{"type":"request_too_large","message":"Request body exceeds size limit"}}`,
		w.Body.String())
	assert.Zero(t, upstream.calls.Load())
}

func TestMalformedJSONRejected(t *testing.T) {
	s, upstream := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {}, nil)

	w := do(s, http.MethodPost, "/v1/messages", []byte(`{"model":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t,
		`{"type":"error","error":{"type":"invalid_request","message":"Request body is not valid JSON"}}`,
		w.Body.String())
	assert.Zero(t, upstream.calls.Load())
}

func TestEndToEndVerbatim200(t *testing.T) {
	upstreamBody := `{"id":"msg_1","content":[{"type":"text","text":"hello"}]}`
	var received []byte
	s, upstream := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		received, _ = readAll(r)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, upstreamBody)
	}, nil)

	sent := `{"model":"claude-sonnet-4","messages":[],"zz_unknown":{"keep":"me"}}`
	w := do(s, http.MethodPost, "/v1/messages", []byte(sent))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, upstreamBody, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	// The payload reached the upstream byte-for-byte, unknown fields
	// included.
	assert.Equal(t, sent, string(received))
	assert.Equal(t, int64(1), upstream.calls.Load())
}

func TestEndToEndNormalized429(t *testing.T) {
	s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"type":"rate_limit_error","message":"50 rpm, retry in 30s"}}`)
	}, nil)

	w := do(s, http.MethodPost, "/v1/messages", []byte(`{}`))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t,
		`{"type":"error","error":{"type":"rate_limited","message":"Rate limit exceeded"}}`,
		w.Body.String())
}

func TestEndToEndVerbatimPolicy429(t *testing.T) {
	upstreamBody := `{"error":{"type":"rate_limit_error","message":"50 rpm, retry in 30s"}}`
	s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, upstreamBody)
	}, func(cfg *config.Config) {
		cfg.Disclosure = config.DisclosureVerbatim
	})

	w := do(s, http.MethodPost, "/v1/messages", []byte(`{}`))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, upstreamBody, w.Body.String())
}

func TestUpstreamFailureIs502(t *testing.T) {
	s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {}, func(cfg *config.Config) {
		// Point at a closed port.
		cfg.Providers["anthropic"] = config.ProviderConfig{
			Endpoint:  "http://127.0.0.1:1",
			APIKeyEnv: "TEST_UPSTREAM_KEY",
		}
	})

	w := do(s, http.MethodPost, "/v1/messages", []byte(`{}`))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t,
		`{"type":"error","error":{"type":"proxy_error","message":"Upstream request failed"}}`,
		w.Body.String())
}

func TestModelOverrideApplied(t *testing.T) {
	var received []byte
	s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		received, _ = readAll(r)
		fmt.Fprint(w, `{}`)
	}, func(cfg *config.Config) {
		cfg.ModelOverride = "forced-model"
	})

	w := do(s, http.MethodPost, "/v1/messages", []byte(`{"model":"requested","temperature":0.7}`))
	require.Equal(t, http.StatusOK, w.Code)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(received, &fields))
	assert.Equal(t, `"forced-model"`, string(fields["model"]))
	assert.Equal(t, `0.7`, string(fields["temperature"]))
}

func TestPanicBecomesGeneric500(t *testing.T) {
	t.Setenv("TEST_UPSTREAM_KEY", "sk-test-credential")

	cfg := &config.Config{
		Provider: "anthropic",
		Providers: map[string]config.ProviderConfig{
			"anthropic": {Endpoint: "http://127.0.0.1:1", APIKeyEnv: "TEST_UPSTREAM_KEY"},
		},
		MaxRequestBytes:  1024,
		MaxResponseBytes: 1024,
		TimeoutSeconds:   1,
		LoggingMode:      config.LogOff,
		Disclosure:       config.DisclosureNormalized,
	}

	// A nil forwarder makes the handler panic; the recoverer must turn
	// that into a generic envelope with no internal detail.
	s := New(cfg, nil, zap.NewNop())

	w := do(s, http.MethodPost, "/v1/messages", []byte(`{}`))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t,
		`{"type":"error","error":{"type":"internal_error","message":"Internal server error"}}`,
		w.Body.String())
	assert.NotContains(t, w.Body.String(), "runtime error")
}

func readAll(r *http.Request) ([]byte, error) {
	var buf bytes.Buffer
	_, err := buf.ReadFrom(r.Body)
	return buf.Bytes(), err
}
