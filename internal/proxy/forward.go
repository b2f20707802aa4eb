// Package proxy implements the credential-injecting forwarding engine
// and the error taxonomy that bounds what upstream detail the caller
// may see.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/howard-nolan/isogate/internal/config"
)

// anthropicAPIVersion pins the upstream API behavior for providers of
// the Anthropic family, which require this header on every request.
const anthropicAPIVersion = "2023-06-01"

// Connection pool bounds for the single upstream host.
const (
	maxPoolConns = 10
	maxIdleConns = 5
)

// Forwarder issues credential-injected calls to the configured upstream
// provider. It holds the only shared mutable resource in the gateway, a
// bounded connection pool, which http.Transport makes safe for
// concurrent use.
type Forwarder struct {
	cfg    *config.Config
	client *http.Client
	logger *zap.Logger
}

// New creates a Forwarder with a connection pool bounded to the
// configured limits. The upstream deadline is applied per request via
// context so an inbound disconnect cancels the in-flight call.
func New(cfg *config.Config, logger *zap.Logger) *Forwarder {
	transport := &http.Transport{
		MaxConnsPerHost:     maxPoolConns,
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConns,
	}
	return NewWithClient(cfg, logger, &http.Client{Transport: transport})
}

// NewWithClient creates a Forwarder around an existing HTTP client.
// Used by tests to substitute a recorded or mocked transport.
func NewWithClient(cfg *config.Config, logger *zap.Logger, client *http.Client) *Forwarder {
	return &Forwarder{cfg: cfg, client: client, logger: logger}
}

// Forward posts the payload to the active provider and returns the
// (status, body) pair the caller may see, after applying the response
// size limit and the configured disclosure policy. Any transport-level
// failure is returned as an *UpstreamError; the caller must convert it
// to a 502 without exposing detail.
func (f *Forwarder) Forward(ctx context.Context, payload json.RawMessage) (int, []byte, error) {
	upstreamURL := f.cfg.UpstreamURL()

	// Credential is resolved per call and discarded with the request;
	// it never lands in the Config, a log line, or a response body.
	apiKey, err := f.cfg.APIKey()
	if err != nil {
		return 0, nil, &UpstreamError{Kind: KindUnexpected, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, upstreamURL, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, &UpstreamError{Kind: KindUnexpected, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if strings.Contains(strings.ToLower(f.cfg.Provider), "anthropic") {
		req.Header.Set("anthropic-version", anthropicAPIVersion)
	}

	f.logger.Info("forwarding request",
		zap.String("provider", f.cfg.Provider),
		zap.Int("bytes", len(payload)),
	)
	f.logger.Debug("upstream headers", zap.Strings("keys", headerKeys(req.Header)))

	resp, err := f.client.Do(req)
	if err != nil {
		kind := classify(err)
		f.logger.Error("upstream call failed", zap.String("kind", string(kind)))
		return 0, nil, &UpstreamError{Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	// Read one byte past the limit so an oversized response is
	// detected without buffering the whole thing.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxResponseBytes+1))
	if err != nil {
		kind := classify(err)
		f.logger.Error("upstream read failed", zap.String("kind", string(kind)))
		return 0, nil, &UpstreamError{Kind: kind, Err: err}
	}
	if int64(len(body)) > f.cfg.MaxResponseBytes {
		f.logger.Error("upstream response too large", zap.Int64("limit", f.cfg.MaxResponseBytes))
		return 0, nil, &UpstreamError{Kind: KindResponseTooLarge}
	}

	f.logger.Info("upstream response",
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
	)

	return f.disclose(resp.StatusCode, body)
}

// disclose applies the configured disclosure policy. 2xx responses are
// always returned verbatim; both policies agree there. For other
// statuses the normalized policy substitutes the taxonomy body. A body
// about to be passed through verbatim that is not valid JSON is
// replaced, since the outbound contract promises a JSON body.
func (f *Forwarder) disclose(status int, body []byte) (int, []byte, error) {
	if (status >= 200 && status < 300) || f.cfg.Disclosure == config.DisclosureVerbatim {
		if !json.Valid(body) {
			return status, ErrorBody(ErrTypeProxy, "Non-JSON response from provider"), nil
		}
		return status, body, nil
	}
	normStatus, normBody := Normalize(status)
	return normStatus, normBody, nil
}

// classify reduces a transport error to its coarse kind. Deadline
// expiry counts as a timeout whether it surfaces as context.DeadlineExceeded
// or a net.Error; everything else (DNS, refused connection, TLS, a
// dropped caller) is a network failure.
func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

func headerKeys(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}
