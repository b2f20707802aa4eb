package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/howard-nolan/isogate/internal/ingress"
	"github.com/howard-nolan/isogate/internal/proxy"
)

// handleHealth is a basic liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleMessages handles POST /v1/messages, the one forwarding route.
// Ingress rejections are resolved here and never reach the forwarder;
// forwarding failures collapse to a single 502 proxy_error regardless
// of cause.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := ingress.ReadBody(r.Body, s.cfg.MaxRequestBytes)
	switch {
	case errors.Is(err, ingress.ErrRequestTooLarge):
		s.logger.Info("request rejected", zap.String("reason", "request_too_large"))
		writeJSON(w, http.StatusRequestEntityTooLarge,
			proxy.ErrorBody(proxy.ErrTypeRequestTooLarge, "Request body exceeds size limit"))
		return
	case err != nil:
		writeJSON(w, http.StatusBadRequest,
			proxy.ErrorBody(proxy.ErrTypeInvalidRequest, "Could not read request body"))
		return
	}

	s.logger.Info("request received", zap.Int("bytes", len(body)))

	payload, err := ingress.Parse(body)
	if err != nil {
		s.logger.Info("request rejected", zap.String("reason", "malformed_json"))
		writeJSON(w, http.StatusBadRequest,
			proxy.ErrorBody(proxy.ErrTypeInvalidRequest, "Request body is not valid JSON"))
		return
	}

	payload = proxy.ApplyModelOverride(payload, s.cfg.ModelOverride)

	// r.Context() cancels when the caller disconnects, which aborts the
	// in-flight upstream call rather than letting it run unconsumed.
	status, respBody, err := s.forwarder.Forward(r.Context(), payload)
	if err != nil {
		var ue *proxy.UpstreamError
		if errors.As(err, &ue) {
			s.logger.Error("upstream request failed", zap.String("kind", string(ue.Kind)))
		} else {
			s.logger.Error("upstream request failed")
		}
		writeJSON(w, http.StatusBadGateway,
			proxy.ErrorBody(proxy.ErrTypeProxy, "Upstream request failed"))
		return
	}

	writeJSON(w, status, respBody)
}
