// ABOUTME: HTTP JSON API exposing every gateway operation under /api/{method}
// ABOUTME: Shares the gRPC method table and maps service errors to HTTP status codes

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/cose-gateway/internal/auth"
	"github.com/2389/cose-gateway/internal/rpc"
	"github.com/2389/cose-gateway/internal/service"
)

const (
	apiPrefix = "/api/"
	// maxBodyBytes covers the largest payload once base64 encoded, plus the envelope.
	maxBodyBytes = 4 << 20
)

// apiError is the body of every non-2xx API response.
type apiError struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

var httpStatuses = []struct {
	err    error
	status int
}{
	{service.ErrPermissionDenied, http.StatusForbidden},
	{service.ErrNotFound, http.StatusNotFound},
	{service.ErrVersionMismatch, http.StatusConflict},
	{service.ErrAlreadyExists, http.StatusConflict},
	{service.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
	{service.ErrInvalidEncoding, http.StatusBadRequest},
	{service.ErrInvalidArgument, http.StatusBadRequest},
	{service.ErrDisabled, http.StatusUnprocessableEntity},
	{service.ErrNotEmpty, http.StatusUnprocessableEntity},
	{service.ErrUnauthenticated, http.StatusUnauthorized},
	{service.ErrCryptoFailure, http.StatusBadGateway},
}

// httpStatus maps a service error to a response status.
func httpStatus(err error) int {
	for _, hs := range httpStatuses {
		if errors.Is(err, hs.err) {
			return hs.status
		}
	}
	return http.StatusInternalServerError
}

// apiHandler serves POST /api/{method}. The body is the same JSON request
// envelope the gRPC service accepts; an empty body decodes as no input.
func (g *Gateway) apiHandler() http.Handler {
	logger := g.logger.With("component", "api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		name := strings.TrimPrefix(r.URL.Path, apiPrefix)

		m, ok := rpc.Lookup(name)
		if !ok {
			// Unknown names share one label to keep metric cardinality bounded.
			g.respond(w, r, "unknown", start, http.StatusNotFound, apiError{Error: "unknown method " + name, Kind: "not_found"})
			return
		}
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			g.respond(w, r, m.Name, start, http.StatusMethodNotAllowed, apiError{Error: "method not allowed", Kind: "invalid_argument"})
			return
		}

		caller := auth.Caller(r.Context())
		if m.Update && caller.IsAnonymous() {
			g.respond(w, r, m.Name, start, http.StatusUnauthorized, apiError{Error: "authentication required", Kind: "unauthenticated"})
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		decode := func(v any) error {
			err := json.NewDecoder(r.Body).Decode(v)
			if err == nil || errors.Is(err, io.EOF) {
				return nil
			}
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return service.ErrPayloadTooLarge
			}
			return errors.Join(service.ErrInvalidArgument, err)
		}

		resp, err := m.Invoke(r.Context(), g.service, caller, decode)
		if err != nil {
			st := httpStatus(err)
			switch st {
			case http.StatusInternalServerError:
				logger.Error("operation failed", "method", m.Name, "error", err)
			case http.StatusBadGateway:
				logger.Warn("crypto failure", "method", m.Name, "caller", caller, "error", err)
			default:
				logger.Debug("operation rejected", "method", m.Name, "caller", caller, "kind", service.Kind(err))
			}
			g.respond(w, r, m.Name, start, st, apiError{Error: err.Error(), Kind: service.Kind(err)})
			return
		}
		g.respond(w, r, m.Name, start, http.StatusOK, resp)
	})
}

func (g *Gateway) respond(w http.ResponseWriter, r *http.Request, route string, start time.Time, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Debug("writing response", "route", route, "error", err)
	}
	g.metrics.RecordHTTPRequest(r.Context(), route, status, time.Since(start))
}
