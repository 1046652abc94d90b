// Package router exposes a byapi client over HTTP for the serve command.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/chengjon/byapi-unified-client/internal/health"
	"github.com/chengjon/byapi-unified-client/pkg/byapi"
)

type Router struct {
	client     *byapi.Client
	monitor    *health.Monitor
	healthPath string
	logger     *slog.Logger
	mux        *http.ServeMux
}

func New(client *byapi.Client, healthPath string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if healthPath == "" {
		healthPath = "/health"
	}

	r := &Router{
		client:     client,
		healthPath: healthPath,
		logger:     logger,
		mux:        http.NewServeMux(),
	}
	r.mux.HandleFunc("GET "+healthPath, r.handleHealth)
	r.mux.HandleFunc("GET /v1/quote/{code}", r.handleQuote)
	r.mux.HandleFunc("GET /v1/realtime/{code}", r.handleRealTime)
	r.mux.HandleFunc("GET /v1/profile/{code}", r.handleProfile)
	return r
}

// SetMonitor adds the monitor's last check to the health endpoint body.
func (r *Router) SetMonitor(m *health.Monitor) {
	r.monitor = m
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) handleQuote(w http.ResponseWriter, req *http.Request) {
	r.serveLookup(w, req, func(ctx context.Context, code string) (any, error) {
		return r.client.Prices.Latest(ctx, code)
	})
}

func (r *Router) handleRealTime(w http.ResponseWriter, req *http.Request) {
	r.serveLookup(w, req, func(ctx context.Context, code string) (any, error) {
		return r.client.Prices.RealTime(ctx, code)
	})
}

func (r *Router) handleProfile(w http.ResponseWriter, req *http.Request) {
	r.serveLookup(w, req, func(ctx context.Context, code string) (any, error) {
		return r.client.Company.Profile(ctx, code)
	})
}

func (r *Router) serveLookup(w http.ResponseWriter, req *http.Request, fn func(context.Context, string) (any, error)) {
	code := req.PathValue("code")
	body, err := fn(req.Context(), code)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			r.logger.Error("Upstream lookup failed", "path", req.URL.Path, "error", err)
		}
		r.writeJSON(w, req, status, map[string]string{
			"error": err.Error(),
			"kind":  string(byapi.KindOf(err)),
		})
		return
	}
	r.writeJSON(w, req, http.StatusOK, body)
}

// statusFor maps client errors onto the status returned to HTTP callers.
func statusFor(err error) int {
	if errors.Is(err, byapi.ErrInvalidStockCode) || errors.Is(err, byapi.ErrInvalidDate) {
		return http.StatusBadRequest
	}
	switch byapi.KindOf(err) {
	case byapi.KindNotFound:
		return http.StatusNotFound
	case byapi.KindRateLimit:
		return http.StatusTooManyRequests
	case byapi.KindAuthentication, byapi.KindData, byapi.KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) writeJSON(w http.ResponseWriter, req *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		r.logger.Error("Failed to encode response",
			"endpoint", req.URL.Path,
			"error", err.Error(),
		)
		// Headers already sent, cannot send http.Error
		return
	}
}
