// Package api provides the HTTP handlers of the Reflow orchestrator.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/reflow/internal/core/domain"
	"github.com/artpar/reflow/internal/shell/api/openapi"
	"github.com/artpar/reflow/internal/shell/docker"
	"github.com/artpar/reflow/internal/shell/engine"
	"github.com/artpar/reflow/internal/shell/envfile"
	"github.com/artpar/reflow/internal/shell/ledger"
	"github.com/artpar/reflow/internal/shell/metrics"
	"github.com/artpar/reflow/internal/shell/registry"
	"github.com/artpar/reflow/internal/shell/store"
)

// maxBodyBytes caps JSON and env file request bodies.
const maxBodyBytes = 1 << 20

// readyTimeout bounds each dependency check of /ready.
const readyTimeout = 3 * time.Second

// =============================================================================
// Handler
// =============================================================================

// Deps are the services behind the API. Metrics may be nil.
type Deps struct {
	Registry *registry.Registry
	Engine   *engine.Engine
	Ledger   *ledger.Ledger
	EnvFiles *envfile.Store
	Docker   docker.Client
	Store    store.Store
	Metrics  *metrics.Metrics
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	deps   Deps
	docs   *openapi.Generator
	logger *slog.Logger
}

// NewHandler creates a new API handler. serverURL is advertised in the
// OpenAPI document and may be empty.
func NewHandler(deps Deps, serverURL string, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}

	opts := []openapi.Option{openapi.WithTitle("Reflow API")}
	if serverURL != "" {
		opts = append(opts, openapi.WithServer(serverURL))
	}
	docs := openapi.NewGenerator(opts...)
	docs.Register(operations()...)

	return &Handler{
		deps:   deps,
		docs:   docs,
		logger: l.With("component", "api"),
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.deps.Metrics.Instrument)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	r.Method(http.MethodGet, "/metrics", h.deps.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/openapi.json", h.docs.Handler())

		r.Get("/projects", h.handleListProjects)
		r.Post("/projects", h.handleCreateProject)

		r.Route("/projects/{name}", func(r chi.Router) {
			r.Get("/status", h.handleProjectStatus)
			r.Get("/config", h.handleGetConfig)
			r.Put("/config", h.handleUpdateConfig)
			r.Post("/deploy", h.handleDeploy)
			r.Post("/approve", h.handleApprove)
			r.Get("/deployments", h.handleProjectHistory)

			r.Route("/{env}", func(r chi.Router) {
				r.Post("/start", h.handleStart)
				r.Post("/stop", h.handleStop)
				r.Post("/restart", h.handleRestart)
				r.Get("/logs", h.handleLogs)
				r.Get("/envfile", h.handleGetEnvFile)
				r.Put("/envfile", h.handlePutEnvFile)
			})
		})

		r.Get("/deployments", h.handleRecentDeployments)

		r.Get("/containers", h.handleListContainers)
		r.Route("/containers/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetContainer)
			r.Delete("/", h.handleDeleteContainer)
			r.Post("/start", h.handleStartContainer)
			r.Post("/stop", h.handleStopContainer)
			r.Post("/restart", h.handleRestartContainer)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json. Text
// handlers overwrite it.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true

	check := func(name string, ping func(context.Context) error) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", "check", name, "error", err)
			checks[name] = "failed"
			ready = false
			return
		}
		checks[name] = "ok"
	}
	check("database", h.deps.Store.Ping)
	check("docker", h.deps.Docker.Ping)

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, body); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// writeDomainError maps a typed error onto its HTTP status. Internal errors
// are logged with their cause and answered with a generic message.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(domain.KindOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	} else {
		h.logger.Debug("request rejected", "path", r.URL.Path, "code", domain.CodeOf(err))
	}
	h.writeError(w, status, domain.MessageOf(err), domain.CodeOf(err))
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes a single JSON value, rejecting unknown fields and
// trailing data.
func decodeJSON(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return invalidBody(err)
	}
	return decodeStrict(data, v)
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalidBody(err)
	}
	if dec.More() {
		return invalidBody(errors.New("unexpected data after JSON value"))
	}
	return nil
}

func invalidBody(err error) error {
	return domain.NewError(domain.KindValidation, "invalid_json", nil,
		fmt.Sprintf("invalid JSON: %v", err), err)
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(domain.ErrInvalidQuery,
			fmt.Sprintf("%s must be an integer", name))
	}
	return n, nil
}

// triggeredBy names the caller of a deploy or approve for the ledger.
func triggeredBy(r *http.Request) string {
	if user := r.Header.Get("X-Reflow-User"); user != "" {
		return user
	}
	return "api"
}
