// Package proxy implements the App Proxy: an HTTP server that forwards each
// request to the active slot of the environment owning its hostname.
package proxy

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/artpar/reflow/internal/core/proxy"
	"github.com/artpar/reflow/internal/shell/store"
)

// HealthPath is answered by the proxy itself on every hostname.
const HealthPath = "/_reflow/health"

//go:embed templates/*.html
var templatesFS embed.FS

// Config holds proxy server configuration.
type Config struct {
	Address      string        // Listen address, e.g., "0.0.0.0:8081"
	BaseDomain   string        // Base domain for generated environment domains
	BindHost     string        // Host the slot ports are published on
	ReadTimeout  time.Duration // HTTP read timeout
	WriteTimeout time.Duration // HTTP write timeout
	IdleTimeout  time.Duration // HTTP idle timeout
}

// RouteSource provides the current route table.
type RouteSource interface {
	Routes(ctx context.Context) (proxy.RouteTable, error)
}

// StoreRoutes builds the route table from the store on every call, so a swap
// is visible to the next request.
type StoreRoutes struct {
	Store      store.Store
	BaseDomain string
}

// Routes implements RouteSource.
func (s StoreRoutes) Routes(ctx context.Context) (proxy.RouteTable, error) {
	projects, err := s.Store.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	states, err := s.Store.ListEnvironmentStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list environment states: %w", err)
	}
	return proxy.BuildRoutes(projects, states, s.BaseDomain), nil
}

// Server routes requests by hostname. It implements http.Handler.
type Server struct {
	routes    RouteSource
	transport http.RoundTripper
	pages     *template.Template
	config    Config
	logger    *slog.Logger
}

// NewServer creates a new proxy server.
func NewServer(cfg Config, routes RouteSource, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pages, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse error pages: %w", err)
	}

	return &Server{
		routes:    routes,
		transport: http.DefaultTransport,
		pages:     pages,
		config:    cfg,
		logger:    logger.With("component", "proxy"),
	}, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == HealthPath && r.Method == http.MethodGet {
		s.serveHealth(w, r)
		return
	}

	hostname := proxy.NormalizeHost(r.Host)

	routes, err := s.routes.Routes(r.Context())
	if err != nil {
		s.logger.Error("failed to load routes", "hostname", hostname, "error", err)
		s.serveError(w, proxy.Unavailable(hostname, nil))
		return
	}

	target, rerr := routes.Resolve(hostname)
	if rerr != nil {
		s.serveError(w, rerr)
		return
	}

	upstream := &url.URL{Scheme: "http", Host: target.Address(s.config.BindHost)}
	s.logger.Debug("forwarding",
		"hostname", hostname,
		"method", r.Method,
		"path", r.URL.Path,
		"project", target.Project,
		"env", target.Environment,
		"slot", target.Slot,
	)
	s.forward(w, r, hostname, upstream, target)
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request, hostname string, upstream *url.URL, target proxy.ProxyTarget) {
	rp := &httputil.ReverseProxy{
		Transport: s.transport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.Out.Host = pr.In.Host
			pr.Out.Header.Set("X-Forwarded-Host", pr.In.Host)
			pr.Out.Header.Set("X-Real-IP", getRealIP(pr.In))
			pr.Out.Header.Set("X-Reflow-Environment", string(target.Environment))
			pr.Out.Header.Set("X-Reflow-Slot", string(target.Slot))
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			s.logger.Error("upstream error",
				"hostname", hostname,
				"project", target.Project,
				"env", target.Environment,
				"slot", target.Slot,
				"upstream", upstream.Host,
				"error", err,
			)
			s.serveError(w, proxy.Unavailable(hostname, &target))
		},
	}
	rp.ServeHTTP(w, r)
}

func (s *Server) serveError(w http.ResponseWriter, rerr *proxy.RouteError) {
	s.logger.Warn("request not forwarded",
		"reason", rerr.Reason,
		"hostname", rerr.Hostname,
		"status", rerr.StatusCode(),
	)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(rerr.StatusCode())

	data := struct {
		Hostname    string
		Project     string
		Environment string
		Message     string
	}{rerr.Hostname, rerr.Project, string(rerr.Environment), rerr.Error()}

	if err := s.pages.ExecuteTemplate(w, rerr.Page(), data); err != nil {
		s.logger.Error("failed to render error page", "page", rerr.Page(), "error", err)
	}
}

// getRealIP extracts the client IP, preferring proxy headers set upstream.
func getRealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	return r.RemoteAddr
}

// HealthResponse is the JSON response for the health endpoint.
type HealthResponse struct {
	Status              string `json:"status"`
	RoutableHostnames   int    `json:"routable_hostnames"`
	ConfiguredHostnames int    `json:"configured_hostnames"`
	BaseDomain          string `json:"base_domain"`
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", BaseDomain: s.config.BaseDomain}

	routes, err := s.routes.Routes(r.Context())
	if err != nil {
		s.logger.Error("failed to load routes", "error", err)
		resp.Status = "degraded"
	}
	for _, t := range routes {
		resp.ConfiguredHostnames++
		if t.CanRoute() {
			resp.RoutableHostnames++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
