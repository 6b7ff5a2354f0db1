package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artpar/reflow/internal/shell/api"
	"github.com/artpar/reflow/internal/shell/docker"
	"github.com/artpar/reflow/internal/shell/engine"
	"github.com/artpar/reflow/internal/shell/envfile"
	"github.com/artpar/reflow/internal/shell/health"
	"github.com/artpar/reflow/internal/shell/ledger"
	"github.com/artpar/reflow/internal/shell/metrics"
	"github.com/artpar/reflow/internal/shell/proxy"
	"github.com/artpar/reflow/internal/shell/registry"
	"github.com/artpar/reflow/internal/shell/repo"
	"github.com/artpar/reflow/internal/shell/slots"
	"github.com/artpar/reflow/internal/shell/store"
	"github.com/artpar/reflow/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitDockerError     = 3
	ExitHTTPServerError = 4
)

const dockerPingTimeout = 10 * time.Second

// =============================================================================
// Server
// =============================================================================

// Server represents the Reflow application server.
type Server struct {
	config       *Config
	httpServer   *http.Server
	proxyServer  *http.Server
	store        store.Store
	docker       docker.Client
	statusSyncer *workers.StatusSyncer
	logger       *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}

	// Connect to database
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
	}

	// Connect to Docker
	d, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		s.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDockerError}
	}

	// Verify Docker connection
	pingCtx, cancel := context.WithTimeout(context.Background(), dockerPingTimeout)
	defer cancel()
	if err := d.Ping(pingCtx); err != nil {
		s.Close()
		d.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDockerError}
	}

	m := metrics.New()
	envs := envfile.New(cfg.Data.Dir, logger)
	slotManager := slots.New(s, logger)
	deployLedger := ledger.New(s, logger)

	projects := registry.New(s, d, envs.Path, registry.Config{
		DataDir:       cfg.Data.Dir,
		BaseDomain:    cfg.Domain.BaseDomain,
		StoreLocation: cfg.Database.DSN,
	}, logger)

	eng := engine.New(engine.Deps{
		Projects: projects,
		Slots:    slotManager,
		Docker:   d,
		Repo:     repo.New(repo.WithBinary(cfg.Git.Binary), repo.WithLogger(logger)),
		Prober:   health.New(health.WithTimeout(cfg.Deploy.ProbeTimeout)),
		Envs:     envs,
		Ledger:   deployLedger,
		Metrics:  m,
	}, engine.Config{
		HealthPolicy: cfg.Deploy.RetryPolicy(),
		HealthPath:   cfg.Deploy.HealthPath,
		BindHost:     cfg.Deploy.BindHost,
		StopTimeout:  cfg.Deploy.StopTimeout,
	}, logger)

	handler := api.NewHandler(api.Deps{
		Registry: projects,
		Engine:   eng,
		Ledger:   deployLedger,
		EnvFiles: envs,
		Docker:   d,
		Store:    s,
		Metrics:  m,
	}, fmt.Sprintf("http://localhost:%d", cfg.Server.Port), logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// App Proxy
	var proxyServer *http.Server
	if cfg.Proxy.Enabled {
		proxyHandler, err := proxy.NewServer(proxy.Config{
			Address:      cfg.Proxy.Address(),
			BaseDomain:   cfg.Domain.BaseDomain,
			BindHost:     cfg.Deploy.BindHost,
			ReadTimeout:  cfg.Proxy.ReadTimeout,
			WriteTimeout: cfg.Proxy.WriteTimeout,
			IdleTimeout:  cfg.Proxy.IdleTimeout,
		}, proxy.StoreRoutes{Store: s, BaseDomain: cfg.Domain.BaseDomain}, logger)
		if err != nil {
			s.Close()
			d.Close()
			return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
		}

		proxyServer = &http.Server{
			Addr:         cfg.Proxy.Address(),
			Handler:      proxyHandler,
			ReadTimeout:  cfg.Proxy.ReadTimeout,
			WriteTimeout: cfg.Proxy.WriteTimeout,
			IdleTimeout:  cfg.Proxy.IdleTimeout,
		}
		logger.Info("app proxy enabled",
			"address", cfg.Proxy.Address(),
			"base_domain", cfg.Domain.BaseDomain,
		)
	} else {
		logger.Info("app proxy disabled")
	}

	var syncer *workers.StatusSyncer
	if cfg.StatusSyncer.Enabled {
		syncer = workers.NewStatusSyncer(s, d, slotManager, m, workers.StatusSyncerConfig{
			Interval:       cfg.StatusSyncer.Interval,
			InspectTimeout: cfg.StatusSyncer.InspectTimeout,
			MaxConcurrent:  cfg.StatusSyncer.MaxConcurrent,
		}, logger)
	}

	return &Server{
		config:       cfg,
		httpServer:   httpServer,
		proxyServer:  proxyServer,
		store:        s,
		docker:       d,
		statusSyncer: syncer,
		logger:       logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if s.statusSyncer != nil {
		s.statusSyncer.Start()
	}

	errCh := make(chan error, 2)
	if s.proxyServer != nil {
		go func() {
			s.logger.Info("starting app proxy server", "address", s.proxyServer.Addr)
			if err := s.proxyServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	go func() {
		s.logger.Info("starting HTTP server", "address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.Shutdown(context.Background())
		return &ServerError{Op: "Start", Err: err, ExitCode: ExitHTTPServerError}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server. A deploy in flight holds its
// request open, so it gets up to the shutdown timeout to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.proxyServer != nil {
		if err := s.proxyServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("app proxy shutdown error", "error", err)
		}
	}

	if s.statusSyncer != nil {
		s.statusSyncer.Stop()
	}

	if err := s.docker.Close(); err != nil {
		s.logger.Error("Docker client close error", "error", err)
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
