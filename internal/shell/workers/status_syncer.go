// Package workers contains background workers for Reflow.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/reflow/internal/core/domain"
	"github.com/artpar/reflow/internal/shell/docker"
	"github.com/artpar/reflow/internal/shell/metrics"
	"github.com/artpar/reflow/internal/shell/slots"
	"github.com/artpar/reflow/internal/shell/store"
)

// Statuses recorded for environments whose container cannot be inspected.
const (
	StatusMissing  = "missing"
	StatusInactive = "inactive"
)

// StatusSyncerConfig configures the status syncer worker.
type StatusSyncerConfig struct {
	// Interval is the time between sync cycles.
	// Default: 30 seconds.
	Interval time.Duration

	// InspectTimeout bounds a single container inspection.
	// Default: 5 seconds.
	InspectTimeout time.Duration

	// MaxConcurrent is the maximum number of containers inspected at once.
	// Default: 5.
	MaxConcurrent int
}

// DefaultStatusSyncerConfig returns the default configuration.
func DefaultStatusSyncerConfig() StatusSyncerConfig {
	return StatusSyncerConfig{
		Interval:       30 * time.Second,
		InspectTimeout: 5 * time.Second,
		MaxConcurrent:  5,
	}
}

// StatusSyncer periodically records the observed status of every active
// environment's container, so crashes outside a deploy show up in the
// project views and in the environments gauge.
type StatusSyncer struct {
	store   store.Store
	docker  docker.Client
	slots   *slots.Manager
	metrics *metrics.Metrics
	config  StatusSyncerConfig
	logger  *slog.Logger

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStatusSyncer creates a new status syncer worker. m may be nil.
func NewStatusSyncer(
	s store.Store,
	dockerClient docker.Client,
	slotManager *slots.Manager,
	m *metrics.Metrics,
	config StatusSyncerConfig,
	logger *slog.Logger,
) *StatusSyncer {
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if config.InspectTimeout == 0 {
		config.InspectTimeout = 5 * time.Second
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = 5
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &StatusSyncer{
		store:   s,
		docker:  dockerClient,
		slots:   slotManager,
		metrics: m,
		config:  config,
		logger:  logger.With("component", "status_syncer"),
	}
}

// Start begins the background goroutine.
func (w *StatusSyncer) Start() {
	w.ctx, w.cancel = context.WithCancel(context.Background())

	w.wg.Add(1)
	go w.run()

	w.logger.Info("status syncer started",
		"interval", w.config.Interval,
		"max_concurrent", w.config.MaxConcurrent,
	)
}

// Stop gracefully stops the syncer, waiting for an in-progress cycle.
func (w *StatusSyncer) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("status syncer stopped")
}

func (w *StatusSyncer) run() {
	defer w.wg.Done()

	w.runCycle(w.ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.runCycle(w.ctx)
		}
	}
}

// SyncNow runs one cycle immediately.
func (w *StatusSyncer) SyncNow(ctx context.Context) {
	w.runCycle(ctx)
}

// runCycle inspects every active environment and refreshes the gauge.
func (w *StatusSyncer) runCycle(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, w.config.Interval)
	defer cancel()

	states, err := w.store.ListEnvironmentStates(ctx)
	if err != nil {
		w.logger.Error("failed to list environment states", "error", err)
		return
	}

	var (
		mu     sync.Mutex
		counts = make(map[string]map[string]int)
		wg     sync.WaitGroup
		sem    = make(chan struct{}, w.config.MaxConcurrent)
	)
	tally := func(env domain.Environment, status string) {
		mu.Lock()
		defer mu.Unlock()
		if counts[string(env)] == nil {
			counts[string(env)] = make(map[string]int)
		}
		counts[string(env)][status]++
	}

	for i := range states {
		state := &states[i]
		if !state.IsActive() {
			tally(state.Environment, StatusInactive)
			continue
		}

		wg.Add(1)
		go func(s *domain.EnvironmentState) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}

			tally(s.Environment, w.syncEnvironment(ctx, s))
		}(state)
	}

	wg.Wait()
	w.metrics.SetEnvironments(counts)
	w.logger.Debug("completed status sync cycle", "environments", len(states))
}

// syncEnvironment observes one container and returns the status it recorded.
func (w *StatusSyncer) syncEnvironment(ctx context.Context, state *domain.EnvironmentState) string {
	inspectCtx, cancel := context.WithTimeout(ctx, w.config.InspectTimeout)
	defer cancel()

	logger := w.logger.With("project", state.ProjectName, "env", state.Environment)

	var status string
	info, err := w.docker.InspectContainer(inspectCtx, state.ContainerID)
	switch {
	case err == nil:
		status = string(info.Status)
	case errors.Is(err, docker.ErrContainerNotFound):
		status = StatusMissing
	default:
		// The runtime could not answer; keep what is stored.
		logger.Warn("failed to inspect container", "container", state.ContainerID, "error", err)
		return state.ContainerStatus
	}

	if status != state.ContainerStatus {
		logger.Info("container status changed", "from", state.ContainerStatus, "to", status)
	}
	if err := w.slots.UpdateStatus(ctx, state.ProjectName, state.Environment, state.ContainerID, status); err != nil {
		logger.Error("failed to record container status", "error", err)
	}
	return status
}
