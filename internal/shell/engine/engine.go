// Package engine runs deploy, approve, start and stop transitions for project
// environments.
//
// Every mutating operation holds an exclusive, non-blocking lock on its
// (project, environment) key for its whole duration. A second caller fails
// immediately with a deployment-in-progress error instead of queuing.
// Attempts are detached from the caller's context: once accepted, an attempt
// runs to success or failure even if the client goes away.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/artpar/reflow/internal/core/deployment"
	"github.com/artpar/reflow/internal/core/domain"
	"github.com/artpar/reflow/internal/shell/docker"
	"github.com/artpar/reflow/internal/shell/health"
	"github.com/artpar/reflow/internal/shell/keylock"
	"github.com/artpar/reflow/internal/shell/metrics"
	"github.com/artpar/reflow/internal/shell/repo"
	"github.com/artpar/reflow/internal/shell/slots"
)

// =============================================================================
// Collaborators
// =============================================================================

// ProjectSource looks up project definitions.
type ProjectSource interface {
	GetProject(ctx context.Context, name string) (*domain.Project, error)
}

// EnvSource provides the parsed env file of an environment.
type EnvSource interface {
	Vars(p *domain.Project, env domain.Environment) (map[string]string, error)
}

// Recorder persists ledger events.
type Recorder interface {
	Append(ctx context.Context, event *domain.DeploymentEvent) error
}

// Deps are the collaborators of an Engine. Prober and Metrics may be nil.
type Deps struct {
	Projects ProjectSource
	Slots    *slots.Manager
	Docker   docker.Client
	Repo     repo.Repository
	Prober   health.Prober
	Envs     EnvSource
	Ledger   Recorder
	Metrics  *metrics.Metrics
}

// Config tunes the engine.
type Config struct {
	// HealthPolicy bounds health polling of a new container.
	HealthPolicy deployment.RetryPolicy
	// HealthPath is requested on the app port once the container runs.
	HealthPath string
	// BindHost is where slot ports are published and probed.
	BindHost string
	// StopTimeout is the grace period given to containers on stop.
	StopTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HealthPolicy: deployment.DefaultRetryPolicy(),
		HealthPath:   "/",
		BindHost:     deployment.DefaultBindHost,
		StopTimeout:  10 * time.Second,
	}
}

// Engine is the deployment state machine.
type Engine struct {
	deps      Deps
	config    Config
	locks     *keylock.Locker
	repoLocks *keylock.Locker
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates an Engine.
func New(deps Deps, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/"
	}
	if cfg.BindHost == "" {
		cfg.BindHost = deployment.DefaultBindHost
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &Engine{
		deps:      deps,
		config:    cfg,
		locks:     keylock.New(),
		repoLocks: keylock.New(),
		logger:    logger.With("component", "engine"),
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func lockKey(project string, env domain.Environment) string {
	return project + "/" + string(env)
}

// =============================================================================
// Deploy / Approve
// =============================================================================

// DeployRequest asks for a commit to be deployed to the test environment.
type DeployRequest struct {
	Project string
	// Commit is a branch, tag or SHA. Empty means the default branch head.
	Commit      string
	TriggeredBy string
}

// ApproveRequest asks for the active test commit to be promoted to prod.
type ApproveRequest struct {
	Project     string
	TriggeredBy string
}

// attempt is one deploy or approve run.
type attempt struct {
	eventType   domain.EventType
	project     *domain.Project
	env         domain.Environment
	ref         string
	triggeredBy string
}

// outcome collects what an attempt produced.
type outcome struct {
	commit      string
	slot        domain.Slot
	containerID string
	warnings    []string
}

// Deploy builds and swaps in a commit on the test environment. The returned
// result is never nil once the project exists; on failure the error is also
// returned.
func (e *Engine) Deploy(ctx context.Context, req DeployRequest) (*domain.DeploymentResult, error) {
	project, err := e.deps.Projects.GetProject(ctx, req.Project)
	if err != nil {
		return nil, err
	}
	return e.run(context.WithoutCancel(ctx), attempt{
		eventType:   domain.EventDeploy,
		project:     project,
		env:         domain.EnvTest,
		ref:         req.Commit,
		triggeredBy: req.TriggeredBy,
	})
}

// Approve promotes the commit active in test to prod through the same
// health-checked swap.
func (e *Engine) Approve(ctx context.Context, req ApproveRequest) (*domain.DeploymentResult, error) {
	project, err := e.deps.Projects.GetProject(ctx, req.Project)
	if err != nil {
		return nil, err
	}
	test, err := e.deps.Slots.State(ctx, project.Name, domain.EnvTest)
	if err != nil {
		return nil, err
	}
	return e.run(context.WithoutCancel(ctx), attempt{
		eventType:   domain.EventApprove,
		project:     project,
		env:         domain.EnvProd,
		ref:         test.ActiveCommit,
		triggeredBy: req.TriggeredBy,
	})
}

// run records the attempt in the ledger around execute.
func (e *Engine) run(ctx context.Context, a attempt) (*domain.DeploymentResult, error) {
	start := time.Now()
	logger := e.logger.With("project", a.project.Name, "env", a.env, "type", a.eventType)

	started := domain.NewStartedEvent(a.eventType, a.project.Name, a.env, a.ref, a.triggeredBy)
	if err := e.deps.Ledger.Append(ctx, &started); err != nil {
		logger.Error("failed to record attempt start", "error", err)
		return nil, err
	}

	out, err := e.execute(ctx, a, logger)
	elapsed := time.Since(start)

	done := started.Complete(out.commit, elapsed, err)
	if appendErr := e.deps.Ledger.Append(ctx, &done); appendErr != nil {
		logger.Error("failed to record attempt outcome", "outcome", done.Outcome, "error", appendErr)
	}
	e.deps.Metrics.RecordDeploy(string(a.eventType), string(a.env), string(done.Outcome), elapsed)

	result := &domain.DeploymentResult{
		Success:     err == nil,
		ProjectName: a.project.Name,
		Environment: a.env,
		Commit:      out.commit,
		Slot:        out.slot,
		Warnings:    out.warnings,
		DurationMs:  elapsed.Milliseconds(),
	}
	if err != nil {
		result.Message = domain.MessageOf(err)
		if domain.KindOf(err) == domain.KindInternal {
			logger.Error("attempt failed", "error", err, "duration", elapsed)
		} else {
			logger.Warn("attempt failed", "error", err, "duration", elapsed)
		}
		return result, err
	}

	result.Message = successMessage(a, out)
	logger.Info("attempt succeeded", "commit", out.commit, "slot", out.slot, "duration", elapsed)
	return result, nil
}

func successMessage(a attempt, out outcome) string {
	verb := "Deployed"
	if a.eventType == domain.EventApprove {
		verb = "Approved"
	}
	msg := fmt.Sprintf("%s commit %s to %s (slot %s)", verb, deployment.ShortSHA(out.commit), a.env, out.slot)
	for _, w := range out.warnings {
		msg += "; warning: " + w
	}
	return msg
}

// execute runs the phase machine under the environment lock.
func (e *Engine) execute(ctx context.Context, a attempt, logger *slog.Logger) (out outcome, err error) {
	if a.eventType == domain.EventApprove && a.ref == "" {
		return out, domain.NewNoActiveTestDeploymentError(a.project.Name)
	}

	unlock, ok := e.locks.TryLock(lockKey(a.project.Name, a.env))
	if !ok {
		return out, domain.NewDeploymentInProgressError(a.project.Name, a.env)
	}
	defer unlock()

	tracker := deployment.NewTracker()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("attempt panicked", "panic", r, "stack", string(debug.Stack()))
			err = domain.NewInternalError(fmt.Errorf("panic during %s: %v", tracker.Current(), r))
		}
		if err != nil {
			tracker.Fail()
			if !tracker.SwapCompleted() && out.containerID != "" {
				e.teardown(ctx, out.containerID, logger)
				out.containerID = ""
			}
		}
		if finishErr := tracker.Finish(); finishErr != nil {
			logger.Error("phase machine out of order", "error", finishErr)
		}
	}()

	advance := func(p deployment.Phase) error {
		if err := tracker.Advance(p); err != nil {
			return domain.NewInternalError(err)
		}
		logger.Info("phase", "phase", p, "commit", deployment.ShortSHA(out.commit), "slot", out.slot)
		return nil
	}

	// Resolve
	if err := advance(deployment.PhaseResolvingCommit); err != nil {
		return out, err
	}
	if a.eventType == domain.EventApprove {
		out.commit = a.ref
	} else {
		sha, err := e.resolve(ctx, a.project, a.ref)
		if err != nil {
			return out, err
		}
		out.commit = sha
	}

	// Provision
	if err := advance(deployment.PhaseProvisioning); err != nil {
		return out, err
	}
	slot, err := e.deps.Slots.StandbySlot(ctx, a.project.Name, a.env)
	if err != nil {
		return out, err
	}
	out.slot = slot

	image, err := e.ensureImage(ctx, a.project, out.commit, logger)
	if err != nil {
		return out, err
	}
	containerID, err := e.createContainer(ctx, a.project, a.env, slot, out.commit, image)
	if containerID != "" {
		out.containerID = containerID
	}
	if err != nil {
		return out, err
	}

	// Health check
	if err := advance(deployment.PhaseHealthChecking); err != nil {
		return out, err
	}
	hostPort, err := e.waitHealthy(ctx, containerID, deployment.ContainerName(a.project.Name, a.env, slot), a.project.AppPort, logger)
	if err != nil {
		return out, err
	}

	// Swap
	if err := advance(deployment.PhaseSwapping); err != nil {
		return out, err
	}
	prev, err := e.deps.Slots.Promote(ctx, a.project.Name, a.env, slots.Activation{
		Slot:        slot,
		Commit:      out.commit,
		ContainerID: containerID,
		HostPort:    hostPort,
	})
	if err != nil {
		return out, err
	}

	// Drain
	if err := advance(deployment.PhaseDrainingOld); err != nil {
		return out, err
	}
	if prev.ContainerID != "" && prev.ContainerID != containerID {
		if err := e.removeContainer(ctx, prev.ContainerID); err != nil {
			warning := fmt.Sprintf("previous container %s (slot %s) was not removed: %v", shortID(prev.ContainerID), prev.Slot, err)
			out.warnings = append(out.warnings, warning)
			e.deps.Metrics.RecordTeardownFailure(string(a.env))
			logger.Warn("old slot teardown failed", "container", prev.ContainerID, "slot", prev.Slot, "error", err)
		}
	}
	return out, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
