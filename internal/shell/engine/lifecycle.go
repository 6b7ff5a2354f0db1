package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/artpar/reflow/internal/core/deployment"
	"github.com/artpar/reflow/internal/core/domain"
	"github.com/artpar/reflow/internal/shell/docker"
	"github.com/artpar/reflow/internal/shell/slots"
)

// DefaultLogTail is the number of log lines returned when none is asked for.
const DefaultLogTail = 100

// maxLogBytes caps a single logs response.
const maxLogBytes = 1 << 20

// locked runs fn holding the (project, env) lock, after checking the project
// exists. fn receives a context detached from the caller.
func (e *Engine) locked(ctx context.Context, project string, env domain.Environment, fn func(ctx context.Context, p *domain.Project, logger *slog.Logger) error) error {
	p, err := e.deps.Projects.GetProject(ctx, project)
	if err != nil {
		return err
	}
	unlock, ok := e.locks.TryLock(lockKey(p.Name, env))
	if !ok {
		return domain.NewDeploymentInProgressError(p.Name, env)
	}
	defer unlock()

	return fn(context.WithoutCancel(ctx), p, e.logger.With("project", p.Name, "env", env))
}

// Start brings a stopped environment back on the slot and commit it last
// served, without a health-checked swap. The last container is resumed only
// if it was created from the current config and env file; otherwise it is
// recreated from the cached image. Starting an active environment is a no-op.
func (e *Engine) Start(ctx context.Context, project string, env domain.Environment) error {
	return e.locked(ctx, project, env, func(ctx context.Context, p *domain.Project, logger *slog.Logger) error {
		state, err := e.deps.Slots.State(ctx, p.Name, env)
		if err != nil {
			return err
		}

		reusable := false
		if !state.IsActive() && state.LastContainerID != "" {
			reusable, err = e.lastContainerReusable(ctx, p, env, state, logger)
			if err != nil {
				return err
			}
		}

		path := deployment.DetermineStartPath(state, reusable)
		logger.Info("start", "action", path.Action, "slot", path.Slot, "commit", deployment.ShortSHA(path.Commit))

		var id string
		switch path.Action {
		case deployment.StartNoop:
			return nil
		case deployment.StartRejected:
			return domain.NewNoActiveDeploymentError(p.Name, env)
		case deployment.StartResume:
			id = path.ContainerID
			if err := e.deps.Docker.StartContainer(ctx, id); err != nil && !errors.Is(err, docker.ErrContainerAlreadyRunning) {
				return driverError(deployment.ContainerName(p.Name, env, path.Slot), err)
			}
		case deployment.StartRecreate:
			image, err := e.ensureImage(ctx, p, path.Commit, logger)
			if err != nil {
				return err
			}
			id, err = e.createContainer(ctx, p, env, path.Slot, path.Commit, image)
			if err != nil {
				if id != "" {
					e.teardown(ctx, id, logger)
				}
				return err
			}
		}

		info, err := e.deps.Docker.InspectContainer(ctx, id)
		if err != nil {
			return driverError(id, err)
		}
		hostPort := info.HostPortFor(p.AppPort)
		if hostPort == 0 {
			name := deployment.ContainerName(p.Name, env, path.Slot)
			e.teardown(ctx, id, logger)
			return domain.NewContainerStartError(name, fmt.Errorf("port %d is not published", p.AppPort))
		}
		_, err = e.deps.Slots.Promote(ctx, p.Name, env, slots.Activation{
			Slot:        path.Slot,
			Commit:      path.Commit,
			ContainerID: id,
			HostPort:    hostPort,
		})
		return err
	})
}

// lastContainerReusable reports whether the environment's last container
// still exists and matches the plan built from the current config.
func (e *Engine) lastContainerReusable(ctx context.Context, p *domain.Project, env domain.Environment, state *domain.EnvironmentState, logger *slog.Logger) (bool, error) {
	info, err := e.deps.Docker.InspectContainer(ctx, state.LastContainerID)
	switch {
	case err == nil:
	case errors.Is(err, docker.ErrContainerNotFound):
		return false, nil
	case docker.IsUnavailable(err):
		return false, domain.NewDriverUnavailableError(err)
	default:
		return false, driverError(state.LastContainerID, err)
	}

	plan, err := e.planContainer(p, env, state.LastSlot, state.LastCommit, deployment.ImageTag(p.Name, state.LastCommit))
	if err != nil {
		return false, err
	}
	if !deployment.PlanMatches(plan, info.Labels) {
		logger.Info("last container is outdated", "container", state.LastContainerID)
		return false, nil
	}
	return true, nil
}

// Stop stops the serving container and marks the environment inactive. The
// container is kept so Start can resume it. Stopping an inactive environment
// is a no-op.
func (e *Engine) Stop(ctx context.Context, project string, env domain.Environment) error {
	return e.locked(ctx, project, env, func(ctx context.Context, p *domain.Project, logger *slog.Logger) error {
		state, err := e.deps.Slots.State(ctx, p.Name, env)
		if err != nil {
			return err
		}
		if !deployment.CanStop(state) {
			return nil
		}

		timeout := e.config.StopTimeout
		err = e.deps.Docker.StopContainer(ctx, state.ContainerID, &timeout)
		switch {
		case err == nil, errors.Is(err, docker.ErrContainerNotRunning), errors.Is(err, docker.ErrContainerNotFound):
		case docker.IsUnavailable(err):
			return domain.NewDriverUnavailableError(err)
		default:
			return domain.NewError(domain.KindExternal, "container_stop_failed", nil,
				fmt.Sprintf("failed to stop container %s", shortID(state.ContainerID)), err)
		}

		logger.Info("stopped", "slot", state.ActiveSlot, "container", state.ContainerID)
		return e.deps.Slots.Deactivate(ctx, p.Name, env)
	})
}

// Logs returns the tail of the serving container's output, or of the last
// container when the environment is stopped. tail <= 0 means DefaultLogTail.
func (e *Engine) Logs(ctx context.Context, project string, env domain.Environment, tail int) (string, error) {
	p, err := e.deps.Projects.GetProject(ctx, project)
	if err != nil {
		return "", err
	}
	state, err := e.deps.Slots.State(ctx, p.Name, env)
	if err != nil {
		return "", err
	}

	id := state.ContainerID
	if id == "" {
		id = state.LastContainerID
	}
	if id == "" {
		return "", domain.NewNoActiveDeploymentError(p.Name, env)
	}

	if tail <= 0 {
		tail = DefaultLogTail
	}
	rc, err := e.deps.Docker.ContainerLogs(ctx, id, docker.LogOptions{Tail: strconv.Itoa(tail)})
	if err != nil {
		switch {
		case errors.Is(err, docker.ErrContainerNotFound):
			return "", domain.NewError(domain.KindNotFound, "container_not_found", domain.ErrContainerNotFound,
				fmt.Sprintf("container %s no longer exists", shortID(id)), err)
		case docker.IsUnavailable(err):
			return "", domain.NewDriverUnavailableError(err)
		default:
			return "", domain.NewError(domain.KindExternal, "logs_failed", nil, "failed to read container logs", err)
		}
	}
	defer rc.Close()

	out, err := io.ReadAll(io.LimitReader(rc, maxLogBytes))
	if err != nil {
		return "", domain.NewError(domain.KindExternal, "logs_failed", nil, "failed to read container logs", err)
	}
	return string(out), nil
}
