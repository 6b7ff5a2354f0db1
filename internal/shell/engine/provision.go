package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/artpar/reflow/internal/core/deployment"
	"github.com/artpar/reflow/internal/core/domain"
	"github.com/artpar/reflow/internal/shell/docker"
	"github.com/artpar/reflow/internal/shell/health"
	"github.com/artpar/reflow/internal/shell/repo"
)

// generatedDockerfile is written next to the sources when the repository
// brings no Dockerfile of its own.
const generatedDockerfile = "Dockerfile.reflow"

// resolve maps a ref to a commit SHA on the project's remote.
func (e *Engine) resolve(ctx context.Context, p *domain.Project, ref string) (string, error) {
	sha, err := e.deps.Repo.Resolve(ctx, p.RepoURL, ref)
	if err != nil {
		return "", commitError(ref, err)
	}
	return sha, nil
}

func commitError(ref string, err error) error {
	if ref == "" {
		ref = "HEAD"
	}
	return domain.NewCommitResolutionError(ref, !errors.Is(err, repo.ErrRefNotFound), err)
}

// driverError classifies a container runtime failure during provisioning.
func driverError(container string, err error) error {
	if docker.IsUnavailable(err) {
		return domain.NewDriverUnavailableError(err)
	}
	return domain.NewContainerStartError(container, err)
}

// ensureImage returns the tag of the image for commit, building it from a
// fresh checkout when it is not present locally.
func (e *Engine) ensureImage(ctx context.Context, p *domain.Project, commit string, logger *slog.Logger) (string, error) {
	image := deployment.ImageTag(p.Name, commit)

	exists, err := e.deps.Docker.ImageExists(ctx, image)
	if err != nil {
		return "", driverError(image, err)
	}
	if exists {
		logger.Info("reusing image", "image", image)
		return image, nil
	}

	// Test and prod of one project share the checkout directory.
	unlock := e.repoLocks.Lock(p.LocalRepoPath)
	defer unlock()

	if err := e.deps.Repo.Checkout(ctx, p.RepoURL, p.LocalRepoPath, commit); err != nil {
		return "", commitError(commit, err)
	}

	dockerfile, err := ensureDockerfile(p)
	if err != nil {
		return "", domain.NewInternalError(err)
	}

	logger.Info("building image", "image", image, "dockerfile", dockerfile)
	err = e.deps.Docker.BuildImage(ctx, docker.BuildSpec{
		ContextDir: p.LocalRepoPath,
		Dockerfile: dockerfile,
		Tag:        image,
		Labels: map[string]string{
			deployment.LabelManaged: "true",
			deployment.LabelProject: p.Name,
			deployment.LabelCommit:  commit,
		},
		Exclude: deployment.DockerIgnore,
	}, func(line string) {
		logger.Debug("build", "image", image, "output", line)
	})
	if err != nil {
		return "", driverError(image, err)
	}
	return image, nil
}

// ensureDockerfile returns the Dockerfile to build with, generating one for
// repositories that do not ship it.
func ensureDockerfile(p *domain.Project) (string, error) {
	own := filepath.Join(p.LocalRepoPath, deployment.DockerfileName)
	if _, err := os.Stat(own); err == nil {
		return deployment.DockerfileName, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to stat %s: %w", own, err)
	}

	generated := filepath.Join(p.LocalRepoPath, generatedDockerfile)
	content := deployment.GenerateDockerfile(p.NodeVersion, p.AppPort)
	if err := os.WriteFile(generated, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", generated, err)
	}
	return generatedDockerfile, nil
}

// createContainer creates and starts the slot container. The returned ID is
// set whenever a container exists, even when starting it failed, so the
// caller can clean it up.
func (e *Engine) createContainer(ctx context.Context, p *domain.Project, env domain.Environment, slot domain.Slot, commit, image string) (string, error) {
	plan, err := e.planContainer(p, env, slot, commit, image)
	if err != nil {
		return "", err
	}

	// A container of the same name is a leftover of an earlier failed or
	// stopped run of this slot; it never serves while the slot is standby.
	if err := e.deps.Docker.RemoveContainer(ctx, plan.Name, docker.RemoveOptions{Force: true}); err != nil &&
		!errors.Is(err, docker.ErrContainerNotFound) {
		return "", driverError(plan.Name, err)
	}

	id, err := e.deps.Docker.CreateContainer(ctx, toContainerSpec(plan))
	if err != nil {
		return "", driverError(plan.Name, err)
	}
	if err := e.deps.Docker.StartContainer(ctx, id); err != nil {
		return id, driverError(plan.Name, err)
	}
	return id, nil
}

// planContainer builds the plan of a slot from the project's current config
// and env file.
func (e *Engine) planContainer(p *domain.Project, env domain.Environment, slot domain.Slot, commit, image string) (deployment.ContainerPlan, error) {
	vars, err := e.deps.Envs.Vars(p, env)
	if err != nil {
		return deployment.ContainerPlan{}, err
	}
	return deployment.BuildContainerPlan(deployment.BuildContainerPlanParams{
		Project:     p,
		Environment: env,
		Slot:        slot,
		Commit:      commit,
		Image:       image,
		EnvVars:     vars,
		BindHost:    e.config.BindHost,
	}), nil
}

func toContainerSpec(plan deployment.ContainerPlan) docker.ContainerSpec {
	ports := make([]docker.PortBinding, 0, len(plan.Ports))
	for _, p := range plan.Ports {
		ports = append(ports, docker.PortBinding{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}
	return docker.ContainerSpec{
		Name:   plan.Name,
		Image:  plan.Image,
		Env:    plan.Env,
		Labels: plan.Labels,
		Ports:  ports,
		RestartPolicy: docker.RestartPolicy{
			Name:              plan.RestartPolicy.Name,
			MaximumRetryCount: plan.RestartPolicy.MaximumRetryCount,
		},
	}
}

// waitHealthy polls the container until it serves HTTP on its published app
// port and returns that port. Polling stops early once the container is
// known to be dead.
func (e *Engine) waitHealthy(ctx context.Context, id, name string, appPort int, logger *slog.Logger) (int, error) {
	policy := e.config.HealthPolicy
	attempts := policy.Attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		hostPort, ready, err := e.checkOnce(ctx, id, appPort)
		switch {
		case ready:
			logger.Info("container healthy", "container", name, "attempt", attempt, "host_port", hostPort)
			return hostPort, nil
		case errors.Is(err, errContainerDead):
			return 0, domain.NewContainerStartError(name, err)
		case err != nil && docker.IsUnavailable(err):
			return 0, domain.NewDriverUnavailableError(err)
		}
		lastErr = err
		logger.Debug("container not ready", "container", name, "attempt", attempt, "error", err)

		if attempt < attempts {
			if err := e.sleep(ctx, policy.Delay(attempt)); err != nil {
				return 0, domain.NewHealthCheckTimeoutError(name, attempt, err)
			}
		}
	}
	return 0, domain.NewHealthCheckTimeoutError(name, attempts, lastErr)
}

var errContainerDead = errors.New("container stopped")

// checkOnce is a single readiness attempt. A nil error with ready false never
// happens; not-ready always carries the reason.
func (e *Engine) checkOnce(ctx context.Context, id string, appPort int) (int, bool, error) {
	info, err := e.deps.Docker.InspectContainer(ctx, id)
	if err != nil {
		return 0, false, err
	}

	var healthCheck *string
	if info.Health != "" {
		h := info.Health
		healthCheck = &h
	}
	switch deployment.ContainerReadiness(string(info.Status), healthCheck, info.RestartCount) {
	case deployment.ReadinessDead:
		return 0, false, fmt.Errorf("%w: %s (exit code %d)", errContainerDead, info.State, info.ExitCode)
	case deployment.ReadinessStarting:
		return 0, false, fmt.Errorf("container is %s", info.State)
	}

	hostPort := info.HostPortFor(appPort)
	if hostPort == 0 {
		return 0, false, fmt.Errorf("port %d is not published yet", appPort)
	}
	if e.deps.Prober == nil {
		return hostPort, true, nil
	}

	url := health.URL(e.config.BindHost, hostPort, e.config.HealthPath)
	status, _, err := e.deps.Prober.Probe(ctx, url)
	if err != nil {
		return 0, false, err
	}
	if !deployment.ProbeReady(status) {
		return 0, false, fmt.Errorf("%s answered %d", url, status)
	}
	return hostPort, true, nil
}

// teardown removes a standby container after a failed attempt.
func (e *Engine) teardown(ctx context.Context, id string, logger *slog.Logger) {
	err := e.deps.Docker.RemoveContainer(ctx, id, docker.RemoveOptions{Force: true})
	if err != nil && !errors.Is(err, docker.ErrContainerNotFound) {
		logger.Warn("failed to remove standby container", "container", id, "error", err)
		return
	}
	logger.Info("removed standby container", "container", id)
}

// removeContainer stops then removes a container that no longer serves.
func (e *Engine) removeContainer(ctx context.Context, id string) error {
	timeout := e.config.StopTimeout
	if err := e.deps.Docker.StopContainer(ctx, id, &timeout); err != nil &&
		!errors.Is(err, docker.ErrContainerNotRunning) && !errors.Is(err, docker.ErrContainerNotFound) {
		return err
	}
	if err := e.deps.Docker.RemoveContainer(ctx, id, docker.RemoveOptions{}); err != nil &&
		!errors.Is(err, docker.ErrContainerNotFound) {
		return err
	}
	return nil
}
