// Package registry owns project definitions and their read-side views.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/artpar/reflow/internal/core/deployment"
	"github.com/artpar/reflow/internal/core/domain"
	"github.com/artpar/reflow/internal/core/validation"
	"github.com/artpar/reflow/internal/shell/docker"
	"github.com/artpar/reflow/internal/shell/store"
)

// Config configures the Registry.
type Config struct {
	// DataDir holds checkouts under repos/ and env files under projects/.
	DataDir string
	// BaseDomain generates default environment domains.
	BaseDomain string
	// StoreLocation is reported as the config and state path of projects.
	StoreLocation string
	// InspectTimeout bounds live container lookups in GetDetails.
	InspectTimeout time.Duration
}

// EnvFilePathFunc resolves the on-disk env file of a project environment.
type EnvFilePathFunc func(p *domain.Project, env domain.Environment) string

// Registry creates, reads and reconfigures projects.
type Registry struct {
	store   store.Store
	docker  docker.Client
	envPath EnvFilePathFunc
	config  Config
	logger  *slog.Logger
}

// New creates a Registry. docker may be nil, in which case details report
// the stored container status only.
func New(s store.Store, dockerClient docker.Client, envPath EnvFilePathFunc, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InspectTimeout == 0 {
		cfg.InspectTimeout = 3 * time.Second
	}
	return &Registry{
		store:   s,
		docker:  dockerClient,
		envPath: envPath,
		config:  cfg,
		logger:  logger.With("component", "registry"),
	}
}

// CreateProject validates args, applies defaults and persists the project
// together with an inactive state row for each environment.
func (r *Registry) CreateProject(ctx context.Context, args domain.CreateProjectArgs) (*domain.Project, error) {
	if field, msg := validation.ValidateCreateProjectFields(args); msg != "" {
		return nil, domain.NewValidationError(domain.ErrInvalidProject, fmt.Sprintf("%s: %s", field, msg))
	}

	project := domain.NewProject(args, filepath.Join(r.config.DataDir, "repos", args.ProjectName))

	err := r.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateProject(ctx, project); err != nil {
			return err
		}
		for _, env := range domain.Environments() {
			if err := tx.CreateEnvironmentState(ctx, domain.NewEnvironmentState(project.Name, env)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if store.IsDuplicate(err) {
			return nil, domain.NewDuplicateProjectError(project.Name)
		}
		return nil, domain.NewInternalError(fmt.Errorf("create project %s: %w", project.Name, err))
	}

	r.logger.Info("project created", "project", project.Name, "repo", project.RepoURL)
	return project, nil
}

// GetProject returns a project by name.
func (r *Registry) GetProject(ctx context.Context, name string) (*domain.Project, error) {
	project, err := r.store.GetProject(ctx, name)
	if err != nil {
		return nil, mapStoreError(err, name)
	}
	return project, nil
}

// ListProjects returns every project in creation order with its status lines.
func (r *Registry) ListProjects(ctx context.Context) ([]domain.ProjectSummary, error) {
	projects, err := r.store.ListProjects(ctx)
	if err != nil {
		return nil, domain.NewInternalError(err)
	}
	states, err := r.store.ListEnvironmentStates(ctx)
	if err != nil {
		return nil, domain.NewInternalError(err)
	}

	byKey := make(map[string]*domain.EnvironmentState, len(states))
	for i := range states {
		byKey[states[i].ProjectName+"/"+string(states[i].Environment)] = &states[i]
	}

	summaries := make([]domain.ProjectSummary, 0, len(projects))
	for _, p := range projects {
		summaries = append(summaries, domain.ProjectSummary{
			Name:       p.Name,
			RepoURL:    p.RepoURL,
			TestStatus: byKey[p.Name+"/"+string(domain.EnvTest)].StatusString(),
			ProdStatus: byKey[p.Name+"/"+string(domain.EnvProd)].StatusString(),
		})
	}
	return summaries, nil
}

// GetDetails returns the project with both environments. Container status
// is read live from the driver when possible; a driver failure falls back to
// the last stored status.
func (r *Registry) GetDetails(ctx context.Context, name string) (*domain.ProjectDetails, error) {
	project, err := r.GetProject(ctx, name)
	if err != nil {
		return nil, err
	}

	details := &domain.ProjectDetails{
		Name:           project.Name,
		RepoURL:        project.RepoURL,
		ConfigFilePath: r.config.StoreLocation,
		StateFilePath:  r.config.StoreLocation,
		LocalRepoPath:  project.LocalRepoPath,
	}

	managed := r.managedContainers(ctx, project.Name)

	for _, env := range domain.Environments() {
		state, err := r.store.GetEnvironmentState(ctx, project.Name, env)
		if err != nil {
			return nil, mapStoreError(err, name)
		}
		envDetails := r.environmentDetails(ctx, project, state, managed[env])
		if env == domain.EnvProd {
			details.ProdDetails = envDetails
		} else {
			details.TestDetails = envDetails
		}
	}
	return details, nil
}

func (r *Registry) environmentDetails(ctx context.Context, p *domain.Project, state *domain.EnvironmentState, names []string) domain.EnvironmentDetails {
	cfg := p.EnvConfig(state.Environment)
	d := domain.EnvironmentDetails{
		EnvironmentName: string(state.Environment),
		IsActive:        state.IsActive(),
		ActiveCommit:    state.ActiveCommit,
		ActiveSlot:      string(state.ActiveSlot),
		EffectiveDomain: domain.EffectiveDomain(p.Name, state.Environment, cfg.Domain, r.config.BaseDomain),
		EnvFilePath:     cfg.EnvFile,
		AppPort:         p.AppPort,
		HostPort:        state.HostPort,
		ContainerStatus: state.ContainerStatus,
		ContainerID:     state.ContainerID,
		ContainerNames:  names,
	}
	if r.envPath != nil {
		d.EnvFilePath = r.envPath(p, state.Environment)
	}
	if d.ContainerStatus == "" {
		d.ContainerStatus = "not deployed"
	}
	if d.ContainerNames == nil {
		d.ContainerNames = []string{}
	}

	if state.ContainerID == "" || r.docker == nil {
		return d
	}

	inspectCtx, cancel := context.WithTimeout(ctx, r.config.InspectTimeout)
	defer cancel()
	info, err := r.docker.InspectContainer(inspectCtx, state.ContainerID)
	switch {
	case err == nil:
		d.ContainerStatus = string(info.Status)
	case errors.Is(err, docker.ErrContainerNotFound):
		d.ContainerStatus = "missing"
	default:
		r.logger.Warn("live container status unavailable",
			"project", p.Name, "env", state.Environment, "container", state.ContainerID, "error", err)
	}
	return d
}

// managedContainers lists container names per environment. Errors degrade to
// an empty listing.
func (r *Registry) managedContainers(ctx context.Context, project string) map[domain.Environment][]string {
	out := map[domain.Environment][]string{}
	if r.docker == nil {
		return out
	}

	listCtx, cancel := context.WithTimeout(ctx, r.config.InspectTimeout)
	defer cancel()
	containers, err := r.docker.ListContainers(listCtx, docker.ListOptions{
		All:     true,
		Filters: map[string]string{"label": deployment.LabelProject + "=" + project},
	})
	if err != nil {
		r.logger.Warn("container listing unavailable", "project", project, "error", err)
		return out
	}
	for _, c := range containers {
		env := domain.Environment(c.Labels[deployment.LabelEnvironment])
		out[env] = append(out[env], c.Name)
	}
	return out
}

// GetConfig returns the editable configuration of a project.
func (r *Registry) GetConfig(ctx context.Context, name string) (domain.ProjectConfig, error) {
	project, err := r.GetProject(ctx, name)
	if err != nil {
		return domain.ProjectConfig{}, err
	}
	return project.Config(), nil
}

// UpdateConfig replaces the mutable fields of a project. Environment state is
// untouched; the new values apply from the next deploy or restart.
func (r *Registry) UpdateConfig(ctx context.Context, name string, cfg domain.ProjectConfig) (domain.ProjectConfig, error) {
	if field, msg := validation.ValidateProjectConfig(name, cfg); msg != "" {
		return domain.ProjectConfig{}, domain.NewValidationError(domain.ErrInvalidConfig, fmt.Sprintf("%s: %s", field, msg))
	}

	var updated *domain.Project
	err := r.store.WithTx(ctx, func(tx store.Store) error {
		project, err := tx.GetProject(ctx, name)
		if err != nil {
			return err
		}
		project.ApplyConfig(cfg)
		if err := tx.UpdateProject(ctx, project); err != nil {
			return err
		}
		updated = project
		return nil
	})
	if err != nil {
		return domain.ProjectConfig{}, mapStoreError(err, name)
	}

	r.logger.Info("project config updated", "project", name)
	return updated.Config(), nil
}

func mapStoreError(err error, name string) error {
	if store.IsNotFound(err) {
		return domain.NewProjectNotFoundError(name)
	}
	return domain.NewInternalError(err)
}
