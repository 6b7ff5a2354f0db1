package store

import (
	"context"

	"github.com/artpar/reflow/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for Reflow entities.
type Store interface {
	// Project operations
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProject(ctx context.Context, name string) (*domain.Project, error)
	UpdateProject(ctx context.Context, project *domain.Project) error
	ListProjects(ctx context.Context) ([]domain.Project, error)

	// Environment state operations (one row per project and environment)
	CreateEnvironmentState(ctx context.Context, state *domain.EnvironmentState) error
	GetEnvironmentState(ctx context.Context, project string, env domain.Environment) (*domain.EnvironmentState, error)
	SaveEnvironmentState(ctx context.Context, state *domain.EnvironmentState) error
	ListEnvironmentStates(ctx context.Context) ([]domain.EnvironmentState, error)

	// Deployment event operations (append-only)
	AppendEvent(ctx context.Context, event *domain.DeploymentEvent) error
	ListEvents(ctx context.Context, filter EventFilter) ([]domain.DeploymentEvent, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Options
// =============================================================================

const (
	// DefaultListLimit is used when a caller asks for no particular page size.
	DefaultListLimit = 50
	// MaxListLimit caps every page.
	MaxListLimit = 500
)

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  DefaultListLimit,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// EventFilter selects ledger events. Empty fields match everything.
type EventFilter struct {
	ProjectName string
	Environment domain.Environment
	Outcome     domain.Outcome
	ListOptions
}
