package deployment

import (
	"github.com/artpar/reflow/internal/core/domain"
)

// =============================================================================
// Container Plan Types
// =============================================================================

// ContainerPlan represents a planned container configuration.
// This is the pure output of planning, ready for the shell to execute.
type ContainerPlan struct {
	Name          string
	Image         string
	Env           map[string]string
	Labels        map[string]string
	Ports         []PortPlan
	RestartPolicy RestartPolicyPlan
}

// PortPlan represents a planned port binding. A zero HostPort lets the
// runtime pick a free port.
type PortPlan struct {
	ContainerPort int
	HostPort      int
	Protocol      string
	HostIP        string
}

// RestartPolicyPlan represents a restart policy.
type RestartPolicyPlan struct {
	Name              string
	MaximumRetryCount int
}

// =============================================================================
// Builder Parameter Types
// =============================================================================

// BuildContainerPlanParams contains all inputs for building a container plan.
type BuildContainerPlanParams struct {
	Project     *domain.Project
	Environment domain.Environment
	Slot        domain.Slot
	Commit      string
	Image       string
	EnvVars     map[string]string
	BindHost    string
}

// =============================================================================
// Reflow Container Labels
// =============================================================================

// Label keys used for Reflow container identification.
const (
	LabelManaged     = "io.reflow.managed"
	LabelProject     = "io.reflow.project"
	LabelEnvironment = "io.reflow.environment"
	LabelSlot        = "io.reflow.slot"
	LabelCommit      = "io.reflow.commit"
	LabelConfig      = "io.reflow.config"
)
