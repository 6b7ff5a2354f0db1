package domain

import (
	"fmt"
	"time"
)

// =============================================================================
// Slots
// =============================================================================

// Slot is one of the two interchangeable deployment targets of an environment.
type Slot string

const (
	SlotNone  Slot = ""
	SlotBlue  Slot = "blue"
	SlotGreen Slot = "green"
)

// DefaultSlot is allocated when no slot has ever been active.
const DefaultSlot = SlotBlue

// Other returns the opposite slot. The empty slot maps to the default.
func (s Slot) Other() Slot {
	switch s {
	case SlotBlue:
		return SlotGreen
	case SlotGreen:
		return SlotBlue
	default:
		return DefaultSlot
	}
}

// Valid reports whether s names a real slot.
func (s Slot) Valid() bool {
	return s == SlotBlue || s == SlotGreen
}

// =============================================================================
// Environment State
// =============================================================================

// EnvironmentState is the runtime state of one (project, environment) pair.
//
// Invariant: IsActive() == (ActiveSlot != SlotNone) and ActiveCommit is set
// exactly when the environment is active. LastSlot/LastCommit survive a stop
// so the environment can be restored without redeploying.
type EnvironmentState struct {
	ProjectName     string
	Environment     Environment
	ActiveSlot      Slot
	ActiveCommit    string
	ContainerID     string
	ContainerStatus string
	HostPort        int
	LastSlot        Slot
	LastCommit      string
	LastContainerID string
	UpdatedAt       time.Time
}

// NewEnvironmentState returns the inactive state of a fresh environment.
func NewEnvironmentState(project string, env Environment) *EnvironmentState {
	return &EnvironmentState{
		ProjectName: project,
		Environment: env,
		UpdatedAt:   time.Now().UTC(),
	}
}

// IsActive reports whether a slot is serving.
func (s *EnvironmentState) IsActive() bool {
	return s.ActiveSlot != SlotNone
}

// Activate points the environment at slot running commit.
func (s *EnvironmentState) Activate(slot Slot, commit, containerID string, hostPort int) {
	s.ActiveSlot = slot
	s.ActiveCommit = commit
	s.ContainerID = containerID
	s.HostPort = hostPort
	s.ContainerStatus = "running"
	s.LastSlot = slot
	s.LastCommit = commit
	s.LastContainerID = containerID
	s.UpdatedAt = time.Now().UTC()
}

// Deactivate clears the active pointer, keeping the last slot and commit.
func (s *EnvironmentState) Deactivate() {
	if s.ActiveSlot != SlotNone {
		s.LastSlot = s.ActiveSlot
		s.LastCommit = s.ActiveCommit
		s.LastContainerID = s.ContainerID
	}
	s.ActiveSlot = SlotNone
	s.ActiveCommit = ""
	s.ContainerID = ""
	s.HostPort = 0
	s.ContainerStatus = "stopped"
	s.UpdatedAt = time.Now().UTC()
}

// StatusString renders the dashboard status line.
func (s *EnvironmentState) StatusString() string {
	if s == nil || !s.IsActive() {
		return "Not Deployed"
	}
	return fmt.Sprintf("Active (Commit: %s)", s.ActiveCommit)
}

// EffectiveDomain returns the explicit domain or the generated default.
// Production gets the bare project subdomain.
func EffectiveDomain(projectName string, env Environment, explicit, baseDomain string) string {
	if explicit != "" {
		return explicit
	}
	if baseDomain == "" {
		baseDomain = "localhost"
	}
	if env == EnvProd {
		return fmt.Sprintf("%s.%s", projectName, baseDomain)
	}
	return fmt.Sprintf("%s-%s.%s", projectName, env, baseDomain)
}

// =============================================================================
// Views
// =============================================================================

// ProjectSummary is one row of the project list.
type ProjectSummary struct {
	Name       string `json:"Name"`
	RepoURL    string `json:"RepoURL"`
	TestStatus string `json:"TestStatus"`
	ProdStatus string `json:"ProdStatus"`
}

// EnvironmentDetails is the detailed view of one environment.
type EnvironmentDetails struct {
	EnvironmentName string   `json:"EnvironmentName"`
	IsActive        bool     `json:"IsActive"`
	ActiveCommit    string   `json:"ActiveCommit"`
	ActiveSlot      string   `json:"ActiveSlot"`
	EffectiveDomain string   `json:"EffectiveDomain"`
	EnvFilePath     string   `json:"EnvFilePath"`
	AppPort         int      `json:"AppPort"`
	HostPort        int      `json:"HostPort,omitempty"`
	ContainerStatus string   `json:"ContainerStatus"`
	ContainerID     string   `json:"ContainerID"`
	ContainerNames  []string `json:"ContainerNames"`
}

// ProjectDetails is the detailed view of a project.
type ProjectDetails struct {
	Name           string             `json:"Name"`
	RepoURL        string             `json:"RepoURL"`
	ConfigFilePath string             `json:"ConfigFilePath"`
	StateFilePath  string             `json:"StateFilePath"`
	LocalRepoPath  string             `json:"LocalRepoPath"`
	TestDetails    EnvironmentDetails `json:"TestDetails"`
	ProdDetails    EnvironmentDetails `json:"ProdDetails"`
}
