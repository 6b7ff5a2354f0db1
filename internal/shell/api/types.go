package api

import "time"

// =============================================================================
// Request Types
// =============================================================================

// DeployRequest is the optional request body of a deploy. An empty commit
// deploys the default branch.
type DeployRequest struct {
	Commit string `json:"commit,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// MessageResponse acknowledges an action.
type MessageResponse struct {
	Message string `json:"message"`
}

// PortResponse is a published container port.
type PortResponse struct {
	ContainerPort int    `json:"containerPort"`
	HostPort      int    `json:"hostPort,omitempty"`
	HostIP        string `json:"hostIp,omitempty"`
	Protocol      string `json:"protocol"`
}

// ContainerResponse is one row of the container list.
type ContainerResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	State       string            `json:"state"`
	Status      string            `json:"status"`
	Created     time.Time         `json:"created"`
	Ports       []PortResponse    `json:"ports"`
	Labels      map[string]string `json:"labels"`
	Project     string            `json:"project,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Slot        string            `json:"slot,omitempty"`
	Commit      string            `json:"commit,omitempty"`
}

// ContainerDetailsResponse is the full view of one container. Environment
// variables are left out because env files hold secrets.
type ContainerDetailsResponse struct {
	ContainerResponse
	Command      []string   `json:"command"`
	Health       string     `json:"health,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	ExitCode     int        `json:"exitCode"`
	RestartCount int        `json:"restartCount"`
	OOMKilled    bool       `json:"oomKilled"`
	Error        string     `json:"error,omitempty"`
	Pid          int        `json:"pid,omitempty"`
}

// ErrorResponse is the body of every error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the response for health checks.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for readiness checks.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
