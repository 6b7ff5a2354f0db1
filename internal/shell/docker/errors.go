package docker

import (
	"context"
	"errors"
	"fmt"

	"github.com/docker/docker/client"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Container errors
	ErrContainerNotFound       = errors.New("container not found")
	ErrContainerAlreadyExists  = errors.New("container already exists")
	ErrContainerNotRunning     = errors.New("container is not running")
	ErrContainerAlreadyRunning = errors.New("container is already running")
	ErrContainerRunning        = errors.New("container is running")

	// Image errors
	ErrImageNotFound    = errors.New("image not found")
	ErrImageBuildFailed = errors.New("image build failed")

	// Connection errors
	ErrPortAlreadyAllocated = errors.New("port is already allocated")
	ErrConnectionFailed     = errors.New("docker connection failed")
	ErrTimeout              = errors.New("operation timed out")
)

// DockerError wraps errors with additional context.
type DockerError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (container, image)
	ID      string // Entity ID if applicable
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

// NewDockerError creates a new DockerError.
func NewDockerError(op, entity, id, message string, err error) *DockerError {
	return &DockerError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}

// wrapError classifies an SDK error shared by every container call.
func wrapError(op, entity, id string, err error) error {
	switch {
	case client.IsErrNotFound(err):
		sentinel := ErrContainerNotFound
		if entity == "image" {
			sentinel = ErrImageNotFound
		}
		return NewDockerError(op, entity, id, entity+" not found", sentinel)
	case client.IsErrConnectionFailed(err):
		return NewDockerError(op, entity, id, err.Error(), ErrConnectionFailed)
	case errors.Is(err, context.DeadlineExceeded):
		return NewDockerError(op, entity, id, err.Error(), ErrTimeout)
	default:
		return NewDockerError(op, entity, id, err.Error(), err)
	}
}

// IsUnavailable reports whether err means the daemon could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}
