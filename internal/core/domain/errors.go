package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Kinds
// =============================================================================

// ErrorKind classifies an error for transport mapping.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindExternal   ErrorKind = "external"
	KindInternal   ErrorKind = "internal"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// Registry
	ErrProjectNotFound    = errors.New("project not found")
	ErrDuplicateProject   = errors.New("project already exists")
	ErrInvalidProject     = errors.New("invalid project")
	ErrInvalidConfig      = errors.New("invalid project config")
	ErrInvalidEnvironment = errors.New("invalid environment")

	// Engine
	ErrCommitResolution       = errors.New("commit could not be resolved")
	ErrDeploymentInProgress   = errors.New("deployment already in progress")
	ErrContainerStart         = errors.New("container failed to start")
	ErrHealthCheckTimeout     = errors.New("health check timed out")
	ErrNoActiveTestDeployment = errors.New("no active test deployment")
	ErrNoActiveDeployment     = errors.New("no deployment to start")
	ErrDriverUnavailable      = errors.New("container driver unavailable")

	// Env files and containers
	ErrEnvFileNotFound   = errors.New("env file not found")
	ErrContainerNotFound = errors.New("container not found")
	ErrContainerRunning  = errors.New("container is running")

	// Ledger
	ErrInvalidQuery = errors.New("invalid history query")
)

// =============================================================================
// Error
// =============================================================================

// Error is the typed error surfaced by registry, engine and ledger operations.
// Message is safe to show to a user; Cause carries the underlying failure for logs.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error // sentinel
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// NewError creates a typed error.
func NewError(kind ErrorKind, code string, sentinel error, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     sentinel,
		Cause:   cause,
	}
}

// =============================================================================
// Constructors
// =============================================================================

// NewValidationError reports bad input.
func NewValidationError(sentinel error, message string) *Error {
	return NewError(KindValidation, "validation_error", sentinel, message, nil)
}

// NewProjectNotFoundError reports a missing project.
func NewProjectNotFoundError(name string) *Error {
	return NewError(KindNotFound, "project_not_found", ErrProjectNotFound,
		fmt.Sprintf("project %q not found", name), nil)
}

// NewDuplicateProjectError reports a name collision.
func NewDuplicateProjectError(name string) *Error {
	return NewError(KindConflict, "project_exists", ErrDuplicateProject,
		fmt.Sprintf("project %q already exists", name), nil)
}

// NewCommitResolutionError reports a ref that could not be resolved. An
// unreachable repository is an external failure; an unknown ref is bad input.
func NewCommitResolutionError(ref string, unreachable bool, cause error) *Error {
	kind := KindValidation
	if unreachable {
		kind = KindExternal
	}
	if ref == "" {
		ref = "HEAD"
	}
	return NewError(kind, "commit_resolution_failed", ErrCommitResolution,
		fmt.Sprintf("could not resolve commit %q", ref), cause)
}

// NewDeploymentInProgressError reports a held per-environment lock.
func NewDeploymentInProgressError(project string, env Environment) *Error {
	return NewError(KindConflict, "deployment_in_progress", ErrDeploymentInProgress,
		fmt.Sprintf("an operation is already in progress for %s/%s", project, env), nil)
}

// NewContainerStartError reports a standby container that could not be provisioned.
func NewContainerStartError(container string, cause error) *Error {
	return NewError(KindExternal, "container_start_failed", ErrContainerStart,
		fmt.Sprintf("container %s failed to start", container), cause)
}

// NewHealthCheckTimeoutError reports a container that never became healthy.
func NewHealthCheckTimeoutError(container string, attempts int, cause error) *Error {
	return NewError(KindExternal, "health_check_timeout", ErrHealthCheckTimeout,
		fmt.Sprintf("container %s did not become healthy after %d attempts", container, attempts), cause)
}

// NewNoActiveTestDeploymentError reports an approve without a test deployment.
func NewNoActiveTestDeploymentError(project string) *Error {
	return NewError(KindValidation, "no_active_test_deployment", ErrNoActiveTestDeployment,
		fmt.Sprintf("project %q has no active test deployment to approve", project), nil)
}

// NewNoActiveDeploymentError reports a start with nothing to restore.
func NewNoActiveDeploymentError(project string, env Environment) *Error {
	return NewError(KindValidation, "not_deployed", ErrNoActiveDeployment,
		fmt.Sprintf("%s/%s has never been deployed", project, env), nil)
}

// NewDriverUnavailableError reports an unreachable container runtime.
func NewDriverUnavailableError(cause error) *Error {
	return NewError(KindExternal, "driver_unavailable", ErrDriverUnavailable,
		"container runtime is unavailable", cause)
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(cause error) *Error {
	return NewError(KindInternal, "internal_error", nil, "internal error", cause)
}

// =============================================================================
// Classification
// =============================================================================

// KindOf returns the kind of err. Untyped errors are internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the machine-readable code of err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return "internal_error"
}

// MessageOf returns a message safe to show to a caller. Internal errors never
// leak their cause.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal error"
}
