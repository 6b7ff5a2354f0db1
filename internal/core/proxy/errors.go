package proxy

import (
	"fmt"
	"net/http"

	"github.com/artpar/reflow/internal/core/domain"
)

// Reason classifies a request the proxy answers itself.
type Reason string

const (
	// ReasonNotFound means no environment claims the hostname.
	ReasonNotFound Reason = "not_found"
	// ReasonStopped means the environment exists but has no active slot.
	ReasonStopped Reason = "stopped"
	// ReasonUnavailable means the active slot could not be reached.
	ReasonUnavailable Reason = "unavailable"
)

// RouteError describes why a request was not forwarded.
type RouteError struct {
	Reason   Reason
	Hostname string

	// Project and Environment are empty when the hostname is unknown.
	Project     string
	Environment domain.Environment
}

func (e *RouteError) Error() string {
	switch e.Reason {
	case ReasonNotFound:
		return fmt.Sprintf("no environment serves %s", e.Hostname)
	case ReasonStopped:
		return fmt.Sprintf("the %s environment of %s is stopped", e.Environment, e.Project)
	default:
		if e.Project == "" {
			return fmt.Sprintf("%s is unavailable", e.Hostname)
		}
		return fmt.Sprintf("the %s environment of %s is not responding", e.Environment, e.Project)
	}
}

// StatusCode is the HTTP status the proxy answers with.
func (e *RouteError) StatusCode() int {
	switch e.Reason {
	case ReasonNotFound:
		return http.StatusNotFound
	case ReasonStopped:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// Page is the name of the error page rendered for the reason.
func (e *RouteError) Page() string {
	return string(e.Reason) + ".html"
}

// NotFound reports an unclaimed hostname.
func NotFound(hostname string) *RouteError {
	return &RouteError{Reason: ReasonNotFound, Hostname: hostname}
}

// Stopped reports an environment without an active slot.
func Stopped(hostname string, t ProxyTarget) *RouteError {
	return &RouteError{Reason: ReasonStopped, Hostname: hostname, Project: t.Project, Environment: t.Environment}
}

// Unavailable reports an upstream that could not be reached. t is nil when
// the route table itself could not be loaded.
func Unavailable(hostname string, t *ProxyTarget) *RouteError {
	e := &RouteError{Reason: ReasonUnavailable, Hostname: hostname}
	if t != nil {
		e.Project = t.Project
		e.Environment = t.Environment
	}
	return e
}
