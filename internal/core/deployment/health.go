package deployment

import "net/http"

// =============================================================================
// Readiness (Pure Functions)
// =============================================================================

// Readiness is the verdict of one health-check attempt.
type Readiness string

const (
	ReadinessReady    Readiness = "ready"
	ReadinessStarting Readiness = "starting"
	ReadinessDead     Readiness = "dead"
)

// ContainerReadiness maps container state to a readiness verdict.
//
// Parameters:
//   - status: Container status (created, running, restarting, exited, dead)
//   - healthCheck: Docker health check result if the image defines one
//   - restarts: Number of restarts since container creation
//
// A container that exited or keeps restarting will never become ready, so
// polling can stop early.
func ContainerReadiness(status string, healthCheck *string, restarts int) Readiness {
	switch status {
	case "running":
	case "created", "restarting":
		if restarts > 3 {
			return ReadinessDead
		}
		return ReadinessStarting
	default:
		return ReadinessDead
	}

	if healthCheck != nil {
		switch *healthCheck {
		case "unhealthy":
			return ReadinessDead
		case "starting":
			return ReadinessStarting
		}
	}

	if restarts > 3 {
		return ReadinessDead
	}
	return ReadinessReady
}

// ProbeReady reports whether an HTTP probe answer counts as healthy. Any
// response below 500 means the app is serving.
func ProbeReady(statusCode int) bool {
	return statusCode > 0 && statusCode < http.StatusInternalServerError
}
