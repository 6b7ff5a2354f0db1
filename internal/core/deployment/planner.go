package deployment

import "github.com/artpar/reflow/internal/core/domain"

// =============================================================================
// Start Planning
// =============================================================================

// StartAction is what Start must do to bring an environment back.
type StartAction string

const (
	StartNoop     StartAction = "noop"
	StartResume   StartAction = "resume"
	StartRecreate StartAction = "recreate"
	StartRejected StartAction = "rejected"
)

// StartPath represents the result of planning a start operation.
type StartPath struct {
	Action StartAction

	// Slot and Commit identify what will serve after the start.
	Slot   domain.Slot
	Commit string

	// ContainerID is set for StartResume.
	ContainerID string

	// ErrorReason is set for StartRejected.
	ErrorReason string
}

// DetermineStartPath decides how to restore a stopped environment without a
// health-checked swap.
//
// Valid start paths:
//   - active: nothing to do
//   - last container exists and matches the current plan: start it again
//   - last container gone or outdated: recreate it from the last commit's
//     image, so config and env file changes apply
//
// An environment that was never deployed cannot be started.
//
// Example:
//
//	path := DetermineStartPath(state, lastContainerReusable)
//	if path.Action == StartRejected {
//	    return errors.New(path.ErrorReason)
//	}
func DetermineStartPath(state *domain.EnvironmentState, lastContainerReusable bool) StartPath {
	if state.IsActive() {
		return StartPath{
			Action:      StartNoop,
			Slot:        state.ActiveSlot,
			Commit:      state.ActiveCommit,
			ContainerID: state.ContainerID,
		}
	}

	if state.LastCommit == "" || !state.LastSlot.Valid() {
		return StartPath{
			Action:      StartRejected,
			ErrorReason: "environment has never been deployed",
		}
	}

	if lastContainerReusable && state.LastContainerID != "" {
		return StartPath{
			Action:      StartResume,
			Slot:        state.LastSlot,
			Commit:      state.LastCommit,
			ContainerID: state.LastContainerID,
		}
	}

	return StartPath{
		Action: StartRecreate,
		Slot:   state.LastSlot,
		Commit: state.LastCommit,
	}
}

// CanStop reports whether stop has anything to do. Stop is idempotent, so an
// inactive environment is not an error.
func CanStop(state *domain.EnvironmentState) bool {
	return state.IsActive()
}
