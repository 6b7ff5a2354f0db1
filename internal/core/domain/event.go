package domain

import (
	"fmt"
	"time"
)

// EventType distinguishes deploys to test from approvals into prod.
type EventType string

const (
	EventDeploy  EventType = "deploy"
	EventApprove EventType = "approve"
)

// Outcome is the lifecycle marker of an event.
type Outcome string

const (
	OutcomeStarted Outcome = "started"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ParseOutcome validates an outcome filter.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(s) {
	case OutcomeStarted, OutcomeSuccess, OutcomeFailure:
		return Outcome(s), nil
	default:
		return "", NewValidationError(ErrInvalidQuery,
			fmt.Sprintf("invalid outcome %q: must be started, success or failure", s))
	}
}

// DeploymentEvent is an immutable ledger record. ID, Seq and Timestamp are
// assigned on append.
type DeploymentEvent struct {
	ID           string      `json:"id"`
	Seq          int64       `json:"seq"`
	Timestamp    time.Time   `json:"timestamp"`
	EventType    EventType   `json:"eventType"`
	ProjectName  string      `json:"projectName"`
	Environment  Environment `json:"environment"`
	CommitSHA    string      `json:"commitSha,omitempty"`
	Outcome      Outcome     `json:"outcome"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	DurationMs   *int64      `json:"durationMs,omitempty"`
	TriggeredBy  string      `json:"triggeredBy,omitempty"`
}

// NewStartedEvent returns the event recorded when an attempt begins.
func NewStartedEvent(eventType EventType, project string, env Environment, commit, triggeredBy string) DeploymentEvent {
	return DeploymentEvent{
		EventType:   eventType,
		ProjectName: project,
		Environment: env,
		CommitSHA:   commit,
		Outcome:     OutcomeStarted,
		TriggeredBy: triggeredBy,
	}
}

// Complete returns the terminal event for the attempt that started with e.
// A nil err yields success.
func (e DeploymentEvent) Complete(commit string, elapsed time.Duration, err error) DeploymentEvent {
	ms := elapsed.Milliseconds()
	done := DeploymentEvent{
		EventType:   e.EventType,
		ProjectName: e.ProjectName,
		Environment: e.Environment,
		CommitSHA:   e.CommitSHA,
		Outcome:     OutcomeSuccess,
		DurationMs:  &ms,
		TriggeredBy: e.TriggeredBy,
	}
	if commit != "" {
		done.CommitSHA = commit
	}
	if err != nil {
		done.Outcome = OutcomeFailure
		done.ErrorMessage = MessageOf(err)
	}
	return done
}

// DeploymentResult is returned by deploy and approve.
type DeploymentResult struct {
	Success     bool        `json:"success"`
	Message     string      `json:"message"`
	ProjectName string      `json:"projectName"`
	Environment Environment `json:"environment"`
	Commit      string      `json:"commit,omitempty"`
	Slot        Slot        `json:"slot,omitempty"`
	Warnings    []string    `json:"warnings,omitempty"`
	DurationMs  int64       `json:"durationMs"`
}
