package deployment

import (
	"errors"
	"fmt"
)

// =============================================================================
// Attempt Phases
// =============================================================================

// Phase is the position of a deploy or approve attempt in its state machine.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseResolvingCommit Phase = "resolving_commit"
	PhaseProvisioning    Phase = "provisioning"
	PhaseHealthChecking  Phase = "health_checking"
	PhaseSwapping        Phase = "swapping"
	PhaseDrainingOld     Phase = "draining_old"
	PhaseFailed          Phase = "failed"
)

// ErrInvalidTransition is returned for a transition not in the phase table.
var ErrInvalidTransition = errors.New("invalid phase transition")

// validTransitions defines the allowed phase transitions. Failed is reachable
// from every non-idle phase and always returns to idle.
var validTransitions = map[Phase][]Phase{
	PhaseIdle:            {PhaseResolvingCommit},
	PhaseResolvingCommit: {PhaseProvisioning, PhaseFailed},
	PhaseProvisioning:    {PhaseHealthChecking, PhaseFailed},
	PhaseHealthChecking:  {PhaseSwapping, PhaseFailed},
	PhaseSwapping:        {PhaseDrainingOld, PhaseFailed},
	PhaseDrainingOld:     {PhaseIdle, PhaseFailed},
	PhaseFailed:          {PhaseIdle},
}

// ValidateTransition checks if a phase transition is valid.
func ValidateTransition(from, to Phase) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidTransition, from)
	}

	for _, p := range allowed {
		if p == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Tracker walks one attempt through the phase table.
type Tracker struct {
	current Phase
	history []Phase
}

// NewTracker returns a tracker positioned at idle.
func NewTracker() *Tracker {
	return &Tracker{current: PhaseIdle, history: []Phase{PhaseIdle}}
}

// Current returns the current phase.
func (t *Tracker) Current() Phase {
	return t.current
}

// History returns every phase visited so far.
func (t *Tracker) History() []Phase {
	out := make([]Phase, len(t.history))
	copy(out, t.history)
	return out
}

// Advance moves to the next phase if the transition is allowed.
func (t *Tracker) Advance(to Phase) error {
	if err := ValidateTransition(t.current, to); err != nil {
		return err
	}
	t.current = to
	t.history = append(t.history, to)
	return nil
}

// Fail moves to failed from any non-idle phase. It is a no-op when the
// attempt already failed or never started.
func (t *Tracker) Fail() {
	if t.current == PhaseIdle || t.current == PhaseFailed {
		return
	}
	t.current = PhaseFailed
	t.history = append(t.history, PhaseFailed)
}

// Finish returns to idle from draining_old or failed.
func (t *Tracker) Finish() error {
	return t.Advance(PhaseIdle)
}

// SwapCompleted reports whether traffic already moved to the new slot.
// After a swap the standby container must not be torn down on failure.
func (t *Tracker) SwapCompleted() bool {
	for _, p := range t.history {
		if p == PhaseDrainingOld {
			return true
		}
	}
	return false
}
