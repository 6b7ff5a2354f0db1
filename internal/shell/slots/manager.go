// Package slots tracks which blue/green slot serves each project environment.
package slots

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/reflow/internal/core/domain"
	"github.com/artpar/reflow/internal/shell/keylock"
	"github.com/artpar/reflow/internal/shell/store"
)

// Activation describes the slot being made active.
type Activation struct {
	Slot        domain.Slot
	Commit      string
	ContainerID string
	HostPort    int
}

// Previous is what an activation displaced.
type Previous struct {
	Slot        domain.Slot
	Commit      string
	ContainerID string
}

// Manager owns the active-slot pointer. Promote and Deactivate are
// linearizable per (project, env): an in-process keyed mutex orders callers
// and each change is a single-row update inside a store transaction.
type Manager struct {
	store  store.Store
	locks  *keylock.Locker
	logger *slog.Logger
}

// New creates a Manager.
func New(s store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  s,
		locks:  keylock.New(),
		logger: logger.With("component", "slots"),
	}
}

func key(project string, env domain.Environment) string {
	return project + "/" + string(env)
}

// State returns the environment state row.
func (m *Manager) State(ctx context.Context, project string, env domain.Environment) (*domain.EnvironmentState, error) {
	state, err := m.store.GetEnvironmentState(ctx, project, env)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, domain.NewProjectNotFoundError(project)
		}
		return nil, domain.NewInternalError(err)
	}
	return state, nil
}

// ActiveSlot returns the serving slot, if any.
func (m *Manager) ActiveSlot(ctx context.Context, project string, env domain.Environment) (domain.Slot, bool, error) {
	state, err := m.State(ctx, project, env)
	if err != nil {
		return domain.SlotNone, false, err
	}
	return state.ActiveSlot, state.IsActive(), nil
}

// StandbySlot returns the slot a new deployment should use: the one not
// serving, or the default when nothing is active.
func (m *Manager) StandbySlot(ctx context.Context, project string, env domain.Environment) (domain.Slot, error) {
	active, ok, err := m.ActiveSlot(ctx, project, env)
	if err != nil {
		return domain.SlotNone, err
	}
	if !ok {
		return domain.DefaultSlot, nil
	}
	return active.Other(), nil
}

// Promote atomically makes a.Slot the active slot and returns what it
// replaced.
// An inactive environment reports an empty Previous.
func (m *Manager) Promote(ctx context.Context, project string, env domain.Environment, a Activation) (Previous, error) {
	if !a.Slot.Valid() {
		return Previous{}, domain.NewInternalError(fmt.Errorf("promote %s: invalid slot %q", key(project, env), a.Slot))
	}

	unlock := m.locks.Lock(key(project, env))
	defer unlock()

	var prev Previous
	err := m.store.WithTx(ctx, func(tx store.Store) error {
		state, err := tx.GetEnvironmentState(ctx, project, env)
		if err != nil {
			return err
		}
		if state.IsActive() {
			prev = Previous{Slot: state.ActiveSlot, Commit: state.ActiveCommit, ContainerID: state.ContainerID}
		}
		state.Activate(a.Slot, a.Commit, a.ContainerID, a.HostPort)
		return tx.SaveEnvironmentState(ctx, state)
	})
	if err != nil {
		if store.IsNotFound(err) {
			return Previous{}, domain.NewProjectNotFoundError(project)
		}
		return Previous{}, domain.NewInternalError(err)
	}

	m.logger.Info("slot promoted",
		"project", project,
		"env", env,
		"slot", a.Slot,
		"commit", a.Commit,
		"previous_slot", prev.Slot,
	)
	return prev, nil
}

// Deactivate clears the active pointer, remembering the last slot and commit.
// It is a no-op on an inactive environment.
func (m *Manager) Deactivate(ctx context.Context, project string, env domain.Environment) error {
	unlock := m.locks.Lock(key(project, env))
	defer unlock()

	err := m.store.WithTx(ctx, func(tx store.Store) error {
		state, err := tx.GetEnvironmentState(ctx, project, env)
		if err != nil {
			return err
		}
		if !state.IsActive() {
			return nil
		}
		state.Deactivate()
		return tx.SaveEnvironmentState(ctx, state)
	})
	if err != nil {
		if store.IsNotFound(err) {
			return domain.NewProjectNotFoundError(project)
		}
		return domain.NewInternalError(err)
	}

	m.logger.Info("slot deactivated", "project", project, "env", env)
	return nil
}

// UpdateStatus records the observed container status without touching the
// slot pointer.
func (m *Manager) UpdateStatus(ctx context.Context, project string, env domain.Environment, containerID, status string) error {
	unlock := m.locks.Lock(key(project, env))
	defer unlock()

	return m.store.WithTx(ctx, func(tx store.Store) error {
		state, err := tx.GetEnvironmentState(ctx, project, env)
		if err != nil {
			return err
		}
		// The pointer moved since the observation was made.
		if state.ContainerID != containerID || state.ContainerStatus == status {
			return nil
		}
		state.ContainerStatus = status
		state.UpdatedAt = time.Now().UTC()
		return tx.SaveEnvironmentState(ctx, state)
	})
}
