package slots

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/reflow/internal/core/domain"
	"github.com/artpar/reflow/internal/shell/store"
)

func setup(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "reflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	p := domain.NewProject(domain.CreateProjectArgs{ProjectName: "demo", RepoURL: "https://example.com/demo.git"}, "/repos/demo")
	require.NoError(t, s.CreateProject(ctx, p))
	for _, env := range domain.Environments() {
		require.NoError(t, s.CreateEnvironmentState(ctx, domain.NewEnvironmentState("demo", env)))
	}
	return New(s, nil), s
}

func TestStandbySlot(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()

	slot, err := m.StandbySlot(ctx, "demo", domain.EnvTest)
	require.NoError(t, err)
	assert.Equal(t, domain.SlotBlue, slot, "default when nothing is active")

	_, err = m.Promote(ctx, "demo", domain.EnvTest, Activation{Slot: domain.SlotBlue, Commit: "c1", ContainerID: "id1", HostPort: 49153})
	require.NoError(t, err)

	slot, err = m.StandbySlot(ctx, "demo", domain.EnvTest)
	require.NoError(t, err)
	assert.Equal(t, domain.SlotGreen, slot)

	active, ok, err := m.ActiveSlot(ctx, "demo", domain.EnvTest)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.SlotBlue, active)

	_, ok, err = m.ActiveSlot(ctx, "demo", domain.EnvProd)
	require.NoError(t, err)
	assert.False(t, ok, "environments are independent")
}

func TestPromote_ReturnsPrevious(t *testing.T) {
	m, s := setup(t)
	ctx := context.Background()

	prev, err := m.Promote(ctx, "demo", domain.EnvTest, Activation{Slot: domain.SlotBlue, Commit: "c1", ContainerID: "id1"})
	require.NoError(t, err)
	assert.Equal(t, Previous{}, prev)

	prev, err = m.Promote(ctx, "demo", domain.EnvTest, Activation{Slot: domain.SlotGreen, Commit: "c2", ContainerID: "id2", HostPort: 49200})
	require.NoError(t, err)
	assert.Equal(t, Previous{Slot: domain.SlotBlue, Commit: "c1", ContainerID: "id1"}, prev)

	state, err := s.GetEnvironmentState(ctx, "demo", domain.EnvTest)
	require.NoError(t, err)
	assert.Equal(t, domain.SlotGreen, state.ActiveSlot)
	assert.Equal(t, "c2", state.ActiveCommit)
	assert.Equal(t, 49200, state.HostPort)
	assert.Equal(t, "running", state.ContainerStatus)
}

func TestPromote_InvalidSlotAndMissingProject(t *testing.T) {
	m, _ := setup(t)
	ctx := context.Background()

	_, err := m.Promote(ctx, "demo", domain.EnvTest, Activation{Slot: "purple"})
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))

	_, err = m.Promote(ctx, "ghost", domain.EnvTest, Activation{Slot: domain.SlotBlue})
	assert.True(t, errors.Is(err, domain.ErrProjectNotFound))
}

func TestPromote_Linearizable(t *testing.T) {
	m, s := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	prevs := make([]Previous, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slot := domain.SlotBlue
			if i%2 == 1 {
				slot = domain.SlotGreen
			}
			prev, err := m.Promote(ctx, "demo", domain.EnvTest, Activation{Slot: slot, Commit: "c", ContainerID: string(rune('a' + i))})
			assert.NoError(t, err)
			prevs[i] = prev
		}(i)
	}
	wg.Wait()

	// Every promotion but the first displaced exactly one distinct predecessor.
	seen := map[string]bool{}
	empty := 0
	for _, p := range prevs {
		if p.ContainerID == "" {
			empty++
			continue
		}
		assert.False(t, seen[p.ContainerID], "container displaced twice: %s", p.ContainerID)
		seen[p.ContainerID] = true
	}
	assert.Equal(t, 1, empty)

	state, err := s.GetEnvironmentState(ctx, "demo", domain.EnvTest)
	require.NoError(t, err)
	assert.False(t, seen[state.ContainerID], "final container was never displaced")
}

func TestDeactivate(t *testing.T) {
	m, s := setup(t)
	ctx := context.Background()

	require.NoError(t, m.Deactivate(ctx, "demo", domain.EnvProd), "inactive is a no-op")

	_, err := m.Promote(ctx, "demo", domain.EnvProd, Activation{Slot: domain.SlotGreen, Commit: "c9", ContainerID: "id9"})
	require.NoError(t, err)
	require.NoError(t, m.Deactivate(ctx, "demo", domain.EnvProd))
	require.NoError(t, m.Deactivate(ctx, "demo", domain.EnvProd))

	state, err := s.GetEnvironmentState(ctx, "demo", domain.EnvProd)
	require.NoError(t, err)
	assert.False(t, state.IsActive())
	assert.Empty(t, state.ActiveCommit)
	assert.Equal(t, domain.SlotGreen, state.LastSlot)
	assert.Equal(t, "c9", state.LastCommit)
	assert.Equal(t, "id9", state.LastContainerID)

	assert.True(t, errors.Is(m.Deactivate(ctx, "ghost", domain.EnvProd), domain.ErrProjectNotFound))
}

func TestUpdateStatus(t *testing.T) {
	m, s := setup(t)
	ctx := context.Background()

	_, err := m.Promote(ctx, "demo", domain.EnvTest, Activation{Slot: domain.SlotBlue, Commit: "c1", ContainerID: "id1"})
	require.NoError(t, err)

	require.NoError(t, m.UpdateStatus(ctx, "demo", domain.EnvTest, "id1", "exited"))
	require.NoError(t, m.UpdateStatus(ctx, "demo", domain.EnvTest, "stale", "dead"))

	state, err := s.GetEnvironmentState(ctx, "demo", domain.EnvTest)
	require.NoError(t, err)
	assert.Equal(t, "exited", state.ContainerStatus)
	assert.True(t, state.IsActive(), "status changes never move the pointer")
}
