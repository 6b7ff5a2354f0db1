package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Project Tests
// =============================================================================

func TestNewProject_Defaults(t *testing.T) {
	p := NewProject(CreateProjectArgs{
		ProjectName: "demo",
		RepoURL:     "https://example.com/demo.git",
	}, "/data/repos/demo")

	assert.Equal(t, "demo", p.Name)
	assert.Equal(t, DefaultAppPort, p.AppPort)
	assert.Equal(t, DefaultNodeVersion, p.NodeVersion)
	assert.Equal(t, DefaultTestEnvFile, p.Test.EnvFile)
	assert.Equal(t, DefaultProdEnvFile, p.Prod.EnvFile)
	assert.Equal(t, "/data/repos/demo", p.LocalRepoPath)
	assert.False(t, p.CreatedAt.IsZero())
}

func TestProject_ConfigRoundTrip(t *testing.T) {
	p := NewProject(CreateProjectArgs{
		ProjectName: "demo",
		RepoURL:     "https://example.com/demo.git",
		TestDomain:  "demo.test.example.com",
	}, "/data/repos/demo")

	cfg := p.Config()
	assert.Equal(t, "demo", cfg.ProjectName)
	assert.Equal(t, "demo.test.example.com", cfg.Environments.Test.Domain)

	cfg.AppPort = 8080
	cfg.Environments.Prod.EnvFile = ""
	p.ApplyConfig(cfg)

	assert.Equal(t, 8080, p.AppPort)
	assert.Equal(t, DefaultProdEnvFile, p.Prod.EnvFile, "empty fields fall back to defaults")
	assert.Equal(t, "demo", p.Name)
	assert.Equal(t, p.Test, p.EnvConfig(EnvTest))
	assert.Equal(t, p.Prod, p.EnvConfig(EnvProd))
}

func TestParseEnvironment(t *testing.T) {
	env, err := ParseEnvironment("test")
	require.NoError(t, err)
	assert.Equal(t, EnvTest, env)

	env, err = ParseEnvironment("prod")
	require.NoError(t, err)
	assert.Equal(t, EnvProd, env)

	_, err = ParseEnvironment("staging")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.True(t, errors.Is(err, ErrInvalidEnvironment))
}

// =============================================================================
// Environment State Tests
// =============================================================================

func TestSlot_Other(t *testing.T) {
	assert.Equal(t, SlotGreen, SlotBlue.Other())
	assert.Equal(t, SlotBlue, SlotGreen.Other())
	assert.Equal(t, SlotBlue, SlotNone.Other())
	assert.False(t, SlotNone.Valid())
}

func TestEnvironmentState_ActivateDeactivate(t *testing.T) {
	s := NewEnvironmentState("demo", EnvTest)
	assert.False(t, s.IsActive())
	assert.Equal(t, "Not Deployed", s.StatusString())

	s.Activate(SlotBlue, "abc123", "cid-1", 49153)
	assert.True(t, s.IsActive())
	assert.Equal(t, "Active (Commit: abc123)", s.StatusString())
	assert.Equal(t, 49153, s.HostPort)

	s.Deactivate()
	assert.False(t, s.IsActive())
	assert.Empty(t, s.ActiveCommit)
	assert.Empty(t, s.ContainerID)
	assert.Equal(t, SlotBlue, s.LastSlot)
	assert.Equal(t, "abc123", s.LastCommit)
	assert.Equal(t, "cid-1", s.LastContainerID)

	// Deactivating twice keeps the remembered slot.
	s.Deactivate()
	assert.Equal(t, SlotBlue, s.LastSlot)
	assert.Equal(t, "abc123", s.LastCommit)
}

func TestEnvironmentState_NilStatus(t *testing.T) {
	var s *EnvironmentState
	assert.Equal(t, "Not Deployed", s.StatusString())
}

func TestEffectiveDomain(t *testing.T) {
	assert.Equal(t, "custom.example.com", EffectiveDomain("demo", EnvTest, "custom.example.com", "apps.local"))
	assert.Equal(t, "demo-test.apps.local", EffectiveDomain("demo", EnvTest, "", "apps.local"))
	assert.Equal(t, "demo.apps.local", EffectiveDomain("demo", EnvProd, "", "apps.local"))
	assert.Equal(t, "demo.localhost", EffectiveDomain("demo", EnvProd, "", ""))
}

// =============================================================================
// Event Tests
// =============================================================================

func TestDeploymentEvent_Complete(t *testing.T) {
	started := NewStartedEvent(EventDeploy, "demo", EnvTest, "main", "dashboard")
	assert.Equal(t, OutcomeStarted, started.Outcome)
	assert.Nil(t, started.DurationMs)

	ok := started.Complete("abc123", 1500*time.Millisecond, nil)
	assert.Equal(t, OutcomeSuccess, ok.Outcome)
	assert.Equal(t, "abc123", ok.CommitSHA)
	require.NotNil(t, ok.DurationMs)
	assert.Equal(t, int64(1500), *ok.DurationMs)
	assert.Empty(t, ok.ErrorMessage)

	failed := started.Complete("", time.Second, NewCommitResolutionError("main", false, nil))
	assert.Equal(t, OutcomeFailure, failed.Outcome)
	assert.Equal(t, "main", failed.CommitSHA, "requested ref kept when resolution failed")
	assert.Equal(t, `could not resolve commit "main"`, failed.ErrorMessage)
}

func TestDeploymentEvent_CompleteHidesInternalCause(t *testing.T) {
	started := NewStartedEvent(EventApprove, "demo", EnvProd, "abc", "")
	failed := started.Complete("", 0, NewInternalError(fmt.Errorf("nil pointer")))
	assert.Equal(t, "internal error", failed.ErrorMessage)
}

func TestParseOutcome(t *testing.T) {
	o, err := ParseOutcome("success")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, o)

	_, err = ParseOutcome("done")
	assert.True(t, errors.Is(err, ErrInvalidQuery))
}

// =============================================================================
// Error Tests
// =============================================================================

func TestError_Classification(t *testing.T) {
	cause := errors.New("dial unix /var/run/docker.sock: connect: no such file")
	err := fmt.Errorf("deploy: %w", NewDriverUnavailableError(cause))

	assert.Equal(t, KindExternal, KindOf(err))
	assert.Equal(t, "driver_unavailable", CodeOf(err))
	assert.Equal(t, "container runtime is unavailable", MessageOf(err))
	assert.True(t, errors.Is(err, ErrDriverUnavailable))
	assert.True(t, errors.Is(err, cause))
}

func TestError_UntypedIsInternal(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal_error", CodeOf(err))
	assert.Equal(t, "internal error", MessageOf(err))
}

func TestCommitResolutionError_Kind(t *testing.T) {
	assert.Equal(t, KindValidation, NewCommitResolutionError("bad-ref", false, nil).Kind)
	assert.Equal(t, KindExternal, NewCommitResolutionError("", true, nil).Kind)
	assert.Contains(t, NewCommitResolutionError("", true, nil).Message, "HEAD")
}
