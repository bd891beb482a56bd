package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autonomyd/internal/types"
)

const testNow = int64(1_700_000_000_000)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Policy.DestructiveRequiresApproval)
	assert.False(t, cfg.Policy.ReversibleWritesRequireApproval)
	assert.Equal(t, 3, cfg.Promotion.MinimumRecentCycles)
	assert.InDelta(t, 0.2, cfg.Promotion.MaximumErrorRate, 1e-9)
	assert.InDelta(t, 0.6, cfg.Promotion.MinimumEvalScore, 1e-9)
	assert.NotEmpty(t, cfg.StateRoot)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Promotion, cfg.Promotion)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autonomyd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
state_root: /var/lib/autonomyd
agent:
  mission: watch the fleet
  max_actions_per_run: 3
policy:
  deny_actions: [autonomy.stage.retire]
  destructive_requires_approval: true
`), 0o644))

	t.Setenv(StateRootEnv, filepath.Join(dir, "isolated"))
	cfg, err := Load(path)
	require.NoError(t, err)

	// Env wins over the file.
	assert.Equal(t, filepath.Join(dir, "isolated"), cfg.StateRoot)
	require.NotNil(t, cfg.Agent.Mission)
	assert.Equal(t, "watch the fleet", *cfg.Agent.Mission)
	require.NotNil(t, cfg.Agent.MaxActionsPerRun)
	assert.Equal(t, 3, *cfg.Agent.MaxActionsPerRun)
	assert.Contains(t, cfg.Policy.DenyActions, "autonomy.stage.retire")
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestOverridesApply(t *testing.T) {
	s := types.NewAgentState("a", types.StateDefaults{}, testNow)

	o := Overrides{
		Mission:             Ptr("new mission"),
		MaxActionsPerRun:    Ptr(7),
		DedupeWindowMinutes: Ptr(30),
		DailyCycleBudget:    Ptr(12),
		StaleTaskHours:      Ptr(48),
	}
	o.Apply(s, testNow)

	assert.Equal(t, "new mission", s.Mission)
	assert.Equal(t, 7, s.MaxActionsPerRun)
	assert.Equal(t, int64(30*60_000), s.DedupeWindowMs)
	assert.Equal(t, 12, s.Safety.DailyCycleBudget)
	assert.Equal(t, 48, s.Safety.StaleTaskHours)
}

func TestOverridesApplyClampsThroughSanitize(t *testing.T) {
	s := types.NewAgentState("a", types.StateDefaults{}, testNow)
	Overrides{MaxActionsPerRun: Ptr(500)}.Apply(s, testNow)
	assert.Equal(t, types.MaxActions, s.MaxActionsPerRun)
}

func TestOverridesPausedFlag(t *testing.T) {
	s := types.NewAgentState("a", types.StateDefaults{}, testNow)

	Overrides{Paused: Ptr(true)}.Apply(s, testNow)
	require.True(t, s.Paused)
	assert.Equal(t, types.PauseManual, s.PauseReason)
	assert.Equal(t, testNow, s.PausedAt)

	Overrides{Paused: Ptr(false)}.Apply(s, testNow)
	assert.False(t, s.Paused)
	assert.Empty(t, s.PauseReason)
}

func TestOverridesPausedFalseDoesNotClearBudgetPause(t *testing.T) {
	s := types.NewAgentState("a", types.StateDefaults{}, testNow)
	s.Paused = true
	s.PauseReason = types.PauseBudget
	s.PausedAt = testNow

	Overrides{Paused: Ptr(false)}.Apply(s, testNow)
	assert.True(t, s.Paused, "only manual pauses are cleared by the paused override")
}

func TestOverridesNilPointersLeaveStateAlone(t *testing.T) {
	s := types.NewAgentState("a", types.StateDefaults{Mission: "keep"}, testNow)
	before := *s
	Overrides{}.Apply(s, testNow)
	assert.Equal(t, before.Mission, s.Mission)
	assert.Equal(t, before.MaxActionsPerRun, s.MaxActionsPerRun)
}
