// Package config holds engine configuration: full defaults plus a partial
// overrides record. Every field is explicitly optional with a defined
// default; there are no ad-hoc property bags.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"autonomyd/internal/types"
)

// StateRootEnv redirects the state root, primarily for test isolation.
const StateRootEnv = "AUTONOMYD_STATE_ROOT"

// Config is the resolved engine configuration.
type Config struct {
	// StateRoot is the directory under which per-agent state directories
	// live, default <config-root>/autonomy.
	StateRoot string `yaml:"state_root"`

	// Agent holds the defaults applied when an agent state document is
	// created, and the overrides reconciled on every Prepare.
	Agent Overrides `yaml:"agent"`

	// Policy configures the policy runtime.
	Policy PolicyConfig `yaml:"policy"`

	// Canary configures the canary evaluator.
	Canary CanaryConfig `yaml:"canary"`

	// Promotion configures the promotion gates.
	Promotion PromotionConfig `yaml:"promotion"`

	// ApprovalTTLMs is how long a granted operator approval stays valid.
	ApprovalTTLMs int64 `yaml:"approval_ttl_ms"`
}

// Overrides is the partial per-agent configuration accepted by Prepare.
// Nil pointers mean "leave the persisted value alone".
type Overrides struct {
	Mission   *string `yaml:"mission,omitempty" json:"mission,omitempty"`
	GoalsFile *string `yaml:"goals_file,omitempty" json:"goalsFile,omitempty"`
	TasksFile *string `yaml:"tasks_file,omitempty" json:"tasksFile,omitempty"`
	LogFile   *string `yaml:"log_file,omitempty" json:"logFile,omitempty"`

	MaxActionsPerRun    *int   `yaml:"max_actions_per_run,omitempty" json:"maxActionsPerRun,omitempty"`
	DedupeWindowMinutes *int   `yaml:"dedupe_window_minutes,omitempty" json:"dedupeWindowMinutes,omitempty"`
	MaxQueuedEvents     *int   `yaml:"max_queued_events,omitempty" json:"maxQueuedEvents,omitempty"`
	DailyTokenBudget    *int64 `yaml:"daily_token_budget,omitempty" json:"dailyTokenBudget,omitempty"`
	DailyCycleBudget    *int   `yaml:"daily_cycle_budget,omitempty" json:"dailyCycleBudget,omitempty"`

	MaxConsecutiveErrors          *int  `yaml:"max_consecutive_errors,omitempty" json:"maxConsecutiveErrors,omitempty"`
	AutoPauseOnBudgetExhausted    *bool `yaml:"auto_pause_on_budget_exhausted,omitempty" json:"autoPauseOnBudgetExhausted,omitempty"`
	AutoResumeOnNewDayBudgetPause *bool `yaml:"auto_resume_on_new_day_budget_pause,omitempty" json:"autoResumeOnNewDayBudgetPause,omitempty"`
	ErrorPauseMinutes             *int  `yaml:"error_pause_minutes,omitempty" json:"errorPauseMinutes,omitempty"`
	StaleTaskHours                *int  `yaml:"stale_task_hours,omitempty" json:"staleTaskHours,omitempty"`
	EmitDailyReviewEvents         *bool `yaml:"emit_daily_review_events,omitempty" json:"emitDailyReviewEvents,omitempty"`
	EmitWeeklyReviewEvents        *bool `yaml:"emit_weekly_review_events,omitempty" json:"emitWeeklyReviewEvents,omitempty"`

	Paused *bool `yaml:"paused,omitempty" json:"paused,omitempty"`
}

// PolicyConfig configures the first-match policy rule table.
type PolicyConfig struct {
	DenyActions  []string `yaml:"deny_actions"`
	AllowActions []string `yaml:"allow_actions"`

	DestructiveRequiresApproval     bool `yaml:"destructive_requires_approval"`
	ReversibleWritesRequireApproval bool `yaml:"reversible_writes_require_approval"`

	PolicyVersion int `yaml:"policy_version"`
}

// CanaryConfig configures the regression thresholds.
type CanaryConfig struct {
	MaxErrorRate            float64 `yaml:"max_error_rate"`
	MaxLatencyRegressionPct float64 `yaml:"max_latency_regression_pct"`
}

// PromotionConfig configures the promotion gates.
type PromotionConfig struct {
	MinimumRecentCycles int     `yaml:"minimum_recent_cycles"`
	MaximumErrorRate    float64 `yaml:"maximum_error_rate"`
	MinimumEvalScore    float64 `yaml:"minimum_eval_score"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		StateRoot: defaultStateRoot(),
		Policy: PolicyConfig{
			DestructiveRequiresApproval:     true,
			ReversibleWritesRequireApproval: false,
			PolicyVersion:                   1,
		},
		Canary: CanaryConfig{
			MaxErrorRate:            0.2,
			MaxLatencyRegressionPct: 50,
		},
		Promotion: PromotionConfig{
			MinimumRecentCycles: 3,
			MaximumErrorRate:    0.2,
			MinimumEvalScore:    0.6,
		},
		ApprovalTTLMs: 24 * 60 * 60 * 1000,
	}
}

// Load reads configuration from a YAML file over the defaults. A missing
// file is not an error; the defaults are returned.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if root := os.Getenv(StateRootEnv); root != "" {
		c.StateRoot = root
	}
}

func (c *Config) normalize() {
	if c.StateRoot == "" {
		c.StateRoot = defaultStateRoot()
	}
	if c.Policy.PolicyVersion <= 0 {
		c.Policy.PolicyVersion = 1
	}
	if c.Canary.MaxErrorRate <= 0 {
		c.Canary.MaxErrorRate = 0.2
	}
	if c.Canary.MaxLatencyRegressionPct <= 0 {
		c.Canary.MaxLatencyRegressionPct = 50
	}
	if c.Promotion.MinimumRecentCycles <= 0 {
		c.Promotion.MinimumRecentCycles = 3
	}
	if c.Promotion.MaximumErrorRate <= 0 {
		c.Promotion.MaximumErrorRate = 0.2
	}
	if c.Promotion.MinimumEvalScore <= 0 {
		c.Promotion.MinimumEvalScore = 0.6
	}
	if c.ApprovalTTLMs <= 0 {
		c.ApprovalTTLMs = 24 * 60 * 60 * 1000
	}
}

func defaultStateRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".autonomyd", "autonomy")
	}
	return filepath.Join(home, ".autonomyd", "autonomy")
}

// Defaults converts the agent overrides into creation-time state defaults.
func (o Overrides) Defaults() types.StateDefaults {
	d := types.StateDefaults{}
	if o.Mission != nil {
		d.Mission = *o.Mission
	}
	if o.GoalsFile != nil {
		d.GoalsFile = *o.GoalsFile
	}
	if o.TasksFile != nil {
		d.TasksFile = *o.TasksFile
	}
	if o.LogFile != nil {
		d.LogFile = *o.LogFile
	}
	return d
}

// Apply overwrites persisted tunables with any explicitly set override and
// re-sanitizes the state. The paused flag only flips manual pauses: turning
// it on records a manual pause; turning it off clears one.
func (o Overrides) Apply(s *types.AgentState, nowMs int64) {
	if o.Mission != nil {
		s.Mission = *o.Mission
	}
	if o.GoalsFile != nil {
		s.GoalsFile = *o.GoalsFile
	}
	if o.TasksFile != nil {
		s.TasksFile = *o.TasksFile
	}
	if o.LogFile != nil {
		s.LogFile = *o.LogFile
	}
	if o.MaxActionsPerRun != nil {
		s.MaxActionsPerRun = *o.MaxActionsPerRun
	}
	if o.DedupeWindowMinutes != nil {
		s.DedupeWindowMs = int64(*o.DedupeWindowMinutes) * 60_000
	}
	if o.MaxQueuedEvents != nil {
		s.MaxQueuedEvents = *o.MaxQueuedEvents
	}
	if o.DailyTokenBudget != nil {
		s.Safety.DailyTokenBudget = *o.DailyTokenBudget
	}
	if o.DailyCycleBudget != nil {
		s.Safety.DailyCycleBudget = *o.DailyCycleBudget
	}
	if o.MaxConsecutiveErrors != nil {
		s.Safety.MaxConsecutiveErrors = *o.MaxConsecutiveErrors
	}
	if o.AutoPauseOnBudgetExhausted != nil {
		s.Safety.AutoPauseOnBudgetExhausted = *o.AutoPauseOnBudgetExhausted
	}
	if o.AutoResumeOnNewDayBudgetPause != nil {
		s.Safety.AutoResumeOnNewDayBudgetPause = *o.AutoResumeOnNewDayBudgetPause
	}
	if o.ErrorPauseMinutes != nil {
		s.Safety.ErrorPauseMinutes = *o.ErrorPauseMinutes
	}
	if o.StaleTaskHours != nil {
		s.Safety.StaleTaskHours = *o.StaleTaskHours
	}
	if o.EmitDailyReviewEvents != nil {
		s.Safety.EmitDailyReviewEvents = *o.EmitDailyReviewEvents
	}
	if o.EmitWeeklyReviewEvents != nil {
		s.Safety.EmitWeeklyReviewEvents = *o.EmitWeeklyReviewEvents
	}
	if o.Paused != nil {
		if *o.Paused && !s.Paused {
			s.Paused = true
			s.PauseReason = types.PauseManual
			s.PausedAt = nowMs
		} else if !*o.Paused && s.Paused && s.PauseReason == types.PauseManual {
			s.Paused = false
		}
	}
	s.Sanitize(nowMs)
}

// Ptr is a convenience for building override literals.
func Ptr[T any](v T) *T { return &v }
