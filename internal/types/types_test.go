package types

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNow = int64(1_700_000_000_000)

func TestNormalizeAgentID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already normal", "main-agent", "main-agent"},
		{"uppercase and spaces", "  Main Agent  ", "main-agent"},
		{"unsafe runes", "ops/agent#1", "ops-agent-1"},
		{"empty", "   ", "default"},
		{"only separators", "---", "default"},
		{"keeps dots and underscores", "team_a.prod", "team_a.prod"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAgentID(tt.in))
		})
	}
}

func TestDayAndWeekKeys(t *testing.T) {
	// 2026-08-24 12:00:00 UTC is a Monday in ISO week 35.
	ts := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, "2026-08-24", DayKey(ts))
	assert.Equal(t, "2026-W35", ISOWeekKey(ts))

	// Week keys straddle year boundaries per ISO 8601.
	ts = time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, "2026-W53", ISOWeekKey(ts))
}

func TestHashIDStable(t *testing.T) {
	a := HashID("queue.overflow:cron")
	b := HashID("queue.overflow:cron")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, HashID("queue.overflow:manual"))
}

func TestEffectiveDedupeKey(t *testing.T) {
	e := Event{ID: "id-1", Source: SourceCron, Type: "cron.tick"}
	assert.Equal(t, "id-1", e.EffectiveDedupeKey())

	e.DedupeKey = "  explicit  "
	assert.Equal(t, "explicit", e.EffectiveDedupeKey())

	e = Event{Source: SourceCron, Type: "cron.tick"}
	assert.Equal(t, "cron:cron.tick", e.EffectiveDedupeKey())
}

func TestNewAgentStateDefaults(t *testing.T) {
	s := NewAgentState("My Agent", StateDefaults{Mission: " keep the lights on "}, testNow)

	assert.Equal(t, CurrentStateVersion, s.Version)
	assert.Equal(t, "my-agent", s.AgentID)
	assert.Equal(t, "keep the lights on", s.Mission)
	assert.False(t, s.Paused)
	assert.Equal(t, StageDiscover, s.Augmentation.Stage)
	assert.Equal(t, DayKey(testNow), s.Budget.DayKey)
	assert.Equal(t, "AUTONOMY_GOALS.md", s.GoalsFile)
	assert.Equal(t, int64(DefaultDedupeWindowMs), s.DedupeWindowMs)
	assert.NotNil(t, s.Approvals)
	assert.NotNil(t, s.Dedupe)
	assert.NotNil(t, s.TaskSignals)
}

func TestSanitizeClampsAndCoerces(t *testing.T) {
	s := &AgentState{
		AgentID:          "x",
		MaxActionsPerRun: 9999,
		DedupeWindowMs:   1, // below minimum
		MaxQueuedEvents:  -4,
		Paused:           false,
		PauseReason:      PauseBudget, // must be cleared
		PausedAt:         testNow,
		Augmentation: Augmentation{
			Stage: Stage("warp"), // unknown stage
		},
	}
	s.Safety.MaxConsecutiveErrors = 5000
	s.Sanitize(testNow)

	assert.Equal(t, MaxActions, s.MaxActionsPerRun)
	assert.Equal(t, int64(MinDedupeWindowMs), s.DedupeWindowMs)
	assert.Equal(t, MinQueuedEvents, s.MaxQueuedEvents)
	assert.Equal(t, MaxConsecutiveErrorsCap, s.Safety.MaxConsecutiveErrors)
	assert.Equal(t, PauseReason(""), s.PauseReason)
	assert.Zero(t, s.PausedAt)
	assert.Equal(t, StageDiscover, s.Augmentation.Stage)
}

func TestSanitizePausedInvariant(t *testing.T) {
	s := NewAgentState("a", StateDefaults{}, testNow)
	s.Paused = true
	s.PauseReason = "bogus"
	s.PausedAt = 0
	s.Sanitize(testNow)

	assert.Equal(t, PauseManual, s.PauseReason)
	assert.Equal(t, testNow, s.PausedAt)
}

func TestSanitizeCapsCollections(t *testing.T) {
	s := NewAgentState("a", StateDefaults{}, testNow)
	for i := 0; i < MaxRecentEvents+25; i++ {
		s.RecentEvents = append(s.RecentEvents, Event{ID: "e", TS: int64(i)})
	}
	for i := 0; i < MaxTransitions+10; i++ {
		s.Augmentation.Transitions = append(s.Augmentation.Transitions, StageTransition{TS: int64(i)})
	}
	s.Sanitize(testNow)

	require.Len(t, s.RecentEvents, MaxRecentEvents)
	require.Len(t, s.Augmentation.Transitions, MaxTransitions)
	// The tail survives, the oldest entries are dropped.
	assert.Equal(t, int64(25), s.RecentEvents[0].TS)
}

func TestSanitizeKeepsTopRankedGapsAndCandidates(t *testing.T) {
	s := NewAgentState("a", StateDefaults{}, testNow)
	for i := 0; i < MaxGaps+15; i++ {
		s.Augmentation.Gaps = append(s.Augmentation.Gaps, Gap{
			Key: fmt.Sprintf("g-%d", i), Status: GapOpen, Score: 9000 - i,
			Severity: 50, Confidence: 0.5, Occurrences: 1,
			FirstSeenAt: testNow, LastSeenAt: testNow,
		})
	}
	for i := 0; i < MaxCandidates+5; i++ {
		s.Augmentation.Candidates = append(s.Augmentation.Candidates, SkillCandidate{
			ID: fmt.Sprintf("c-%d", i), Name: "autonomy-x", Status: CandidateProposed,
			Priority: 9000 - i, CreatedAt: testNow, UpdatedAt: testNow,
		})
	}
	s.Sanitize(testNow)

	// Both lists are persisted rank-descending; the lowest-ranked tail is
	// what gets evicted.
	require.Len(t, s.Augmentation.Gaps, MaxGaps)
	assert.Equal(t, "g-0", s.Augmentation.Gaps[0].Key)
	assert.Equal(t, fmt.Sprintf("g-%d", MaxGaps-1), s.Augmentation.Gaps[MaxGaps-1].Key)
	require.Len(t, s.Augmentation.Candidates, MaxCandidates)
	assert.Equal(t, "c-0", s.Augmentation.Candidates[0].ID)
	assert.Equal(t, fmt.Sprintf("c-%d", MaxCandidates-1), s.Augmentation.Candidates[MaxCandidates-1].ID)
}

func TestPruneDedupe(t *testing.T) {
	s := NewAgentState("a", StateDefaults{}, testNow)
	s.DedupeWindowMs = MinDedupeWindowMs
	horizon := s.DedupeWindowMs * 3

	s.Dedupe["fresh"] = testNow - 1
	s.Dedupe["stale"] = testNow - horizon - 1
	s.PruneDedupe(testNow, 3)

	assert.Contains(t, s.Dedupe, "fresh")
	assert.NotContains(t, s.Dedupe, "stale")
}

func TestPruneDedupeEvictsLeastRecentPastCap(t *testing.T) {
	s := NewAgentState("a", StateDefaults{}, testNow)
	s.DedupeWindowMs = MaxDedupeWindowMs
	for i := 0; i < MaxDedupeKeys+1; i++ {
		s.Dedupe[string(rune('a'))+"-"+time.UnixMilli(int64(i)).String()] = testNow - int64(i)
	}
	oldest := "victim"
	s.Dedupe[oldest] = testNow - int64(MaxDedupeKeys) - 100
	s.PruneDedupe(testNow, 3)

	assert.LessOrEqual(t, len(s.Dedupe), MaxDedupeKeys)
	assert.NotContains(t, s.Dedupe, oldest)
}

func TestRefreshBudgetWindow(t *testing.T) {
	s := NewAgentState("a", StateDefaults{}, testNow)
	s.Budget = BudgetWindow{DayKey: "2000-01-01", CyclesUsed: 99, TokensUsed: 12345}

	rolled := s.RefreshBudgetWindow(testNow)
	require.True(t, rolled)
	assert.Equal(t, DayKey(testNow), s.Budget.DayKey)
	assert.Zero(t, s.Budget.CyclesUsed)
	assert.Zero(t, s.Budget.TokensUsed)

	assert.False(t, s.RefreshBudgetWindow(testNow))
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(math.NaN()))
	assert.Equal(t, 0.0, Clamp01(-3))
	assert.Equal(t, 1.0, Clamp01(7))
	assert.Equal(t, 0.5, Clamp01(0.5))
}

func TestCounts(t *testing.T) {
	s := NewAgentState("a", StateDefaults{}, testNow)
	s.Augmentation.Gaps = []Gap{
		{Key: "k1", Status: GapOpen},
		{Key: "k2", Status: GapSuppressed},
	}
	s.Augmentation.Candidates = []SkillCandidate{
		{Status: CandidateVerified},
		{Status: CandidateRejected},
		{Status: CandidateVerified},
	}
	s.Tasks = []TaskEntry{
		{ID: "t1", Status: TaskBlocked},
		{ID: "t2", Status: TaskDone},
	}
	assert.Equal(t, 1, s.OpenGapCount())
	assert.Equal(t, 2, s.VerifiedCandidateCount())
	assert.Equal(t, 1, s.BlockedTaskCount())
}
