// Package types provides the shared data model for the autonomy engine.
// This package exists to break import cycles between the store, the phase
// machine, and the runtime orchestrator. Types here are foundational data
// structures with no dependencies beyond the standard library.
//
// All timestamps are Unix milliseconds. All strings are trimmed on ingress
// via Sanitize. Bounded collections carry their caps as package constants.
package types

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// CurrentStateVersion is the on-disk schema version of AgentState.
const CurrentStateVersion = 1

// =============================================================================
// COLLECTION CAPS
// =============================================================================

const (
	MaxGaps         = 200  // augmentation.gaps
	MaxCandidates   = 250  // augmentation.candidates
	MaxExperiments  = 100  // augmentation.activeExperiments
	MaxTransitions  = 200  // augmentation.transitions
	MaxGoals        = 500  // goals ring buffer
	MaxTasks        = 2000 // tasks ring buffer
	MaxRecentEvents = 50   // recentEvents ring buffer
	MaxRecentCycles = 50   // recentCycles ring buffer
	MaxDedupeKeys   = 5000 // dedupe map entries
	MaxEvidence     = 10   // evidence strings per gap
)

// Tunable bounds.
const (
	MinActionsPerRun = 1
	MaxActions       = 20

	MinDedupeWindowMs     = 60_000     // 1 minute
	MaxDedupeWindowMs     = 86_400_000 // 24 hours
	DefaultDedupeWindowMs = 600_000    // 10 minutes

	MinQueuedEvents     = 1
	MaxQueuedEventsCap  = 500
	DefaultQueuedEvents = 50

	MinConsecutiveErrors     = 1
	MaxConsecutiveErrorsCap  = 100
	DefaultConsecutiveErrors = 5

	MinErrorPauseMinutes     = 1
	MaxErrorPauseMinutes     = 1440
	DefaultErrorPauseMinutes = 60

	MinStaleTaskHours     = 1
	MaxStaleTaskHours     = 720
	DefaultStaleTaskHours = 24
)

// =============================================================================
// ENUMS
// =============================================================================

// Stage is one of the nine positions in the augmentation FSM.
type Stage string

const (
	StageDiscover   Stage = "discover"
	StageDesign     Stage = "design"
	StageSynthesize Stage = "synthesize"
	StageVerify     Stage = "verify"
	StageCanary     Stage = "canary"
	StagePromote    Stage = "promote"
	StageObserve    Stage = "observe"
	StageLearn      Stage = "learn"
	StageRetire     Stage = "retire"
)

// Stages lists the FSM cycle in order. The successor of the last stage is
// the first stage.
var Stages = []Stage{
	StageDiscover, StageDesign, StageSynthesize, StageVerify, StageCanary,
	StagePromote, StageObserve, StageLearn, StageRetire,
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	for _, st := range Stages {
		if s == st {
			return true
		}
	}
	return false
}

// ExecutionClass is the risk band of an action.
type ExecutionClass string

const (
	ClassReadOnly        ExecutionClass = "read_only"
	ClassReversibleWrite ExecutionClass = "reversible_write"
	ClassDestructive     ExecutionClass = "destructive"
)

// PauseReason explains why an agent is paused.
type PauseReason string

const (
	PauseManual PauseReason = "manual"
	PauseBudget PauseReason = "budget"
	PauseErrors PauseReason = "errors"
)

// EventSource identifies where an event originated.
type EventSource string

const (
	SourceCron     EventSource = "cron"
	SourceWebhook  EventSource = "webhook"
	SourceEmail    EventSource = "email"
	SourceSubagent EventSource = "subagent"
	SourceManual   EventSource = "manual"
)

// ValidEventSource reports whether s is a known event source.
func ValidEventSource(s EventSource) bool {
	switch s {
	case SourceCron, SourceWebhook, SourceEmail, SourceSubagent, SourceManual:
		return true
	}
	return false
}

// GapCategory classifies a capability gap.
type GapCategory string

const (
	GapCapability  GapCategory = "capability"
	GapQuality     GapCategory = "quality"
	GapReliability GapCategory = "reliability"
	GapSafety      GapCategory = "safety"
	GapCost        GapCategory = "cost"
	GapLatency     GapCategory = "latency"
	GapUnknown     GapCategory = "unknown"
)

// GapStatus is the lifecycle state of a gap.
type GapStatus string

const (
	GapOpen       GapStatus = "open"
	GapPlanned    GapStatus = "planned"
	GapAddressed  GapStatus = "addressed"
	GapSuppressed GapStatus = "suppressed"
)

// CandidateStatus is the lifecycle state of a skill candidate.
type CandidateStatus string

const (
	CandidateProposed CandidateStatus = "candidate"
	CandidatePlanned  CandidateStatus = "planned"
	CandidateVerified CandidateStatus = "verified"
	CandidateRejected CandidateStatus = "rejected"
)

// LedgerEventType is the type of an audit ledger entry.
type LedgerEventType string

const (
	LedgerPhaseEnter      LedgerEventType = "phase_enter"
	LedgerPhaseExit       LedgerEventType = "phase_exit"
	LedgerPolicyDenied    LedgerEventType = "policy_denied"
	LedgerDiscoveryUpdate LedgerEventType = "discovery_update"
	LedgerCandidateUpdate LedgerEventType = "candidate_update"
	LedgerPromotion       LedgerEventType = "promotion"
	LedgerRollback        LedgerEventType = "rollback"
)

// CycleStatus is the outcome a caller reports for one cycle.
type CycleStatus string

const (
	CycleOK      CycleStatus = "ok"
	CycleError   CycleStatus = "error"
	CycleSkipped CycleStatus = "skipped"
)

// TaskStatus is the workflow state of a tracked task.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskInProgress TaskStatus = "in-progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskDone       TaskStatus = "done"
)

// =============================================================================
// EVENTS
// =============================================================================

// Event is one queued or synthetic discovery input.
type Event struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agentId,omitempty"`
	Source    EventSource    `json:"source"`
	Type      string         `json:"type"`
	TS        int64          `json:"ts"`
	DedupeKey string         `json:"dedupeKey,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EffectiveDedupeKey resolves the dedupe key for an event.
// Priority: explicit dedupeKey, else event id, else "source:type".
func (e Event) EffectiveDedupeKey() string {
	if k := strings.TrimSpace(e.DedupeKey); k != "" {
		return k
	}
	if e.ID != "" {
		return e.ID
	}
	return string(e.Source) + ":" + e.Type
}

// PayloadString extracts a non-empty trimmed string from the payload.
func (e Event) PayloadString(key string) (string, bool) {
	if e.Payload == nil {
		return "", false
	}
	s, ok := e.Payload[key].(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

// =============================================================================
// GAPS AND CANDIDATES
// =============================================================================

// Gap is a recurring, ranked indication that the agent lacks capability in
// some area. The id is the 16-hex SHA-1 prefix of the source-qualified key.
type Gap struct {
	ID          string      `json:"id"`
	Key         string      `json:"key"`
	Title       string      `json:"title"`
	Category    GapCategory `json:"category"`
	Status      GapStatus   `json:"status"`
	Severity    int         `json:"severity"`   // [0,100]
	Confidence  float64     `json:"confidence"` // [0,1]
	Score       int         `json:"score"`      // [0,10000]
	Occurrences int         `json:"occurrences"`
	FirstSeenAt int64       `json:"firstSeenAt"`
	LastSeenAt  int64       `json:"lastSeenAt"`
	LastSource  string      `json:"lastSource"`
	Evidence    []string    `json:"evidence,omitempty"`
}

// CandidateSafety declares the risk envelope of a candidate skill.
type CandidateSafety struct {
	ExecutionClass ExecutionClass `json:"executionClass"`
	Constraints    []string       `json:"constraints"`
}

// SkillCandidate is a proposed new skill linked to one gap.
type SkillCandidate struct {
	ID          string          `json:"id"`
	SourceGapID string          `json:"sourceGapId"`
	Name        string          `json:"name"`
	Intent      string          `json:"intent"`
	Status      CandidateStatus `json:"status"`
	Priority    int             `json:"priority"` // [0,10000]
	CreatedAt   int64           `json:"createdAt"`
	UpdatedAt   int64           `json:"updatedAt"`
	Safety      CandidateSafety `json:"safety"`
	Tests       []string        `json:"tests"`
}

// =============================================================================
// LEDGER
// =============================================================================

// LedgerEntry is one append-only audit record. Entries are never mutated or
// deleted by the engine; only appended.
type LedgerEntry struct {
	ID            string          `json:"id"`
	AgentID       string          `json:"agentId"`
	TS            int64           `json:"ts"`
	CorrelationID string          `json:"correlationId"`
	EventType     LedgerEventType `json:"eventType"`
	Stage         Stage           `json:"stage"`
	Actor         string          `json:"actor"`
	Summary       string          `json:"summary"`
	Evidence      []string        `json:"evidence,omitempty"`
}

// =============================================================================
// AGENT STATE
// =============================================================================

// SafetyPolicy holds the per-agent safety tunables.
type SafetyPolicy struct {
	DailyTokenBudget              int64 `json:"dailyTokenBudget,omitempty"`
	DailyCycleBudget              int   `json:"dailyCycleBudget,omitempty"`
	MaxConsecutiveErrors          int   `json:"maxConsecutiveErrors"`
	AutoPauseOnBudgetExhausted    bool  `json:"autoPauseOnBudgetExhausted"`
	AutoResumeOnNewDayBudgetPause bool  `json:"autoResumeOnNewDayBudgetPause"`
	ErrorPauseMinutes             int   `json:"errorPauseMinutes"`
	StaleTaskHours                int   `json:"staleTaskHours"`
	EmitDailyReviewEvents         bool  `json:"emitDailyReviewEvents"`
	EmitWeeklyReviewEvents        bool  `json:"emitWeeklyReviewEvents"`
}

// BudgetWindow accumulates usage over one UTC day.
type BudgetWindow struct {
	DayKey     string `json:"dayKey"` // YYYY-MM-DD UTC
	CyclesUsed int    `json:"cyclesUsed"`
	TokensUsed int64  `json:"tokensUsed"`
}

// ReviewMarks tracks which periodic review events were already emitted.
type ReviewMarks struct {
	LastDailyDayKey string `json:"lastDailyDayKey,omitempty"`
	LastWeeklyKey   string `json:"lastWeeklyKey,omitempty"` // ISO week, e.g. 2026-W34
}

// StageTransition is one recorded FSM transition.
type StageTransition struct {
	From   Stage  `json:"from"`
	To     Stage  `json:"to"`
	TS     int64  `json:"ts"`
	Reason string `json:"reason"`
}

// Augmentation is the self-augmentation FSM state.
type Augmentation struct {
	Stage                Stage             `json:"stage"`
	StageEnteredAt       int64             `json:"stageEnteredAt"`
	LastTransitionAt     int64             `json:"lastTransitionAt"`
	LastTransitionReason string            `json:"lastTransitionReason,omitempty"`
	PhaseRunCount        int               `json:"phaseRunCount"`
	PolicyVersion        int               `json:"policyVersion"`
	LastEvalScore        *float64          `json:"lastEvalScore,omitempty"` // [0,1]
	LastEvalAt           int64             `json:"lastEvalAt,omitempty"`
	Gaps                 []Gap             `json:"gaps,omitempty"`
	Candidates           []SkillCandidate  `json:"candidates,omitempty"`
	ActiveExperiments    []string          `json:"activeExperiments,omitempty"`
	Transitions          []StageTransition `json:"transitions,omitempty"`
}

// Approval records one operator approval with an expiry.
type Approval struct {
	Action     string `json:"action"`
	ApprovedAt int64  `json:"approvedAt"`
	ExpiresAt  int64  `json:"expiresAt"`
	Source     string `json:"source"`
}

// GoalEntry is one tracked goal.
type GoalEntry struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"createdAt"`
}

// TaskEntry is one tracked task.
type TaskEntry struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Status    TaskStatus `json:"status"`
	CreatedAt int64      `json:"createdAt"`
	UpdatedAt int64      `json:"updatedAt"`
}

// CycleRecord summarizes one completed cycle.
type CycleRecord struct {
	Status     CycleStatus `json:"status"`
	StartedAt  int64       `json:"startedAt"`
	DurationMs int64       `json:"durationMs"`
	Summary    string      `json:"summary,omitempty"`
	Error      string      `json:"error,omitempty"`
	Events     int         `json:"events"`
}

// Metrics accumulates lifetime cycle counters.
type Metrics struct {
	Cycles            int    `json:"cycles"`
	OK                int    `json:"ok"`
	Error             int    `json:"error"`
	Skipped           int    `json:"skipped"`
	ConsecutiveErrors int    `json:"consecutiveErrors"`
	LastCycleAt       int64  `json:"lastCycleAt,omitempty"`
	LastError         string `json:"lastError,omitempty"`
}

// AgentState is the single durable document per agent.
type AgentState struct {
	Version     int         `json:"version"`
	AgentID     string      `json:"agentId"`
	Mission     string      `json:"mission,omitempty"`
	Paused      bool        `json:"paused"`
	PauseReason PauseReason `json:"pauseReason,omitempty"`
	PausedAt    int64       `json:"pausedAt,omitempty"`

	GoalsFile string `json:"goalsFile"`
	TasksFile string `json:"tasksFile"`
	LogFile   string `json:"logFile"`

	MaxActionsPerRun int   `json:"maxActionsPerRun"`
	DedupeWindowMs   int64 `json:"dedupeWindowMs"`
	MaxQueuedEvents  int   `json:"maxQueuedEvents"`

	Safety SafetyPolicy `json:"safety"`
	Budget BudgetWindow `json:"budget"`
	Review ReviewMarks  `json:"review"`

	Augmentation Augmentation        `json:"augmentation"`
	Approvals    map[string]Approval `json:"approvals,omitempty"`
	TaskSignals  map[string]string   `json:"taskSignals,omitempty"` // task id -> day key
	Dedupe       map[string]int64    `json:"dedupe,omitempty"`      // dedupe key -> last admit ts

	Goals        []GoalEntry   `json:"goals,omitempty"`
	Tasks        []TaskEntry   `json:"tasks,omitempty"`
	RecentEvents []Event       `json:"recentEvents,omitempty"`
	RecentCycles []CycleRecord `json:"recentCycles,omitempty"`

	Metrics Metrics `json:"metrics"`
}

// =============================================================================
// CONSTRUCTION AND SANITIZATION
// =============================================================================

// StateDefaults carries the optional seed values used when a state document
// is created for the first time.
type StateDefaults struct {
	Mission   string
	GoalsFile string
	TasksFile string
	LogFile   string
	Safety    *SafetyPolicy
}

// NewAgentState builds a fully-initialized default state for an agent.
func NewAgentState(agentID string, d StateDefaults, nowMs int64) *AgentState {
	s := &AgentState{
		Version:          CurrentStateVersion,
		AgentID:          NormalizeAgentID(agentID),
		Mission:          strings.TrimSpace(d.Mission),
		GoalsFile:        "AUTONOMY_GOALS.md",
		TasksFile:        "AUTONOMY_TASKS.md",
		LogFile:          "AUTONOMY_LOG.md",
		MaxActionsPerRun: 5,
		DedupeWindowMs:   DefaultDedupeWindowMs,
		MaxQueuedEvents:  DefaultQueuedEvents,
		Safety: SafetyPolicy{
			MaxConsecutiveErrors:          DefaultConsecutiveErrors,
			AutoPauseOnBudgetExhausted:    true,
			AutoResumeOnNewDayBudgetPause: true,
			ErrorPauseMinutes:             DefaultErrorPauseMinutes,
			StaleTaskHours:                DefaultStaleTaskHours,
			EmitDailyReviewEvents:         true,
			EmitWeeklyReviewEvents:        true,
		},
		Budget: BudgetWindow{DayKey: DayKey(nowMs)},
		Augmentation: Augmentation{
			Stage:            StageDiscover,
			StageEnteredAt:   nowMs,
			LastTransitionAt: nowMs,
			PolicyVersion:    1,
		},
		Approvals:   map[string]Approval{},
		TaskSignals: map[string]string{},
		Dedupe:      map[string]int64{},
	}
	if d.GoalsFile != "" {
		s.GoalsFile = d.GoalsFile
	}
	if d.TasksFile != "" {
		s.TasksFile = d.TasksFile
	}
	if d.LogFile != "" {
		s.LogFile = d.LogFile
	}
	if d.Safety != nil {
		s.Safety = *d.Safety
	}
	s.Sanitize(nowMs)
	return s
}

// Sanitize coerces unknown or invalid fields to defaults, clamps tunables,
// slices bounded collections to their caps, and enforces the pause
// invariant. It never leaves the state partially initialized.
func (s *AgentState) Sanitize(nowMs int64) {
	if s.Version <= 0 {
		s.Version = CurrentStateVersion
	}
	s.AgentID = NormalizeAgentID(s.AgentID)
	s.Mission = strings.TrimSpace(s.Mission)

	if strings.TrimSpace(s.GoalsFile) == "" {
		s.GoalsFile = "AUTONOMY_GOALS.md"
	}
	if strings.TrimSpace(s.TasksFile) == "" {
		s.TasksFile = "AUTONOMY_TASKS.md"
	}
	if strings.TrimSpace(s.LogFile) == "" {
		s.LogFile = "AUTONOMY_LOG.md"
	}

	s.MaxActionsPerRun = clampInt(s.MaxActionsPerRun, MinActionsPerRun, MaxActions, 5)
	s.DedupeWindowMs = clampInt64(s.DedupeWindowMs, MinDedupeWindowMs, MaxDedupeWindowMs, DefaultDedupeWindowMs)
	s.MaxQueuedEvents = clampInt(s.MaxQueuedEvents, MinQueuedEvents, MaxQueuedEventsCap, DefaultQueuedEvents)

	s.Safety.MaxConsecutiveErrors = clampInt(s.Safety.MaxConsecutiveErrors, MinConsecutiveErrors, MaxConsecutiveErrorsCap, DefaultConsecutiveErrors)
	s.Safety.ErrorPauseMinutes = clampInt(s.Safety.ErrorPauseMinutes, MinErrorPauseMinutes, MaxErrorPauseMinutes, DefaultErrorPauseMinutes)
	s.Safety.StaleTaskHours = clampInt(s.Safety.StaleTaskHours, MinStaleTaskHours, MaxStaleTaskHours, DefaultStaleTaskHours)
	if s.Safety.DailyTokenBudget < 0 {
		s.Safety.DailyTokenBudget = 0
	}
	if s.Safety.DailyCycleBudget < 0 {
		s.Safety.DailyCycleBudget = 0
	}

	// paused == false implies reason and pausedAt are unset.
	if !s.Paused {
		s.PauseReason = ""
		s.PausedAt = 0
	} else {
		switch s.PauseReason {
		case PauseManual, PauseBudget, PauseErrors:
		default:
			s.PauseReason = PauseManual
		}
		if s.PausedAt <= 0 {
			s.PausedAt = nowMs
		}
	}

	if s.Budget.DayKey == "" {
		s.Budget = BudgetWindow{DayKey: DayKey(nowMs)}
	}
	if s.Budget.CyclesUsed < 0 {
		s.Budget.CyclesUsed = 0
	}
	if s.Budget.TokensUsed < 0 {
		s.Budget.TokensUsed = 0
	}

	if !s.Augmentation.Stage.Valid() {
		s.Augmentation.Stage = StageDiscover
	}
	if s.Augmentation.StageEnteredAt <= 0 {
		s.Augmentation.StageEnteredAt = nowMs
	}
	if s.Augmentation.LastTransitionAt <= 0 {
		s.Augmentation.LastTransitionAt = nowMs
	}
	if s.Augmentation.PolicyVersion <= 0 {
		s.Augmentation.PolicyVersion = 1
	}
	if s.Augmentation.LastEvalScore != nil {
		v := Clamp01(*s.Augmentation.LastEvalScore)
		s.Augmentation.LastEvalScore = &v
	}
	for i := range s.Augmentation.Gaps {
		sanitizeGap(&s.Augmentation.Gaps[i])
	}
	for i := range s.Augmentation.Candidates {
		sanitizeCandidate(&s.Augmentation.Candidates[i])
	}
	s.Augmentation.Gaps = capHead(s.Augmentation.Gaps, MaxGaps)
	s.Augmentation.Candidates = capHead(s.Augmentation.Candidates, MaxCandidates)
	s.Augmentation.ActiveExperiments = capTail(s.Augmentation.ActiveExperiments, MaxExperiments)
	s.Augmentation.Transitions = capTail(s.Augmentation.Transitions, MaxTransitions)

	if s.Approvals == nil {
		s.Approvals = map[string]Approval{}
	}
	if s.TaskSignals == nil {
		s.TaskSignals = map[string]string{}
	}
	if s.Dedupe == nil {
		s.Dedupe = map[string]int64{}
	}

	s.Goals = capTail(s.Goals, MaxGoals)
	s.Tasks = capTail(s.Tasks, MaxTasks)
	s.RecentEvents = capTail(s.RecentEvents, MaxRecentEvents)
	s.RecentCycles = capTail(s.RecentCycles, MaxRecentCycles)

	if s.Metrics.Cycles < 0 {
		s.Metrics.Cycles = 0
	}
	if s.Metrics.ConsecutiveErrors < 0 {
		s.Metrics.ConsecutiveErrors = 0
	}
}

func sanitizeGap(g *Gap) {
	g.Key = strings.TrimSpace(g.Key)
	g.Title = strings.TrimSpace(g.Title)
	if g.ID == "" {
		g.ID = HashID(g.Key)
	}
	switch g.Category {
	case GapCapability, GapQuality, GapReliability, GapSafety, GapCost, GapLatency, GapUnknown:
	default:
		g.Category = GapUnknown
	}
	switch g.Status {
	case GapOpen, GapPlanned, GapAddressed, GapSuppressed:
	default:
		g.Status = GapOpen
	}
	g.Severity = clampRangeInt(g.Severity, 0, 100)
	g.Confidence = Clamp01(g.Confidence)
	g.Score = clampRangeInt(g.Score, 0, 10000)
	if g.Occurrences < 1 {
		g.Occurrences = 1
	}
	g.Evidence = capTail(g.Evidence, MaxEvidence)
}

func sanitizeCandidate(c *SkillCandidate) {
	c.Name = strings.TrimSpace(c.Name)
	c.Intent = strings.TrimSpace(c.Intent)
	switch c.Status {
	case CandidateProposed, CandidatePlanned, CandidateVerified, CandidateRejected:
	default:
		c.Status = CandidateProposed
	}
	c.Priority = clampRangeInt(c.Priority, 0, 10000)
	switch c.Safety.ExecutionClass {
	case ClassReadOnly, ClassReversibleWrite, ClassDestructive:
	default:
		c.Safety.ExecutionClass = ClassReversibleWrite
	}
}

// PruneDedupe drops dedupe entries older than pruneFactor times the dedupe
// window, then evicts least-recent entries past the map cap.
func (s *AgentState) PruneDedupe(nowMs int64, pruneFactor int64) {
	horizon := nowMs - s.DedupeWindowMs*pruneFactor
	for k, ts := range s.Dedupe {
		if ts < horizon {
			delete(s.Dedupe, k)
		}
	}
	for len(s.Dedupe) > MaxDedupeKeys {
		oldestKey := ""
		oldestTS := int64(0)
		for k, ts := range s.Dedupe {
			if oldestKey == "" || ts < oldestTS || (ts == oldestTS && k < oldestKey) {
				oldestKey, oldestTS = k, ts
			}
		}
		delete(s.Dedupe, oldestKey)
	}
}

// RefreshBudgetWindow resets usage counters when the UTC day rolled over.
// Returns true when a new window started.
func (s *AgentState) RefreshBudgetWindow(nowMs int64) bool {
	day := DayKey(nowMs)
	if s.Budget.DayKey == day {
		return false
	}
	s.Budget = BudgetWindow{DayKey: day}
	return true
}

// VerifiedCandidateCount counts candidates in the verified state.
func (s *AgentState) VerifiedCandidateCount() int {
	n := 0
	for _, c := range s.Augmentation.Candidates {
		if c.Status == CandidateVerified {
			n++
		}
	}
	return n
}

// OpenGapCount counts gaps in the open state.
func (s *AgentState) OpenGapCount() int {
	n := 0
	for _, g := range s.Augmentation.Gaps {
		if g.Status == GapOpen {
			n++
		}
	}
	return n
}

// BlockedTaskCount counts tasks in the blocked state.
func (s *AgentState) BlockedTaskCount() int {
	n := 0
	for _, t := range s.Tasks {
		if t.Status == TaskBlocked {
			n++
		}
	}
	return n
}

// =============================================================================
// HELPERS
// =============================================================================

// NormalizeAgentID lowercases, trims, and replaces unsafe characters so the
// id is stable and usable as a directory name.
func NormalizeAgentID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-.")
	if out == "" {
		return "default"
	}
	return out
}

// DayKey returns the UTC calendar day for a millisecond timestamp.
func DayKey(nowMs int64) string {
	return time.UnixMilli(nowMs).UTC().Format("2006-01-02")
}

// ISOWeekKey returns the UTC ISO week key, e.g. "2026-W34".
func ISOWeekKey(nowMs int64) string {
	year, week := time.UnixMilli(nowMs).UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// HashID returns the 16-hex SHA-1 prefix of a key. Used for gap and signal
// ids so identical keys always map to the same id.
func HashID(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// Clamp01 clamps v to [0,1]. NaN clamps to 0.
func Clamp01(v float64) float64 {
	if !(v > 0) { // catches NaN and negatives
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// clampInt treats zero as unset and substitutes the default.
func clampInt(v, lo, hi, def int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt64(v, lo, hi, def int64) int64 {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampRangeInt clamps without a default; zero is a legal value.
func clampRangeInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// capTail keeps at most n of the most recent entries (the slice tail).
func capTail[T any](in []T, n int) []T {
	if len(in) <= n {
		return in
	}
	return in[len(in)-n:]
}

// capHead keeps the first n entries. Rank-descending lists drop their
// lowest-ranked tail; ring buffers use capTail instead.
func capHead[T any](in []T, n int) []T {
	if len(in) <= n {
		return in
	}
	return in[:n]
}
