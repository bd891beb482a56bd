package runtime

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"autonomyd/internal/canary"
	"autonomyd/internal/config"
	"autonomyd/internal/forge"
	"autonomyd/internal/gaps"
	"autonomyd/internal/horizon"
	"autonomyd/internal/phase"
	"autonomyd/internal/policy"
	"autonomyd/internal/promotion"
	"autonomyd/internal/signal"
	"autonomyd/internal/store"
	"autonomyd/internal/types"
)

// Resume reasons recorded when a pause clears automatically.
const (
	ResumeBudgetRollover      = "budget-window-rollover"
	ResumeErrorCooldownElapse = "error-cooldown-elapsed"
)

// PrepareParams describes one cycle to prepare.
type PrepareParams struct {
	AgentID      string
	WorkspaceDir string
	Overrides    *config.Overrides
	NowMs        int64
}

// PrepareResult is either a prepared cycle or a skip with a reason.
type PrepareResult struct {
	Skipped    bool
	SkipReason string

	State  *types.AgentState
	Prompt string
	Events []types.Event

	DroppedDuplicates int
	DroppedInvalid    int
	DroppedOverflow   int
	Remaining         int

	CycleStartedAt int64
	LockToken      string
}

// Prepare runs the full pre-cycle pipeline. The returned lock token must be
// handed to Finalize; a skipped result holds no lock.
func (e *Engine) Prepare(p PrepareParams) (*PrepareResult, error) {
	now := p.NowMs
	agentID := types.NormalizeAgentID(p.AgentID)
	log := e.log.With(zap.String("agent", agentID))

	overrides := mergeOverrides(e.cfg.Agent, p.Overrides)
	state, err := e.store.LoadState(agentID, overrides.Defaults(), now)
	if err != nil {
		return nil, err
	}
	overrides.Apply(state, now)
	state.RefreshBudgetWindow(now)

	// Auto-resume before the paused check so a rolled-over budget window or
	// an elapsed error cooldown does not leave the agent stuck.
	resumedReason := e.maybeAutoResume(state, now)

	if state.Paused {
		if err := e.store.SaveState(state); err != nil {
			return nil, err
		}
		return &PrepareResult{
			Skipped:    true,
			SkipReason: fmt.Sprintf("autonomy paused (%s)", state.PauseReason),
			State:      state,
		}, nil
	}

	if exhausted, what := budgetExhausted(state); exhausted {
		if state.Safety.AutoPauseOnBudgetExhausted {
			state.Paused = true
			state.PauseReason = types.PauseBudget
			state.PausedAt = now
		}
		if err := e.store.SaveState(state); err != nil {
			return nil, err
		}
		return &PrepareResult{
			Skipped:    true,
			SkipReason: fmt.Sprintf("daily %s budget exhausted", what),
			State:      state,
		}, nil
	}

	lockToken, err := e.store.AcquireRunLock(agentID, now)
	if err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			return &PrepareResult{
				Skipped:    true,
				SkipReason: "autonomy run already in progress",
				State:      state,
			}, nil
		}
		return nil, err
	}
	// From here on the lock must be released on any error path.
	ok := false
	defer func() {
		if !ok {
			_ = e.store.ReleaseRunLock(agentID, lockToken)
		}
	}()

	if err := ensureWorkspaceFiles(p.WorkspaceDir, state); err != nil {
		return nil, err
	}

	drain, err := e.store.DrainEvents(store.DrainParams{
		AgentID:   agentID,
		State:     state,
		MaxEvents: state.MaxQueuedEvents,
		NowMs:     now,
	})
	if err != nil {
		return nil, err
	}

	events := e.buildCycleEvents(state, drain, resumedReason, now)
	events = e.invokeSignalHook(p, state, events, now)
	events = e.consumeApprovalGrants(state, events, now)

	if err := e.runStageWork(p.WorkspaceDir, state, events, now); err != nil {
		return nil, err
	}

	// Recent events must be in place before the stage decision so denial
	// and phase diagnostics append after them.
	state.RecentEvents = tailEvents(events, types.MaxRecentEvents)
	if err := e.advanceStage(state, now); err != nil {
		return nil, err
	}

	state.Augmentation.PhaseRunCount++
	if err := e.store.SaveState(state); err != nil {
		return nil, err
	}

	log.Debug("cycle prepared",
		zap.String("stage", string(state.Augmentation.Stage)),
		zap.Int("events", len(events)),
		zap.Int("dropped_duplicates", drain.DroppedDuplicates),
		zap.Int("remaining", drain.Remaining))

	ok = true
	return &PrepareResult{
		State:             state,
		Prompt:            buildPrompt(state, events),
		Events:            events,
		DroppedDuplicates: drain.DroppedDuplicates,
		DroppedInvalid:    drain.DroppedInvalid,
		DroppedOverflow:   drain.DroppedOverflow,
		Remaining:         drain.Remaining,
		CycleStartedAt:    now,
		LockToken:         lockToken,
	}, nil
}

// maybeAutoResume clears budget and error pauses whose condition has
// passed. Returns the resume reason, empty when nothing resumed.
func (e *Engine) maybeAutoResume(state *types.AgentState, now int64) string {
	if !state.Paused {
		return ""
	}
	switch state.PauseReason {
	case types.PauseBudget:
		if !state.Safety.AutoResumeOnNewDayBudgetPause {
			return ""
		}
		if exhausted, _ := budgetExhausted(state); exhausted {
			return ""
		}
		state.Paused = false
		state.PauseReason = ""
		state.PausedAt = 0
		return ResumeBudgetRollover
	case types.PauseErrors:
		cooldown := int64(state.Safety.ErrorPauseMinutes) * 60_000
		if now-state.PausedAt < cooldown {
			return ""
		}
		state.Paused = false
		state.PauseReason = ""
		state.PausedAt = 0
		return ResumeErrorCooldownElapse
	default:
		return ""
	}
}

// budgetExhausted reports whether either daily budget is spent. A zero
// budget means unlimited.
func budgetExhausted(state *types.AgentState) (bool, string) {
	if state.Safety.DailyCycleBudget > 0 && state.Budget.CyclesUsed >= state.Safety.DailyCycleBudget {
		return true, "cycle"
	}
	if state.Safety.DailyTokenBudget > 0 && state.Budget.TokensUsed >= state.Safety.DailyTokenBudget {
		return true, "token"
	}
	return false, ""
}

// buildCycleEvents prepends the synthetic events for this cycle to the
// drained queue events: the tick, any resume, drop notices, due reviews,
// and per-task staleness signals deduped per day.
func (e *Engine) buildCycleEvents(state *types.AgentState, drain store.DrainResult, resumedReason string, now int64) []types.Event {
	// Synthetic events carry no id: the dedupe key, or the source:type
	// fallback, must stay stable across cycles so the gap registry
	// aggregates them instead of minting a fresh gap per tick.
	var events []types.Event
	add := func(eventType, dedupeKey string, payload map[string]any) {
		events = append(events, types.Event{
			AgentID:   state.AgentID,
			Source:    types.SourceCron,
			Type:      eventType,
			TS:        now,
			DedupeKey: dedupeKey,
			Payload:   payload,
		})
	}

	add(EventCronTick, "", nil)
	if resumedReason != "" {
		add(EventResume, "", map[string]any{"reason": resumedReason})
	}
	if drain.DroppedOverflow > 0 {
		add(EventQueueOverflow, "", map[string]any{"dropped": drain.DroppedOverflow})
	}
	if drain.DroppedInvalid > 0 {
		add(EventQueueInvalid, "", map[string]any{"dropped": drain.DroppedInvalid})
	}

	day := types.DayKey(now)
	if state.Safety.EmitDailyReviewEvents && state.Review.LastDailyDayKey != day {
		state.Review.LastDailyDayKey = day
		add(EventReviewDaily, "review-daily:"+day, nil)
	}
	week := types.ISOWeekKey(now)
	if state.Safety.EmitWeeklyReviewEvents && state.Review.LastWeeklyKey != week {
		state.Review.LastWeeklyKey = week
		add(EventReviewWeekly, "review-weekly:"+week, nil)
	}

	staleAge := int64(state.Safety.StaleTaskHours) * 3_600_000
	if state.TaskSignals == nil {
		state.TaskSignals = make(map[string]string)
	}
	for _, task := range state.Tasks {
		if task.Status != types.TaskBlocked && task.Status != types.TaskInProgress {
			continue
		}
		if now-task.UpdatedAt < staleAge {
			continue
		}
		if state.TaskSignals[task.ID] == day {
			continue
		}
		state.TaskSignals[task.ID] = day
		add(EventTaskStalePrefix+string(task.Status),
			fmt.Sprintf("task-stale:%s:%s", task.ID, day),
			map[string]any{"taskId": task.ID, "title": task.Title})
	}

	return append(events, drain.Events...)
}

// invokeSignalHook merges plugin-supplied signals into the cycle events.
func (e *Engine) invokeSignalHook(p PrepareParams, state *types.AgentState, events []types.Event, now int64) []types.Event {
	if e.hook == nil {
		return events
	}
	extra := e.hook(HookContext{
		AgentID:      state.AgentID,
		WorkspaceDir: p.WorkspaceDir,
		Stage:        state.Augmentation.Stage,
		NowMs:        now,
	}, events)
	for _, h := range extra {
		if strings.TrimSpace(h.Type) == "" {
			continue
		}
		source := h.Source
		if !types.ValidEventSource(source) {
			source = types.SourceSubagent
		}
		events = append(events, types.Event{
			ID:        uuid.NewString(),
			AgentID:   state.AgentID,
			Source:    source,
			Type:      h.Type,
			TS:        now,
			DedupeKey: h.DedupeKey,
			Payload:   h.Payload,
		})
	}
	return events
}

// consumeApprovalGrants turns approval-grant events into stored approvals.
// The grant itself never reaches the discovery pipeline; an applied notice
// replaces it.
func (e *Engine) consumeApprovalGrants(state *types.AgentState, events []types.Event, now int64) []types.Event {
	policy.PruneExpired(state, now)

	out := events[:0]
	for _, ev := range events {
		if ev.Type != EventApprovalGrant {
			out = append(out, ev)
			continue
		}
		action, ok := ev.PayloadString("action")
		if !ok {
			continue
		}
		policy.Grant(state, action, string(ev.Source), now, e.cfg.ApprovalTTLMs)
		out = append(out, types.Event{
			ID:      uuid.NewString(),
			AgentID: state.AgentID,
			Source:  types.SourceCron,
			Type:    EventApprovalApplied,
			TS:      now,
			Payload: map[string]any{"action": action},
		})
	}
	return out
}

// runStageWork runs the discovery pipeline every cycle and the stage-bound
// forge, canary, and eval passes.
func (e *Engine) runStageWork(workspaceDir string, state *types.AgentState, events []types.Event, now int64) error {
	a := &state.Augmentation

	signals := signal.Normalize(events)
	a.Gaps = gaps.Upsert(a.Gaps, signals, now)

	switch a.Stage {
	case types.StageDesign:
		before := len(a.Candidates)
		a.Candidates = forge.Plan(a.Gaps, a.Candidates, now)
		if added := len(a.Candidates) - before; added > 0 {
			e.appendLedger(state, types.LedgerCandidateUpdate,
				fmt.Sprintf("planned %d new skill candidates", added), nil, now)
		}

	case types.StageSynthesize:
		updated, err := forge.Synthesize(workspaceDir, a.Candidates, now)
		if err != nil {
			return err
		}
		a.Candidates = updated

	case types.StageVerify:
		updated, reports := forge.Verify(workspaceDir, a.Candidates, now)
		a.Candidates = updated
		for _, r := range reports {
			summary := fmt.Sprintf("verified candidate %s", r.Name)
			if !r.Passed {
				summary = fmt.Sprintf("rejected candidate %s: %s", r.Name, strings.Join(r.Codes, ","))
			}
			e.appendLedger(state, types.LedgerCandidateUpdate, summary, r.Details, now)
		}

	case types.StageCanary:
		res := canary.Evaluate(canary.Derive(state.RecentCycles, e.cfg.Canary))
		demoted := canary.Apply(state, res, now)
		if res.Status == canary.StatusRegressed {
			e.appendLedger(state, types.LedgerRollback,
				fmt.Sprintf("canary regressed, demoted %d candidates: %s", len(demoted), res.Reason),
				demoted, now)
		} else {
			e.appendLedger(state, types.LedgerPromotion,
				"canary healthy: "+res.Reason, nil, now)
		}

	case types.StagePromote:
		score := horizon.Score(horizon.DefaultPack(), horizon.DeriveFacts(state))
		a.LastEvalScore = &score
		a.LastEvalAt = now
	}
	return nil
}

// advanceStage resolves the next stage, applies the promotion gates and the
// policy check, and performs the transition with its diagnostics. A denial
// freezes the stage; it is never an error.
func (e *Engine) advanceStage(state *types.AgentState, now int64) error {
	a := &state.Augmentation
	current := a.Stage
	next := phase.ResolveNextStage(state)
	if next == current {
		return nil
	}

	reason := fmt.Sprintf("advance %s -> %s", current, next)

	if current == types.StagePromote {
		canaryRes := canary.Evaluate(canary.Derive(state.RecentCycles, e.cfg.Canary))
		evalScore := 0.0
		if a.LastEvalScore != nil {
			evalScore = *a.LastEvalScore
		}
		gate := promotion.Check(promotion.DeriveInputs(state, canaryRes.Status, evalScore), e.cfg.Promotion)
		if !gate.Passed {
			e.denyTransition(state, next, "promotion gates failed: "+gate.Reason(), now)
			return nil
		}
	}

	action := StageActionPrefix + string(next)
	approved := policy.Consume(state, action, now)
	decision := policy.Evaluate(policy.Request{
		Action:         action,
		ExecutionClass: phase.ExecutionClassForStage(next),
		Config:         e.cfg.Policy,
		Approved:       approved,
	})
	if !decision.Allowed {
		e.denyTransition(state, next, decision.Reason, now)
		return nil
	}

	stageDurationMs := now - a.StageEnteredAt
	if err := phase.TransitionStage(state, next, reason, now); err != nil {
		return err
	}

	e.appendLedger(state, types.LedgerPhaseExit,
		fmt.Sprintf("exited %s after %dms", current, stageDurationMs), nil, now)
	e.appendLedger(state, types.LedgerPhaseEnter,
		fmt.Sprintf("entered %s: %s", next, reason), nil, now)
	state.RecentEvents = tailEvents(append(state.RecentEvents,
		phaseEvent(state.AgentID, EventPhaseExit, current, stageDurationMs, now),
		phaseEvent(state.AgentID, EventPhaseEnter, next, 0, now)), types.MaxRecentEvents)
	return nil
}

// denyTransition freezes the stage and records the denial on every surface:
// a runtime event and a ledger entry.
func (e *Engine) denyTransition(state *types.AgentState, next types.Stage, reason string, now int64) {
	state.RecentEvents = tailEvents(append(state.RecentEvents, types.Event{
		ID:      uuid.NewString(),
		AgentID: state.AgentID,
		Source:  types.SourceCron,
		Type:    EventPolicyDenied,
		TS:      now,
		Payload: map[string]any{
			"blockedStage": string(next),
			"reason":       reason,
		},
	}), types.MaxRecentEvents)
	e.appendLedger(state, types.LedgerPolicyDenied,
		fmt.Sprintf("transition to %s denied: %s", next, reason), nil, now)
	e.log.Info("stage transition denied",
		zap.String("agent", state.AgentID),
		zap.String("blocked_stage", string(next)),
		zap.String("reason", reason))
}

func (e *Engine) appendLedger(state *types.AgentState, eventType types.LedgerEventType, summary string, evidence []string, now int64) {
	_, err := e.store.AppendLedger(types.LedgerEntry{
		AgentID:   state.AgentID,
		EventType: eventType,
		Stage:     state.Augmentation.Stage,
		Actor:     "runtime",
		Summary:   summary,
		Evidence:  evidence,
	}, now)
	if err != nil {
		e.log.Warn("failed to append ledger entry",
			zap.String("agent", state.AgentID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

func phaseEvent(agentID, eventType string, stage types.Stage, durationMs, now int64) types.Event {
	return types.Event{
		ID:      uuid.NewString(),
		AgentID: agentID,
		Source:  types.SourceCron,
		Type:    eventType,
		TS:      now,
		Payload: map[string]any{
			"stage":      string(stage),
			"lane":       diagnosticLane,
			"durationMs": durationMs,
		},
	}
}

// mergeOverrides layers explicit per-call overrides on top of the
// configured agent overrides.
func mergeOverrides(base config.Overrides, extra *config.Overrides) config.Overrides {
	if extra == nil {
		return base
	}
	out := base
	if extra.Mission != nil {
		out.Mission = extra.Mission
	}
	if extra.GoalsFile != nil {
		out.GoalsFile = extra.GoalsFile
	}
	if extra.TasksFile != nil {
		out.TasksFile = extra.TasksFile
	}
	if extra.LogFile != nil {
		out.LogFile = extra.LogFile
	}
	if extra.MaxActionsPerRun != nil {
		out.MaxActionsPerRun = extra.MaxActionsPerRun
	}
	if extra.DedupeWindowMinutes != nil {
		out.DedupeWindowMinutes = extra.DedupeWindowMinutes
	}
	if extra.MaxQueuedEvents != nil {
		out.MaxQueuedEvents = extra.MaxQueuedEvents
	}
	if extra.DailyTokenBudget != nil {
		out.DailyTokenBudget = extra.DailyTokenBudget
	}
	if extra.DailyCycleBudget != nil {
		out.DailyCycleBudget = extra.DailyCycleBudget
	}
	if extra.MaxConsecutiveErrors != nil {
		out.MaxConsecutiveErrors = extra.MaxConsecutiveErrors
	}
	if extra.AutoPauseOnBudgetExhausted != nil {
		out.AutoPauseOnBudgetExhausted = extra.AutoPauseOnBudgetExhausted
	}
	if extra.AutoResumeOnNewDayBudgetPause != nil {
		out.AutoResumeOnNewDayBudgetPause = extra.AutoResumeOnNewDayBudgetPause
	}
	if extra.ErrorPauseMinutes != nil {
		out.ErrorPauseMinutes = extra.ErrorPauseMinutes
	}
	if extra.StaleTaskHours != nil {
		out.StaleTaskHours = extra.StaleTaskHours
	}
	if extra.EmitDailyReviewEvents != nil {
		out.EmitDailyReviewEvents = extra.EmitDailyReviewEvents
	}
	if extra.EmitWeeklyReviewEvents != nil {
		out.EmitWeeklyReviewEvents = extra.EmitWeeklyReviewEvents
	}
	if extra.Paused != nil {
		out.Paused = extra.Paused
	}
	return out
}

func tailEvents(events []types.Event, max int) []types.Event {
	if len(events) <= max {
		return events
	}
	return events[len(events)-max:]
}

// buildPrompt renders the cycle briefing handed to the agent.
func buildPrompt(state *types.AgentState, events []types.Event) string {
	var b strings.Builder
	b.WriteString("Autonomy cycle for agent " + state.AgentID + "\n")
	if state.Mission != "" {
		b.WriteString("Mission: " + state.Mission + "\n")
	}
	fmt.Fprintf(&b, "Stage: %s (run %d)\n", state.Augmentation.Stage, state.Augmentation.PhaseRunCount)
	fmt.Fprintf(&b, "Open gaps: %d, verified candidates: %d\n",
		state.OpenGapCount(), state.VerifiedCandidateCount())
	fmt.Fprintf(&b, "Max actions this run: %d\n", state.MaxActionsPerRun)
	fmt.Fprintf(&b, "Events (%d):\n", len(events))
	for _, ev := range events {
		fmt.Fprintf(&b, "- [%s] %s", ev.Source, ev.Type)
		if ev.DedupeKey != "" {
			fmt.Fprintf(&b, " (%s)", ev.DedupeKey)
		}
		b.WriteString("\n")
	}
	return b.String()
}
