// Package runtime is the cycle orchestrator. Prepare assembles everything a
// cycle needs (state, lock, workspace files, drained and synthetic events,
// forge and canary passes, the stage decision) and Finalize records the
// outcome and releases the lock.
package runtime

import (
	"go.uber.org/zap"

	"autonomyd/internal/config"
	"autonomyd/internal/store"
	"autonomyd/internal/types"
)

// Synthetic and control event types the orchestrator emits or consumes.
const (
	EventCronTick        = "cron.tick"
	EventResume          = "autonomy.resume"
	EventQueueOverflow   = "autonomy.queue.overflow"
	EventQueueInvalid    = "autonomy.queue.invalid"
	EventReviewDaily     = "autonomy.review.daily"
	EventReviewWeekly    = "autonomy.review.weekly"
	EventTaskStalePrefix = "autonomy.task.stale."
	EventApprovalGrant   = "autonomy.approval.grant"
	EventApprovalApplied = "autonomy.approval.applied"
	EventPolicyDenied    = "autonomy.augmentation.policy.denied"
	EventPhaseExit       = "autonomy.phase.exit"
	EventPhaseEnter      = "autonomy.phase.enter"
)

// StageActionPrefix prefixes the policy action evaluated for a stage move.
const StageActionPrefix = "autonomy.stage."

// diagnosticLane tags phase diagnostic events.
const diagnosticLane = "autonomy"

// HookContext is handed to the plugin signal hook once per cycle.
type HookContext struct {
	AgentID      string
	WorkspaceDir string
	Stage        types.Stage
	NowMs        int64
}

// HookEvent is one additional signal returned by the hook.
type HookEvent struct {
	Source    types.EventSource
	Type      string
	DedupeKey string
	Payload   map[string]any
}

// SignalHook supplies extra discovery signals. Implementations must be
// deterministic for a fixed context and event list.
type SignalHook func(ctx HookContext, known []types.Event) []HookEvent

// Engine drives autonomy cycles against one store.
type Engine struct {
	store *store.Store
	cfg   config.Config
	log   *zap.Logger
	hook  SignalHook
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithSignalHook attaches the plugin signal hook.
func WithSignalHook(h SignalHook) Option {
	return func(e *Engine) { e.hook = h }
}

// New creates an engine over the store with the given configuration.
func New(st *store.Store, cfg config.Config, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		cfg:   cfg,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the underlying store for enqueue and inspection paths.
func (e *Engine) Store() *store.Store { return e.store }

// Config returns the engine configuration.
func (e *Engine) Config() config.Config { return e.cfg }
