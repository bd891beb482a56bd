// Package store owns the durable on-disk representation of one agent:
// state.json, state.backup.json, events.jsonl, augmentation-ledger.jsonl,
// and run.lock, all under <root>/<normalized-agent-id>/.
//
// Writes are serialized per absolute path in-process; the run-lock combines
// an in-memory map with a lock file so both must agree before mutation
// begins. Nothing in memory or on disk is shared across agents.
package store

import (
	"os"
	"path/filepath"
	"sync"

	"autonomyd/internal/types"
)

// File names inside a per-agent directory.
const (
	stateFileName  = "state.json"
	backupFileName = "state.backup.json"
	eventsFileName = "events.jsonl"
	ledgerFileName = "augmentation-ledger.jsonl"
	lockFileName   = "run.lock"
)

// MaxQueueLines is the hard cap on retained queue lines; older lines are
// dropped as overflow.
const MaxQueueLines = 5000

// dedupePruneFactor scales the dedupe window into the map prune horizon.
// The 3x multiplier keeps recently expired keys visible for diagnostics.
const dedupePruneFactor = 3

// Store provides durable per-agent state under a single root directory.
type Store struct {
	root string

	paths    *pathLocks
	runMu    sync.Mutex
	runLocks map[string]string // agent id -> live lock token
}

// New creates a store rooted at dir.
func New(root string) *Store {
	return &Store{
		root:     root,
		paths:    newPathLocks(),
		runLocks: make(map[string]string),
	}
}

// Root returns the state root directory.
func (s *Store) Root() string { return s.root }

// AgentDir returns the per-agent state directory.
func (s *Store) AgentDir(agentID string) string {
	return filepath.Join(s.root, types.NormalizeAgentID(agentID))
}

func (s *Store) statePath(agentID string) string {
	return filepath.Join(s.AgentDir(agentID), stateFileName)
}

func (s *Store) backupPath(agentID string) string {
	return filepath.Join(s.AgentDir(agentID), backupFileName)
}

func (s *Store) eventsPath(agentID string) string {
	return filepath.Join(s.AgentDir(agentID), eventsFileName)
}

func (s *Store) ledgerPath(agentID string) string {
	return filepath.Join(s.AgentDir(agentID), ledgerFileName)
}

func (s *Store) lockPath(agentID string) string {
	return filepath.Join(s.AgentDir(agentID), lockFileName)
}

// HasState reports whether a state document exists for the agent.
func (s *Store) HasState(agentID string) bool {
	if fi, err := os.Stat(s.statePath(agentID)); err == nil && fi.Size() > 0 {
		return true
	}
	if fi, err := os.Stat(s.backupPath(agentID)); err == nil && fi.Size() > 0 {
		return true
	}
	return false
}

// ListAgents returns the normalized ids of all agents with a state dir.
func (s *Store) ListAgents() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && s.HasState(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// ResetRuntime deletes the agent directory and forgets any in-memory lock.
// Operator action only; the engine never calls this on its own.
func (s *Store) ResetRuntime(agentID string) error {
	id := types.NormalizeAgentID(agentID)
	s.runMu.Lock()
	delete(s.runLocks, id)
	s.runMu.Unlock()
	return os.RemoveAll(s.AgentDir(id))
}

// =============================================================================
// PER-PATH WRITE SERIALIZATION
// =============================================================================

// pathLocks serializes writes per absolute path. A write never starts until
// the previous write for the same path has finished; failures do not block
// the chain. Cross-agent work never blocks behind another agent's paths.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*sync.Mutex)}
}

func (p *pathLocks) lockFor(path string) *sync.Mutex {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.locks[abs]; ok {
		return l
	}
	l := &sync.Mutex{}
	p.locks[abs] = l
	return l
}

// withPathLock runs fn while holding the write lock for path.
func (p *pathLocks) withPathLock(path string, fn func() error) error {
	l := p.lockFor(path)
	l.Lock()
	defer l.Unlock()
	return fn()
}
