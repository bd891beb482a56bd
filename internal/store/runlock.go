package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"autonomyd/internal/types"
)

// ErrLockHeld is returned when another cycle holds the run-lock.
var ErrLockHeld = errors.New("autonomy run already in progress")

// RunLockTTLMs is how long a lock file stays valid before it is considered
// stale and reclaimable. Six hours bounds the damage of a crashed holder.
const RunLockTTLMs = 6 * 60 * 60 * 1000

const lockAcquireAttempts = 3

// runLockFile is the on-disk lock representation. Absence means free.
type runLockFile struct {
	Token      string `json:"token"`
	AcquiredAt int64  `json:"acquiredAt"`
	ExpiresAt  int64  `json:"expiresAt"`
}

// AcquireRunLock claims per-agent mutual exclusion. The in-memory entry and
// the lock file must both be free (or stale) before the lock is granted; a
// successful exclusive create of the lock file claims it. Returns the token
// needed to release.
func (s *Store) AcquireRunLock(agentID string, nowMs int64) (string, error) {
	id := types.NormalizeAgentID(agentID)

	s.runMu.Lock()
	if _, live := s.runLocks[id]; live {
		s.runMu.Unlock()
		return "", ErrLockHeld
	}
	s.runMu.Unlock()

	if err := os.MkdirAll(s.AgentDir(id), 0o755); err != nil {
		return "", fmt.Errorf("failed to create agent dir: %w", err)
	}

	path := s.lockPath(id)
	var lastErr error
	for attempt := 0; attempt < lockAcquireAttempts; attempt++ {
		if data, err := os.ReadFile(path); err == nil {
			var lf runLockFile
			if json.Unmarshal(data, &lf) == nil && lf.ExpiresAt > nowMs {
				return "", ErrLockHeld
			}
			// Stale or unreadable: best-effort removal, then try to claim.
			_ = os.Remove(path)
		}

		token := uuid.NewString()
		lf := runLockFile{Token: token, AcquiredAt: nowMs, ExpiresAt: nowMs + RunLockTTLMs}
		body, err := json.Marshal(lf)
		if err != nil {
			return "", fmt.Errorf("failed to marshal lock: %w", err)
		}

		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			if os.IsExist(err) {
				lastErr = ErrLockHeld
				continue // lost the race, re-examine the file
			}
			return "", fmt.Errorf("failed to create lock file: %w", err)
		}
		_, werr := f.Write(body)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			_ = os.Remove(path)
			lastErr = fmt.Errorf("failed to write lock file: %w", errors.Join(werr, cerr))
			continue
		}

		s.runMu.Lock()
		s.runLocks[id] = token
		s.runMu.Unlock()
		return token, nil
	}
	if lastErr == nil {
		lastErr = ErrLockHeld
	}
	return "", lastErr
}

// ReleaseRunLock deletes the lock file iff the token matches and removes
// the in-memory entry. Releasing with a stale token is a no-op on disk.
func (s *Store) ReleaseRunLock(agentID, token string) error {
	id := types.NormalizeAgentID(agentID)

	s.runMu.Lock()
	if cur, ok := s.runLocks[id]; ok && cur == token {
		delete(s.runLocks, id)
	}
	s.runMu.Unlock()

	path := s.lockPath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock file: %w", err)
	}
	var lf runLockFile
	if err := json.Unmarshal(data, &lf); err == nil && lf.Token != token {
		return nil // someone else's lock; leave it
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
