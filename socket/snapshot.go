package socket

import (
	"sync"
	"time"

	"codefusion/pkg/logger"
)

// snapshotTracker remembers which newcomers still wait for a workspace
// snapshot. The first sync-file-structure addressed to a waiting newcomer
// claims its slot; later ones find nothing to claim and are dropped.
type snapshotTracker struct {
	mu      sync.Mutex
	timeout time.Duration
	pending map[string]*time.Timer
}

func newSnapshotTracker(timeout time.Duration) *snapshotTracker {
	return &snapshotTracker{timeout: timeout, pending: make(map[string]*time.Timer)}
}

// expect opens a slot for connID that lapses after the timeout.
func (t *snapshotTracker) expect(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.pending[connID]; ok {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(t.timeout, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.pending[connID] == timer {
			delete(t.pending, connID)
			logger.Sugar.Warnf("No snapshot reached %s within %s", connID, t.timeout)
		}
	})
	t.pending[connID] = timer
}

// claim reports whether connID was waiting, and closes the slot.
func (t *snapshotTracker) claim(connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	timer, ok := t.pending[connID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.pending, connID)
	return true
}

func (t *snapshotTracker) drop(connID string) {
	t.claim(connID)
}

func (t *snapshotTracker) waiting(connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[connID]
	return ok
}
