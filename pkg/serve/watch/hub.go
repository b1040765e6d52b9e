// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package watch implements the server half of the long-poll layer: a
// per-repository hub that wakes waiters on the first commit after their
// last-known revision that touches their pattern.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/line/centraldogma-sub008/modules/pattern"
	"github.com/line/centraldogma-sub008/modules/plumbing"
)

// DefaultWaitCap clips every requested wait budget; clients re-issue the
// poll when they want to keep watching.
const DefaultWaitCap = time.Minute

// ClipWait applies the local wait policy to a requested budget.
func ClipWait(timeout time.Duration) time.Duration {
	if timeout <= 0 || timeout > DefaultWaitCap {
		return DefaultWaitCap
	}
	return timeout
}

// Waiter is one registered long-poll. C yields the matching revision and is
// closed afterwards; a closed C without a value means the hub shut down.
type Waiter struct {
	id        int64
	pat       *pattern.Pattern
	lastKnown plumbing.Revision
	C         chan plumbing.Revision
}

// Hub fans commit notifications out to registered waiters. Callers register
// first, then re-check the log for commits that landed before registration,
// then block; that ordering closes the scan/notify race.
type Hub struct {
	mu      sync.Mutex
	closed  bool
	nextID  int64
	waiters map[int64]*Waiter
}

func NewHub() *Hub {
	return &Hub{waiters: make(map[int64]*Waiter)}
}

// Register adds a waiter for the first commit after lastKnown matching pat.
// A nil return means the hub is already closed.
func (h *Hub) Register(lastKnown plumbing.Revision, pat *pattern.Pattern) *Waiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.nextID++
	w := &Waiter{
		id:        h.nextID,
		pat:       pat,
		lastKnown: lastKnown,
		C:         make(chan plumbing.Revision, 1),
	}
	h.waiters[w.id] = w
	return w
}

// Unregister removes a waiter; safe to call after it was woken.
func (h *Hub) Unregister(w *Waiter) {
	if w == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.waiters, w.id)
}

// Close wakes every pending waiter; subsequent registrations fail.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, w := range h.waiters {
		close(w.C)
		delete(h.waiters, id)
	}
}

// Notify reports a committed revision and the canonical paths it touched.
// Channels are buffered so a slow consumer cannot stall the committer.
func (h *Hub) Notify(rev plumbing.Revision, paths []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, w := range h.waiters {
		if rev <= w.lastKnown {
			continue
		}
		if !w.pat.MatchAny(paths) {
			continue
		}
		w.C <- rev
		close(w.C)
		delete(h.waiters, id)
	}
}

// Await blocks on a registered waiter. The bool is false on timeout
// (NotModified); cancellation surfaces as the context error with no side
// effects.
func (h *Hub) Await(ctx context.Context, w *Waiter, timeout time.Duration) (plumbing.Revision, bool, error) {
	if w == nil {
		return 0, false, plumbing.NewErrShuttingDown("repository is shutting down")
	}
	defer h.Unregister(w)
	timer := time.NewTimer(ClipWait(timeout))
	defer timer.Stop()
	select {
	case rev, ok := <-w.C:
		if !ok || rev == 0 {
			return 0, false, plumbing.NewErrShuttingDown("repository is shutting down")
		}
		return rev, true, nil
	case <-timer.C:
		return 0, false, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}
