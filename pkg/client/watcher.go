// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/repo"
)

// ErrWatcherClosed is the terminal result delivered to pending waits when
// the watcher stops before observing a value.
var ErrWatcherClosed = errors.New("client: watcher closed")

var errNoValue = errors.New("client: no value observed yet")

const (
	watchWait  = time.Minute
	backoffMin = time.Second
	backoffMax = time.Minute
	// backoffJitter spreads retries by ±10%.
	backoffJitter = 0.1
)

// Latest is one observation of the watched target.
type Latest struct {
	Revision plumbing.Revision
	Entry    *Entry
}

type Listener func(Latest)

// Watcher is a long-lived subscription: it loops a long poll, stores the
// most recent observation and fans it out to listeners in revision order.
type Watcher struct {
	c       *Client
	project string
	repo    string
	pattern string
	query   *repo.Query

	mu        sync.Mutex
	latest    *Latest
	listeners []Listener
	started   bool
	stopped   bool

	initial chan struct{}
	notify  chan Latest
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRepositoryWatcher observes commits matching a path pattern; the
// observed value carries only the revision.
func (c *Client) NewRepositoryWatcher(project, name, pattern string) *Watcher {
	return c.newWatcher(project, name, pattern, nil)
}

// NewFileWatcher observes one queried entry.
func (c *Client) NewFileWatcher(project, name string, q *repo.Query) *Watcher {
	return c.newWatcher(project, name, "", q)
}

func (c *Client) newWatcher(project, name, pattern string, q *repo.Query) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		c:       c,
		project: project,
		repo:    name,
		pattern: pattern,
		query:   q,
		initial: make(chan struct{}),
		notify:  make(chan Latest, 16),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start begins polling. Calling Start twice is a no-op.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started || w.stopped {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.notifier()
	go w.loop()
}

// Close stops the watcher. Pending AwaitInitial calls observe
// ErrWatcherClosed.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()
	w.cancel()
}

// AwaitInitial blocks until the first observation, the context, or close.
// It is idempotent: the value stays readable afterwards.
func (w *Watcher) AwaitInitial(ctx context.Context) (Latest, error) {
	select {
	case <-w.initial:
	case <-ctx.Done():
		return Latest{}, ctx.Err()
	case <-w.ctx.Done():
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latest == nil {
		return Latest{}, ErrWatcherClosed
	}
	return *w.latest, nil
}

// Latest returns the most recent observation.
func (w *Watcher) Latest() (Latest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latest == nil {
		return Latest{}, errNoValue
	}
	return *w.latest, nil
}

// LatestOr never fails.
func (w *Watcher) LatestOr(def Latest) Latest {
	if v, err := w.Latest(); err == nil {
		return v
	}
	return def
}

// Watch registers a listener. If a value exists it is delivered once
// before Watch returns.
func (w *Watcher) Watch(l Listener) {
	w.mu.Lock()
	w.listeners = append(w.listeners, l)
	cur := w.latest
	w.mu.Unlock()
	if cur != nil {
		invoke(l, *cur)
	}
}

// notifier serializes listener invocations so every listener sees updates
// in revision order.
func (w *Watcher) notifier() {
	for {
		select {
		case v := <-w.notify:
			w.mu.Lock()
			ls := make([]Listener, len(w.listeners))
			copy(ls, w.listeners)
			w.mu.Unlock()
			for _, l := range ls {
				invoke(l, v)
			}
		case <-w.ctx.Done():
			return
		}
	}
}

func invoke(l Listener, v Latest) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("[watcher] listener panic: %v", r)
		}
	}()
	l(v)
}

func (w *Watcher) observe(v Latest) {
	w.mu.Lock()
	first := w.latest == nil
	if !first && v.Revision <= w.latest.Revision {
		// Duplicate deliveries for the same revision are not permitted.
		w.mu.Unlock()
		return
	}
	w.latest = &v
	w.mu.Unlock()
	if first {
		close(w.initial)
	}
	select {
	case w.notify <- v:
	case <-w.ctx.Done():
	}
}

func (w *Watcher) loop() {
	defer close(w.done)
	backoff := backoffMin
	lastKnown := plumbing.Revision(0)
	for w.ctx.Err() == nil {
		var err error
		if lastKnown == 0 {
			lastKnown, err = w.initialFetch()
		} else {
			lastKnown, err = w.poll(lastKnown)
		}
		if err == nil {
			backoff = backoffMin
			continue
		}
		if w.ctx.Err() != nil {
			return
		}
		logrus.Warnf("[watcher] %s/%s: %v (retrying in %v)", w.project, w.repo, err, backoff)
		select {
		case <-time.After(jittered(backoff)):
		case <-w.ctx.Done():
			return
		}
		if backoff *= 2; backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

// initialFetch produces the first observation from a plain read so a
// pre-existing value is delivered immediately.
func (w *Watcher) initialFetch() (plumbing.Revision, error) {
	if w.query == nil {
		rev, err := w.c.NormalizeRevision(w.ctx, w.project, w.repo, plumbing.HEAD)
		if err != nil {
			return 0, err
		}
		w.observe(Latest{Revision: rev})
		return rev, nil
	}
	entry, rev, err := w.c.GetFile(w.ctx, w.project, w.repo, plumbing.HEAD, w.query)
	if plumbing.IsErrEntryNotFound(err) {
		// Absent is not an error for a watcher: wait for the entry to
		// appear.
		return w.poll(plumbing.INIT)
	}
	if err != nil {
		return 0, err
	}
	w.observe(Latest{Revision: rev, Entry: entry})
	return rev, nil
}

func (w *Watcher) poll(lastKnown plumbing.Revision) (plumbing.Revision, error) {
	if w.query == nil {
		rev, ok, err := w.c.WatchRepository(w.ctx, w.project, w.repo, lastKnown, w.pattern, watchWait)
		if err != nil {
			return lastKnown, err
		}
		if ok {
			w.observe(Latest{Revision: rev})
			return rev, nil
		}
		return lastKnown, nil
	}
	rev, entry, ok, err := w.c.WatchFile(w.ctx, w.project, w.repo, lastKnown, w.query, watchWait, false)
	if err != nil {
		return lastKnown, err
	}
	if ok {
		w.observe(Latest{Revision: rev, Entry: entry})
		return rev, nil
	}
	return lastKnown, nil
}

func jittered(d time.Duration) time.Duration {
	f := 1 + backoffJitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * f)
}
