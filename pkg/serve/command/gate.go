// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/line/centraldogma-sub008/modules/plumbing"
)

// Status is the node-wide write mode.
type Status string

const (
	Writable        Status = "WRITABLE"
	ReplicationOnly Status = "REPLICATION_ONLY"
)

// WriteQuota is the per-repository token bucket configuration.
type WriteQuota struct {
	Permits       int `json:"requestQuota" toml:"permits"`
	PeriodSeconds int `json:"timeWindowSeconds" toml:"period_seconds"`
}

func (q *WriteQuota) limiter() *rate.Limiter {
	if q == nil || q.Permits <= 0 || q.PeriodSeconds <= 0 {
		return nil
	}
	interval := time.Duration(q.PeriodSeconds) * time.Second / time.Duration(q.Permits)
	return rate.NewLimiter(rate.Every(interval), q.Permits)
}

// QuotaRegistry keeps one token bucket per "project/repo". Readers get an
// atomically-swapped snapshot; mutation rebuilds the bucket so a quota
// change takes effect immediately.
type QuotaRegistry struct {
	def *WriteQuota

	mu sync.Mutex
	v  atomic.Value // map[string]*rate.Limiter
}

func NewQuotaRegistry(def *WriteQuota) *QuotaRegistry {
	r := &QuotaRegistry{def: def}
	r.v.Store(make(map[string]*rate.Limiter))
	return r
}

func quotaKey(project, repo string) string {
	return project + "/" + repo
}

// SetQuota replaces the bucket of one repository; a nil quota restores the
// default.
func (r *QuotaRegistry) SetQuota(project, repo string, quota *WriteQuota) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.v.Load().(map[string]*rate.Limiter)
	next := make(map[string]*rate.Limiter, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	key := quotaKey(project, repo)
	if quota == nil {
		delete(next, key)
	} else {
		next[key] = quota.limiter()
	}
	r.v.Store(next)
}

// Allow consumes one permit for a write to project/repo.
func (r *QuotaRegistry) Allow(project, repo string) bool {
	m := r.v.Load().(map[string]*rate.Limiter)
	lim, ok := m[quotaKey(project, repo)]
	if !ok {
		// Lazily install the default bucket so repeated writes share it.
		if r.def == nil {
			return true
		}
		r.mu.Lock()
		m = r.v.Load().(map[string]*rate.Limiter)
		if lim, ok = m[quotaKey(project, repo)]; !ok {
			lim = r.def.limiter()
			next := make(map[string]*rate.Limiter, len(m)+1)
			for k, v := range m {
				next[k] = v
			}
			next[quotaKey(project, repo)] = lim
			r.v.Store(next)
		}
		r.mu.Unlock()
	}
	if lim == nil {
		return true
	}
	return lim.Allow()
}

// Gate combines the node-wide checks every command passes before entering
// the ordered log: shutdown stickiness, the read-only toggle and the
// per-repository write quota.
type Gate struct {
	status atomic.Value // Status
	down   atomic.Bool
	quotas *QuotaRegistry
}

func NewGate(quotas *QuotaRegistry) *Gate {
	g := &Gate{quotas: quotas}
	g.status.Store(Writable)
	return g
}

func (g *Gate) Status() Status {
	return g.status.Load().(Status)
}

func (g *Gate) SetStatus(s Status) {
	g.status.Store(s)
}

// ShutDown makes the gate sticky: every subsequent command fails with
// ShuttingDown until the process exits.
func (g *Gate) ShutDown() {
	g.down.Store(true)
}

func (g *Gate) IsShuttingDown() bool {
	return g.down.Load()
}

// Check vets cmd against the gates. It consumes a quota permit for pushes.
func (g *Gate) Check(cmd *Command) error {
	if g.down.Load() {
		return plumbing.NewErrShuttingDown("this node is shutting down")
	}
	if cmd.IsWrite() && g.Status() == ReplicationOnly {
		return plumbing.NewErrReadOnly("server is in replication-only mode")
	}
	if (cmd.Type == Push || cmd.Type == ForcePush) && g.quotas != nil {
		if !g.quotas.Allow(cmd.Project, cmd.Repo) {
			return plumbing.NewErrQuotaExceeded("write quota exceeded for %s/%s", cmd.Project, cmd.Repo)
		}
	}
	return nil
}
