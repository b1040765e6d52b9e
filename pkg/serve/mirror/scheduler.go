// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/line/centraldogma-sub008/modules/plumbing"
)

// ZoneConfig places this node in a zone-aware cluster. Empty AllZones means
// a single-zone deployment where every task is eligible.
type ZoneConfig struct {
	Zone        string   `toml:"zone,omitempty"`
	DefaultZone string   `toml:"default_zone,omitempty"`
	AllZones    []string `toml:"all_zones,omitempty"`
}

const refreshInterval = time.Minute

// Scheduler fires tasks on their cron schedules. Task documents are
// re-scanned once a minute so edits take effect without a restart. Tasks
// only fire on the leader of their zone.
type Scheduler struct {
	store  *Store
	runner Runner
	ctl    *AccessController
	zone   ZoneConfig
	leader func() bool
	cr     *cron.Cron

	mu        sync.Mutex
	entries   map[string]scheduledTask
	listeners []Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type scheduledTask struct {
	entry    cron.EntryID
	schedule string
}

func NewScheduler(store *Store, runner Runner, ctl *AccessController, zone ZoneConfig, leader func() bool) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:   store,
		runner:  runner,
		ctl:     ctl,
		zone:    zone,
		leader:  leader,
		cr:      cron.New(cron.WithParser(scheduleParser)),
		entries: make(map[string]scheduledTask),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddListener registers a lifecycle observer. Listeners added after Start
// see only subsequent runs.
func (s *Scheduler) AddListener(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *Scheduler) snapshotListeners() []Listener {
	s.mu.Lock()
	ls := slices.Clone(s.listeners)
	s.mu.Unlock()
	return ls
}

func (s *Scheduler) Start() {
	s.sync()
	s.cr.Start()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sync()
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cr.Stop().Done()
	s.wg.Wait()
}

// eligible applies the zone pinning rules: a pinned task runs only in its
// zone, an unpinned task runs only in the default zone, and a task pinned
// to an unknown zone never runs.
func (s *Scheduler) eligible(t *Task) bool {
	if !t.Enabled {
		return false
	}
	if len(s.zone.AllZones) == 0 {
		return true
	}
	if len(t.Zone) == 0 {
		return s.zone.Zone == s.zone.DefaultZone
	}
	if !slices.Contains(s.zone.AllZones, t.Zone) {
		logrus.Warnf("[mirror] %s pinned to unknown zone %q, skipping", t.Key(), t.Zone)
		return false
	}
	return t.Zone == s.zone.Zone
}

// sync reconciles the cron table with the current task documents.
func (s *Scheduler) sync() {
	tasks := s.store.AllTasks()
	seen := make(map[string]bool, len(tasks))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		if !s.eligible(t) {
			continue
		}
		seen[t.Key()] = true
		if cur, ok := s.entries[t.Key()]; ok {
			if cur.schedule == t.Schedule {
				continue
			}
			s.cr.Remove(cur.entry)
		}
		task := t
		id, err := s.cr.AddFunc(t.Schedule, func() { s.fire(task) })
		if err != nil {
			logrus.Warnf("[mirror] scheduling %s: %v", t.Key(), err)
			continue
		}
		s.entries[t.Key()] = scheduledTask{entry: id, schedule: t.Schedule}
	}
	for key, cur := range s.entries {
		if !seen[key] {
			s.cr.Remove(cur.entry)
			delete(s.entries, key)
		}
	}
}

// fire runs one task. Only the leader mirrors; followers stay quiet so a
// task runs once per cluster per tick.
func (s *Scheduler) fire(t *Task) {
	if s.leader != nil && !s.leader() {
		return
	}
	// Re-read the document: the cron table may lag an edit by one refresh.
	tasks, err := s.store.Tasks(t.Project())
	if err != nil {
		s.notifyError(t, err)
		return
	}
	cur := t
	for _, fresh := range tasks {
		if fresh.ID == t.ID {
			cur = fresh
			break
		}
	}
	if !s.eligible(cur) {
		return
	}
	for _, l := range s.snapshotListeners() {
		l.OnStart(cur)
	}
	res := s.runOnce(s.ctx, cur)
	if res.Status == Failed {
		logrus.Errorf("[mirror] %s: %s", cur.Key(), res.Description)
	} else {
		logrus.Infof("[mirror] %s: %s", cur.Key(), res.Status)
	}
	for _, l := range s.snapshotListeners() {
		l.OnComplete(cur, res)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t *Task) *Result {
	if !s.ctl.Allowed(t.RemoteURI) {
		return &Result{Status: Failed, Description: fmt.Sprintf("access to %s is not allowed", t.RemoteURI)}
	}
	cred, err := s.store.Credential(t.Project(), t.CredentialID)
	if err != nil {
		s.notifyError(t, err)
		return &Result{Status: Failed, Description: fmt.Sprintf("credential %s: %v", t.CredentialID, err)}
	}
	res, err := s.runner.Run(ctx, t, cred)
	if err != nil {
		s.notifyError(t, err)
		return &Result{Status: Failed, Description: err.Error()}
	}
	if res.Status == Success && len(res.Description) == 0 {
		res.Description = fmt.Sprintf("mirrored to revision %d", res.Revision)
	}
	return res
}

func (s *Scheduler) notifyError(t *Task, err error) {
	for _, l := range s.snapshotListeners() {
		l.OnError(t, err)
	}
}

// RunNow executes one task immediately, bypassing its schedule but not the
// access controller. Used by the trigger endpoint.
func (s *Scheduler) RunNow(ctx context.Context, project, id string) (*Result, error) {
	tasks, err := s.store.Tasks(project)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.ID == id {
			for _, l := range s.snapshotListeners() {
				l.OnStart(t)
			}
			res := s.runOnce(ctx, t)
			for _, l := range s.snapshotListeners() {
				l.OnComplete(t, res)
			}
			return res, nil
		}
	}
	return nil, plumbing.NewErrEntryNotFound("mirror %s/%s not found", project, id)
}
