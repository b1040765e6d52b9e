// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package mirror schedules synchronization tasks between local repositories
// and external sources. The remote I/O itself is behind the Runner
// interface; this package owns task definitions, credentials, access
// control and the cron scheduler.
package mirror

import (
	"context"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/line/centraldogma-sub008/modules/plumbing"
)

// Direction tells which side is the source of truth for a task.
type Direction string

const (
	RemoteToLocal Direction = "REMOTE_TO_LOCAL"
	LocalToRemote Direction = "LOCAL_TO_REMOTE"
)

// Status is the outcome of one task run.
type Status string

const (
	Success  Status = "SUCCESS"
	UpToDate Status = "UP_TO_DATE"
	Failed   Status = "FAILED"
)

// Task is one mirroring job, stored as /mirrors/<id>.json in the owning
// project's dogma repository.
type Task struct {
	ID           string    `json:"id"`
	Enabled      bool      `json:"enabled"`
	Schedule     string    `json:"schedule"`
	Direction    Direction `json:"direction"`
	LocalRepo    string    `json:"localRepo"`
	LocalPath    string    `json:"localPath"`
	RemoteURI    string    `json:"remoteUri"`
	RemoteBranch string    `json:"remoteBranch,omitempty"`
	CredentialID string    `json:"credentialId,omitempty"`
	Gitignore    string    `json:"gitignore,omitempty"`
	Zone         string    `json:"zone,omitempty"`

	project string
}

// Project is the project the task was loaded from.
func (t *Task) Project() string { return t.project }

// Key identifies a task across projects.
func (t *Task) Key() string { return t.project + "/" + t.ID }

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func (t *Task) Validate() error {
	if !plumbing.ValidateName(t.ID) {
		return plumbing.NewErrBadRequest("invalid mirror ID: %q", t.ID)
	}
	switch t.Direction {
	case RemoteToLocal, LocalToRemote:
	default:
		return plumbing.NewErrBadRequest("invalid mirror direction: %q", t.Direction)
	}
	if len(t.LocalRepo) == 0 {
		return plumbing.NewErrBadRequest("mirror %s: localRepo is required", t.ID)
	}
	if len(t.LocalPath) != 0 && !strings.HasPrefix(t.LocalPath, "/") {
		return plumbing.NewErrBadRequest("mirror %s: localPath must be absolute", t.ID)
	}
	if len(t.RemoteURI) == 0 {
		return plumbing.NewErrBadRequest("mirror %s: remoteUri is required", t.ID)
	}
	if _, err := scheduleParser.Parse(t.Schedule); err != nil {
		return plumbing.NewErrBadRequest("mirror %s: invalid schedule %q: %v", t.ID, t.Schedule, err)
	}
	return nil
}

// Result is the report of one run.
type Result struct {
	Status      Status            `json:"status"`
	Description string            `json:"description,omitempty"`
	Revision    plumbing.Revision `json:"revision,omitempty"`
}

// Runner performs the remote I/O of one task. Implementations are external
// collaborators; they may assume the task passed validation and the access
// controller allowed the remote.
type Runner interface {
	Run(ctx context.Context, t *Task, cred *Credential) (*Result, error)
}

// Listener observes task lifecycle events. Callbacks run on the scheduler
// goroutine and must not block.
type Listener interface {
	OnStart(t *Task)
	OnComplete(t *Task, res *Result)
	OnError(t *Task, err error)
}
