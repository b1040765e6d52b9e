// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package command totally orders write commands: either standalone on a
// single node, or through a single-leader replicated log where a command is
// committed once a majority has durably appended it.
package command

import (
	"context"
	"encoding/json"

	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/repo"
)

// Type tags the command variant.
type Type string

const (
	CreateProject      Type = "CREATE_PROJECT"
	RemoveProject      Type = "REMOVE_PROJECT"
	UnremoveProject    Type = "UNREMOVE_PROJECT"
	PurgeProject       Type = "PURGE_PROJECT"
	CreateRepository   Type = "CREATE_REPOSITORY"
	RemoveRepository   Type = "REMOVE_REPOSITORY"
	UnremoveRepository Type = "UNREMOVE_REPOSITORY"
	PurgeRepository    Type = "PURGE_REPOSITORY"
	Push               Type = "PUSH"
	ForcePush          Type = "FORCE_PUSH"
	UpdateServerStatus Type = "UPDATE_SERVER_STATUS"
)

// Command is one entry of the ordered write log. TimestampMillis is
// assigned at proposal time so every replica writes identical commit
// records.
type Command struct {
	Type            Type                `json:"type"`
	Author          string              `json:"author"`
	TimestampMillis int64               `json:"timestampMillis"`
	Project         string              `json:"project,omitempty"`
	Repo            string              `json:"repo,omitempty"`
	BaseRevision    plumbing.Revision   `json:"baseRevision,omitempty"`
	Message         *repo.CommitMessage `json:"message,omitempty"`
	Changes         []repo.Change       `json:"changes,omitempty"`
	ServerStatus    Status              `json:"serverStatus,omitempty"`
}

// Result is the applied outcome of a command. Only pushes produce one.
type Result struct {
	Revision        plumbing.Revision `json:"revision,omitempty"`
	TimestampMillis int64             `json:"timestampMillis,omitempty"`
	Changes         []repo.Change     `json:"changes,omitempty"`
}

// TargetsRepository reports whether the command addresses one repository.
func (c *Command) TargetsRepository() bool {
	return len(c.Project) != 0 && len(c.Repo) != 0
}

// IsWrite reports whether the command mutates repository or project state
// and is therefore blocked in replication-only mode. ForcePush and the
// status transition itself are administrative.
func (c *Command) IsWrite() bool {
	switch c.Type {
	case ForcePush, UpdateServerStatus:
		return false
	default:
		return true
	}
}

func (c *Command) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

func Unmarshal(raw []byte) (*Command, error) {
	var c Command
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Applier applies a committed command to local state. It is invoked in log
// order on every replica, and exactly once per accepted command in
// standalone mode.
type Applier interface {
	Apply(ctx context.Context, cmd *Command) (*Result, error)
	// RepoHeads snapshots "project/repo" -> head revision, consumed by the
	// replicated log for snapshot bookkeeping.
	RepoHeads() map[string]int64
}

// Executor accepts commands and returns their applied results.
type Executor interface {
	Execute(ctx context.Context, cmd *Command) (*Result, error)
	IsLeader() bool
	Close() error
}
