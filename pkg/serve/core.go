// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package serve

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/command"
	"github.com/line/centraldogma-sub008/pkg/serve/metadata"
	"github.com/line/centraldogma-sub008/pkg/serve/repo"
)

// Core applies committed commands to the local commit engine. It runs in
// log order on every replica, so everything here must be deterministic
// given identical local state.
type Core struct {
	mgr  *repo.Manager
	gate *command.Gate
}

func NewCore(mgr *repo.Manager, gate *command.Gate) *Core {
	return &Core{mgr: mgr, gate: gate}
}

func (c *Core) Apply(ctx context.Context, cmd *command.Command) (*command.Result, error) {
	switch cmd.Type {
	case command.CreateProject:
		return nil, c.createProject(ctx, cmd)
	case command.RemoveProject:
		return nil, c.mgr.RemoveProject(cmd.Project)
	case command.UnremoveProject:
		_, err := c.mgr.UnremoveProject(cmd.Project)
		return nil, err
	case command.PurgeProject:
		return nil, c.mgr.PurgeProject(cmd.Project)
	case command.CreateRepository:
		return nil, c.createRepo(ctx, cmd)
	case command.RemoveRepository:
		return nil, c.removeRepo(ctx, cmd)
	case command.UnremoveRepository:
		return nil, c.unremoveRepo(ctx, cmd)
	case command.PurgeRepository:
		return nil, c.purgeRepo(ctx, cmd)
	case command.Push, command.ForcePush:
		return c.push(ctx, cmd)
	case command.UpdateServerStatus:
		c.gate.SetStatus(cmd.ServerStatus)
		logrus.Infof("[command] server status is now %s", cmd.ServerStatus)
		return nil, nil
	}
	return nil, plumbing.NewErrBadRequest("unknown command type: %q", cmd.Type)
}

func (c *Core) createProject(ctx context.Context, cmd *command.Command) error {
	p, err := c.mgr.CreateProject(cmd.Project)
	if err != nil {
		return err
	}
	r, err := p.CreateRepo(repo.DogmaRepo, cmd.Author, cmd.TimestampMillis)
	if err != nil {
		return err
	}
	return metadata.InitProject(ctx, r, cmd.Project, cmd.Author, cmd.TimestampMillis)
}

func (c *Core) createRepo(ctx context.Context, cmd *command.Command) error {
	if repo.IsReservedRepo(cmd.Repo) {
		return plumbing.NewErrBadRequest("%s is a reserved repository name", cmd.Repo)
	}
	p, err := c.mgr.Project(cmd.Project)
	if err != nil {
		return err
	}
	if _, err := p.CreateRepo(cmd.Repo, cmd.Author, cmd.TimestampMillis); err != nil {
		return err
	}
	dogma, err := p.Repo(repo.DogmaRepo)
	if err != nil {
		return err
	}
	return metadata.RegisterRepo(ctx, dogma, cmd.Author, cmd.Repo, cmd.TimestampMillis)
}

func (c *Core) removeRepo(ctx context.Context, cmd *command.Command) error {
	if repo.IsReservedRepo(cmd.Repo) {
		return plumbing.NewErrBadRequest("%s is a reserved repository name", cmd.Repo)
	}
	p, err := c.mgr.Project(cmd.Project)
	if err != nil {
		return err
	}
	if err := p.RemoveRepo(cmd.Repo); err != nil {
		return err
	}
	dogma, err := p.Repo(repo.DogmaRepo)
	if err != nil {
		return err
	}
	return metadata.StampRepoRemoval(ctx, dogma, cmd.Author, cmd.Repo, cmd.TimestampMillis)
}

func (c *Core) unremoveRepo(ctx context.Context, cmd *command.Command) error {
	p, err := c.mgr.Project(cmd.Project)
	if err != nil {
		return err
	}
	if _, err := p.UnremoveRepo(cmd.Repo); err != nil {
		return err
	}
	dogma, err := p.Repo(repo.DogmaRepo)
	if err != nil {
		return err
	}
	return metadata.ClearRepoRemoval(ctx, dogma, cmd.Author, cmd.Repo, cmd.TimestampMillis)
}

func (c *Core) purgeRepo(ctx context.Context, cmd *command.Command) error {
	if repo.IsReservedRepo(cmd.Repo) {
		return plumbing.NewErrBadRequest("%s is a reserved repository name", cmd.Repo)
	}
	p, err := c.mgr.Project(cmd.Project)
	if err != nil {
		return err
	}
	if err := p.PurgeRepo(cmd.Repo); err != nil {
		return err
	}
	dogma, err := p.Repo(repo.DogmaRepo)
	if err != nil {
		return err
	}
	return metadata.DropRepo(ctx, dogma, cmd.Author, cmd.Repo, cmd.TimestampMillis)
}

func (c *Core) push(ctx context.Context, cmd *command.Command) (*command.Result, error) {
	p, err := c.mgr.Project(cmd.Project)
	if err != nil {
		return nil, err
	}
	r, err := p.Repo(cmd.Repo)
	if err != nil {
		return nil, err
	}
	if cmd.Type == command.Push {
		if err := c.checkRepoWritable(p, cmd.Repo); err != nil {
			return nil, err
		}
	}
	res, err := r.PushAt(ctx, cmd.BaseRevision, cmd.Author, cmd.TimestampMillis, cmd.Message, cmd.Changes)
	if err != nil {
		return nil, err
	}
	return &command.Result{Revision: res.Revision, TimestampMillis: res.TimestampMillis, Changes: res.Changes}, nil
}

// checkRepoWritable rejects non-forced pushes to repositories marked
// READ_ONLY in the project metadata.
func (c *Core) checkRepoWritable(p *repo.Project, name string) error {
	dogma, err := p.Repo(repo.DogmaRepo)
	if err != nil {
		// Projects predating the metadata layer have no dogma repository.
		return nil
	}
	entry, _, err := dogma.Get(plumbing.HEAD, metadata.MetadataPath)
	if err != nil {
		return nil
	}
	var pm metadata.ProjectMetadata
	if err := json.Unmarshal(entry.Content, &pm); err != nil {
		return nil
	}
	if rm, ok := pm.Repos[name]; ok && rm.Status == metadata.StatusReadOnly {
		return plumbing.NewErrReadOnly("repository %s/%s is read-only", p.Name(), name)
	}
	return nil
}

// RepoHeads snapshots every repository head for replicated-log compaction.
func (c *Core) RepoHeads() map[string]int64 {
	heads := make(map[string]int64)
	for _, project := range c.mgr.Projects() {
		p, err := c.mgr.Project(project)
		if err != nil {
			continue
		}
		for _, name := range p.Repos() {
			r, err := p.Repo(name)
			if err != nil {
				continue
			}
			heads[project+"/"+name] = int64(r.Head())
		}
	}
	return heads
}
