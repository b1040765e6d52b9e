// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/repo"
)

// Direct document updates for the command applier: the ordered log already
// serializes writes, so these talk to the engine without another round
// through the executor. Replays after a restart must be harmless, so every
// helper treats "already done" as success.

func updateDirect(ctx context.Context, r *repo.Repository, author string, ts int64, summary string, mutate func(pm *ProjectMetadata) error) error {
	entry, _, err := r.Get(plumbing.HEAD, MetadataPath)
	if err != nil {
		return err
	}
	pm := &ProjectMetadata{}
	if err := json.Unmarshal(entry.Content, pm); err != nil {
		return plumbing.NewErrQueryExecution("corrupt metadata of %s: %v", r.Project(), err)
	}
	if pm.Repos == nil {
		pm.Repos = make(map[string]*RepositoryMetadata)
	}
	if err := mutate(pm); err != nil {
		return err
	}
	next, err := json.Marshal(pm)
	if err != nil {
		return err
	}
	_, err = r.PushAt(ctx, plumbing.HEAD, author, ts, &repo.CommitMessage{Summary: summary},
		[]repo.Change{repo.NewUpsertJSON(MetadataPath, next)})
	if plumbing.IsErrRedundantChange(err) {
		return nil
	}
	return err
}

// InitProject writes the initial metadata document into a fresh dogma
// repository.
func InitProject(ctx context.Context, r *repo.Repository, project, author string, ts int64) error {
	if ok, err := r.Exists(plumbing.HEAD, MetadataPath); err != nil {
		return err
	} else if ok {
		return nil
	}
	doc, err := InitialDocument(project, author, time.UnixMilli(ts))
	if err != nil {
		return err
	}
	_, err = r.PushAt(ctx, plumbing.HEAD, author, ts, &repo.CommitMessage{Summary: "Initialize the project metadata"},
		[]repo.Change{repo.NewUpsertJSON(MetadataPath, doc)})
	if plumbing.IsErrRedundantChange(err) {
		return nil
	}
	return err
}

// RegisterRepo records a newly created repository. Project members get
// WRITE by default; guests get nothing until an admin grants it.
func RegisterRepo(ctx context.Context, r *repo.Repository, author, name string, ts int64) error {
	return updateDirect(ctx, r, author, ts, "Add a repository: "+name, func(pm *ProjectMetadata) error {
		if _, ok := pm.Repos[name]; ok {
			return nil
		}
		member := Write
		pm.Repos[name] = &RepositoryMetadata{
			Name:     name,
			Roles:    Roles{ProjectRoles: ProjectRoles{Member: &member}, Users: map[string]RepositoryRole{}, AppIDs: map[string]RepositoryRole{}},
			Creation: Stamp(author, time.UnixMilli(ts)),
			Status:   StatusActive,
		}
		return nil
	})
}

// StampRepoRemoval marks a repository removed in the document.
func StampRepoRemoval(ctx context.Context, r *repo.Repository, author, name string, ts int64) error {
	return updateDirect(ctx, r, author, ts, "Remove a repository: "+name, func(pm *ProjectMetadata) error {
		rm, ok := pm.Repos[name]
		if !ok || rm.Removal != nil {
			return nil
		}
		stamp := Stamp(author, time.UnixMilli(ts))
		rm.Removal = &stamp
		return nil
	})
}

// ClearRepoRemoval reverses a removal stamp when a repository is restored.
func ClearRepoRemoval(ctx context.Context, r *repo.Repository, author, name string, ts int64) error {
	return updateDirect(ctx, r, author, ts, "Restore a repository: "+name, func(pm *ProjectMetadata) error {
		if rm, ok := pm.Repos[name]; ok {
			rm.Removal = nil
		}
		return nil
	})
}

// DropRepo erases a purged repository from the document.
func DropRepo(ctx context.Context, r *repo.Repository, author, name string, ts int64) error {
	return updateDirect(ctx, r, author, ts, "Purge a repository: "+name, func(pm *ProjectMetadata) error {
		delete(pm.Repos, name)
		return nil
	})
}
