// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package repo implements the per-repository commit engine: a
// content-addressed object store plus a serially advancing revision log,
// with atomic multi-change pushes, JSON-aware normalization and
// history/diff computation.
package repo

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/storage"
	"github.com/line/centraldogma-sub008/pkg/serve/watch"
)

const (
	objectsDir = "objects"
	refsDir    = "refs"

	// CreateCommitSummary is the message of revision 1 of every repository.
	CreateCommitSummary = "Create a new repository"
)

// Repository is one named commit sequence within a project. A repository
// has at most one in-flight commit at any time; readers snapshot the head
// at operation start and run concurrently with writers.
type Repository struct {
	project string
	name    string
	dir     string
	odb     *storage.ODB
	log     *storage.RevLog
	hub     *watch.Hub

	// cmu serializes commits; contenders queue in FIFO order.
	cmu sync.Mutex
}

// Open loads an existing repository rooted at dir.
func Open(project, name, dir string, cache *ristretto.Cache[string, []byte]) (*Repository, error) {
	odb, err := storage.NewODB(filepath.Join(dir, objectsDir), cache)
	if err != nil {
		return nil, err
	}
	log, err := storage.OpenRevLog(filepath.Join(dir, refsDir))
	if err != nil {
		_ = odb.Close()
		return nil, err
	}
	return &Repository{
		project: project,
		name:    name,
		dir:     dir,
		odb:     odb,
		log:     log,
		hub:     watch.NewHub(),
	}, nil
}

// Create initializes a repository and writes its automatic first commit.
func Create(project, name, dir, author string, timestampMillis int64, cache *ristretto.Cache[string, []byte]) (*Repository, error) {
	if !plumbing.ValidateName(name) {
		return nil, plumbing.NewErrBadRequest("invalid repository name: %q", name)
	}
	if _, err := os.Stat(dir); err == nil {
		return nil, plumbing.NewErrRepositoryExists("repository %s/%s already exists", project, name)
	}
	r, err := Open(project, name, dir, cache)
	if err != nil {
		return nil, err
	}
	if r.log.Head() >= plumbing.INIT {
		// Crash between directory creation and first open; the create
		// commit is already durable.
		return r, nil
	}
	root, err := r.odb.WriteTree(&storage.Tree{})
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	if _, err := r.log.Append(&storage.Record{
		Parent:          0,
		Root:            root,
		Author:          author,
		TimestampMillis: timestampMillis,
		Summary:         CreateCommitSummary,
		Markup:          plumbing.PLAIN,
	}); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) Close() error {
	err := r.log.Close()
	if oerr := r.odb.Close(); err == nil {
		err = oerr
	}
	r.hub.Close()
	return err
}

func (r *Repository) Project() string { return r.project }
func (r *Repository) Name() string    { return r.name }
func (r *Repository) Dir() string     { return r.dir }

// Head returns the current head revision.
func (r *Repository) Head() plumbing.Revision {
	return r.log.Head()
}

// Normalize resolves an absolute or relative revision against the current
// head.
func (r *Repository) Normalize(rev plumbing.Revision) (plumbing.Revision, error) {
	return rev.Resolve(r.Head())
}

func (r *Repository) record(rev plumbing.Revision) (*storage.Record, error) {
	abs, err := r.Normalize(rev)
	if err != nil {
		return nil, err
	}
	return r.log.Get(abs)
}

func decodeCommit(rec *storage.Record) (*Commit, error) {
	c := &Commit{
		Revision:        rec.Revision,
		Author:          rec.Author,
		TimestampMillis: rec.TimestampMillis,
		Summary:         rec.Summary,
		Detail:          rec.Detail,
		Markup:          rec.Markup,
	}
	if len(rec.Changes) != 0 {
		if err := json.Unmarshal(rec.Changes, &c.Changes); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Commit returns the commit stored at rev.
func (r *Repository) Commit(rev plumbing.Revision) (*Commit, error) {
	rec, err := r.record(rev)
	if err != nil {
		return nil, err
	}
	return decodeCommit(rec)
}

// rootAt resolves the root tree digest of a revision.
func (r *Repository) rootAt(rev plumbing.Revision) (plumbing.Hash, plumbing.Revision, error) {
	rec, err := r.record(rev)
	if err != nil {
		return plumbing.ZeroHash, 0, err
	}
	return rec.Root, rec.Revision, nil
}

// lookup walks the tree rooted at root down to the canonical path.
// It returns the matched tree entry, or nil for the root directory.
func (r *Repository) lookup(root plumbing.Hash, segments []string) (*storage.TreeEntry, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	oid := root
	for i, seg := range segments {
		t, err := r.odb.Tree(oid)
		if err != nil {
			return nil, err
		}
		te := t.Find(seg)
		if te == nil {
			return nil, plumbing.NewErrEntryNotFound("entry not found: /%s", strings.Join(segments[:i+1], "/"))
		}
		if i == len(segments)-1 {
			entry := *te
			return &entry, nil
		}
		if te.Type != plumbing.DIRECTORY {
			return nil, plumbing.NewErrEntryNotFound("entry not found: /%s", strings.Join(segments, "/"))
		}
		oid = te.ID
	}
	return nil, nil
}

// entryAt materializes the entry at the canonical path within root.
func (r *Repository) entryAt(root plumbing.Hash, canonical string, wantDir bool) (*Entry, error) {
	_, segments, _, err := plumbing.SplitPath(canonical)
	if err != nil {
		return nil, err
	}
	te, err := r.lookup(root, segments)
	if err != nil {
		return nil, err
	}
	if te == nil {
		return &Entry{Path: "/", Type: plumbing.DIRECTORY}, nil
	}
	if te.Type == plumbing.DIRECTORY {
		return &Entry{Path: canonical, Type: plumbing.DIRECTORY}, nil
	}
	if wantDir {
		return nil, plumbing.NewErrEntryNotFound("entry is not a directory: %s", canonical)
	}
	content, err := r.odb.Blob(te.ID)
	if err != nil {
		return nil, err
	}
	return &Entry{Path: canonical, Type: te.Type, Content: content}, nil
}

// walk enumerates every path under the tree rooted at oid, depth-first in
// lexicographic order, invoking fn with the canonical path of each entry.
func (r *Repository) walk(oid plumbing.Hash, prefix string, fn func(path string, te *storage.TreeEntry) error) error {
	t, err := r.odb.Tree(oid)
	if err != nil {
		return err
	}
	for i := range t.Entries {
		te := &t.Entries[i]
		path := prefix + "/" + te.Name
		if err := fn(path, te); err != nil {
			if err == plumbing.ErrStop {
				return nil
			}
			return err
		}
		if te.Type == plumbing.DIRECTORY {
			if err := r.walk(te.ID, path, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Hub exposes the watch hub of this repository.
func (r *Repository) Hub() *watch.Hub {
	return r.hub
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// ensureContext is a cheap cancellation check used between I/O steps.
func ensureContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
