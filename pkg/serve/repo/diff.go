// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"bytes"

	"github.com/line/centraldogma-sub008/modules/cjson"
	"github.com/line/centraldogma-sub008/modules/pattern"
	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/storage"
)

// historyChunk bounds one revision-log read while History walks a range.
const historyChunk = 64

// History returns the commits in [from, to] whose change set intersects
// expr, ordered from "from" toward "to". maxCommits bounds the matching
// commits, not the scanned window, so the whole range is walked in chunks
// until enough matches are found.
func (r *Repository) History(from, to plumbing.Revision, expr string, maxCommits int) ([]*Commit, error) {
	pat, err := pattern.Compile(expr)
	if err != nil {
		return nil, err
	}
	absFrom, err := r.Normalize(from)
	if err != nil {
		return nil, err
	}
	absTo, err := r.Normalize(to)
	if err != nil {
		return nil, err
	}
	if maxCommits <= 0 || maxCommits > storage.MAX_MAX_COMMITS {
		maxCommits = storage.MAX_MAX_COMMITS
	}
	step := plumbing.Revision(1)
	if absFrom > absTo {
		step = -1
	}
	commits := make([]*Commit, 0, maxCommits)
	for rev := absFrom; ; rev += step * historyChunk {
		end := rev + step*(historyChunk-1)
		if (step > 0 && end > absTo) || (step < 0 && end < absTo) {
			end = absTo
		}
		records, err := r.log.Range(rev, end, historyChunk)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			c, err := decodeCommit(rec)
			if err != nil {
				return nil, err
			}
			if commitTouches(c, pat) {
				commits = append(commits, c)
				if len(commits) == maxCommits {
					return commits, nil
				}
			}
		}
		if end == absTo {
			return commits, nil
		}
	}
}

// Diff computes the minimum change set transforming the entries matching
// expr at from into those at to. Identical content yields nothing.
func (r *Repository) Diff(from, to plumbing.Revision, expr string) ([]Change, error) {
	oldEntries, _, err := r.Find(from, expr)
	if err != nil {
		return nil, err
	}
	newEntries, _, err := r.Find(to, expr)
	if err != nil {
		return nil, err
	}
	oldByPath := make(map[string]*Entry, len(oldEntries))
	for _, e := range oldEntries {
		if e.Type != plumbing.DIRECTORY {
			oldByPath[e.Path] = e
		}
	}
	var changes []Change
	seen := make(map[string]bool, len(newEntries))
	for _, e := range newEntries {
		if e.Type == plumbing.DIRECTORY {
			continue
		}
		seen[e.Path] = true
		old, existed := oldByPath[e.Path]
		switch {
		case !existed || old.Type != e.Type:
			if e.Type == plumbing.JSON {
				changes = append(changes, NewUpsertJSON(e.Path, e.Content))
			} else {
				changes = append(changes, NewUpsertText(e.Path, string(e.Content)))
			}
		case e.Type == plumbing.JSON:
			oldC, err := cjson.Canonicalize(old.Content)
			if err != nil {
				return nil, err
			}
			newC, err := cjson.Canonicalize(e.Content)
			if err != nil {
				return nil, err
			}
			if bytes.Equal(oldC, newC) {
				continue
			}
			patch, err := minimalJSONPatch(oldC, newC)
			if err != nil {
				return nil, err
			}
			changes = append(changes, NewApplyJSONPatch(e.Path, patch))
		default:
			if bytes.Equal(old.Content, e.Content) {
				continue
			}
			changes = append(changes, NewApplyTextPatch(e.Path, makeTextPatch(string(old.Content), string(e.Content))))
		}
	}
	// Entries present only at "from" are removals.
	for _, e := range oldEntries {
		if e.Type == plumbing.DIRECTORY || seen[e.Path] {
			continue
		}
		if _, existed := oldByPath[e.Path]; existed {
			changes = append(changes, NewRemove(e.Path))
		}
	}
	return changes, nil
}

// DiffQuery projects q at both revisions and returns the patch between the
// two projections: an RFC-6902 operation list for JSON queries, a text
// patch otherwise. Identical projections yield nil.
func (r *Repository) DiffQuery(from, to plumbing.Revision, q *Query) (*Change, error) {
	oldEntry, _, err := r.Query(from, q)
	if err != nil {
		return nil, err
	}
	newEntry, _, err := r.Query(to, q)
	if err != nil {
		return nil, err
	}
	if oldEntry.Type == plumbing.JSON {
		if cjson.Equal(oldEntry.Content, newEntry.Content) {
			return nil, nil
		}
		patch, err := minimalJSONPatch(oldEntry.Content, newEntry.Content)
		if err != nil {
			return nil, err
		}
		c := NewApplyJSONPatch(newEntry.Path, patch)
		return &c, nil
	}
	if bytes.Equal(oldEntry.Content, newEntry.Content) {
		return nil, nil
	}
	c := NewApplyTextPatch(newEntry.Path, makeTextPatch(string(oldEntry.Content), string(newEntry.Content)))
	return &c, nil
}
