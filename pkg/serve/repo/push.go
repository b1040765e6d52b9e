// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/line/centraldogma-sub008/modules/cjson"
	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/storage"
)

// pendingOp is the per-path delta a change produces after preview.
type pendingOp struct {
	remove  bool
	typ     plumbing.EntryType
	content []byte
}

// preview the change list against the tree at root, producing the
// normalized change list and the per-path deltas. Redundant changes are
// dropped; conflicts abort.
func (r *Repository) preview(root plumbing.Hash, changes []Change) ([]Change, map[string]pendingOp, error) {
	if len(changes) == 0 {
		return nil, nil, plumbing.NewErrInvalidPush("no changes to push")
	}
	targets := make(map[string]bool, len(changes))
	actual := make([]Change, 0, len(changes))
	ops := make(map[string]pendingOp, len(changes))
	for i := range changes {
		c := changes[i]
		canonical, err := c.validate()
		if err != nil {
			return nil, nil, err
		}
		c.Path = canonical
		for _, target := range c.TargetPaths() {
			if targets[target] {
				return nil, nil, plumbing.NewErrInvalidPush("duplicate path in push: %s", target)
			}
			targets[target] = true
		}
		cur, err := r.entryAt(root, canonical, false)
		if err != nil && !plumbing.IsErrEntryNotFound(err) {
			return nil, nil, err
		}
		exists := err == nil && cur.Type != plumbing.DIRECTORY
		if err == nil && cur.Type == plumbing.DIRECTORY {
			return nil, nil, plumbing.NewErrChangeConflict("change %s targets a directory: %s", c.Type, canonical)
		}

		switch c.Type {
		case UpsertJSON:
			canonicalContent, cerr := cjson.Canonicalize(c.Content)
			if cerr != nil {
				return nil, nil, plumbing.NewErrChangeFormat("UPSERT_JSON at %s: %v", canonical, cerr)
			}
			if exists {
				if cur.Type != plumbing.JSON {
					return nil, nil, plumbing.NewErrChangeConflict("entry %s is not JSON", canonical)
				}
				old, cerr := cjson.Canonicalize(cur.Content)
				if cerr != nil {
					return nil, nil, cerr
				}
				if bytes.Equal(old, canonicalContent) {
					continue // redundant
				}
				// Normalize into the minimal patch against the current
				// content; observable in the returned changes.
				patch, perr := minimalJSONPatch(old, canonicalContent)
				if perr != nil {
					return nil, nil, perr
				}
				actual = append(actual, NewApplyJSONPatch(canonical, patch))
			} else {
				if cerr := r.checkAncestors(root, canonical, ops); cerr != nil {
					return nil, nil, cerr
				}
				actual = append(actual, NewUpsertJSON(canonical, canonicalContent))
			}
			ops[canonical] = pendingOp{typ: plumbing.JSON, content: canonicalContent}

		case UpsertText:
			text, terr := c.Text()
			if terr != nil {
				return nil, nil, terr
			}
			if exists {
				if cur.Type != plumbing.TEXT {
					return nil, nil, plumbing.NewErrChangeConflict("entry %s is not text", canonical)
				}
				if string(cur.Content) == text {
					continue // redundant
				}
			} else if cerr := r.checkAncestors(root, canonical, ops); cerr != nil {
				return nil, nil, cerr
			}
			actual = append(actual, NewUpsertText(canonical, text))
			ops[canonical] = pendingOp{typ: plumbing.TEXT, content: []byte(text)}

		case Remove:
			if !exists {
				return nil, nil, plumbing.NewErrChangeConflict("cannot remove %s: entry not found", canonical)
			}
			actual = append(actual, NewRemove(canonical))
			ops[canonical] = pendingOp{remove: true}

		case Rename:
			newPath, terr := c.Text()
			if terr != nil {
				return nil, nil, terr
			}
			newCanonical, _, _, perr := plumbing.SplitPath(newPath)
			if perr != nil {
				return nil, nil, perr
			}
			if !exists {
				return nil, nil, plumbing.NewErrChangeConflict("cannot rename %s: entry not found", canonical)
			}
			if ok, eerr := r.existsAt(root, newCanonical); eerr != nil {
				return nil, nil, eerr
			} else if ok {
				return nil, nil, plumbing.NewErrChangeConflict("cannot rename %s to %s: target exists", canonical, newCanonical)
			}
			if cerr := r.checkAncestors(root, newCanonical, ops); cerr != nil {
				return nil, nil, cerr
			}
			actual = append(actual, NewRename(canonical, newCanonical))
			ops[canonical] = pendingOp{remove: true}
			ops[newCanonical] = pendingOp{typ: cur.Type, content: cur.Content}

		case ApplyJSONPatch:
			patchOps, perr := decodePatchOps(c.Content)
			if perr != nil {
				return nil, nil, perr
			}
			if !exists {
				return nil, nil, plumbing.NewErrChangeConflict("cannot patch %s: entry not found", canonical)
			}
			if cur.Type != plumbing.JSON {
				return nil, nil, plumbing.NewErrChangeConflict("entry %s is not JSON", canonical)
			}
			old, cerr := cjson.Canonicalize(cur.Content)
			if cerr != nil {
				return nil, nil, cerr
			}
			patched, perr2 := applyJSONPatch(canonical, old, patchOps)
			if perr2 != nil {
				return nil, nil, perr2
			}
			if bytes.Equal(old, patched) {
				continue // redundant
			}
			actual = append(actual, NewApplyJSONPatch(canonical, c.Content))
			ops[canonical] = pendingOp{typ: plumbing.JSON, content: patched}

		case ApplyTextPatch:
			patchText, terr := c.Text()
			if terr != nil {
				return nil, nil, terr
			}
			if !exists {
				return nil, nil, plumbing.NewErrChangeConflict("cannot patch %s: entry not found", canonical)
			}
			if cur.Type != plumbing.TEXT {
				return nil, nil, plumbing.NewErrChangeConflict("entry %s is not text", canonical)
			}
			patched, perr := applyTextPatch(canonical, string(cur.Content), patchText)
			if perr != nil {
				return nil, nil, perr
			}
			if patched == string(cur.Content) {
				continue // redundant
			}
			actual = append(actual, NewApplyTextPatch(canonical, patchText))
			ops[canonical] = pendingOp{typ: plumbing.TEXT, content: []byte(patched)}
		}
	}
	if len(actual) == 0 {
		return nil, nil, plumbing.NewErrRedundantChange("changes produce no net effect")
	}
	return actual, ops, nil
}

func (r *Repository) existsAt(root plumbing.Hash, canonical string) (bool, error) {
	_, err := r.entryAt(root, canonical, false)
	if err != nil {
		if plumbing.IsErrEntryNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// checkAncestors rejects a new entry whose ancestor is an existing file,
// taking the deltas of the same push into account.
func (r *Repository) checkAncestors(root plumbing.Hash, canonical string, ops map[string]pendingOp) error {
	for _, dir := range plumbing.ParentDirs(canonical) {
		if op, ok := ops[dir]; ok {
			if !op.remove {
				return plumbing.NewErrChangeConflict("%s exists as a file", dir)
			}
			continue
		}
		entry, err := r.entryAt(root, dir, false)
		if err != nil {
			if plumbing.IsErrEntryNotFound(err) {
				return nil
			}
			return err
		}
		if entry.Type != plumbing.DIRECTORY {
			return plumbing.NewErrChangeConflict("%s exists as a file", dir)
		}
	}
	return nil
}

// rewriteTree produces the root digest after applying ops. Empty
// directories left behind by removals are pruned.
func (r *Repository) rewriteTree(oid plumbing.Hash, prefix string, ops map[string]pendingOp) (plumbing.Hash, bool, error) {
	var t *storage.Tree
	if oid.IsZero() {
		t = &storage.Tree{}
	} else {
		loaded, err := r.odb.Tree(oid)
		if err != nil {
			return plumbing.ZeroHash, false, err
		}
		t = loaded
	}
	// Partition the ops by their next segment below prefix.
	direct := make(map[string]pendingOp)
	childDirs := make(map[string]bool)
	for path, op := range ops {
		if len(path) <= len(prefix)+1 || path[:len(prefix)+1] != prefix+"/" {
			continue
		}
		rest := path[len(prefix)+1:]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			childDirs[rest[:i]] = true
		} else {
			direct[rest] = op
		}
	}
	for name, op := range direct {
		if op.remove {
			t.Remove(name)
			continue
		}
		blob, err := r.odb.WriteBlob(op.content)
		if err != nil {
			return plumbing.ZeroHash, false, err
		}
		t.Upsert(storage.TreeEntry{Name: name, Type: op.typ, ID: blob})
	}
	for name := range childDirs {
		var childOid plumbing.Hash
		if te := t.Find(name); te != nil {
			childOid = te.ID
		}
		newChild, empty, err := r.rewriteTree(childOid, prefix+"/"+name, ops)
		if err != nil {
			return plumbing.ZeroHash, false, err
		}
		if empty {
			t.Remove(name)
		} else {
			t.Upsert(storage.TreeEntry{Name: name, Type: plumbing.DIRECTORY, ID: newChild})
		}
	}
	if len(t.Entries) == 0 && prefix != "" {
		return plumbing.ZeroHash, true, nil
	}
	newOid, err := r.odb.WriteTree(t)
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	return newOid, false, nil
}

// Push applies changes against baseRev and commits the result. The preview
// always runs against the current head; an explicit (non-relative) base
// whose head has moved on fails with a conflict instead of retrying.
func (r *Repository) Push(ctx context.Context, baseRev plumbing.Revision, author string, msg *CommitMessage, changes []Change) (*CommitResult, error) {
	return r.push(ctx, baseRev, author, nowMillis(), msg, changes)
}

// PushAt is Push with a caller-supplied commit timestamp; replicated
// command logs use it so every replica writes identical records.
func (r *Repository) PushAt(ctx context.Context, baseRev plumbing.Revision, author string, timestampMillis int64, msg *CommitMessage, changes []Change) (*CommitResult, error) {
	return r.push(ctx, baseRev, author, timestampMillis, msg, changes)
}

func (r *Repository) push(ctx context.Context, baseRev plumbing.Revision, author string, timestampMillis int64, msg *CommitMessage, changes []Change) (*CommitResult, error) {
	if err := ensureContext(ctx); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, plumbing.NewErrInvalidPush("commit message must not be empty")
	}
	if err := msg.normalize(); err != nil {
		return nil, err
	}
	if !baseRev.Valid() {
		return nil, plumbing.NewErrRevisionNotFound("revision 0 is reserved")
	}
	// Resolve before queueing so an explicit base is validated against the
	// head as of submission.
	base, err := r.Normalize(baseRev)
	if err != nil {
		return nil, err
	}

	r.cmu.Lock()
	defer r.cmu.Unlock()
	if err := ensureContext(ctx); err != nil {
		return nil, err
	}
	head := r.Head()
	if !baseRev.IsRelative() && base != head {
		// The head advanced past an explicitly named base while this push
		// queued; the caller asked for optimistic locking.
		return nil, plumbing.NewErrChangeConflict("base revision %d is not head %d", base, head)
	}
	headRec, err := r.log.Get(head)
	if err != nil {
		return nil, err
	}
	actual, ops, err := r.preview(headRec.Root, changes)
	if err != nil {
		return nil, err
	}
	newRoot, _, err := r.rewriteTree(headRec.Root, "", ops)
	if err != nil {
		return nil, err
	}
	rawChanges, err := json.Marshal(actual)
	if err != nil {
		return nil, err
	}
	rev, err := r.log.Append(&storage.Record{
		Parent:          head,
		Root:            newRoot,
		Author:          author,
		TimestampMillis: timestampMillis,
		Summary:         msg.Summary,
		Detail:          msg.Detail,
		Markup:          msg.Markup,
		Changes:         rawChanges,
	})
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(actual))
	for i := range actual {
		paths = append(paths, actual[i].TargetPaths()...)
	}
	r.hub.Notify(rev, paths)
	return &CommitResult{Revision: rev, TimestampMillis: timestampMillis, Changes: actual}, nil
}

// TransformFunc rewrites the current content of an entry. A nil returned
// slice with nil error leaves the entry untouched.
type TransformFunc func(head plumbing.Revision, content []byte) ([]byte, error)

// Transform is a server-side read-modify-write: it reads the entry at the
// current head, applies fn, pushes the minimal patch and retries once when
// another commit slips in between.
func (r *Repository) Transform(ctx context.Context, author string, msg *CommitMessage, path string, typ plumbing.EntryType, fn TransformFunc) (*CommitResult, error) {
	canonical, _, _, err := plumbing.SplitPath(path)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ensureContext(ctx); err != nil {
			return nil, err
		}
		head := r.Head()
		entry, _, err := r.Get(head, canonical)
		var current []byte
		switch {
		case err == nil:
			current = entry.Content
		case plumbing.IsErrEntryNotFound(err):
			current = nil
		default:
			return nil, err
		}
		next, err := fn(head, current)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, plumbing.NewErrRedundantChange("transform of %s produced no change", canonical)
		}
		var change Change
		if typ == plumbing.JSON {
			change = NewUpsertJSON(canonical, next)
		} else {
			change = NewUpsertText(canonical, string(next))
		}
		result, err := r.push(ctx, head, author, nowMillis(), msg, []Change{change})
		if err == nil {
			return result, nil
		}
		if !plumbing.IsErrChangeConflict(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
