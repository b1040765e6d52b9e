// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"github.com/emirpasic/gods/maps/treemap"

	"github.com/line/centraldogma-sub008/modules/pattern"
	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/storage"
)

// Get materializes the entry at path as of rev. A trailing "/" requires the
// entry to be a directory.
func (r *Repository) Get(rev plumbing.Revision, path string) (*Entry, plumbing.Revision, error) {
	canonical, _, wantDir, err := plumbing.SplitPath(path)
	if err != nil {
		return nil, 0, err
	}
	root, abs, err := r.rootAt(rev)
	if err != nil {
		return nil, 0, err
	}
	entry, err := r.entryAt(root, canonical, wantDir)
	if err != nil {
		return nil, 0, err
	}
	return entry, abs, nil
}

// Exists reports whether path names an entry at rev.
func (r *Repository) Exists(rev plumbing.Revision, path string) (bool, error) {
	_, _, err := r.Get(rev, path)
	if err != nil {
		if plumbing.IsErrEntryNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Find returns every entry whose path matches the pattern expression at
// rev, in lexicographic path order. Directory entries carry no content.
func (r *Repository) Find(rev plumbing.Revision, expr string) ([]*Entry, plumbing.Revision, error) {
	pat, err := pattern.Compile(expr)
	if err != nil {
		return nil, 0, err
	}
	root, abs, err := r.rootAt(rev)
	if err != nil {
		return nil, 0, err
	}
	// treemap keeps results ordered by path while the walk discovers them.
	matched := treemap.NewWithStringComparator()
	err = r.walk(root, "", func(path string, te *storage.TreeEntry) error {
		if !pat.Match(path) {
			return nil
		}
		if te.Type == plumbing.DIRECTORY {
			matched.Put(path, &Entry{Path: path, Type: plumbing.DIRECTORY})
			return nil
		}
		content, err := r.odb.Blob(te.ID)
		if err != nil {
			return err
		}
		matched.Put(path, &Entry{Path: path, Type: te.Type, Content: content})
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	entries := make([]*Entry, 0, matched.Size())
	matched.Each(func(_ any, v any) {
		entries = append(entries, v.(*Entry))
	})
	return entries, abs, nil
}
