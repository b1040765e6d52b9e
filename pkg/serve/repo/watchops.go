// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"time"

	"github.com/line/centraldogma-sub008/modules/pattern"
	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/watch"
)

// changedSince reports whether any commit in (lastKnown, head] touches pat.
func (r *Repository) changedSince(lastKnown, head plumbing.Revision, pat *pattern.Pattern) (bool, error) {
	for rev := lastKnown + 1; rev <= head; rev++ {
		c, err := r.Commit(rev)
		if err != nil {
			return false, err
		}
		if commitTouches(c, pat) {
			return true, nil
		}
	}
	return false, nil
}

func commitTouches(c *Commit, pat *pattern.Pattern) bool {
	if len(c.Changes) == 0 {
		// Lifecycle commits (repository creation) touch the root.
		return pat.Match("/") || pat.String() == pattern.All
	}
	for i := range c.Changes {
		if pat.MatchAny(c.Changes[i].TargetPaths()) {
			return true
		}
	}
	return false
}

// WatchRepository returns the first revision after lastKnown whose change
// set intersects expr, blocking up to timeout. The bool is false when the
// budget elapsed with nothing to report (NotModified).
func (r *Repository) WatchRepository(ctx context.Context, lastKnown plumbing.Revision, expr string, timeout time.Duration) (plumbing.Revision, bool, error) {
	pat, err := pattern.Compile(expr)
	if err != nil {
		return 0, false, err
	}
	last, err := r.Normalize(lastKnown)
	if err != nil {
		return 0, false, err
	}
	// Register before scanning so a commit racing with the scan is not
	// missed.
	w := r.hub.Register(last, pat)
	defer r.hub.Unregister(w)
	head := r.Head()
	if head > last {
		changed, err := r.changedSince(last, head, pat)
		if err != nil {
			return 0, false, err
		}
		if changed {
			return head, true, nil
		}
	}
	return r.hub.Await(ctx, w, timeout)
}

// WatchFile is WatchRepository for a single queried entry: it additionally
// materializes the query result at the woken revision. When the entry does
// not exist (or the query no longer matches) it keeps waiting, unless the
// caller opted into errorOnEntryNotFound.
func (r *Repository) WatchFile(ctx context.Context, lastKnown plumbing.Revision, q *Query, timeout time.Duration, errorOnEntryNotFound bool) (plumbing.Revision, *Entry, bool, error) {
	canonical, err := q.normalize()
	if err != nil {
		return 0, nil, false, err
	}
	last, err := r.Normalize(lastKnown)
	if err != nil {
		return 0, nil, false, err
	}
	deadline := time.Now().Add(watch.ClipWait(timeout))
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, nil, false, nil
		}
		rev, ok, err := r.WatchRepository(ctx, last, canonical, remaining)
		if err != nil {
			return 0, nil, false, err
		}
		if !ok {
			return 0, nil, false, nil
		}
		entry, abs, qerr := r.Query(rev, q)
		switch {
		case qerr == nil:
			return abs, entry, true, nil
		case plumbing.IsErrEntryNotFound(qerr) || plumbing.IsErrQueryExecution(qerr):
			if errorOnEntryNotFound {
				return 0, nil, false, plumbing.NewErrEntryNotFound("entry not found: %s", canonical)
			}
			// Absent value; keep waiting for the next touching commit.
			last = rev
		default:
			return 0, nil, false, qerr
		}
	}
}
