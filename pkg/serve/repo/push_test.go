// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/line/centraldogma-sub008/modules/plumbing"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := Create("foo", "bar", filepath.Join(t.TempDir(), "bar"), "tester", 1700000000000, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func mustPush(t *testing.T, r *Repository, changes ...Change) *CommitResult {
	t.Helper()
	res, err := r.Push(context.Background(), plumbing.HEAD, "tester", &CommitMessage{Summary: "test commit"}, changes)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestCreateRepository(t *testing.T) {
	r := newTestRepo(t)
	if r.Head() != plumbing.INIT {
		t.Fatalf("head after create: %d", r.Head())
	}
	c, err := r.Commit(plumbing.INIT)
	if err != nil {
		t.Fatal(err)
	}
	if c.Summary != CreateCommitSummary {
		t.Fatalf("first commit: %+v", c)
	}
	entries, _, err := r.Find(plumbing.HEAD, "/**")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("fresh repository must be empty: %v", entries)
	}
}

func TestPushAndGet(t *testing.T) {
	r := newTestRepo(t)
	res := mustPush(t, r, NewUpsertJSON("/conf/a.json", []byte(`{ "b" : 1, "a" : 2 }`)))
	if res.Revision != 2 {
		t.Fatalf("revision: %d", res.Revision)
	}
	entry, abs, err := r.Get(plumbing.HEAD, "/conf/a.json")
	if err != nil {
		t.Fatal(err)
	}
	if abs != 2 || entry.Type != plumbing.JSON {
		t.Fatalf("entry: rev=%d %+v", abs, entry)
	}
	if string(entry.Content) != `{"a":2,"b":1}` {
		t.Fatalf("stored content must be canonical: %s", entry.Content)
	}
	// Intermediate directories materialize implicitly.
	dir, _, err := r.Get(plumbing.HEAD, "/conf/")
	if err != nil {
		t.Fatal(err)
	}
	if dir.Type != plumbing.DIRECTORY {
		t.Fatalf("directory entry: %+v", dir)
	}
}

func TestPushUpsertBecomesMinimalPatch(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r, NewUpsertJSON("/a.json", []byte(`{"x":1,"y":"keep"}`)))
	res := mustPush(t, r, NewUpsertJSON("/a.json", []byte(`{"x":2,"y":"keep"}`)))
	if len(res.Changes) != 1 || res.Changes[0].Type != ApplyJSONPatch {
		t.Fatalf("normalized changes: %+v", res.Changes)
	}
	var ops []patchOp
	if err := json.Unmarshal(res.Changes[0].Content, &ops); err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].Op != "safeReplace" || ops[0].Path != "/x" {
		t.Fatalf("ops: %+v", ops)
	}
	if string(ops[0].OldValue) != "1" || string(ops[0].Value) != "2" {
		t.Fatalf("safeReplace values: %s -> %s", ops[0].OldValue, ops[0].Value)
	}
	// The history records the normalized change, not the original upsert.
	c, err := r.Commit(res.Revision)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Changes) != 1 || c.Changes[0].Type != ApplyJSONPatch {
		t.Fatalf("recorded changes: %+v", c.Changes)
	}
}

func TestPushRedundant(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r, NewUpsertJSON("/a.json", []byte(`{"x":1}`)))
	head := r.Head()
	// Logically identical, different key order and whitespace.
	_, err := r.Push(context.Background(), plumbing.HEAD, "tester",
		&CommitMessage{Summary: "noop"}, []Change{NewUpsertJSON("/a.json", []byte(` { "x" : 1 } `))})
	if !plumbing.IsErrRedundantChange(err) {
		t.Fatalf("expected RedundantChange, got %v", err)
	}
	if r.Head() != head {
		t.Fatal("a rejected push must not advance the head")
	}
}

func TestPushDropsRedundantKeepsEffective(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r,
		NewUpsertJSON("/a.json", []byte(`{"x":1}`)),
		NewUpsertText("/b.txt", "hello"))
	res := mustPush(t, r,
		NewUpsertJSON("/a.json", []byte(`{"x":1}`)),
		NewUpsertText("/b.txt", "changed"))
	if len(res.Changes) != 1 || res.Changes[0].Path != "/b.txt" {
		t.Fatalf("redundant member must be dropped: %+v", res.Changes)
	}
}

func TestPushStaleExplicitBase(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r, NewUpsertText("/a.txt", "one"))
	base := r.Head()
	mustPush(t, r, NewUpsertText("/a.txt", "two"))
	_, err := r.Push(context.Background(), base, "tester",
		&CommitMessage{Summary: "stale"}, []Change{NewUpsertText("/a.txt", "three")})
	if !plumbing.IsErrChangeConflict(err) {
		t.Fatalf("expected ChangeConflict, got %v", err)
	}
	// A relative base always targets the current head.
	mustPush(t, r, NewUpsertText("/a.txt", "three"))
}

func TestPushDuplicateTarget(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.Push(context.Background(), plumbing.HEAD, "tester", &CommitMessage{Summary: "dup"},
		[]Change{NewUpsertText("/a.txt", "x"), NewUpsertText("/a.txt", "y")})
	if !plumbing.IsErrInvalidPush(err) {
		t.Fatalf("expected InvalidPush, got %v", err)
	}
}

func TestPushTypeConflicts(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r, NewUpsertJSON("/a.json", []byte(`{}`)), NewUpsertText("/b.txt", "text"))
	cases := []Change{
		NewUpsertText("/a.json", "now text"),
		NewUpsertJSON("/b.txt", []byte(`{}`)),
		// An existing file may not become a directory component.
		NewUpsertText("/b.txt/child.txt", "x"),
	}
	for _, c := range cases {
		_, err := r.Push(context.Background(), plumbing.HEAD, "tester", &CommitMessage{Summary: "bad"}, []Change{c})
		if !plumbing.IsErrChangeConflict(err) {
			t.Fatalf("change %s at %s: expected ChangeConflict, got %v", c.Type, c.Path, err)
		}
	}
}

func TestPushMalformedJSON(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.Push(context.Background(), plumbing.HEAD, "tester", &CommitMessage{Summary: "bad"},
		[]Change{NewUpsertJSON("/a.json", []byte(`{"x":`))})
	if !plumbing.IsErrChangeFormat(err) {
		t.Fatalf("expected ChangeFormat, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r, NewUpsertText("/dir/a.txt", "x"))
	mustPush(t, r, NewRemove("/dir/a.txt"))
	if ok, err := r.Exists(plumbing.HEAD, "/dir/a.txt"); err != nil || ok {
		t.Fatalf("removed entry still present: %v %v", ok, err)
	}
	// The now-empty parent directory is pruned.
	if ok, err := r.Exists(plumbing.HEAD, "/dir"); err != nil || ok {
		t.Fatalf("empty directory not pruned: %v %v", ok, err)
	}
	_, err := r.Push(context.Background(), plumbing.HEAD, "tester", &CommitMessage{Summary: "again"},
		[]Change{NewRemove("/dir/a.txt")})
	if !plumbing.IsErrChangeConflict(err) {
		t.Fatalf("removing an absent entry: %v", err)
	}
}

func TestRename(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r, NewUpsertText("/old.txt", "content"))
	mustPush(t, r, NewRename("/old.txt", "/sub/new.txt"))
	if ok, _ := r.Exists(plumbing.HEAD, "/old.txt"); ok {
		t.Fatal("source must vanish")
	}
	entry, _, err := r.Get(plumbing.HEAD, "/sub/new.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.Content) != "content" {
		t.Fatalf("renamed content: %s", entry.Content)
	}
	// Renaming onto an existing entry conflicts.
	mustPush(t, r, NewUpsertText("/other.txt", "x"))
	_, err = r.Push(context.Background(), plumbing.HEAD, "tester", &CommitMessage{Summary: "clash"},
		[]Change{NewRename("/sub/new.txt", "/other.txt")})
	if !plumbing.IsErrChangeConflict(err) {
		t.Fatalf("rename onto existing: %v", err)
	}
}

func TestApplyJSONPatchChange(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r, NewUpsertJSON("/a.json", []byte(`{"x":1}`)))
	mustPush(t, r, NewApplyJSONPatch("/a.json", []byte(`[{"op":"safeReplace","path":"/x","oldValue":1,"value":5}]`)))
	entry, _, err := r.Get(plumbing.HEAD, "/a.json")
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.Content) != `{"x":5}` {
		t.Fatalf("patched content: %s", entry.Content)
	}
	// safeReplace against a value that moved on is a conflict.
	_, err = r.Push(context.Background(), plumbing.HEAD, "tester", &CommitMessage{Summary: "stale patch"},
		[]Change{NewApplyJSONPatch("/a.json", []byte(`[{"op":"safeReplace","path":"/x","oldValue":1,"value":9}]`))})
	if !plumbing.IsErrChangeConflict(err) {
		t.Fatalf("stale safeReplace: %v", err)
	}
}

func TestApplyTextPatchChange(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r, NewUpsertText("/a.txt", "line one\nline two\n"))
	patch := makeTextPatch("line one\nline two\n", "line one\nline 2\n")
	mustPush(t, r, NewApplyTextPatch("/a.txt", patch))
	entry, _, err := r.Get(plumbing.HEAD, "/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.Content) != "line one\nline 2\n" {
		t.Fatalf("patched text: %q", entry.Content)
	}
	_, err = r.Push(context.Background(), plumbing.HEAD, "tester", &CommitMessage{Summary: "garbage"},
		[]Change{NewApplyTextPatch("/a.txt", "not a patch")})
	if !plumbing.IsErrChangeFormat(err) {
		t.Fatalf("unparseable patch: %v", err)
	}
}

func TestPushAtomicity(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r, NewUpsertText("/keep.txt", "v"))
	head := r.Head()
	_, err := r.Push(context.Background(), plumbing.HEAD, "tester", &CommitMessage{Summary: "partial"},
		[]Change{
			NewUpsertText("/new.txt", "fine"),
			NewRemove("/missing.txt"),
		})
	if !plumbing.IsErrChangeConflict(err) {
		t.Fatalf("expected ChangeConflict, got %v", err)
	}
	if r.Head() != head {
		t.Fatal("a failed push must not commit")
	}
	if ok, _ := r.Exists(plumbing.HEAD, "/new.txt"); ok {
		t.Fatal("no change of a failed push may be visible")
	}
}

func TestPushValidation(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.Push(ctx, plumbing.HEAD, "tester", &CommitMessage{Summary: "s"}, nil); !plumbing.IsErrInvalidPush(err) {
		t.Fatalf("empty change list: %v", err)
	}
	if _, err := r.Push(ctx, plumbing.HEAD, "tester", &CommitMessage{}, []Change{NewUpsertText("/a.txt", "x")}); !plumbing.IsErrInvalidPush(err) {
		t.Fatalf("empty summary: %v", err)
	}
	if _, err := r.Push(ctx, 0, "tester", &CommitMessage{Summary: "s"}, []Change{NewUpsertText("/a.txt", "x")}); !plumbing.IsErrRevisionNotFound(err) {
		t.Fatalf("revision 0: %v", err)
	}
	if _, err := r.Push(ctx, plumbing.HEAD, "tester", &CommitMessage{Summary: "s"},
		[]Change{NewUpsertText("relative.txt", "x")}); !plumbing.IsErrInvalidPush(err) {
		t.Fatalf("relative path: %v", err)
	}
}

func TestTransformRetriesOnce(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r, NewUpsertJSON("/c.json", []byte(`{"n":0}`)))
	calls := 0
	res, err := r.Transform(context.Background(), "tester", &CommitMessage{Summary: "bump"},
		"/c.json", plumbing.JSON, func(head plumbing.Revision, content []byte) ([]byte, error) {
			calls++
			if calls == 1 {
				// Another writer slips in before our push lands.
				mustPush(t, r, NewUpsertJSON("/c.json", []byte(`{"n":7}`)))
			}
			var doc struct {
				N int `json:"n"`
			}
			if err := json.Unmarshal(content, &doc); err != nil {
				return nil, err
			}
			return json.Marshal(map[string]int{"n": doc.N + 1})
		})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("transform calls: %d", calls)
	}
	entry, _, err := r.Get(res.Revision, "/c.json")
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.Content) != `{"n":8}` {
		t.Fatalf("transformed content: %s", entry.Content)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "r")
	r, err := Create("foo", "bar", dir, "tester", 1700000000000, nil)
	if err != nil {
		t.Fatal(err)
	}
	mustPush(t, r, NewUpsertJSON("/a.json", []byte(`{"v":1}`)))
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	r, err = Open("foo", "bar", dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	entry, abs, err := r.Get(plumbing.HEAD, "/a.json")
	if err != nil {
		t.Fatal(err)
	}
	if abs != 2 || string(entry.Content) != `{"v":1}` {
		t.Fatalf("after reopen: rev=%d %s", abs, entry.Content)
	}
}
