// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/line/centraldogma-sub008/modules/plumbing"
)

func TestFind(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r,
		NewUpsertJSON("/conf/a.json", []byte(`{"v":1}`)),
		NewUpsertJSON("/conf/b.json", []byte(`{"v":2}`)),
		NewUpsertText("/notes/readme.txt", "hi"))
	entries, _, err := r.Find(plumbing.HEAD, "/conf/*.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Path != "/conf/a.json" || entries[1].Path != "/conf/b.json" {
		t.Fatalf("find: %+v", entries)
	}
	entries, _, err = r.Find(plumbing.HEAD, "/**")
	if err != nil {
		t.Fatal(err)
	}
	// Two directories plus three files, in path order.
	if len(entries) != 5 || entries[0].Path != "/conf" || entries[0].Type != plumbing.DIRECTORY {
		t.Fatalf("find all: %+v", entries)
	}
}

func TestQueryJSONPath(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r, NewUpsertJSON("/svc.json", []byte(`{"a":{"b":[1,2,3]},"name":"svc"}`)))
	entry, abs, err := r.Query(plumbing.HEAD, &Query{
		Path: "/svc.json", Type: JSONPath, Expressions: []string{"$.a.b[1]"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if abs != 2 || string(entry.Content) != "2" {
		t.Fatalf("query: rev=%d content=%s", abs, entry.Content)
	}
	// Expressions chain: each filters the previous result.
	entry, _, err = r.Query(plumbing.HEAD, &Query{
		Path: "/svc.json", Type: JSONPath, Expressions: []string{"$.a", "$.b"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.Content) != "[1,2,3]" {
		t.Fatalf("chained query: %s", entry.Content)
	}
	// No match fails the query rather than returning null.
	if _, _, err := r.Query(plumbing.HEAD, &Query{
		Path: "/svc.json", Type: JSONPath, Expressions: []string{"$.missing"},
	}); !plumbing.IsErrQueryExecution(err) {
		t.Fatalf("no match: %v", err)
	}
	// JSON_PATH against a text entry is a query error.
	mustPush(t, r, NewUpsertText("/plain.txt", "text"))
	if _, _, err := r.Query(plumbing.HEAD, &Query{
		Path: "/plain.txt", Type: JSONPath, Expressions: []string{"$.a"},
	}); !plumbing.IsErrQueryExecution(err) {
		t.Fatalf("non-JSON target: %v", err)
	}
}

func TestQueryHistoricalRevision(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r, NewUpsertJSON("/v.json", []byte(`{"v":1}`)))
	old := r.Head()
	mustPush(t, r, NewUpsertJSON("/v.json", []byte(`{"v":2}`)))
	entry, abs, err := r.Query(old, IdentityQuery("/v.json"))
	if err != nil {
		t.Fatal(err)
	}
	if abs != old || string(entry.Content) != `{"v":1}` {
		t.Fatalf("historical read: rev=%d %s", abs, entry.Content)
	}
}

func TestMerge(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r,
		NewUpsertJSON("/base.json", []byte(`{"db":{"host":"localhost","port":5432},"tags":["a","b"],"drop":true}`)),
		NewUpsertJSON("/override.json", []byte(`{"db":{"host":"prod"},"tags":["c"],"drop":null}`)))
	merged, err := r.Merge(plumbing.HEAD, &MergeQuery{Sources: []MergeSource{
		{Path: "/base.json"},
		{Path: "/override.json"},
		{Path: "/absent.json", Optional: true},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(merged.Paths) != 2 {
		t.Fatalf("contributing paths: %v", merged.Paths)
	}
	// Objects merge key-wise, arrays are replaced, null removes the key.
	want := `{"db":{"host":"prod","port":5432},"tags":["c"]}`
	if string(merged.Content) != want {
		t.Fatalf("merged: %s, want %s", merged.Content, want)
	}
}

func TestMergeErrors(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r,
		NewUpsertJSON("/obj.json", []byte(`{"k":{"x":1}}`)),
		NewUpsertJSON("/arr.json", []byte(`{"k":[1]}`)))
	if _, err := r.Merge(plumbing.HEAD, &MergeQuery{Sources: []MergeSource{
		{Path: "/obj.json"}, {Path: "/arr.json"},
	}}); !plumbing.IsErrQueryExecution(err) {
		t.Fatalf("type mismatch: %v", err)
	}
	if _, err := r.Merge(plumbing.HEAD, &MergeQuery{Sources: []MergeSource{
		{Path: "/missing.json"},
	}}); !plumbing.IsErrEntryNotFound(err) {
		t.Fatalf("required missing source: %v", err)
	}
	if _, err := r.Merge(plumbing.HEAD, &MergeQuery{Sources: []MergeSource{
		{Path: "/missing.json", Optional: true},
	}}); !plumbing.IsErrEntryNotFound(err) {
		t.Fatalf("all sources missing: %v", err)
	}
}

func TestHistory(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r, NewUpsertJSON("/a.json", []byte(`{"v":1}`))) // rev 2
	mustPush(t, r, NewUpsertText("/b.txt", "x"))                // rev 3
	mustPush(t, r, NewUpsertJSON("/a.json", []byte(`{"v":2}`))) // rev 4

	commits, err := r.History(plumbing.HEAD, plumbing.INIT, "/**", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 4 || commits[0].Revision != 4 || commits[3].Revision != 1 {
		t.Fatalf("full history: %+v", commits)
	}
	// Path filter keeps only commits touching it.
	commits, err = r.History(plumbing.HEAD, plumbing.INIT, "/a.json", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 2 || commits[0].Revision != 4 || commits[1].Revision != 2 {
		t.Fatalf("filtered history: %+v", commits)
	}
	// maxCommits truncates after ordering.
	commits, err = r.History(plumbing.HEAD, plumbing.INIT, "/**", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 2 || commits[0].Revision != 4 {
		t.Fatalf("truncated history: %+v", commits)
	}
	if _, err := r.History(99, plumbing.INIT, "/**", 0); !plumbing.IsErrRevisionNotFound(err) {
		t.Fatalf("out of range: %v", err)
	}
}

func TestHistorySparseMatches(t *testing.T) {
	r := newTestRepo(t)
	for i := 0; i < 8; i++ {
		mustPush(t, r, NewUpsertJSON("/noise/n.json", []byte(fmt.Sprintf(`{"i":%d}`, i))))
	}
	mustPush(t, r, NewUpsertJSON("/sparse/target.json", []byte(`{"hit":true}`))) // rev 10

	// maxCommits bounds the matches, not the scanned window: the only
	// matching commit sits past the first maxCommits revisions of the range.
	commits, err := r.History(plumbing.INIT, plumbing.HEAD, "/sparse/**", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 1 || commits[0].Revision != 10 {
		t.Fatalf("sparse history: %+v", commits)
	}
	// And it still caps the number of matches returned.
	commits, err = r.History(plumbing.INIT, plumbing.HEAD, "/noise/**", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 3 || commits[0].Revision != 2 || commits[2].Revision != 4 {
		t.Fatalf("capped history: %+v", commits)
	}
}

func TestDiff(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r,
		NewUpsertJSON("/keep.json", []byte(`{"v":1}`)),
		NewUpsertJSON("/gone.json", []byte(`{"x":true}`)),
		NewUpsertText("/note.txt", "before"))
	from := r.Head()
	mustPush(t, r,
		NewUpsertJSON("/keep.json", []byte(`{"v":2}`)),
		NewRemove("/gone.json"),
		NewUpsertText("/note.txt", "after"),
		NewUpsertText("/new.txt", "fresh"))
	to := r.Head()

	changes, err := r.Diff(from, to, "/**")
	if err != nil {
		t.Fatal(err)
	}
	byPath := make(map[string]Change, len(changes))
	for _, c := range changes {
		byPath[c.Path] = c
	}
	if len(changes) != 4 {
		t.Fatalf("diff: %+v", changes)
	}
	if byPath["/keep.json"].Type != ApplyJSONPatch {
		t.Fatalf("modified JSON: %+v", byPath["/keep.json"])
	}
	if byPath["/gone.json"].Type != Remove {
		t.Fatalf("removed entry: %+v", byPath["/gone.json"])
	}
	if byPath["/note.txt"].Type != ApplyTextPatch {
		t.Fatalf("modified text: %+v", byPath["/note.txt"])
	}
	if byPath["/new.txt"].Type != UpsertText {
		t.Fatalf("added entry: %+v", byPath["/new.txt"])
	}
	// Identical revisions diff to nothing.
	changes, err = r.Diff(to, to, "/**")
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Fatalf("self diff: %+v", changes)
	}
}

func TestDiffQuery(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r, NewUpsertJSON("/cfg.json", []byte(`{"a":1,"b":2}`)))
	from := r.Head()
	mustPush(t, r, NewUpsertJSON("/cfg.json", []byte(`{"a":9,"b":2}`)))
	change, err := r.DiffQuery(from, plumbing.HEAD, &Query{
		Path: "/cfg.json", Type: JSONPath, Expressions: []string{"$.a"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if change == nil || change.Type != ApplyJSONPatch {
		t.Fatalf("diff query change: %+v", change)
	}
	var ops []patchOp
	if err := json.Unmarshal(change.Content, &ops); err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].Op != "safeReplace" || ops[0].Path != "" {
		t.Fatalf("diff query ops: %+v", ops)
	}
	if string(ops[0].OldValue) != "1" || string(ops[0].Value) != "9" {
		t.Fatalf("diff query values: %+v", ops[0])
	}

	// The projection on $.b did not change between the two revisions.
	change, err = r.DiffQuery(from, plumbing.HEAD, &Query{
		Path: "/cfg.json", Type: JSONPath, Expressions: []string{"$.b"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if change != nil {
		t.Fatalf("identical projection: %+v", change)
	}
}

func TestWatchRepository(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r, NewUpsertJSON("/w.json", []byte(`{"v":1}`)))
	last := r.Head()

	// A commit before the watch call is reported immediately.
	mustPush(t, r, NewUpsertJSON("/w.json", []byte(`{"v":2}`)))
	rev, ok, err := r.WatchRepository(context.Background(), last, "/w.json", time.Second)
	if err != nil || !ok || rev != r.Head() {
		t.Fatalf("missed commit: rev=%d ok=%v err=%v", rev, ok, err)
	}

	// A commit landing during the wait wakes the watcher.
	last = r.Head()
	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = r.Push(context.Background(), plumbing.HEAD, "tester",
			&CommitMessage{Summary: "wake"}, []Change{NewUpsertJSON("/w.json", []byte(`{"v":3}`))})
	}()
	rev, ok, err = r.WatchRepository(context.Background(), last, "/w.json", 5*time.Second)
	if err != nil || !ok || rev != last+1 {
		t.Fatalf("wake: rev=%d ok=%v err=%v", rev, ok, err)
	}

	// Commits not matching the pattern do not wake the watcher.
	last = r.Head()
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = r.Push(context.Background(), plumbing.HEAD, "tester",
			&CommitMessage{Summary: "elsewhere"}, []Change{NewUpsertText("/other.txt", "x")})
	}()
	_, ok, err = r.WatchRepository(context.Background(), last, "/w.json", 300*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("unrelated commit woke the watcher: ok=%v err=%v", ok, err)
	}
}

func TestWatchFile(t *testing.T) {
	r := newTestRepo(t)
	mustPush(t, r, NewUpsertJSON("/f.json", []byte(`{"v":1}`)))
	last := r.Head()
	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = r.Push(context.Background(), plumbing.HEAD, "tester",
			&CommitMessage{Summary: "update"}, []Change{NewUpsertJSON("/f.json", []byte(`{"v":2}`))})
	}()
	rev, entry, ok, err := r.WatchFile(context.Background(), last, IdentityQuery("/f.json"), 5*time.Second, false)
	if err != nil || !ok {
		t.Fatalf("watch file: ok=%v err=%v", ok, err)
	}
	if rev != last+1 || string(entry.Content) != `{"v":2}` {
		t.Fatalf("watched value: rev=%d %s", rev, entry.Content)
	}
}

func TestWatchContextCancel(t *testing.T) {
	r := newTestRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, _, err := r.WatchRepository(ctx, r.Head(), "/**", 10*time.Second)
	if err != context.Canceled {
		t.Fatalf("cancel: %v", err)
	}
}
