// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/repo"
)

func writeWatchEntry(w http.ResponseWriter, rev int, content string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"revision": rev,
		"entry":    map[string]any{"path": "/w.json", "type": "JSON", "content": json.RawMessage(content)},
	})
}

// fileStub scripts a file watch: the plain initial read sees revision 2,
// the first long poll delivers revision 3 twice in a row (a duplicate the
// watcher must swallow), later polls time out.
type fileStub struct {
	watchCalls atomic.Int32
}

func (s *fileStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if len(r.Header.Get("If-None-Match")) == 0 {
		writeWatchEntry(w, 2, `{"n":1}`)
		return
	}
	switch s.watchCalls.Add(1) {
	case 1, 2:
		writeWatchEntry(w, 3, `{"n":2}`)
	default:
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusNotModified)
	}
}

func TestFileWatcher(t *testing.T) {
	stub := &fileStub{}
	c := newTestClient(t, stub)
	w := c.NewFileWatcher("p", "r", &repo.Query{Path: "/w.json"})
	defer w.Close()

	observed := make(chan Latest, 8)
	w.Watch(func(v Latest) { observed <- v })
	w.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	first, err := w.AwaitInitial(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.Revision != 2 || string(first.Entry.Content) != `{"n":1}` {
		t.Fatalf("initial: %+v", first)
	}

	select {
	case v := <-observed:
		if v.Revision != 2 {
			t.Fatalf("first notification: %+v", v)
		}
	case <-ctx.Done():
		t.Fatal("no initial notification")
	}
	select {
	case v := <-observed:
		if v.Revision != 3 || string(v.Entry.Content) != `{"n":2}` {
			t.Fatalf("second notification: %+v", v)
		}
	case <-ctx.Done():
		t.Fatal("no update notification")
	}
	// The duplicate revision 3 from the stub must not be delivered again.
	select {
	case v := <-observed:
		t.Fatalf("duplicate delivery: %+v", v)
	case <-time.After(300 * time.Millisecond):
	}

	if v, err := w.Latest(); err != nil || v.Revision != 3 {
		t.Fatalf("latest: %+v %v", v, err)
	}
	// A listener registered late sees the current value once.
	late := make(chan Latest, 1)
	w.Watch(func(v Latest) { late <- v })
	select {
	case v := <-late:
		if v.Revision != 3 {
			t.Fatalf("late listener: %+v", v)
		}
	case <-ctx.Done():
		t.Fatal("late listener never called")
	}
}

func TestRepositoryWatcher(t *testing.T) {
	var watchCalls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.Header.Get("If-None-Match")) == 0 {
			// The initial normalize of HEAD.
			_ = json.NewEncoder(w).Encode(map[string]int{"revision": 5})
			return
		}
		if watchCalls.Add(1) == 1 {
			_ = json.NewEncoder(w).Encode(map[string]int{"revision": 6})
			return
		}
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusNotModified)
	}))
	w := c.NewRepositoryWatcher("p", "r", "/conf/**")
	defer w.Close()
	observed := make(chan Latest, 8)
	w.Watch(func(v Latest) { observed <- v })
	w.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	first, err := w.AwaitInitial(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.Revision != 5 || first.Entry != nil {
		t.Fatalf("initial: %+v", first)
	}
	for _, want := range []plumbing.Revision{5, 6} {
		select {
		case v := <-observed:
			if v.Revision != want {
				t.Fatalf("notification: %+v, want revision %d", v, want)
			}
		case <-ctx.Done():
			t.Fatal("missing notification")
		}
	}
}

func TestWatcherWaitsForMissingEntry(t *testing.T) {
	var watchCalls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.Header.Get("If-None-Match")) == 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(&ErrorBody{Exception: "EntryNotFound", Message: "no such entry"})
			return
		}
		if watchCalls.Add(1) == 1 {
			writeWatchEntry(w, 4, `{"born":true}`)
			return
		}
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusNotModified)
	}))
	w := c.NewFileWatcher("p", "r", &repo.Query{Path: "/w.json"})
	defer w.Close()
	w.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	first, err := w.AwaitInitial(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.Revision != 4 || string(first.Entry.Content) != `{"born":true}` {
		t.Fatalf("initial after entry creation: %+v", first)
	}
}

func TestWatcherRetriesAfterFailure(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if len(r.Header.Get("If-None-Match")) == 0 {
			writeWatchEntry(w, 2, `{"n":1}`)
			return
		}
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusNotModified)
	}))
	w := c.NewFileWatcher("p", "r", &repo.Query{Path: "/w.json"})
	defer w.Close()
	w.Start()

	// The first attempt fails; the watcher backs off and retries.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	first, err := w.AwaitInitial(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.Revision != 2 {
		t.Fatalf("initial after retry: %+v", first)
	}
}

func TestWatcherClose(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	w := c.NewFileWatcher("p", "r", &repo.Query{Path: "/w.json"})
	w.Start()
	w.Close()
	if _, err := w.AwaitInitial(context.Background()); err != ErrWatcherClosed {
		t.Fatalf("await after close: %v", err)
	}
	// Closing twice and starting after close are no-ops.
	w.Close()
	w.Start()
	if _, err := w.Latest(); err == nil {
		t.Fatal("no value was ever observed")
	}
}
