// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/repo"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(&Options{Endpoint: srv.URL, Token: "appToken-test"})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClientRequestShape(t *testing.T) {
	var got *http.Request
	var body map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
	}))
	if err := c.CreateProject(context.Background(), "gameserver"); err != nil {
		t.Fatal(err)
	}
	if got.Method != "POST" || got.URL.Path != "/api/v1/projects" {
		t.Fatalf("request: %s %s", got.Method, got.URL.Path)
	}
	if got.Header.Get("Authorization") != "Bearer appToken-test" {
		t.Fatalf("authorization: %q", got.Header.Get("Authorization"))
	}
	if body["name"] != "gameserver" {
		t.Fatalf("body: %v", body)
	}
}

func TestClientAnonymousDefault(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()
	c, err := New(&Options{Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.CreateProject(context.Background(), "p"); err != nil {
		t.Fatal(err)
	}
	if auth != "Bearer anonymous" {
		t.Fatalf("authorization: %q", auth)
	}
}

func TestClientErrorMapping(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(&ErrorBody{Exception: "ChangeConflict", Message: "base revision 1 is stale"})
	}))
	_, err := c.Push(context.Background(), "p", "r", 1,
		&repo.CommitMessage{Summary: "x"}, []repo.Change{repo.NewUpsertJSON("/a.json", []byte(`{}`))})
	if !plumbing.IsErrChangeConflict(err) {
		t.Fatalf("error mapping: %v", err)
	}
}

func TestClientGetFile(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/projects/p/repos/r/contents/conf/a.json" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("revision") != "-1" || r.URL.Query().Get("jsonpath") != "$.a" {
			t.Errorf("query: %v", r.URL.Query())
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"revision": 7,
			"entry":    map[string]any{"path": "/conf/a.json", "type": "JSON", "content": map[string]int{"a": 1}},
		})
	}))
	entry, rev, err := c.GetFile(context.Background(), "p", "r", plumbing.HEAD,
		&repo.Query{Path: "/conf/a.json", Type: repo.JSONPath, Expressions: []string{"$.a"}})
	require.NoError(t, err)
	require.Equal(t, plumbing.Revision(7), rev)
	require.Equal(t, "/conf/a.json", entry.Path)
	require.JSONEq(t, `{"a":1}`, string(entry.Content))
}

func TestClientWatchHeaders(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != "3" {
			t.Errorf("If-None-Match: %q", r.Header.Get("If-None-Match"))
		}
		if r.Header.Get("Prefer") != "wait=30, notify-entry-not-found=true" {
			t.Errorf("Prefer: %q", r.Header.Get("Prefer"))
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	_, _, ok, err := c.WatchFile(context.Background(), "p", "r", 3,
		&repo.Query{Path: "/a.json"}, 30*time.Second, true)
	if err != nil || ok {
		t.Fatalf("timed-out watch: ok=%v err=%v", ok, err)
	}
}
