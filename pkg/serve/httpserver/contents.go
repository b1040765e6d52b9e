// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"net/http"
	"time"

	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/command"
	"github.com/line/centraldogma-sub008/pkg/serve/metadata"
	"github.com/line/centraldogma-sub008/pkg/serve/repo"
)

type entryResponse struct {
	Revision plumbing.Revision `json:"revision"`
	Entry    *repo.Entry       `json:"entry,omitempty"`
	Entries  []*repo.Entry     `json:"entries,omitempty"`
}

type watchResponse struct {
	Revision plumbing.Revision `json:"revision"`
	Entry    *repo.Entry       `json:"entry,omitempty"`
}

func (s *Server) NormalizeRevision(w http.ResponseWriter, r *Request) {
	rp, ok := s.repoForRead(w, r)
	if !ok {
		return
	}
	rev, err := plumbing.ParseRevision(r.Vars["revision"])
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	abs, err := rp.Normalize(rev)
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, http.StatusOK, map[string]plumbing.Revision{"revision": abs})
}

func (s *Server) ListFiles(w http.ResponseWriter, r *Request) {
	rp, ok := s.repoForRead(w, r)
	if !ok {
		return
	}
	rev, err := revisionParam(r, "revision")
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	entries, abs, err := rp.Find(rev, pathVar(r))
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	// Listing returns names and types only.
	for _, e := range entries {
		e.Content = nil
	}
	JsonEncode(w, http.StatusOK, entryResponse{Revision: abs, Entries: entries})
}

// GetContents reads a file or a set of files. With If-None-Match it turns
// into a long poll: 200 with the new revision on change, 304 on timeout.
func (s *Server) GetContents(w http.ResponseWriter, r *Request) {
	rp, ok := s.repoForRead(w, r)
	if !ok {
		return
	}
	path := pathVar(r)
	if last, watching, err := lastKnown(r); err != nil {
		renderError(w, r.Request, err)
		return
	} else if watching {
		s.watchContents(w, r, rp, path, last)
		return
	}
	rev, err := revisionParam(r, "revision")
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	if isPattern(path) {
		entries, abs, err := rp.Find(rev, path)
		if err != nil {
			renderError(w, r.Request, err)
			return
		}
		JsonEncode(w, http.StatusOK, entryResponse{Revision: abs, Entries: entries})
		return
	}
	q := &repo.Query{Path: path, Expressions: r.URL.Query()["jsonpath"]}
	if len(q.Expressions) != 0 {
		q.Type = repo.JSONPath
	}
	entry, abs, err := rp.Query(rev, q)
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, http.StatusOK, entryResponse{Revision: abs, Entry: entry})
}

func (s *Server) watchContents(w http.ResponseWriter, r *Request, rp *repo.Repository, path string, last plumbing.Revision) {
	wait, notifyEntryNotFound := preferences(r)
	if isPattern(path) {
		rev, ok, err := rp.WatchRepository(r.Context(), last, path, wait)
		if err != nil {
			renderError(w, r.Request, err)
			return
		}
		if !ok {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		JsonEncode(w, http.StatusOK, watchResponse{Revision: rev})
		return
	}
	q := &repo.Query{Path: path, Expressions: r.URL.Query()["jsonpath"]}
	if len(q.Expressions) != 0 {
		q.Type = repo.JSONPath
	}
	rev, entry, ok, err := rp.WatchFile(r.Context(), last, q, wait, notifyEntryNotFound)
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	JsonEncode(w, http.StatusOK, watchResponse{Revision: rev, Entry: entry})
}

type pushRequest struct {
	CommitMessage *repo.CommitMessage `json:"commitMessage"`
	Changes       []repo.Change       `json:"changes"`
}

type pushResponse struct {
	Revision plumbing.Revision `json:"revision"`
	PushedAt int64             `json:"pushedAt"`
	Changes  []repo.Change     `json:"changes,omitempty"`
}

func (s *Server) Push(w http.ResponseWriter, r *Request) {
	project, name := r.Vars["project"], r.Vars["repo"]
	force := r.URL.Query().Get("force") == "true"
	want := metadata.Write
	if force {
		want = metadata.Admin
	}
	if !s.checkRepoRole(w, r, project, name, want) {
		return
	}
	var in pushRequest
	if err := decodeBody(r, &in); err != nil {
		renderError(w, r.Request, err)
		return
	}
	base, err := revisionParam(r, "revision")
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	typ := command.Push
	if force {
		typ = command.ForcePush
	}
	res, err := s.exec.Execute(r.Context(), &command.Command{
		Type:            typ,
		Author:          r.Principal.Name(),
		TimestampMillis: time.Now().UnixMilli(),
		Project:         project,
		Repo:            name,
		BaseRevision:    base,
		Message:         in.CommitMessage,
		Changes:         in.Changes,
	})
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, http.StatusOK, pushResponse{Revision: res.Revision, PushedAt: res.TimestampMillis, Changes: res.Changes})
}
