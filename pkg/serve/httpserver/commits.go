// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/line/centraldogma-sub008/modules/pattern"
	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/repo"
)

func (s *Server) History(w http.ResponseWriter, r *Request) {
	rp, ok := s.repoForRead(w, r)
	if !ok {
		return
	}
	from, err := plumbing.ParseRevision(r.Vars["revision"])
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	to := plumbing.HEAD
	if v := r.URL.Query().Get("to"); len(v) != 0 {
		if to, err = plumbing.ParseRevision(v); err != nil {
			renderError(w, r.Request, err)
			return
		}
	}
	expr := r.URL.Query().Get("path")
	if len(expr) == 0 {
		expr = pattern.All
	}
	maxCommits := 0
	if v := r.URL.Query().Get("maxCommits"); len(v) != 0 {
		if maxCommits, err = strconv.Atoi(v); err != nil {
			renderError(w, r.Request, plumbing.NewErrBadRequest("invalid maxCommits: %q", v))
			return
		}
	}
	commits, err := rp.History(from, to, expr, maxCommits)
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	// Commit listings read newest-first.
	sort.Slice(commits, func(i, j int) bool { return commits[i].Revision > commits[j].Revision })
	JsonEncode(w, http.StatusOK, commits)
}

func (s *Server) Compare(w http.ResponseWriter, r *Request) {
	rp, ok := s.repoForRead(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	from, err := plumbing.ParseRevision(query.Get("from"))
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	to, err := plumbing.ParseRevision(query.Get("to"))
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	path := query.Get("path")
	if exprs := query["jsonpath"]; len(exprs) != 0 {
		change, err := rp.DiffQuery(from, to, &repo.Query{Path: path, Type: repo.JSONPath, Expressions: exprs})
		if err != nil {
			renderError(w, r.Request, err)
			return
		}
		if change == nil {
			JsonEncode(w, http.StatusOK, []repo.Change{})
			return
		}
		JsonEncode(w, http.StatusOK, change)
		return
	}
	if len(path) == 0 {
		path = pattern.All
	}
	changes, err := rp.Diff(from, to, path)
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, http.StatusOK, changes)
}

func (s *Server) Merge(w http.ResponseWriter, r *Request) {
	rp, ok := s.repoForRead(w, r)
	if !ok {
		return
	}
	rev, err := revisionParam(r, "revision")
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	query := r.URL.Query()
	mq := &repo.MergeQuery{Expressions: query["jsonpath"]}
	for _, p := range query["path"] {
		mq.Sources = append(mq.Sources, repo.MergeSource{Path: p})
	}
	for _, p := range query["optional_path"] {
		mq.Sources = append(mq.Sources, repo.MergeSource{Path: p, Optional: true})
	}
	merged, err := rp.Merge(rev, mq)
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, http.StatusOK, merged)
}
