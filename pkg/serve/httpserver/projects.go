// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"net/http"
	"time"

	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/command"
)

type projectInfo struct {
	Name string `json:"name"`
}

func (s *Server) ListProjects(w http.ResponseWriter, r *Request) {
	if r.URL.Query().Get("status") == "removed" {
		if !s.checkSystemAdmin(w, r) {
			return
		}
		names := s.mgr.RemovedProjects()
		out := make([]projectInfo, 0, len(names))
		for _, name := range names {
			out = append(out, projectInfo{Name: name})
		}
		JsonEncode(w, http.StatusOK, out)
		return
	}
	names := s.mgr.Projects()
	out := make([]projectInfo, 0, len(names))
	for _, name := range names {
		out = append(out, projectInfo{Name: name})
	}
	JsonEncode(w, http.StatusOK, out)
}

func (s *Server) CreateProject(w http.ResponseWriter, r *Request) {
	if !s.checkSystemAdmin(w, r) {
		return
	}
	var in projectInfo
	if err := decodeBody(r, &in); err != nil {
		renderError(w, r.Request, err)
		return
	}
	if !plumbing.ValidateName(in.Name) {
		renderError(w, r.Request, plumbing.NewErrBadRequest("invalid project name: %q", in.Name))
		return
	}
	_, err := s.exec.Execute(r.Context(), &command.Command{
		Type:            command.CreateProject,
		Author:          r.Principal.Name(),
		TimestampMillis: time.Now().UnixMilli(),
		Project:         in.Name,
	})
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, http.StatusCreated, projectInfo{Name: in.Name})
}

func (s *Server) RemoveProject(w http.ResponseWriter, r *Request) {
	if !s.checkSystemAdmin(w, r) {
		return
	}
	_, err := s.exec.Execute(r.Context(), &command.Command{
		Type:            command.RemoveProject,
		Author:          r.Principal.Name(),
		TimestampMillis: time.Now().UnixMilli(),
		Project:         r.Vars["project"],
	})
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PatchProject handles the JSON-Patch unremove idiom:
// [{"op":"replace","path":"/status","value":"active"}].
func (s *Server) PatchProject(w http.ResponseWriter, r *Request) {
	if !s.checkSystemAdmin(w, r) {
		return
	}
	if !decodeUnremovePatch(w, r) {
		return
	}
	_, err := s.exec.Execute(r.Context(), &command.Command{
		Type:            command.UnremoveProject,
		Author:          r.Principal.Name(),
		TimestampMillis: time.Now().UnixMilli(),
		Project:         r.Vars["project"],
	})
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, http.StatusOK, projectInfo{Name: r.Vars["project"]})
}

func (s *Server) PurgeProject(w http.ResponseWriter, r *Request) {
	if !s.checkSystemAdmin(w, r) {
		return
	}
	_, err := s.exec.Execute(r.Context(), &command.Command{
		Type:            command.PurgeProject,
		Author:          r.Principal.Name(),
		TimestampMillis: time.Now().UnixMilli(),
		Project:         r.Vars["project"],
	})
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeUnremovePatch(w http.ResponseWriter, r *Request) bool {
	var ops []struct {
		Op    string `json:"op"`
		Path  string `json:"path"`
		Value string `json:"value"`
	}
	if err := decodeBody(r, &ops); err != nil {
		renderError(w, r.Request, err)
		return false
	}
	if len(ops) != 1 || ops[0].Op != "replace" || ops[0].Path != "/status" || ops[0].Value != "active" {
		renderError(w, r.Request, plumbing.NewErrBadRequest(`expected [{"op":"replace","path":"/status","value":"active"}]`))
		return false
	}
	return true
}
