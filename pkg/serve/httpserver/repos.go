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

type repoInfo struct {
	Name         string            `json:"name"`
	HeadRevision plumbing.Revision `json:"headRevision,omitempty"`
}

func (s *Server) ListRepos(w http.ResponseWriter, r *Request) {
	project := r.Vars["project"]
	p, err := s.mgr.Project(project)
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	if r.URL.Query().Get("status") == "removed" {
		if !s.checkProjectOwner(w, r, project) {
			return
		}
		names := p.RemovedRepos()
		out := make([]repoInfo, 0, len(names))
		for _, name := range names {
			out = append(out, repoInfo{Name: name})
		}
		JsonEncode(w, http.StatusOK, out)
		return
	}
	pm, ok := s.metadataOf(w, r, project)
	if !ok {
		return
	}
	names := p.Repos()
	out := make([]repoInfo, 0, len(names))
	for _, name := range names {
		// Callers only see repositories they can read.
		if _, ok := pm.RepositoryRoleOf(r.Principal, name); !ok {
			continue
		}
		rp, err := p.Repo(name)
		if err != nil {
			continue
		}
		out = append(out, repoInfo{Name: name, HeadRevision: rp.Head()})
	}
	JsonEncode(w, http.StatusOK, out)
}

func (s *Server) CreateRepo(w http.ResponseWriter, r *Request) {
	project := r.Vars["project"]
	if !s.checkProjectOwner(w, r, project) {
		return
	}
	var in repoInfo
	if err := decodeBody(r, &in); err != nil {
		renderError(w, r.Request, err)
		return
	}
	if !plumbing.ValidateName(in.Name) {
		renderError(w, r.Request, plumbing.NewErrBadRequest("invalid repository name: %q", in.Name))
		return
	}
	if repo.IsReservedRepo(in.Name) {
		renderError(w, r.Request, plumbing.NewErrBadRequest("%s is a reserved repository name", in.Name))
		return
	}
	_, err := s.exec.Execute(r.Context(), &command.Command{
		Type:            command.CreateRepository,
		Author:          r.Principal.Name(),
		TimestampMillis: time.Now().UnixMilli(),
		Project:         project,
		Repo:            in.Name,
	})
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, http.StatusCreated, repoInfo{Name: in.Name, HeadRevision: plumbing.INIT})
}

func (s *Server) RemoveRepo(w http.ResponseWriter, r *Request) {
	project := r.Vars["project"]
	if !s.checkProjectOwner(w, r, project) {
		return
	}
	_, err := s.exec.Execute(r.Context(), &command.Command{
		Type:            command.RemoveRepository,
		Author:          r.Principal.Name(),
		TimestampMillis: time.Now().UnixMilli(),
		Project:         project,
		Repo:            r.Vars["repo"],
	})
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) PatchRepo(w http.ResponseWriter, r *Request) {
	project := r.Vars["project"]
	if !s.checkProjectOwner(w, r, project) {
		return
	}
	if !decodeUnremovePatch(w, r) {
		return
	}
	_, err := s.exec.Execute(r.Context(), &command.Command{
		Type:            command.UnremoveRepository,
		Author:          r.Principal.Name(),
		TimestampMillis: time.Now().UnixMilli(),
		Project:         project,
		Repo:            r.Vars["repo"],
	})
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, http.StatusOK, repoInfo{Name: r.Vars["repo"]})
}

func (s *Server) PurgeRepo(w http.ResponseWriter, r *Request) {
	project := r.Vars["project"]
	if !s.checkProjectOwner(w, r, project) {
		return
	}
	_, err := s.exec.Execute(r.Context(), &command.Command{
		Type:            command.PurgeRepository,
		Author:          r.Principal.Name(),
		TimestampMillis: time.Now().UnixMilli(),
		Project:         project,
		Repo:            r.Vars["repo"],
	})
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// repoForRead resolves the repository after a READ role check.
func (s *Server) repoForRead(w http.ResponseWriter, r *Request) (*repo.Repository, bool) {
	project, name := r.Vars["project"], r.Vars["repo"]
	if !s.checkRepoRole(w, r, project, name, metadata.Read) {
		return nil, false
	}
	p, err := s.mgr.Project(project)
	if err != nil {
		renderError(w, r.Request, err)
		return nil, false
	}
	rp, err := p.Repo(name)
	if err != nil {
		renderError(w, r.Request, err)
		return nil, false
	}
	return rp, true
}
