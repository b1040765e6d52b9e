// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/line/centraldogma-sub008/modules/cjson"
	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/command"
	"github.com/line/centraldogma-sub008/pkg/serve/mirror"
	"github.com/line/centraldogma-sub008/pkg/serve/repo"
)

func (s *Server) MirrorRouter(api *mux.Router) {
	api.HandleFunc("/projects/{project}/mirrors", s.OnFunc(s.ListMirrors)).Methods("GET")
	api.HandleFunc("/projects/{project}/mirrors", s.OnFunc(s.PutMirror)).Methods("POST")
	api.HandleFunc("/projects/{project}/mirrors/{id}", s.OnFunc(s.DeleteMirror)).Methods("DELETE")
	api.HandleFunc("/projects/{project}/mirrors/{id}/trigger", s.OnFunc(s.TriggerMirror)).Methods("POST")
	api.HandleFunc("/projects/{project}/credentials", s.OnFunc(s.PutCredential)).Methods("POST")
	api.HandleFunc("/projects/{project}/credentials/{id}", s.OnFunc(s.DeleteCredential)).Methods("DELETE")
}

// pushDogmaDoc writes one document into the project's dogma repository
// through the ordered log.
func (s *Server) pushDogmaDoc(r *Request, project, path, summary string, doc []byte) error {
	canonical, err := cjson.Canonicalize(doc)
	if err != nil {
		return plumbing.NewErrChangeFormat("malformed document: %v", err)
	}
	_, err = s.exec.Execute(r.Context(), &command.Command{
		Type:            command.Push,
		Author:          r.Principal.Name(),
		TimestampMillis: time.Now().UnixMilli(),
		Project:         project,
		Repo:            repo.DogmaRepo,
		BaseRevision:    plumbing.HEAD,
		Message:         &repo.CommitMessage{Summary: summary},
		Changes:         []repo.Change{repo.NewUpsertJSON(path, canonical)},
	})
	return err
}

func (s *Server) removeDogmaDoc(r *Request, project, path, summary string) error {
	_, err := s.exec.Execute(r.Context(), &command.Command{
		Type:            command.Push,
		Author:          r.Principal.Name(),
		TimestampMillis: time.Now().UnixMilli(),
		Project:         project,
		Repo:            repo.DogmaRepo,
		BaseRevision:    plumbing.HEAD,
		Message:         &repo.CommitMessage{Summary: summary},
		Changes:         []repo.Change{repo.NewRemove(path)},
	})
	return err
}

func (s *Server) ListMirrors(w http.ResponseWriter, r *Request) {
	project := r.Vars["project"]
	if !s.checkProjectOwner(w, r, project) {
		return
	}
	tasks, err := mirror.NewStore(s.mgr).Tasks(project)
	if err != nil && !plumbing.IsErrEntryNotFound(err) {
		renderError(w, r.Request, err)
		return
	}
	if tasks == nil {
		tasks = []*mirror.Task{}
	}
	JsonEncode(w, http.StatusOK, tasks)
}

func (s *Server) PutMirror(w http.ResponseWriter, r *Request) {
	project := r.Vars["project"]
	if !s.checkProjectOwner(w, r, project) {
		return
	}
	var t mirror.Task
	if err := decodeBody(r, &t); err != nil {
		renderError(w, r.Request, err)
		return
	}
	if err := t.Validate(); err != nil {
		renderError(w, r.Request, err)
		return
	}
	doc, err := json.Marshal(&t)
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	if err := s.pushDogmaDoc(r, project, mirror.TaskPath(t.ID), "Update the mirror: "+t.ID, doc); err != nil {
		renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, http.StatusCreated, &t)
}

func (s *Server) DeleteMirror(w http.ResponseWriter, r *Request) {
	project, id := r.Vars["project"], r.Vars["id"]
	if !s.checkProjectOwner(w, r, project) {
		return
	}
	if err := s.removeDogmaDoc(r, project, mirror.TaskPath(id), "Remove the mirror: "+id); err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) TriggerMirror(w http.ResponseWriter, r *Request) {
	project, id := r.Vars["project"], r.Vars["id"]
	if !s.checkProjectOwner(w, r, project) {
		return
	}
	if s.sched == nil {
		renderError(w, r.Request, plumbing.NewErrBadRequest("mirroring is not enabled on this node"))
		return
	}
	res, err := s.sched.RunNow(r.Context(), project, id)
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, http.StatusOK, res)
}

func (s *Server) PutCredential(w http.ResponseWriter, r *Request) {
	project := r.Vars["project"]
	if !s.checkProjectOwner(w, r, project) {
		return
	}
	var c mirror.Credential
	if err := decodeBody(r, &c); err != nil {
		renderError(w, r.Request, err)
		return
	}
	if err := c.Validate(); err != nil {
		renderError(w, r.Request, err)
		return
	}
	doc, err := json.Marshal(&c)
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	if err := s.pushDogmaDoc(r, project, mirror.CredentialPath(c.ID), "Update the credential: "+c.ID, doc); err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) DeleteCredential(w http.ResponseWriter, r *Request) {
	project, id := r.Vars["project"], r.Vars["id"]
	if !s.checkProjectOwner(w, r, project) {
		return
	}
	if err := s.removeDogmaDoc(r, project, mirror.CredentialPath(id), "Remove the credential: "+id); err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
