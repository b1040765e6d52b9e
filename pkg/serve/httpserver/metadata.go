// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/command"
	"github.com/line/centraldogma-sub008/pkg/serve/metadata"
)

func (s *Server) MetadataRouter(api *mux.Router) {
	api.HandleFunc("/metadata/{project}", s.OnFunc(s.GetMetadata)).Methods("GET")
	api.HandleFunc("/metadata/{project}/members", s.OnFunc(s.AddMember)).Methods("POST")
	api.HandleFunc("/metadata/{project}/members/{user}", s.OnFunc(s.UpdateMemberRole)).Methods("PATCH")
	api.HandleFunc("/metadata/{project}/members/{user}", s.OnFunc(s.RemoveMember)).Methods("DELETE")
	api.HandleFunc("/metadata/{project}/apps", s.OnFunc(s.RegisterApp)).Methods("POST")
	api.HandleFunc("/metadata/{project}/apps/{appId}", s.OnFunc(s.UnregisterApp)).Methods("DELETE")
	api.HandleFunc("/metadata/{project}/repos/{repo}/roles/projects", s.OnFunc(s.UpdateRepoProjectRoles)).Methods("POST")
	api.HandleFunc("/metadata/{project}/repos/{repo}/roles/users", s.OnFunc(s.AddUserRepoRole)).Methods("POST")
	api.HandleFunc("/metadata/{project}/repos/{repo}/roles/users/{user}", s.OnFunc(s.UpdateUserRepoRole)).Methods("PATCH")
	api.HandleFunc("/metadata/{project}/repos/{repo}/roles/users/{user}", s.OnFunc(s.RemoveUserRepoRole)).Methods("DELETE")
	api.HandleFunc("/metadata/{project}/repos/{repo}/roles/apps", s.OnFunc(s.AddAppRepoRole)).Methods("POST")
	api.HandleFunc("/metadata/{project}/repos/{repo}/roles/apps/{appId}", s.OnFunc(s.RemoveAppRepoRole)).Methods("DELETE")
	api.HandleFunc("/metadata/{project}/repos/{repo}/status", s.OnFunc(s.UpdateRepoStatus)).Methods("PUT")
	api.HandleFunc("/metadata/{project}/repos/{repo}/quota", s.OnFunc(s.UpdateRepoQuota)).Methods("PUT")

	api.HandleFunc("/status", s.OnFunc(s.GetServerStatus)).Methods("GET")
	api.HandleFunc("/status", s.OnFunc(s.UpdateServerStatus)).Methods("PUT")

	api.HandleFunc("/tokens", s.OnFunc(s.CreateToken)).Methods("POST")
	api.HandleFunc("/tokens/{appId}", s.OnFunc(s.PatchToken)).Methods("PATCH")
	api.HandleFunc("/tokens/{appId}", s.OnFunc(s.DestroyToken)).Methods("DELETE")
	api.HandleFunc("/tokens/{appId}/removed", s.OnFunc(s.PurgeToken)).Methods("DELETE")
}

func (s *Server) GetMetadata(w http.ResponseWriter, r *Request) {
	project := r.Vars["project"]
	if !s.checkProjectOwner(w, r, project) {
		return
	}
	pm, ok := s.metadataOf(w, r, project)
	if !ok {
		return
	}
	JsonEncode(w, http.StatusOK, pm)
}

type memberRequest struct {
	User string               `json:"user"`
	Role metadata.ProjectRole `json:"role"`
}

func (s *Server) AddMember(w http.ResponseWriter, r *Request) {
	project := r.Vars["project"]
	if !s.checkProjectOwner(w, r, project) {
		return
	}
	var in memberRequest
	if err := decodeBody(r, &in); err != nil {
		renderError(w, r.Request, err)
		return
	}
	if err := s.meta.AddMember(r.Context(), project, r.Principal.Name(), in.User, in.Role); err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) UpdateMemberRole(w http.ResponseWriter, r *Request) {
	project := r.Vars["project"]
	if !s.checkProjectOwner(w, r, project) {
		return
	}
	var in memberRequest
	if err := decodeBody(r, &in); err != nil {
		renderError(w, r.Request, err)
		return
	}
	if err := s.meta.UpdateMemberRole(r.Context(), project, r.Principal.Name(), r.Vars["user"], in.Role); err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) RemoveMember(w http.ResponseWriter, r *Request) {
	project := r.Vars["project"]
	if !s.checkProjectOwner(w, r, project) {
		return
	}
	if err := s.meta.RemoveMember(r.Context(), project, r.Principal.Name(), r.Vars["user"]); err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type appRequest struct {
	AppID string               `json:"appId"`
	Role  metadata.ProjectRole `json:"role"`
}

func (s *Server) RegisterApp(w http.ResponseWriter, r *Request) {
	project := r.Vars["project"]
	if !s.checkProjectOwner(w, r, project) {
		return
	}
	var in appRequest
	if err := decodeBody(r, &in); err != nil {
		renderError(w, r.Request, err)
		return
	}
	if err := s.meta.RegisterApp(r.Context(), project, r.Principal.Name(), in.AppID, in.Role); err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) UnregisterApp(w http.ResponseWriter, r *Request) {
	project := r.Vars["project"]
	if !s.checkProjectOwner(w, r, project) {
		return
	}
	if err := s.meta.UnregisterApp(r.Context(), project, r.Principal.Name(), r.Vars["appId"]); err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) UpdateRepoProjectRoles(w http.ResponseWriter, r *Request) {
	project, name := r.Vars["project"], r.Vars["repo"]
	if !s.checkRepoRole(w, r, project, name, metadata.Admin) {
		return
	}
	var in metadata.ProjectRoles
	if err := decodeBody(r, &in); err != nil {
		renderError(w, r.Request, err)
		return
	}
	if err := s.meta.UpdateRepositoryProjectRoles(r.Context(), project, r.Principal.Name(), name, in); err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type repoRoleRequest struct {
	User  string                  `json:"user,omitempty"`
	AppID string                  `json:"appId,omitempty"`
	Role  metadata.RepositoryRole `json:"role"`
}

func (s *Server) AddUserRepoRole(w http.ResponseWriter, r *Request) {
	project, name := r.Vars["project"], r.Vars["repo"]
	if !s.checkRepoRole(w, r, project, name, metadata.Admin) {
		return
	}
	var in repoRoleRequest
	if err := decodeBody(r, &in); err != nil {
		renderError(w, r.Request, err)
		return
	}
	if err := s.meta.AddUserRepositoryRole(r.Context(), project, r.Principal.Name(), name, in.User, in.Role); err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) UpdateUserRepoRole(w http.ResponseWriter, r *Request) {
	project, name := r.Vars["project"], r.Vars["repo"]
	if !s.checkRepoRole(w, r, project, name, metadata.Admin) {
		return
	}
	var in repoRoleRequest
	if err := decodeBody(r, &in); err != nil {
		renderError(w, r.Request, err)
		return
	}
	if err := s.meta.UpdateUserRepositoryRole(r.Context(), project, r.Principal.Name(), name, r.Vars["user"], in.Role); err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) RemoveUserRepoRole(w http.ResponseWriter, r *Request) {
	project, name := r.Vars["project"], r.Vars["repo"]
	if !s.checkRepoRole(w, r, project, name, metadata.Admin) {
		return
	}
	if err := s.meta.RemoveUserRepositoryRole(r.Context(), project, r.Principal.Name(), name, r.Vars["user"]); err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) AddAppRepoRole(w http.ResponseWriter, r *Request) {
	project, name := r.Vars["project"], r.Vars["repo"]
	if !s.checkRepoRole(w, r, project, name, metadata.Admin) {
		return
	}
	var in repoRoleRequest
	if err := decodeBody(r, &in); err != nil {
		renderError(w, r.Request, err)
		return
	}
	if err := s.meta.AddAppIdentityRepositoryRole(r.Context(), project, r.Principal.Name(), name, in.AppID, in.Role); err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) RemoveAppRepoRole(w http.ResponseWriter, r *Request) {
	project, name := r.Vars["project"], r.Vars["repo"]
	if !s.checkRepoRole(w, r, project, name, metadata.Admin) {
		return
	}
	if err := s.meta.RemoveAppIdentityRepositoryRole(r.Context(), project, r.Principal.Name(), name, r.Vars["appId"]); err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) UpdateRepoStatus(w http.ResponseWriter, r *Request) {
	project, name := r.Vars["project"], r.Vars["repo"]
	if !s.checkRepoRole(w, r, project, name, metadata.Admin) {
		return
	}
	var in struct {
		Status metadata.RepositoryStatus `json:"status"`
	}
	if err := decodeBody(r, &in); err != nil {
		renderError(w, r.Request, err)
		return
	}
	if err := s.meta.UpdateRepositoryStatus(r.Context(), project, r.Principal.Name(), name, in.Status); err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) UpdateRepoQuota(w http.ResponseWriter, r *Request) {
	project, name := r.Vars["project"], r.Vars["repo"]
	if !s.checkRepoRole(w, r, project, name, metadata.Admin) {
		return
	}
	var in command.WriteQuota
	if err := decodeBody(r, &in); err != nil {
		renderError(w, r.Request, err)
		return
	}
	if err := s.meta.UpdateWriteQuota(r.Context(), project, r.Principal.Name(), name, &in); err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type serverStatus struct {
	Status command.Status `json:"status"`
}

func (s *Server) GetServerStatus(w http.ResponseWriter, r *Request) {
	JsonEncode(w, http.StatusOK, &serverStatus{Status: s.gate.Status()})
}

// UpdateServerStatus flips the node-wide write mode. The command replicates
// so every node in the cluster converges on the same mode.
func (s *Server) UpdateServerStatus(w http.ResponseWriter, r *Request) {
	if !s.checkSystemAdmin(w, r) {
		return
	}
	var in serverStatus
	if err := decodeBody(r, &in); err != nil {
		renderError(w, r.Request, err)
		return
	}
	if in.Status != command.Writable && in.Status != command.ReplicationOnly {
		renderError(w, r.Request, plumbing.NewErrBadRequest("unknown server status: %q", in.Status))
		return
	}
	_, err := s.exec.Execute(r.Context(), &command.Command{
		Type:            command.UpdateServerStatus,
		Author:          r.Principal.Name(),
		TimestampMillis: time.Now().UnixMilli(),
		ServerStatus:    in.Status,
	})
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	JsonEncode(w, http.StatusOK, &serverStatus{Status: in.Status})
}

type tokenRequest struct {
	AppID            string `json:"appId"`
	SystemAdmin      bool   `json:"systemAdmin,omitempty"`
	AllowGuestAccess bool   `json:"allowGuestAccess,omitempty"`
	CertificateID    string `json:"certificateId,omitempty"`
}

func (s *Server) CreateToken(w http.ResponseWriter, r *Request) {
	if !s.checkSystemAdmin(w, r) {
		return
	}
	var in tokenRequest
	if err := decodeBody(r, &in); err != nil {
		renderError(w, r.Request, err)
		return
	}
	var id *metadata.AppIdentity
	var err error
	if len(in.CertificateID) != 0 {
		id, err = s.meta.CreateCertificate(r.Context(), r.Principal.Name(), in.AppID, in.CertificateID, in.SystemAdmin, in.AllowGuestAccess)
	} else {
		id, err = s.meta.CreateToken(r.Context(), r.Principal.Name(), in.AppID, in.SystemAdmin, in.AllowGuestAccess)
	}
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	// The secret appears in this response and nowhere else.
	JsonEncode(w, http.StatusCreated, id)
}

// PatchToken activates or deactivates:
// [{"op":"replace","path":"/status","value":"active"|"inactive"}].
func (s *Server) PatchToken(w http.ResponseWriter, r *Request) {
	if !s.checkSystemAdmin(w, r) {
		return
	}
	var ops []struct {
		Op    string `json:"op"`
		Path  string `json:"path"`
		Value string `json:"value"`
	}
	if err := decodeBody(r, &ops); err != nil {
		renderError(w, r.Request, err)
		return
	}
	if len(ops) != 1 || ops[0].Op != "replace" || ops[0].Path != "/status" {
		renderError(w, r.Request, plumbing.NewErrBadRequest(`expected [{"op":"replace","path":"/status","value":...}]`))
		return
	}
	var err error
	switch ops[0].Value {
	case "active":
		err = s.meta.ActivateIdentity(r.Context(), r.Principal.Name(), r.Vars["appId"])
	case "inactive":
		err = s.meta.DeactivateIdentity(r.Context(), r.Principal.Name(), r.Vars["appId"])
	default:
		err = plumbing.NewErrBadRequest("invalid status: %q", ops[0].Value)
	}
	if err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) DestroyToken(w http.ResponseWriter, r *Request) {
	if !s.checkSystemAdmin(w, r) {
		return
	}
	if err := s.meta.DestroyIdentity(r.Context(), r.Principal.Name(), r.Vars["appId"]); err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) PurgeToken(w http.ResponseWriter, r *Request) {
	if !s.checkSystemAdmin(w, r) {
		return
	}
	if err := s.meta.PurgeIdentity(r.Context(), r.Principal.Name(), r.Vars["appId"]); err != nil {
		renderError(w, r.Request, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
