// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/metadata"
)

const maxBodySize = 16 << 20

// decodeBody parses a JSON request body into v.
func decodeBody(r *Request, v any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return plumbing.NewErrBadRequest("read body: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return plumbing.NewErrBadRequest("malformed body: %v", err)
	}
	return nil
}

// revisionParam parses ?revision= (or another query key), defaulting to
// HEAD.
func revisionParam(r *Request, key string) (plumbing.Revision, error) {
	v := r.URL.Query().Get(key)
	if len(v) == 0 {
		return plumbing.HEAD, nil
	}
	return plumbing.ParseRevision(v)
}

// pathVar returns the {path:.*} route variable, normalized to an absolute
// path.
func pathVar(r *Request) string {
	p := r.Vars["path"]
	if len(p) == 0 {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// isPattern reports whether p is a path pattern rather than a literal
// path.
func isPattern(p string) bool {
	return strings.ContainsAny(p, "*,{")
}

// preferences parses the long-poll Prefer header:
// "wait=<seconds>, notify-entry-not-found=<bool>".
func preferences(r *Request) (wait time.Duration, notifyEntryNotFound bool) {
	wait = time.Minute
	for _, part := range strings.Split(r.Header.Get("Prefer"), ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "wait":
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				wait = time.Duration(secs) * time.Second
			}
		case "notify-entry-not-found":
			notifyEntryNotFound = v == "true"
		}
	}
	return wait, notifyEntryNotFound
}

// lastKnown parses If-None-Match into a revision; ok is false when the
// header is absent.
func lastKnown(r *Request) (plumbing.Revision, bool, error) {
	v := strings.Trim(r.Header.Get("If-None-Match"), `"`)
	if len(v) == 0 {
		return 0, false, nil
	}
	rev, err := plumbing.ParseRevision(v)
	if err != nil {
		return 0, false, err
	}
	return rev, true, nil
}

// metadataOf loads a project's metadata, or renders the failure.
func (s *Server) metadataOf(w http.ResponseWriter, r *Request, project string) (*metadata.ProjectMetadata, bool) {
	pm, err := s.meta.Metadata(project)
	if err != nil {
		renderError(w, r.Request, err)
		return nil, false
	}
	return pm, true
}

// checkRepoRole renders 403 unless the caller holds want on the
// repository.
func (s *Server) checkRepoRole(w http.ResponseWriter, r *Request, project, repoName string, want metadata.RepositoryRole) bool {
	pm, ok := s.metadataOf(w, r, project)
	if !ok {
		return false
	}
	if err := pm.RequireRepositoryRole(r.Principal, repoName, want); err != nil {
		renderError(w, r.Request, err)
		return false
	}
	return true
}

// checkProjectOwner renders 403 unless the caller owns the project.
func (s *Server) checkProjectOwner(w http.ResponseWriter, r *Request, project string) bool {
	pm, ok := s.metadataOf(w, r, project)
	if !ok {
		return false
	}
	if err := pm.RequireProjectOwner(r.Principal); err != nil {
		renderError(w, r.Request, err)
		return false
	}
	return true
}

// checkSystemAdmin renders 403 unless the caller is a system admin.
func (s *Server) checkSystemAdmin(w http.ResponseWriter, r *Request) bool {
	if !r.Principal.SystemAdmin {
		renderError(w, r.Request, plumbing.NewErrAuthorization("%s is not a system administrator", r.Principal.Name()))
		return false
	}
	return true
}
