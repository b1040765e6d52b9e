// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/line/centraldogma-sub008/modules/cjson"
	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/command"
	"github.com/line/centraldogma-sub008/pkg/serve/repo"
)

// Service reads and mutates the metadata documents. Reads hit the commit
// engine directly; every mutation is a read-modify-write pushed through the
// command executor with an explicit base revision, retried once when
// another writer slips in.
type Service struct {
	mgr    *repo.Manager
	exec   command.Executor
	quotas *command.QuotaRegistry

	mu    sync.RWMutex
	cache map[string]*cachedDoc
	reg   registryCache
}

type cachedDoc struct {
	rev plumbing.Revision
	pm  *ProjectMetadata
}

func NewService(mgr *repo.Manager, exec command.Executor, quotas *command.QuotaRegistry) *Service {
	return &Service{mgr: mgr, exec: exec, quotas: quotas, cache: make(map[string]*cachedDoc)}
}

// SetExecutor breaks the construction cycle: the executor's applier needs
// the manager which the service also wraps.
func (s *Service) SetExecutor(exec command.Executor) {
	s.exec = exec
}

func (s *Service) dogma(project string) (*repo.Repository, error) {
	p, err := s.mgr.Project(project)
	if err != nil {
		return nil, err
	}
	return p.Repo(repo.DogmaRepo)
}

// Metadata returns the current metadata document of a project. Documents
// are cached per head revision; the hot authorization path normally reads
// the cache.
func (s *Service) Metadata(project string) (*ProjectMetadata, error) {
	r, err := s.dogma(project)
	if err != nil {
		return nil, err
	}
	head := r.Head()
	s.mu.RLock()
	if c, ok := s.cache[project]; ok && c.rev == head {
		s.mu.RUnlock()
		return c.pm, nil
	}
	s.mu.RUnlock()
	entry, abs, err := r.Get(head, MetadataPath)
	if err != nil {
		return nil, err
	}
	pm := &ProjectMetadata{}
	if err := json.Unmarshal(entry.Content, pm); err != nil {
		return nil, plumbing.NewErrQueryExecution("corrupt metadata of %s: %v", project, err)
	}
	if pm.Repos == nil {
		pm.Repos = make(map[string]*RepositoryMetadata)
	}
	if pm.Members == nil {
		pm.Members = make(map[string]*MemberInfo)
	}
	if pm.AppIDs == nil {
		pm.AppIDs = make(map[string]*AppRegistration)
	}
	s.mu.Lock()
	s.cache[project] = &cachedDoc{rev: abs, pm: pm}
	s.mu.Unlock()
	s.syncQuotas(project, pm)
	return pm, nil
}

// syncQuotas pushes the configured buckets into the write gate whenever a
// fresh document is loaded, so replicas converge on quota changes.
func (s *Service) syncQuotas(project string, pm *ProjectMetadata) {
	if s.quotas == nil {
		return
	}
	for name, rm := range pm.Repos {
		s.quotas.SetQuota(project, name, rm.Quota)
	}
}

// InitialDocument renders the metadata document of a freshly created
// project.
func InitialDocument(project, author string, at time.Time) ([]byte, error) {
	raw, err := json.Marshal(NewProjectMetadata(project, author, at))
	if err != nil {
		return nil, err
	}
	return cjson.Canonicalize(raw)
}

// update is the transform primitive: read at head, mutate, push with the
// explicit head as base. One retry on conflict.
func (s *Service) update(ctx context.Context, project, author, summary string, mutate func(pm *ProjectMetadata) error) error {
	return s.updateDoc(ctx, project, MetadataPath, author, summary, func(content []byte) ([]byte, error) {
		pm := &ProjectMetadata{}
		if err := json.Unmarshal(content, pm); err != nil {
			return nil, plumbing.NewErrQueryExecution("corrupt metadata of %s: %v", project, err)
		}
		if pm.Repos == nil {
			pm.Repos = make(map[string]*RepositoryMetadata)
		}
		if pm.Members == nil {
			pm.Members = make(map[string]*MemberInfo)
		}
		if pm.AppIDs == nil {
			pm.AppIDs = make(map[string]*AppRegistration)
		}
		if err := mutate(pm); err != nil {
			return nil, err
		}
		return json.Marshal(pm)
	})
}

func (s *Service) updateDoc(ctx context.Context, project, path, author, summary string, mutate func(content []byte) ([]byte, error)) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		r, err := s.dogma(project)
		if err != nil {
			return err
		}
		head := r.Head()
		entry, _, err := r.Get(head, path)
		if err != nil && !plumbing.IsErrEntryNotFound(err) {
			return err
		}
		var content []byte
		if err == nil {
			content = entry.Content
		}
		next, err := mutate(content)
		if err != nil {
			return err
		}
		_, err = s.exec.Execute(ctx, &command.Command{
			Type:            command.Push,
			Author:          author,
			TimestampMillis: time.Now().UnixMilli(),
			Project:         project,
			Repo:            repo.DogmaRepo,
			BaseRevision:    head,
			Message:         &repo.CommitMessage{Summary: summary},
			Changes:         []repo.Change{repo.NewUpsertJSON(path, next)},
		})
		switch {
		case err == nil:
			return nil
		case plumbing.IsErrRedundantChange(err):
			// The document already says this; the mutation is idempotent.
			return nil
		case plumbing.IsErrChangeConflict(err):
			lastErr = err
		default:
			return err
		}
	}
	return lastErr
}

// --- project members -------------------------------------------------------

func (s *Service) AddMember(ctx context.Context, project, author, user string, role ProjectRole) error {
	if !role.Valid() {
		return plumbing.NewErrBadRequest("invalid project role: %q", role)
	}
	return s.update(ctx, project, author, "Add a member: "+user, func(pm *ProjectMetadata) error {
		if _, ok := pm.Members[user]; ok {
			return plumbing.NewErrBadRequest("member %s already exists in %s", user, project)
		}
		pm.Members[user] = &MemberInfo{Login: user, Role: role, Creation: Stamp(author, time.Now())}
		return nil
	})
}

func (s *Service) UpdateMemberRole(ctx context.Context, project, author, user string, role ProjectRole) error {
	if !role.Valid() {
		return plumbing.NewErrBadRequest("invalid project role: %q", role)
	}
	return s.update(ctx, project, author, "Update the role of "+user, func(pm *ProjectMetadata) error {
		m, ok := pm.Members[user]
		if !ok {
			return plumbing.NewErrEntryNotFound("member %s not found in %s", user, project)
		}
		m.Role = role
		return nil
	})
}

// RemoveMember drops the member and every direct repository role they held.
func (s *Service) RemoveMember(ctx context.Context, project, author, user string) error {
	return s.update(ctx, project, author, "Remove a member: "+user, func(pm *ProjectMetadata) error {
		if _, ok := pm.Members[user]; !ok {
			return plumbing.NewErrEntryNotFound("member %s not found in %s", user, project)
		}
		delete(pm.Members, user)
		for _, rm := range pm.Repos {
			delete(rm.Roles.Users, user)
		}
		return nil
	})
}

// --- repositories ----------------------------------------------------------

// Lifecycle bookkeeping (register, removal stamps, purge) happens inside the
// command applier; see direct.go. The operations here adjust an existing
// registration.

// UpdateRepositoryProjectRoles rewires what project members and guests may
// do on one repository. WRITE for guests and grants on the dogma repository
// are rejected.
func (s *Service) UpdateRepositoryProjectRoles(ctx context.Context, project, author, name string, roles ProjectRoles) error {
	if err := validateProjectRoles(name, roles); err != nil {
		return err
	}
	return s.update(ctx, project, author, "Update the project roles of "+name, func(pm *ProjectMetadata) error {
		rm, ok := pm.repo(name)
		if !ok {
			return plumbing.NewErrRepositoryNotFound("repository %s/%s not registered", project, name)
		}
		rm.Roles.ProjectRoles = roles
		return nil
	})
}

// UpdateRepositoryStatus toggles non-forced writes for one repository.
func (s *Service) UpdateRepositoryStatus(ctx context.Context, project, author, name string, status RepositoryStatus) error {
	if status != StatusActive && status != StatusReadOnly {
		return plumbing.NewErrBadRequest("invalid repository status: %q", status)
	}
	return s.update(ctx, project, author, "Update the status of "+name, func(pm *ProjectMetadata) error {
		rm, ok := pm.repo(name)
		if !ok {
			return plumbing.NewErrRepositoryNotFound("repository %s/%s not registered", project, name)
		}
		rm.Status = status
		return nil
	})
}

// UpdateWriteQuota replaces the token bucket of one repository.
func (s *Service) UpdateWriteQuota(ctx context.Context, project, author, name string, quota *command.WriteQuota) error {
	err := s.update(ctx, project, author, "Update the write quota of "+name, func(pm *ProjectMetadata) error {
		rm, ok := pm.repo(name)
		if !ok {
			return plumbing.NewErrRepositoryNotFound("repository %s/%s not registered", project, name)
		}
		rm.Quota = quota
		return nil
	})
	if err == nil && s.quotas != nil {
		s.quotas.SetQuota(project, name, quota)
	}
	return err
}

// --- per-repository roles --------------------------------------------------

func (s *Service) AddUserRepositoryRole(ctx context.Context, project, author, name, user string, role RepositoryRole) error {
	if !role.Valid() {
		return plumbing.NewErrBadRequest("invalid repository role: %q", role)
	}
	return s.update(ctx, project, author, "Add the role of "+user+" on "+name, func(pm *ProjectMetadata) error {
		if _, ok := pm.Members[user]; !ok {
			return plumbing.NewErrBadRequest("%s is not a member of %s", user, project)
		}
		rm, ok := pm.repo(name)
		if !ok {
			return plumbing.NewErrRepositoryNotFound("repository %s/%s not registered", project, name)
		}
		if rm.Roles.Users == nil {
			rm.Roles.Users = make(map[string]RepositoryRole)
		}
		if _, ok := rm.Roles.Users[user]; ok {
			return plumbing.NewErrBadRequest("%s already has a role on %s/%s", user, project, name)
		}
		rm.Roles.Users[user] = role
		return nil
	})
}

func (s *Service) UpdateUserRepositoryRole(ctx context.Context, project, author, name, user string, role RepositoryRole) error {
	if !role.Valid() {
		return plumbing.NewErrBadRequest("invalid repository role: %q", role)
	}
	return s.update(ctx, project, author, "Update the role of "+user+" on "+name, func(pm *ProjectMetadata) error {
		rm, ok := pm.repo(name)
		if !ok {
			return plumbing.NewErrRepositoryNotFound("repository %s/%s not registered", project, name)
		}
		if _, ok := rm.Roles.Users[user]; !ok {
			return plumbing.NewErrEntryNotFound("%s has no role on %s/%s", user, project, name)
		}
		rm.Roles.Users[user] = role
		return nil
	})
}

func (s *Service) RemoveUserRepositoryRole(ctx context.Context, project, author, name, user string) error {
	return s.update(ctx, project, author, "Remove the role of "+user+" on "+name, func(pm *ProjectMetadata) error {
		rm, ok := pm.repo(name)
		if !ok {
			return plumbing.NewErrRepositoryNotFound("repository %s/%s not registered", project, name)
		}
		if _, ok := rm.Roles.Users[user]; !ok {
			return plumbing.NewErrEntryNotFound("%s has no role on %s/%s", user, project, name)
		}
		delete(rm.Roles.Users, user)
		return nil
	})
}

func (s *Service) AddAppIdentityRepositoryRole(ctx context.Context, project, author, name, appID string, role RepositoryRole) error {
	if !role.Valid() {
		return plumbing.NewErrBadRequest("invalid repository role: %q", role)
	}
	return s.update(ctx, project, author, "Add the role of "+appID+" on "+name, func(pm *ProjectMetadata) error {
		if _, ok := pm.AppIDs[appID]; !ok {
			return plumbing.NewErrBadRequest("%s is not registered in %s", appID, project)
		}
		rm, ok := pm.repo(name)
		if !ok {
			return plumbing.NewErrRepositoryNotFound("repository %s/%s not registered", project, name)
		}
		if rm.Roles.AppIDs == nil {
			rm.Roles.AppIDs = make(map[string]RepositoryRole)
		}
		rm.Roles.AppIDs[appID] = role
		return nil
	})
}

func (s *Service) UpdateAppIdentityRepositoryRole(ctx context.Context, project, author, name, appID string, role RepositoryRole) error {
	return s.AddAppIdentityRepositoryRole(ctx, project, author, name, appID, role)
}

func (s *Service) RemoveAppIdentityRepositoryRole(ctx context.Context, project, author, name, appID string) error {
	return s.update(ctx, project, author, "Remove the role of "+appID+" on "+name, func(pm *ProjectMetadata) error {
		rm, ok := pm.repo(name)
		if !ok {
			return plumbing.NewErrRepositoryNotFound("repository %s/%s not registered", project, name)
		}
		if _, ok := rm.Roles.AppIDs[appID]; !ok {
			return plumbing.NewErrEntryNotFound("%s has no role on %s/%s", appID, project, name)
		}
		delete(rm.Roles.AppIDs, appID)
		return nil
	})
}

// --- project app registrations ---------------------------------------------

func (s *Service) RegisterApp(ctx context.Context, project, author, appID string, role ProjectRole) error {
	if !role.Valid() {
		return plumbing.NewErrBadRequest("invalid project role: %q", role)
	}
	return s.update(ctx, project, author, "Register an app: "+appID, func(pm *ProjectMetadata) error {
		if _, ok := pm.AppIDs[appID]; ok {
			return plumbing.NewErrBadRequest("app %s already registered in %s", appID, project)
		}
		pm.AppIDs[appID] = &AppRegistration{AppID: appID, Role: role, Creation: Stamp(author, time.Now())}
		return nil
	})
}

func (s *Service) UnregisterApp(ctx context.Context, project, author, appID string) error {
	return s.update(ctx, project, author, "Unregister an app: "+appID, func(pm *ProjectMetadata) error {
		if _, ok := pm.AppIDs[appID]; !ok {
			return plumbing.NewErrEntryNotFound("app %s not registered in %s", appID, project)
		}
		delete(pm.AppIDs, appID)
		for _, rm := range pm.Repos {
			delete(rm.Roles.AppIDs, appID)
		}
		return nil
	})
}
