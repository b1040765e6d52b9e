// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/repo"
)

// Principal is an authenticated caller: a human user, a machine identity,
// or the anonymous guest.
type Principal struct {
	User             string
	AppID            string
	SystemAdmin      bool
	AllowGuestAccess bool
	Anonymous        bool
}

func (p *Principal) Name() string {
	switch {
	case len(p.User) != 0:
		return p.User
	case len(p.AppID) != 0:
		return p.AppID
	default:
		return "anonymous"
	}
}

func (p *Principal) isApp() bool {
	return len(p.AppID) != 0
}

// ProjectRoleOf resolves the principal's standing within the project.
// Principals without a membership are guests.
func (pm *ProjectMetadata) ProjectRoleOf(p *Principal) ProjectRole {
	if p.isApp() {
		if reg, ok := pm.AppIDs[p.AppID]; ok {
			return reg.Role
		}
		return Guest
	}
	if len(p.User) != 0 {
		if m, ok := pm.Members[p.User]; ok {
			return m.Role
		}
	}
	return Guest
}

// RepositoryRoleOf resolves the effective repository role of a principal:
// system admins are admins everywhere; project owners are repository
// admins; everyone else gets the best of their direct role and the role
// their project standing inherits. The reserved dogma repository is only
// visible to system admins.
func (pm *ProjectMetadata) RepositoryRoleOf(p *Principal, repoName string) (RepositoryRole, bool) {
	if p.SystemAdmin {
		return Admin, true
	}
	if repoName == repo.DogmaRepo {
		return "", false
	}
	projectRole := pm.ProjectRoleOf(p)
	if projectRole == Owner {
		return Admin, true
	}
	rm, ok := pm.repo(repoName)
	if !ok {
		return "", false
	}
	var direct RepositoryRole
	if p.isApp() {
		direct = rm.Roles.AppIDs[p.AppID]
	} else if len(p.User) != 0 {
		direct = rm.Roles.Users[p.User]
	}
	var inherited RepositoryRole
	switch projectRole {
	case Member:
		if rm.Roles.ProjectRoles.Member != nil {
			inherited = *rm.Roles.ProjectRoles.Member
		}
	case Guest:
		// Guest access through a machine identity requires an explicit
		// opt-in on that identity.
		if p.isApp() && !p.AllowGuestAccess {
			break
		}
		if rm.Roles.ProjectRoles.Guest != nil {
			inherited = *rm.Roles.ProjectRoles.Guest
		}
	}
	effective := maxRole(direct, inherited)
	if !effective.Valid() {
		return "", false
	}
	return effective, true
}

// RequireRepositoryRole fails with an Authorization error unless the
// principal holds at least want on the repository.
func (pm *ProjectMetadata) RequireRepositoryRole(p *Principal, repoName string, want RepositoryRole) error {
	got, ok := pm.RepositoryRoleOf(p, repoName)
	if !ok || !got.AtLeast(want) {
		return plumbing.NewErrAuthorization("%s requires %s on %s/%s", p.Name(), want, pm.Name, repoName)
	}
	return nil
}

// RequireProjectOwner fails unless the principal owns the project or is a
// system admin.
func (pm *ProjectMetadata) RequireProjectOwner(p *Principal) error {
	if p.SystemAdmin || pm.ProjectRoleOf(p) == Owner {
		return nil
	}
	return plumbing.NewErrAuthorization("%s is not an owner of %s", p.Name(), pm.Name)
}

// validateProjectRoles rejects grants the lattice forbids: WRITE for
// guests, and any project-role grant on the reserved dogma repository.
func validateProjectRoles(repoName string, roles ProjectRoles) error {
	if repoName == repo.DogmaRepo && (roles.Member != nil || roles.Guest != nil) {
		return plumbing.NewErrBadRequest("the %s repository is accessible only to system administrators", repo.DogmaRepo)
	}
	if roles.Guest != nil && roles.Guest.AtLeast(Write) {
		return plumbing.NewErrBadRequest("guests may not hold %s", *roles.Guest)
	}
	if roles.Member != nil && !roles.Member.Valid() {
		return plumbing.NewErrBadRequest("invalid repository role: %q", *roles.Member)
	}
	if roles.Guest != nil && !roles.Guest.Valid() {
		return plumbing.NewErrBadRequest("invalid repository role: %q", *roles.Guest)
	}
	return nil
}
