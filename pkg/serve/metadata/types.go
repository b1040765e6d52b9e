// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package metadata records projects, repositories, members, machine
// identities and per-repository roles. Every mutation is a read-modify-write
// of /metadata.json in the owning project's dogma repository, pushed through
// the command executor; conflicts surface as ordinary commit conflicts.
package metadata

import (
	"time"

	"github.com/line/centraldogma-sub008/pkg/serve/command"
)

const (
	// InternalProject hosts node-wide documents such as the app-identity
	// registry.
	InternalProject = "dogma"

	// MetadataPath is the per-project metadata document.
	MetadataPath = "/metadata.json"
	// IdentitiesPath is the global app-identity registry, stored in the
	// internal project.
	IdentitiesPath = "/app-identities.json"
	// LegacyTokensPath is the pre-migration registry document.
	LegacyTokensPath = "/tokens.json"
)

// ProjectRole is a principal's standing within a project.
type ProjectRole string

const (
	Owner  ProjectRole = "OWNER"
	Member ProjectRole = "MEMBER"
	Guest  ProjectRole = "GUEST"
)

func (r ProjectRole) Valid() bool {
	switch r {
	case Owner, Member, Guest:
		return true
	}
	return false
}

// RepositoryRole is a principal's standing on one repository, ordered
// ADMIN > WRITE > READ > none.
type RepositoryRole string

const (
	Admin RepositoryRole = "ADMIN"
	Write RepositoryRole = "WRITE"
	Read  RepositoryRole = "READ"
)

func (r RepositoryRole) rank() int {
	switch r {
	case Admin:
		return 3
	case Write:
		return 2
	case Read:
		return 1
	}
	return 0
}

func (r RepositoryRole) Valid() bool {
	return r.rank() > 0
}

// AtLeast reports whether r grants everything want grants.
func (r RepositoryRole) AtLeast(want RepositoryRole) bool {
	return r.rank() >= want.rank()
}

func maxRole(a, b RepositoryRole) RepositoryRole {
	if a.rank() >= b.rank() {
		return a
	}
	return b
}

// RepositoryStatus toggles non-forced writes per repository.
type RepositoryStatus string

const (
	StatusActive   RepositoryStatus = "ACTIVE"
	StatusReadOnly RepositoryStatus = "READ_ONLY"
)

// UserAndTimestamp stamps who did something and when.
type UserAndTimestamp struct {
	User      string `json:"user"`
	Timestamp string `json:"timestamp"`
}

func Stamp(user string, at time.Time) UserAndTimestamp {
	return UserAndTimestamp{User: user, Timestamp: at.UTC().Format(time.RFC3339Nano)}
}

// MemberInfo is one human member of a project.
type MemberInfo struct {
	Login    string           `json:"login"`
	Role     ProjectRole      `json:"role"`
	Creation UserAndTimestamp `json:"creation"`
}

// AppRegistration registers a machine identity within a project.
type AppRegistration struct {
	AppID    string           `json:"appId"`
	Role     ProjectRole      `json:"role"`
	Creation UserAndTimestamp `json:"creation"`
}

// ProjectRoles maps project standing onto a repository role. A nil role
// grants nothing.
type ProjectRoles struct {
	Member *RepositoryRole `json:"member"`
	Guest  *RepositoryRole `json:"guest"`
}

// Roles is the per-repository access table.
type Roles struct {
	ProjectRoles ProjectRoles              `json:"projects"`
	Users        map[string]RepositoryRole `json:"users,omitempty"`
	AppIDs       map[string]RepositoryRole `json:"appIds,omitempty"`
}

// RepositoryMetadata describes one repository of a project.
type RepositoryMetadata struct {
	Name     string              `json:"name"`
	Roles    Roles               `json:"roles"`
	Creation UserAndTimestamp    `json:"creation"`
	Removal  *UserAndTimestamp   `json:"removal,omitempty"`
	Status   RepositoryStatus    `json:"status,omitempty"`
	Quota    *command.WriteQuota `json:"writeQuota,omitempty"`
}

// ProjectMetadata is the whole /metadata.json document of a project.
type ProjectMetadata struct {
	Name     string                         `json:"name"`
	Repos    map[string]*RepositoryMetadata `json:"repos"`
	Members  map[string]*MemberInfo         `json:"members"`
	AppIDs   map[string]*AppRegistration    `json:"appIds"`
	Creation UserAndTimestamp               `json:"creation"`
	Removal  *UserAndTimestamp              `json:"removal,omitempty"`
}

// NewProjectMetadata is the document written when a project is created.
func NewProjectMetadata(name, author string, at time.Time) *ProjectMetadata {
	return &ProjectMetadata{
		Name:     name,
		Repos:    make(map[string]*RepositoryMetadata),
		Members:  make(map[string]*MemberInfo),
		AppIDs:   make(map[string]*AppRegistration),
		Creation: Stamp(author, at),
	}
}

func (pm *ProjectMetadata) repo(name string) (*RepositoryMetadata, bool) {
	rm, ok := pm.Repos[name]
	return rm, ok
}
