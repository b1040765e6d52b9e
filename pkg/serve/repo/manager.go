// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/sirupsen/logrus"

	"github.com/line/centraldogma-sub008/modules/plumbing"
)

const (
	// DogmaRepo is the reserved per-project metadata repository.
	DogmaRepo = "dogma"
	// MetaRepo is the legacy metadata repository; absent after migration.
	MetaRepo = "meta"
)

// IsReservedRepo reports whether name is one of the repositories clients
// may not create or remove.
func IsReservedRepo(name string) bool {
	return name == DogmaRepo || name == MetaRepo
}

// Manager owns every project under the data directory. Projects own their
// repositories; upward references are names, never pointers.
type Manager struct {
	root  string
	cache *ristretto.Cache[string, []byte]

	mu       sync.RWMutex
	projects map[string]*Project
}

// Project is a named collection of repositories.
type Project struct {
	name string
	dir  string

	cache *ristretto.Cache[string, []byte]
	mu    sync.RWMutex
	repos map[string]*Repository
}

// NewManager opens every live project found under root.
func NewManager(root string, cache *ristretto.Cache[string, []byte]) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	m := &Manager{root: root, cache: cache, projects: make(map[string]*Project)}
	dirents, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	for _, de := range dirents {
		if !de.IsDir() || strings.HasSuffix(de.Name(), plumbing.RemovedSuffix) {
			continue
		}
		p, err := m.openProject(de.Name())
		if err != nil {
			m.Close()
			return nil, err
		}
		m.projects[de.Name()] = p
	}
	return m, nil
}

func (m *Manager) openProject(name string) (*Project, error) {
	dir := filepath.Join(m.root, name)
	p := &Project{name: name, dir: dir, cache: m.cache, repos: make(map[string]*Repository)}
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, de := range dirents {
		if !de.IsDir() || strings.HasSuffix(de.Name(), plumbing.RemovedSuffix) {
			continue
		}
		r, err := Open(name, de.Name(), filepath.Join(dir, de.Name()), m.cache)
		if err != nil {
			p.closeAll()
			return nil, err
		}
		p.repos[de.Name()] = r
	}
	return p, nil
}

func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, p := range m.projects {
		p.closeAll()
		delete(m.projects, name)
	}
}

// Projects lists live project names in order.
func (m *Manager) Projects() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.projects))
	for name := range m.projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RemovedProjects lists soft-deleted project names.
func (m *Manager) RemovedProjects() []string {
	return removedNames(m.root)
}

func removedNames(dir string) []string {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, de := range dirents {
		if de.IsDir() && strings.HasSuffix(de.Name(), plumbing.RemovedSuffix) {
			names = append(names, strings.TrimSuffix(de.Name(), plumbing.RemovedSuffix))
		}
	}
	sort.Strings(names)
	return names
}

// Project returns a live project.
func (m *Manager) Project(name string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[name]
	if !ok {
		return nil, plumbing.NewErrProjectNotFound("project not found: %s", name)
	}
	return p, nil
}

// CreateProject makes an empty project directory; the caller is expected to
// create its reserved repositories next.
func (m *Manager) CreateProject(name string) (*Project, error) {
	if !plumbing.ValidateName(name) {
		return nil, plumbing.NewErrBadRequest("invalid project name: %q", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[name]; ok {
		return nil, plumbing.NewErrProjectExists("project %s already exists", name)
	}
	dir := filepath.Join(m.root, name)
	if _, err := os.Stat(dir + plumbing.RemovedSuffix); err == nil {
		return nil, plumbing.NewErrProjectExists("project %s exists in removed state", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	p := &Project{name: name, dir: dir, cache: m.cache, repos: make(map[string]*Repository)}
	m.projects[name] = p
	return p, nil
}

// RemoveProject soft-deletes a project: its directory is renamed with the
// removed suffix and it disappears from list/open until restored.
func (m *Manager) RemoveProject(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[name]
	if !ok {
		return plumbing.NewErrProjectNotFound("project not found: %s", name)
	}
	p.closeAll()
	if err := os.Rename(p.dir, p.dir+plumbing.RemovedSuffix); err != nil {
		return err
	}
	delete(m.projects, name)
	return nil
}

// UnremoveProject restores a soft-deleted project.
func (m *Manager) UnremoveProject(name string) (*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[name]; ok {
		return nil, plumbing.NewErrProjectExists("project %s already exists", name)
	}
	dir := filepath.Join(m.root, name)
	if err := os.Rename(dir+plumbing.RemovedSuffix, dir); err != nil {
		if os.IsNotExist(err) {
			return nil, plumbing.NewErrProjectNotFound("removed project not found: %s", name)
		}
		return nil, err
	}
	p, err := m.openProject(name)
	if err != nil {
		return nil, err
	}
	m.projects[name] = p
	return p, nil
}

// PurgeProject irreversibly deletes a soft-deleted project.
func (m *Manager) PurgeProject(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir := filepath.Join(m.root, name) + plumbing.RemovedSuffix
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return plumbing.NewErrProjectNotFound("removed project not found: %s", name)
		}
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	logrus.Infof("[%s] project purged", name)
	return nil
}

func (p *Project) Name() string { return p.name }

func (p *Project) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, r := range p.repos {
		if err := r.Close(); err != nil {
			logrus.Errorf("[%s/%s] close error: %v", p.name, name, err)
		}
		delete(p.repos, name)
	}
}

// Repos lists live repository names in order.
func (p *Project) Repos() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.repos))
	for name := range p.repos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RemovedRepos lists soft-deleted repository names.
func (p *Project) RemovedRepos() []string {
	return removedNames(p.dir)
}

// Repo returns a live repository.
func (p *Project) Repo(name string) (*Repository, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.repos[name]
	if !ok {
		return nil, plumbing.NewErrRepositoryNotFound("repository not found: %s/%s", p.name, name)
	}
	return r, nil
}

// CreateRepo creates a repository with its automatic first commit.
func (p *Project) CreateRepo(name, author string, timestampMillis int64) (*Repository, error) {
	if !plumbing.ValidateName(name) {
		return nil, plumbing.NewErrBadRequest("invalid repository name: %q", name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.repos[name]; ok {
		return nil, plumbing.NewErrRepositoryExists("repository %s/%s already exists", p.name, name)
	}
	dir := filepath.Join(p.dir, name)
	if _, err := os.Stat(dir + plumbing.RemovedSuffix); err == nil {
		return nil, plumbing.NewErrRepositoryExists("repository %s/%s exists in removed state", p.name, name)
	}
	r, err := Create(p.name, name, dir, author, timestampMillis, p.cache)
	if err != nil {
		return nil, err
	}
	p.repos[name] = r
	return r, nil
}

// RemoveRepo soft-deletes a repository, preserving its history.
func (p *Project) RemoveRepo(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.repos[name]
	if !ok {
		return plumbing.NewErrRepositoryNotFound("repository not found: %s/%s", p.name, name)
	}
	if err := r.Close(); err != nil {
		return err
	}
	if err := os.Rename(r.dir, r.dir+plumbing.RemovedSuffix); err != nil {
		return err
	}
	delete(p.repos, name)
	return nil
}

// UnremoveRepo restores a soft-deleted repository; its head is preserved.
func (p *Project) UnremoveRepo(name string) (*Repository, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.repos[name]; ok {
		return nil, plumbing.NewErrRepositoryExists("repository %s/%s already exists", p.name, name)
	}
	dir := filepath.Join(p.dir, name)
	if err := os.Rename(dir+plumbing.RemovedSuffix, dir); err != nil {
		if os.IsNotExist(err) {
			return nil, plumbing.NewErrRepositoryNotFound("removed repository not found: %s/%s", p.name, name)
		}
		return nil, err
	}
	r, err := Open(p.name, name, dir, p.cache)
	if err != nil {
		return nil, err
	}
	p.repos[name] = r
	return r, nil
}

// PurgeRepo irreversibly deletes a soft-deleted repository.
func (p *Project) PurgeRepo(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	dir := filepath.Join(p.dir, name) + plumbing.RemovedSuffix
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return plumbing.NewErrRepositoryNotFound("removed repository not found: %s/%s", p.name, name)
		}
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	logrus.Infof("[%s/%s] repository purged", p.name, name)
	return nil
}
