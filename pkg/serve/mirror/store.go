// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"encoding/json"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/repo"
)

const (
	// MirrorsDir holds one task document per mirror in each project's dogma
	// repository.
	MirrorsDir = "/mirrors"
	// CredentialsDir holds one credential document per ID.
	CredentialsDir = "/credentials"
)

// TaskPath returns the document path of one task.
func TaskPath(id string) string { return MirrorsDir + "/" + id + ".json" }

// CredentialPath returns the document path of one credential.
func CredentialPath(id string) string { return CredentialsDir + "/" + id + ".json" }

// Store reads task and credential documents out of the dogma repositories.
type Store struct {
	mgr *repo.Manager
}

func NewStore(mgr *repo.Manager) *Store {
	return &Store{mgr: mgr}
}

func (s *Store) dogma(project string) (*repo.Repository, error) {
	p, err := s.mgr.Project(project)
	if err != nil {
		return nil, err
	}
	return p.Repo(repo.DogmaRepo)
}

// Tasks lists the tasks of one project. Documents that fail to decode or
// validate are skipped with a log line rather than failing the scan.
func (s *Store) Tasks(project string) ([]*Task, error) {
	r, err := s.dogma(project)
	if err != nil {
		return nil, err
	}
	entries, _, err := r.Find(plumbing.HEAD, MirrorsDir+"/*.json")
	if err != nil {
		return nil, err
	}
	tasks := make([]*Task, 0, len(entries))
	for _, e := range entries {
		if e.Type != plumbing.JSON {
			continue
		}
		t := &Task{}
		if err := json.Unmarshal(e.Content, t); err != nil {
			logrus.Warnf("[mirror] skipping %s%s: %v", project, e.Path, err)
			continue
		}
		if len(t.ID) == 0 {
			t.ID = strings.TrimSuffix(path.Base(e.Path), ".json")
		}
		t.project = project
		if err := t.Validate(); err != nil {
			logrus.Warnf("[mirror] skipping %s: %v", t.Key(), err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// AllTasks lists the tasks of every project.
func (s *Store) AllTasks() []*Task {
	var all []*Task
	for _, project := range s.mgr.Projects() {
		tasks, err := s.Tasks(project)
		if err != nil {
			if !plumbing.IsErrEntryNotFound(err) && !plumbing.IsErrRepositoryNotFound(err) {
				logrus.Warnf("[mirror] listing tasks of %s: %v", project, err)
			}
			continue
		}
		all = append(all, tasks...)
	}
	return all
}

// Credential resolves a task's credential reference.
func (s *Store) Credential(project, id string) (*Credential, error) {
	if len(id) == 0 {
		return None, nil
	}
	r, err := s.dogma(project)
	if err != nil {
		return nil, err
	}
	entry, _, err := r.Get(plumbing.HEAD, CredentialPath(id))
	if err != nil {
		return nil, err
	}
	c := &Credential{}
	if err := json.Unmarshal(entry.Content, c); err != nil {
		return nil, plumbing.NewErrQueryExecution("corrupt credential %s/%s: %v", project, id, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
