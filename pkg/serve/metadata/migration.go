// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/command"
	"github.com/line/centraldogma-sub008/pkg/serve/repo"
)

// legacyToken is the record shape of the pre-migration /tokens.json
// document.
type legacyToken struct {
	AppID        string            `json:"appId"`
	Secret       string            `json:"secret"`
	Admin        bool              `json:"admin"`
	SystemAdmin  bool              `json:"systemAdmin"`
	Deactivated  bool              `json:"deactivated"`
	Creation     UserAndTimestamp  `json:"creation"`
	Deactivation *UserAndTimestamp `json:"deactivation"`
}

type legacyTokens struct {
	AppIDs  map[string]*legacyToken `json:"appIds"`
	Secrets map[string]string       `json:"secrets"`
}

// Migrate moves legacy documents into their current homes. It is run once at
// startup on the leader, commits at most once per project, and is a no-op
// when there is nothing left to move.
func (s *Service) Migrate(ctx context.Context, author string) error {
	for _, name := range s.mgr.Projects() {
		if err := s.migrateProjectDoc(ctx, author, name); err != nil {
			return err
		}
	}
	return s.migrateTokens(ctx, author)
}

// migrateProjectDoc moves /metadata.json out of the legacy meta repository
// into the project's dogma repository.
func (s *Service) migrateProjectDoc(ctx context.Context, author, project string) error {
	dst, err := s.dogma(project)
	if err != nil {
		return err
	}
	if ok, err := dst.Exists(plumbing.HEAD, MetadataPath); err != nil {
		return err
	} else if ok {
		return nil
	}
	p, err := s.mgr.Project(project)
	if err != nil {
		return err
	}
	src, err := p.Repo(repo.MetaRepo)
	if plumbing.IsErrRepositoryNotFound(err) {
		// Nothing to migrate; write a fresh document.
		return s.writeInitialDoc(ctx, author, project)
	}
	if err != nil {
		return err
	}
	entry, _, err := src.Get(plumbing.HEAD, MetadataPath)
	if plumbing.IsErrEntryNotFound(err) {
		return s.writeInitialDoc(ctx, author, project)
	}
	if err != nil {
		return err
	}
	logrus.Infof("[metadata] migrating metadata of %s from the meta repository", project)
	_, err = s.exec.Execute(ctx, &command.Command{
		Type:            command.Push,
		Author:          author,
		TimestampMillis: time.Now().UnixMilli(),
		Project:         project,
		Repo:            repo.DogmaRepo,
		BaseRevision:    plumbing.HEAD,
		Message:         &repo.CommitMessage{Summary: "Migrate the metadata from the meta repository"},
		Changes:         []repo.Change{repo.NewUpsertJSON(MetadataPath, entry.Content)},
	})
	if plumbing.IsErrRedundantChange(err) {
		return nil
	}
	return err
}

func (s *Service) writeInitialDoc(ctx context.Context, author, project string) error {
	doc, err := InitialDocument(project, author, time.Now())
	if err != nil {
		return err
	}
	_, err = s.exec.Execute(ctx, &command.Command{
		Type:            command.Push,
		Author:          author,
		TimestampMillis: time.Now().UnixMilli(),
		Project:         project,
		Repo:            repo.DogmaRepo,
		BaseRevision:    plumbing.HEAD,
		Message:         &repo.CommitMessage{Summary: "Initialize the project metadata"},
		Changes:         []repo.Change{repo.NewUpsertJSON(MetadataPath, doc)},
	})
	if plumbing.IsErrRedundantChange(err) {
		return nil
	}
	return err
}

// migrateTokens rewrites the legacy /tokens.json of the internal project
// into the /app-identities.json registry.
func (s *Service) migrateTokens(ctx context.Context, author string) error {
	r, err := s.dogma(InternalProject)
	if err != nil {
		if plumbing.IsErrProjectNotFound(err) {
			return nil
		}
		return err
	}
	if ok, err := r.Exists(plumbing.HEAD, IdentitiesPath); err != nil {
		return err
	} else if ok {
		return nil
	}
	entry, _, err := r.Get(plumbing.HEAD, LegacyTokensPath)
	if plumbing.IsErrEntryNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var legacy legacyTokens
	if err := json.Unmarshal(entry.Content, &legacy); err != nil {
		return plumbing.NewErrQueryExecution("corrupt legacy token registry: %v", err)
	}
	reg := NewIdentityRegistry()
	for appID, tok := range legacy.AppIDs {
		state := IdentityActive
		if tok.Deactivated {
			state = IdentityInactive
		}
		reg.Identities[appID] = &AppIdentity{
			Kind:          TokenIdentity,
			AppID:         appID,
			Secret:        tok.Secret,
			IsSystemAdmin: tok.Admin || tok.SystemAdmin,
			State:         state,
			Creation:      tok.Creation,
			Deactivation:  tok.Deactivation,
		}
	}
	raw, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	logrus.Infof("[metadata] migrating %d legacy tokens into the app-identity registry", len(reg.Identities))
	_, err = s.exec.Execute(ctx, &command.Command{
		Type:            command.Push,
		Author:          author,
		TimestampMillis: time.Now().UnixMilli(),
		Project:         InternalProject,
		Repo:            repo.DogmaRepo,
		BaseRevision:    plumbing.HEAD,
		Message:         &repo.CommitMessage{Summary: "Migrate the legacy token registry"},
		Changes: []repo.Change{
			repo.NewUpsertJSON(IdentitiesPath, raw),
			repo.NewRemove(LegacyTokensPath),
		},
	})
	if plumbing.IsErrRedundantChange(err) {
		return nil
	}
	return err
}
