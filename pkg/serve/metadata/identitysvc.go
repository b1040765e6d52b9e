// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/line/centraldogma-sub008/modules/plumbing"
)

// registryCache mirrors the per-project document cache for the global
// app-identity registry.
type registryCache struct {
	mu  sync.RWMutex
	rev plumbing.Revision
	reg *IdentityRegistry
}

// Registry returns the global app-identity registry stored in the internal
// project.
func (s *Service) Registry() (*IdentityRegistry, error) {
	r, err := s.dogma(InternalProject)
	if err != nil {
		return nil, err
	}
	head := r.Head()
	s.reg.mu.RLock()
	if s.reg.reg != nil && s.reg.rev == head {
		reg := s.reg.reg
		s.reg.mu.RUnlock()
		return reg, nil
	}
	s.reg.mu.RUnlock()
	entry, abs, err := r.Get(head, IdentitiesPath)
	if plumbing.IsErrEntryNotFound(err) {
		return NewIdentityRegistry(), nil
	}
	if err != nil {
		return nil, err
	}
	reg := NewIdentityRegistry()
	if err := json.Unmarshal(entry.Content, reg); err != nil {
		return nil, plumbing.NewErrQueryExecution("corrupt app-identity registry: %v", err)
	}
	if reg.Identities == nil {
		reg.Identities = make(map[string]*AppIdentity)
	}
	s.reg.mu.Lock()
	s.reg.rev, s.reg.reg = abs, reg
	s.reg.mu.Unlock()
	return reg, nil
}

func (s *Service) updateRegistry(ctx context.Context, author, summary string, mutate func(reg *IdentityRegistry) error) error {
	return s.updateDoc(ctx, InternalProject, IdentitiesPath, author, summary, func(content []byte) ([]byte, error) {
		reg := NewIdentityRegistry()
		if len(content) != 0 {
			if err := json.Unmarshal(content, reg); err != nil {
				return nil, plumbing.NewErrQueryExecution("corrupt app-identity registry: %v", err)
			}
			if reg.Identities == nil {
				reg.Identities = make(map[string]*AppIdentity)
			}
		}
		if err := mutate(reg); err != nil {
			return nil, err
		}
		return json.Marshal(reg)
	})
}

// CreateToken mints a bearer-token identity. The secret is returned exactly
// once; only its registry record persists.
func (s *Service) CreateToken(ctx context.Context, author, appID string, systemAdmin, allowGuestAccess bool) (*AppIdentity, error) {
	if !plumbing.ValidateName(appID) {
		return nil, plumbing.NewErrBadRequest("invalid app ID: %q", appID)
	}
	secret, err := NewSecret()
	if err != nil {
		return nil, err
	}
	id := &AppIdentity{
		Kind:             TokenIdentity,
		AppID:            appID,
		Secret:           secret,
		IsSystemAdmin:    systemAdmin,
		AllowGuestAccess: allowGuestAccess,
		State:            IdentityActive,
		Creation:         Stamp(author, time.Now()),
	}
	err = s.updateRegistry(ctx, author, "Create a new token: "+appID, func(reg *IdentityRegistry) error {
		if _, ok := reg.Identities[appID]; ok {
			return plumbing.NewErrBadRequest("app ID %s already exists", appID)
		}
		reg.Identities[appID] = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return id, nil
}

// CreateCertificate registers an mTLS client-certificate identity. No secret
// is stored; authentication matches the presented certificate's ID.
func (s *Service) CreateCertificate(ctx context.Context, author, appID, certificateID string, systemAdmin, allowGuestAccess bool) (*AppIdentity, error) {
	if !plumbing.ValidateName(appID) {
		return nil, plumbing.NewErrBadRequest("invalid app ID: %q", appID)
	}
	if len(certificateID) == 0 {
		return nil, plumbing.NewErrBadRequest("certificate ID is required")
	}
	id := &AppIdentity{
		Kind:             CertificateIdentity,
		AppID:            appID,
		CertificateID:    certificateID,
		IsSystemAdmin:    systemAdmin,
		AllowGuestAccess: allowGuestAccess,
		State:            IdentityActive,
		Creation:         Stamp(author, time.Now()),
	}
	err := s.updateRegistry(ctx, author, "Create a new certificate identity: "+appID, func(reg *IdentityRegistry) error {
		if _, ok := reg.Identities[appID]; ok {
			return plumbing.NewErrBadRequest("app ID %s already exists", appID)
		}
		if other, ok := reg.FindByCertificate(certificateID); ok {
			return plumbing.NewErrBadRequest("certificate %s already bound to %s", certificateID, other.AppID)
		}
		reg.Identities[appID] = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return id, nil
}

func (s *Service) ActivateIdentity(ctx context.Context, author, appID string) error {
	return s.updateRegistry(ctx, author, "Activate the app: "+appID, func(reg *IdentityRegistry) error {
		id, ok := reg.Identities[appID]
		if !ok {
			return plumbing.NewErrEntryNotFound("app ID %s not found", appID)
		}
		if id.State == IdentityDeleting {
			return plumbing.NewErrBadRequest("app ID %s is being deleted", appID)
		}
		id.State = IdentityActive
		id.Deactivation = nil
		return nil
	})
}

func (s *Service) DeactivateIdentity(ctx context.Context, author, appID string) error {
	return s.updateRegistry(ctx, author, "Deactivate the app: "+appID, func(reg *IdentityRegistry) error {
		id, ok := reg.Identities[appID]
		if !ok {
			return plumbing.NewErrEntryNotFound("app ID %s not found", appID)
		}
		if id.State == IdentityDeleting {
			return plumbing.NewErrBadRequest("app ID %s is being deleted", appID)
		}
		stamp := Stamp(author, time.Now())
		id.State = IdentityInactive
		id.Deactivation = &stamp
		return nil
	})
}

// DestroyIdentity soft-deletes: the record stays in DELETING state until a
// system admin purges it.
func (s *Service) DestroyIdentity(ctx context.Context, author, appID string) error {
	return s.updateRegistry(ctx, author, "Destroy the app: "+appID, func(reg *IdentityRegistry) error {
		id, ok := reg.Identities[appID]
		if !ok {
			return plumbing.NewErrEntryNotFound("app ID %s not found", appID)
		}
		stamp := Stamp(author, time.Now())
		id.State = IdentityDeleting
		id.Deactivation = &stamp
		return nil
	})
}

func (s *Service) PurgeIdentity(ctx context.Context, author, appID string) error {
	return s.updateRegistry(ctx, author, "Purge the app: "+appID, func(reg *IdentityRegistry) error {
		if _, ok := reg.Identities[appID]; !ok {
			return plumbing.NewErrEntryNotFound("app ID %s not found", appID)
		}
		delete(reg.Identities, appID)
		return nil
	})
}
