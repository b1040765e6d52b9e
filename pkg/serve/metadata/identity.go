// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// IdentityKind tags the AppIdentity variant.
type IdentityKind string

const (
	TokenIdentity       IdentityKind = "TOKEN"
	CertificateIdentity IdentityKind = "CERTIFICATE"
)

// IdentityState is the soft-delete lifecycle of a machine identity.
type IdentityState string

const (
	IdentityActive   IdentityState = "ACTIVE"
	IdentityInactive IdentityState = "INACTIVE"
	// IdentityDeleting marks a destroyed identity awaiting purge.
	IdentityDeleting IdentityState = "DELETING"
)

// AppIdentity is a machine principal: either an opaque bearer token or an
// mTLS client certificate mapping.
type AppIdentity struct {
	Kind             IdentityKind      `json:"kind"`
	AppID            string            `json:"appId"`
	Secret           string            `json:"secret,omitempty"`
	CertificateID    string            `json:"certificateId,omitempty"`
	IsSystemAdmin    bool              `json:"systemAdmin,omitempty"`
	AllowGuestAccess bool              `json:"allowGuestAccess,omitempty"`
	State            IdentityState     `json:"state"`
	Creation         UserAndTimestamp  `json:"creation"`
	Deactivation     *UserAndTimestamp `json:"deactivation,omitempty"`
}

func (a *AppIdentity) Usable() bool {
	return a.State == IdentityActive
}

// IdentityRegistry is the global /app-identities.json document of the
// internal project.
type IdentityRegistry struct {
	Identities map[string]*AppIdentity `json:"appIds"`
}

func NewIdentityRegistry() *IdentityRegistry {
	return &IdentityRegistry{Identities: make(map[string]*AppIdentity)}
}

// FindBySecret resolves a bearer token to its identity.
func (r *IdentityRegistry) FindBySecret(secret string) (*AppIdentity, bool) {
	for _, id := range r.Identities {
		if id.Kind == TokenIdentity && id.Secret == secret {
			return id, true
		}
	}
	return nil, false
}

// FindByCertificate resolves an mTLS certificate ID to its identity.
func (r *IdentityRegistry) FindByCertificate(certificateID string) (*AppIdentity, bool) {
	for _, id := range r.Identities {
		if id.Kind == CertificateIdentity && id.CertificateID == certificateID {
			return id, true
		}
	}
	return nil, false
}

const secretPrefix = "appToken-"

// NewSecret mints an opaque bearer token.
func NewSecret() (string, error) {
	var buf [24]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("metadata: generate secret: %w", err)
	}
	return secretPrefix + hex.EncodeToString(buf[:]), nil
}
