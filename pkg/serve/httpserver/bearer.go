// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/metadata"
)

const (
	BearerPrefix   = "Bearer "
	AnonymousToken = "anonymous"
)

// authenticate resolves the caller to a principal. Opaque app tokens come
// from the identity registry; mTLS client certificates map through their
// certificate identities; "Bearer anonymous" is the guest principal.
func (s *Server) authenticate(r *http.Request) (*metadata.Principal, error) {
	if r.TLS != nil && len(r.TLS.PeerCertificates) != 0 {
		if p, ok := s.certificatePrincipal(r.TLS.PeerCertificates[0].Subject.CommonName); ok {
			return p, nil
		}
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, BearerPrefix) {
		if s.Auth.AllowAnonymousRead {
			return &metadata.Principal{Anonymous: true}, nil
		}
		return nil, plumbing.NewErrAuthorization("missing bearer token")
	}
	token := strings.TrimPrefix(auth, BearerPrefix)
	if token == AnonymousToken {
		return &metadata.Principal{Anonymous: true}, nil
	}
	reg, err := s.meta.Registry()
	if err != nil {
		return nil, err
	}
	id, ok := reg.FindBySecret(token)
	if !ok {
		return nil, plumbing.NewErrAuthorization("unknown bearer token")
	}
	if !id.Usable() {
		return nil, plumbing.NewErrAuthorization("app ID %s is not active", id.AppID)
	}
	return s.identityPrincipal(id), nil
}

func (s *Server) certificatePrincipal(commonName string) (*metadata.Principal, bool) {
	if len(commonName) == 0 {
		return nil, false
	}
	reg, err := s.meta.Registry()
	if err != nil {
		return nil, false
	}
	id, ok := reg.FindByCertificate(commonName)
	if !ok || !id.Usable() {
		return nil, false
	}
	return s.identityPrincipal(id), true
}

func (s *Server) identityPrincipal(id *metadata.AppIdentity) *metadata.Principal {
	return &metadata.Principal{
		AppID:            id.AppID,
		SystemAdmin:      id.IsSystemAdmin || slices.Contains(s.Auth.SystemAdmins, id.AppID),
		AllowGuestAccess: id.AllowGuestAccess,
	}
}

// ClusterClaims authenticates a command forwarded from a follower.
type ClusterClaims struct {
	Author               string `json:"author"`
	jwt.RegisteredClaims        // v5 new
}

func GenerateClusterJWT(secret, author string, expiresAt time.Time) (string, error) {
	now := time.Now()
	claims := ClusterClaims{
		Author: author,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	// HS256
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

func (s *Server) parseClusterJWT(bearerToken string) (*ClusterClaims, error) {
	if len(s.Auth.ClusterSecret) == 0 {
		return nil, plumbing.NewErrAuthorization("cluster forwarding is not configured")
	}
	var claims ClusterClaims
	_, err := jwt.ParseWithClaims(bearerToken, &claims, func(token *jwt.Token) (any, error) {
		return []byte(s.Auth.ClusterSecret), nil
	})
	if err != nil {
		return nil, plumbing.NewErrAuthorization("invalid cluster token: %v", err)
	}
	return &claims, nil
}
