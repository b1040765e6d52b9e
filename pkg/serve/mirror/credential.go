// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"golang.org/x/crypto/ssh"

	"github.com/line/centraldogma-sub008/modules/plumbing"
)

// CredentialType tags the Credential variant.
type CredentialType string

const (
	PasswordCredential    CredentialType = "PASSWORD"
	AccessTokenCredential CredentialType = "ACCESS_TOKEN"
	SSHKeyCredential      CredentialType = "SSH_KEY"
	NoneCredential        CredentialType = "NONE"
)

// Credential authenticates a task against its remote, stored as
// /credentials/<id>.json in the owning project's dogma repository. Exactly
// the fields of its type are populated.
type Credential struct {
	Type        CredentialType `json:"type"`
	ID          string         `json:"id"`
	Username    string         `json:"username,omitempty"`
	Password    string         `json:"password,omitempty"`
	AccessToken string         `json:"accessToken,omitempty"`
	PrivateKey  string         `json:"privateKey,omitempty"`
	Passphrase  string         `json:"passphrase,omitempty"`
}

// None is the credential of tasks with no credentialId.
var None = &Credential{Type: NoneCredential}

func (c *Credential) Validate() error {
	if c.Type != NoneCredential {
		if !plumbing.ValidateName(c.ID) {
			return plumbing.NewErrBadRequest("invalid credential ID: %q", c.ID)
		}
	}
	switch c.Type {
	case PasswordCredential:
		if len(c.Username) == 0 || len(c.Password) == 0 {
			return plumbing.NewErrBadRequest("credential %s: username and password are required", c.ID)
		}
	case AccessTokenCredential:
		if len(c.AccessToken) == 0 {
			return plumbing.NewErrBadRequest("credential %s: accessToken is required", c.ID)
		}
	case SSHKeyCredential:
		if len(c.PrivateKey) == 0 {
			return plumbing.NewErrBadRequest("credential %s: privateKey is required", c.ID)
		}
		var err error
		if len(c.Passphrase) != 0 {
			_, err = ssh.ParsePrivateKeyWithPassphrase([]byte(c.PrivateKey), []byte(c.Passphrase))
		} else {
			_, err = ssh.ParsePrivateKey([]byte(c.PrivateKey))
		}
		if err != nil {
			return plumbing.NewErrBadRequest("credential %s: unparsable private key: %v", c.ID, err)
		}
	case NoneCredential:
	default:
		return plumbing.NewErrBadRequest("invalid credential type: %q", c.Type)
	}
	return nil
}
