// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/line/centraldogma-sub008/modules/plumbing"
)

// AccessRule allows or denies remote URIs matching a glob pattern. When
// several rules match one URI, the lowest order wins.
type AccessRule struct {
	ID      string `json:"id" toml:"id"`
	Pattern string `json:"pattern" toml:"pattern"`
	Allow   bool   `json:"allow" toml:"allow"`
	Order   int    `json:"order" toml:"order"`
}

func (r *AccessRule) Validate() error {
	if len(r.Pattern) == 0 {
		return plumbing.NewErrBadRequest("access rule %s: pattern is required", r.ID)
	}
	if !doublestar.ValidatePattern(r.Pattern) {
		return plumbing.NewErrBadRequest("access rule %s: invalid pattern %q", r.ID, r.Pattern)
	}
	return nil
}

// AccessController decides which remotes tasks may talk to. An empty
// controller allows everything.
type AccessController struct {
	rules        []AccessRule
	defaultAllow bool
}

func NewAccessController(rules []AccessRule, defaultAllow bool) (*AccessController, error) {
	sorted := make([]AccessRule, len(rules))
	copy(sorted, rules)
	for i := range sorted {
		if err := sorted[i].Validate(); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	return &AccessController{rules: sorted, defaultAllow: defaultAllow}, nil
}

// Allowed reports whether remoteURI may be mirrored.
func (ac *AccessController) Allowed(remoteURI string) bool {
	if ac == nil || len(ac.rules) == 0 {
		return true
	}
	for i := range ac.rules {
		if doublestar.MatchUnvalidated(ac.rules[i].Pattern, remoteURI) {
			return ac.rules[i].Allow
		}
	}
	return ac.defaultAllow
}
