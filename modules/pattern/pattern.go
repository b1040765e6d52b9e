// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package pattern implements the path-pattern grammar used by find, history
// and watch: "/**" matches recursively, "*" matches a single segment, ","
// separates alternatives, a leading "/" anchors at the root and anything
// else is anchored under "/**/".
package pattern

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/line/centraldogma-sub008/modules/plumbing"
)

// All matches every entry of a repository.
const All = "/**"

type Pattern struct {
	raw  string
	pats []string
}

// Compile parses a pattern expression. An empty expression matches
// everything.
func Compile(expr string) (*Pattern, error) {
	expr = strings.TrimSpace(expr)
	if len(expr) == 0 {
		expr = All
	}
	p := &Pattern{raw: expr}
	for _, alt := range strings.Split(expr, ",") {
		alt = strings.TrimSpace(alt)
		if len(alt) == 0 {
			continue
		}
		if !strings.HasPrefix(alt, "/") {
			alt = "/**/" + alt
		}
		if !doublestar.ValidatePattern(alt) {
			return nil, plumbing.NewErrBadRequest("invalid path pattern: %q", alt)
		}
		p.pats = append(p.pats, alt)
	}
	if len(p.pats) == 0 {
		return nil, plumbing.NewErrBadRequest("invalid path pattern: %q", expr)
	}
	return p, nil
}

// MustCompile is Compile for patterns known valid at build time.
func MustCompile(expr string) *Pattern {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) String() string {
	return p.raw
}

// Match reports whether the canonical absolute path matches any
// alternative.
func (p *Pattern) Match(path string) bool {
	for _, alt := range p.pats {
		if doublestar.MatchUnvalidated(alt, path) {
			return true
		}
	}
	return false
}

// MatchAny reports whether any of paths matches.
func (p *Pattern) MatchAny(paths []string) bool {
	for _, path := range paths {
		if p.Match(path) {
			return true
		}
	}
	return false
}

// Literal returns the single literal path this pattern names, if it has no
// meta characters and a single alternative.
func (p *Pattern) Literal() (string, bool) {
	if len(p.pats) != 1 {
		return "", false
	}
	alt := p.pats[0]
	if strings.ContainsAny(alt, "*?[{") || !strings.HasPrefix(p.raw, "/") {
		return "", false
	}
	return alt, true
}
