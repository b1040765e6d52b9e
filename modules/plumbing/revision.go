// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package plumbing

import (
	"strconv"
	"strings"
)

// Revision identifies a commit within a repository. Absolute revisions are
// >= 1; relative revisions are <= -1 and count backwards from the head
// (-1 is the head itself, -2 the commit before it). Revision 0 is reserved
// and never identifies a commit.
type Revision int64

const (
	// HEAD is the relative revision of the most recent commit.
	HEAD Revision = -1
	// INIT is the first commit of every repository.
	INIT Revision = 1
)

func (r Revision) IsRelative() bool {
	return r < 0
}

// Valid reports whether r could ever resolve to a commit.
func (r Revision) Valid() bool {
	return r != 0
}

func (r Revision) Int64() int64 {
	return int64(r)
}

func (r Revision) String() string {
	return strconv.FormatInt(int64(r), 10)
}

// Resolve maps r onto an absolute revision given the current head.
// Relative revisions beyond the first commit and absolute revisions past
// the head resolve to errors.
func (r Revision) Resolve(head Revision) (Revision, error) {
	if r == 0 {
		return 0, NewErrRevisionNotFound("revision 0 is reserved")
	}
	if r > 0 {
		if r > head {
			return 0, NewErrRevisionNotFound("revision %d does not exist (head: %d)", r, head)
		}
		return r, nil
	}
	resolved := head + r + 1
	if resolved < INIT {
		return 0, NewErrRevisionNotFound("revision %d does not exist (head: %d)", r, head)
	}
	return resolved, nil
}

// ParseRevision parses a decimal revision; "head" (any case) is accepted as
// an alias of -1.
func ParseRevision(s string) (Revision, error) {
	if strings.EqualFold(s, "head") {
		return HEAD, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return 0, NewErrRevisionNotFound("invalid revision: %q", s)
	}
	return Revision(n), nil
}
