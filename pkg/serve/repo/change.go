// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"encoding/json"

	"github.com/line/centraldogma-sub008/modules/cjson"
	"github.com/line/centraldogma-sub008/modules/plumbing"
)

// ChangeType tags the Change variant.
type ChangeType string

const (
	UpsertJSON     ChangeType = "UPSERT_JSON"
	UpsertText     ChangeType = "UPSERT_TEXT"
	Remove         ChangeType = "REMOVE"
	Rename         ChangeType = "RENAME"
	ApplyJSONPatch ChangeType = "APPLY_JSON_PATCH"
	ApplyTextPatch ChangeType = "APPLY_TEXT_PATCH"
)

// Change is one declarative edit of a push. Content is interpreted by Type:
// a JSON document for UPSERT_JSON, a string for UPSERT_TEXT and
// APPLY_TEXT_PATCH, the new path string for RENAME, an RFC-6902 operation
// array (plus the safeReplace extension) for APPLY_JSON_PATCH, and absent
// for REMOVE.
type Change struct {
	Type    ChangeType      `json:"type"`
	Path    string          `json:"path"`
	Content json.RawMessage `json:"content,omitempty"`
}

func NewUpsertJSON(path string, content []byte) Change {
	return Change{Type: UpsertJSON, Path: path, Content: json.RawMessage(content)}
}

func NewUpsertText(path, text string) Change {
	raw, _ := json.Marshal(text)
	return Change{Type: UpsertText, Path: path, Content: raw}
}

func NewRemove(path string) Change {
	return Change{Type: Remove, Path: path}
}

func NewRename(path, newPath string) Change {
	raw, _ := json.Marshal(newPath)
	return Change{Type: Rename, Path: path, Content: raw}
}

func NewApplyJSONPatch(path string, ops []byte) Change {
	return Change{Type: ApplyJSONPatch, Path: path, Content: json.RawMessage(ops)}
}

func NewApplyTextPatch(path, patch string) Change {
	raw, _ := json.Marshal(patch)
	return Change{Type: ApplyTextPatch, Path: path, Content: raw}
}

// Text decodes the string payload of UPSERT_TEXT, RENAME and
// APPLY_TEXT_PATCH changes.
func (c *Change) Text() (string, error) {
	var s string
	if err := json.Unmarshal(c.Content, &s); err != nil {
		return "", plumbing.NewErrChangeFormat("change %s at %s: content is not a string", c.Type, c.Path)
	}
	return s, nil
}

// validate checks the parts of a change that need no repository state.
// It returns the canonical target path.
func (c *Change) validate() (string, error) {
	canonical, _, isDir, err := plumbing.SplitPath(c.Path)
	if err != nil {
		return "", plumbing.NewErrInvalidPush("%s", err)
	}
	if isDir && canonical != "/" {
		return "", plumbing.NewErrInvalidPush("change %s may not target a directory: %q", c.Type, c.Path)
	}
	if canonical == "/" {
		return "", plumbing.NewErrInvalidPush("change %s may not target the root", c.Type)
	}
	switch c.Type {
	case UpsertJSON:
		if _, err := cjson.Canonicalize(c.Content); err != nil {
			return "", plumbing.NewErrChangeFormat("change UPSERT_JSON at %s: malformed JSON: %v", canonical, err)
		}
	case UpsertText, ApplyTextPatch:
		if _, err := c.Text(); err != nil {
			return "", err
		}
	case Rename:
		newPath, err := c.Text()
		if err != nil {
			return "", err
		}
		if _, _, _, err := plumbing.SplitPath(newPath); err != nil {
			return "", plumbing.NewErrInvalidPush("%s", err)
		}
	case ApplyJSONPatch:
		if _, err := decodePatchOps(c.Content); err != nil {
			return "", err
		}
	case Remove:
	default:
		return "", plumbing.NewErrInvalidPush("unknown change type: %q", c.Type)
	}
	return canonical, nil
}

// TargetPaths lists the paths a change touches; a RENAME touches both ends.
func (c *Change) TargetPaths() []string {
	if c.Type == Rename {
		if newPath, err := c.Text(); err == nil {
			canonical, _, _, perr := plumbing.SplitPath(newPath)
			if perr == nil {
				return []string{c.Path, canonical}
			}
		}
	}
	return []string{c.Path}
}

// CommitMessage is the author-facing description of a push.
type CommitMessage struct {
	Summary string          `json:"summary"`
	Detail  string          `json:"detail,omitempty"`
	Markup  plumbing.Markup `json:"markup,omitempty"`
}

func (m *CommitMessage) normalize() error {
	if len(m.Summary) == 0 {
		return plumbing.NewErrInvalidPush("commit summary must not be empty")
	}
	switch m.Markup {
	case "":
		m.Markup = plumbing.PLAIN
	case plumbing.PLAIN, plumbing.MARKDOWN:
	default:
		return plumbing.NewErrInvalidPush("unknown markup: %q", m.Markup)
	}
	return nil
}

// Commit is a revision with its metadata and normalized changes.
type Commit struct {
	Revision        plumbing.Revision `json:"revision"`
	Author          string            `json:"author"`
	TimestampMillis int64             `json:"timestampMillis"`
	Summary         string            `json:"summary"`
	Detail          string            `json:"detail,omitempty"`
	Markup          plumbing.Markup   `json:"markup"`
	Changes         []Change          `json:"changes,omitempty"`
}

// CommitResult reports the outcome of a push: the produced revision and the
// change list after normalization (JSON patches instead of upserts where the
// target already existed).
type CommitResult struct {
	Revision        plumbing.Revision `json:"revision"`
	TimestampMillis int64             `json:"timestampMillis"`
	Changes         []Change          `json:"changes,omitempty"`
}
