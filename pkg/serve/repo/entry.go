// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"encoding/json"

	"github.com/line/centraldogma-sub008/modules/plumbing"
)

// Entry is a file materialized at a revision. Content holds canonical JSON
// for JSON entries, raw text for TEXT entries and nothing for directories.
type Entry struct {
	Path    string             `json:"path"`
	Type    plumbing.EntryType `json:"type"`
	Content []byte             `json:"-"`
}

// MarshalJSON renders the content field by type: JSON entries embed the
// document, TEXT entries a string. Directories and entries whose content
// was stripped (listings) omit the key entirely.
func (e *Entry) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"path": e.Path,
		"type": string(e.Type),
	}
	if len(e.Content) != 0 {
		switch e.Type {
		case plumbing.JSON:
			out["content"] = json.RawMessage(e.Content)
		case plumbing.TEXT:
			out["content"] = string(e.Content)
		}
	}
	return json.Marshal(out)
}

// QueryType selects how an entry is projected by a query.
type QueryType string

const (
	Identity     QueryType = "IDENTITY"
	IdentityJSON QueryType = "IDENTITY_JSON"
	IdentityText QueryType = "IDENTITY_TEXT"
	JSONPath     QueryType = "JSON_PATH"
)

// Query addresses an entry plus an optional projection. JSON_PATH applies
// the expressions in order; each expression filters the document produced
// by the previous one.
type Query struct {
	Path        string    `json:"path"`
	Type        QueryType `json:"type"`
	Expressions []string  `json:"expressions,omitempty"`
}

// IdentityQuery addresses an entry verbatim.
func IdentityQuery(path string) *Query {
	return &Query{Path: path, Type: Identity}
}

func (q *Query) normalize() (string, error) {
	if q.Type == "" {
		q.Type = Identity
	}
	switch q.Type {
	case Identity, IdentityJSON, IdentityText:
	case JSONPath:
		if len(q.Expressions) == 0 {
			return "", plumbing.NewErrQueryExecution("JSON_PATH query requires at least one expression")
		}
	default:
		return "", plumbing.NewErrQueryExecution("unknown query type: %q", q.Type)
	}
	canonical, _, _, err := plumbing.SplitPath(q.Path)
	if err != nil {
		return "", err
	}
	return canonical, nil
}

// MergeSource is one input of a merge query, in order of application.
type MergeSource struct {
	Path     string `json:"path"`
	Optional bool   `json:"optional,omitempty"`
}

// MergeQuery right-folds JSON sources into a single document, optionally
// projected through JSON-path expressions.
type MergeQuery struct {
	Sources     []MergeSource `json:"sources"`
	Expressions []string      `json:"expressions,omitempty"`
}

// MergedEntry is the result of a merge query. Paths lists the sources that
// actually contributed.
type MergedEntry struct {
	Revision plumbing.Revision `json:"revision"`
	Paths    []string          `json:"paths"`
	Content  json.RawMessage   `json:"content"`
}
