// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package plumbing

import "strings"

// EntryType classifies a stored entry.
type EntryType string

const (
	JSON      EntryType = "JSON"
	TEXT      EntryType = "TEXT"
	DIRECTORY EntryType = "DIRECTORY"
)

// EntryTypeOf guesses the type for a path being upserted as structured or
// plain content. Files named *.json are structured.
func EntryTypeOf(path string) EntryType {
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		return JSON
	}
	return TEXT
}

// Markup declares how a commit message body is rendered.
type Markup string

const (
	PLAIN    Markup = "PLAIN"
	MARKDOWN Markup = "MARKDOWN"
)
