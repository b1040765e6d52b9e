// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"github.com/ohler55/ojg/jp"

	"github.com/line/centraldogma-sub008/modules/cjson"
	"github.com/line/centraldogma-sub008/modules/plumbing"
)

// Query materializes the entry addressed by q at rev and applies its
// projection.
func (r *Repository) Query(rev plumbing.Revision, q *Query) (*Entry, plumbing.Revision, error) {
	canonical, err := q.normalize()
	if err != nil {
		return nil, 0, err
	}
	entry, abs, err := r.Get(rev, canonical)
	if err != nil {
		return nil, 0, err
	}
	projected, err := project(entry, q)
	if err != nil {
		return nil, 0, err
	}
	return projected, abs, nil
}

func project(entry *Entry, q *Query) (*Entry, error) {
	switch q.Type {
	case Identity:
		return entry, nil
	case IdentityText:
		if entry.Type == plumbing.DIRECTORY {
			return nil, plumbing.NewErrQueryExecution("cannot project a directory: %s", entry.Path)
		}
		return &Entry{Path: entry.Path, Type: plumbing.TEXT, Content: entry.Content}, nil
	case IdentityJSON:
		canonical, err := cjson.Canonicalize(entry.Content)
		if err != nil {
			return nil, plumbing.NewErrQueryExecution("entry %s is not JSON: %v", entry.Path, err)
		}
		return &Entry{Path: entry.Path, Type: plumbing.JSON, Content: canonical}, nil
	case JSONPath:
		if entry.Type != plumbing.JSON {
			return nil, plumbing.NewErrQueryExecution("JSON_PATH query on non-JSON entry: %s", entry.Path)
		}
		content, err := evalJSONPath(entry.Path, entry.Content, q.Expressions)
		if err != nil {
			return nil, err
		}
		return &Entry{Path: entry.Path, Type: plumbing.JSON, Content: content}, nil
	}
	return nil, plumbing.NewErrQueryExecution("unknown query type: %q", q.Type)
}

// evalJSONPath applies the expressions in order; each one filters the
// document produced by the previous one. An expression with no match fails
// the whole query.
func evalJSONPath(path string, content []byte, expressions []string) ([]byte, error) {
	doc, err := cjson.Decode(content)
	if err != nil {
		return nil, plumbing.NewErrQueryExecution("entry %s is not JSON: %v", path, err)
	}
	for _, expr := range expressions {
		x, err := jp.ParseString(expr)
		if err != nil {
			return nil, plumbing.NewErrQueryExecution("invalid JSON path %q: %v", expr, err)
		}
		results := x.Get(doc)
		switch len(results) {
		case 0:
			return nil, plumbing.NewErrQueryExecution("JSON path %q matched nothing in %s", expr, path)
		case 1:
			doc = results[0]
		default:
			doc = results
		}
	}
	return cjson.Marshal(doc)
}

// Merge fetches each JSON source at rev (skipping optional missing ones)
// and right-folds them: scalars in the right side replace the left, objects
// merge key-wise, arrays are replaced wholesale, and a null on the right
// removes the key. A type mismatch at any merged sub-path fails the query.
func (r *Repository) Merge(rev plumbing.Revision, q *MergeQuery) (*MergedEntry, error) {
	if len(q.Sources) == 0 {
		return nil, plumbing.NewErrQueryExecution("merge query requires at least one source")
	}
	root, abs, err := r.rootAt(rev)
	if err != nil {
		return nil, err
	}
	var merged any
	var found []string
	for _, src := range q.Sources {
		canonical, _, _, err := plumbing.SplitPath(src.Path)
		if err != nil {
			return nil, err
		}
		entry, err := r.entryAt(root, canonical, false)
		if err != nil {
			if plumbing.IsErrEntryNotFound(err) && src.Optional {
				continue
			}
			return nil, err
		}
		if entry.Type != plumbing.JSON {
			return nil, plumbing.NewErrQueryExecution("merge source %s is not JSON", canonical)
		}
		doc, err := cjson.Decode(entry.Content)
		if err != nil {
			return nil, plumbing.NewErrQueryExecution("merge source %s is not JSON: %v", canonical, err)
		}
		if len(found) == 0 {
			merged = doc
		} else {
			if merged, err = deepMerge(merged, doc, canonical); err != nil {
				return nil, err
			}
		}
		found = append(found, canonical)
	}
	if len(found) == 0 {
		return nil, plumbing.NewErrEntryNotFound("none of the merge sources exists")
	}
	content, err := cjson.Marshal(merged)
	if err != nil {
		return nil, err
	}
	if len(q.Expressions) != 0 {
		if content, err = evalJSONPath(found[len(found)-1], content, q.Expressions); err != nil {
			return nil, err
		}
	}
	return &MergedEntry{Revision: abs, Paths: found, Content: content}, nil
}

func jsonCategory(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return "scalar"
	}
}

func deepMerge(lhs, rhs any, at string) (any, error) {
	lc, rc := jsonCategory(lhs), jsonCategory(rhs)
	if rhs == nil {
		return nil, nil
	}
	if lhs == nil {
		return rhs, nil
	}
	if lc != rc {
		return nil, plumbing.NewErrQueryExecution("merge type mismatch at %s: %s vs %s", at, lc, rc)
	}
	switch rc {
	case "object":
		lm := lhs.(map[string]any)
		rm := rhs.(map[string]any)
		out := make(map[string]any, len(lm)+len(rm))
		for k, v := range lm {
			out[k] = v
		}
		for k, rv := range rm {
			if rv == nil {
				delete(out, k)
				continue
			}
			lv, ok := out[k]
			if !ok {
				out[k] = rv
				continue
			}
			mv, err := deepMerge(lv, rv, at+"/"+k)
			if err != nil {
				return nil, err
			}
			out[k] = mv
		}
		return out, nil
	case "array":
		return rhs, nil
	default:
		return rhs, nil
	}
}
