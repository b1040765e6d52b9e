// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/wI2L/jsondiff"

	"github.com/line/centraldogma-sub008/modules/cjson"
	"github.com/line/centraldogma-sub008/modules/plumbing"
)

// patchOp is a single RFC-6902 operation. The store extends the vocabulary
// with "safeReplace", which replaces the value at path only when the current
// value equals oldValue.
type patchOp struct {
	Op       string          `json:"op"`
	Path     string          `json:"path"`
	From     string          `json:"from,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	OldValue json.RawMessage `json:"oldValue,omitempty"`
}

func decodePatchOps(raw []byte) ([]patchOp, error) {
	var ops []patchOp
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, plumbing.NewErrChangeFormat("malformed JSON patch: %v", err)
	}
	if len(ops) == 0 {
		return nil, plumbing.NewErrChangeFormat("empty JSON patch")
	}
	for _, op := range ops {
		switch op.Op {
		case "add", "remove", "replace", "move", "copy", "test":
		case "safeReplace":
			if op.OldValue == nil {
				return nil, plumbing.NewErrChangeFormat("safeReplace requires oldValue")
			}
		default:
			return nil, plumbing.NewErrChangeFormat("unknown JSON patch op: %q", op.Op)
		}
	}
	return ops, nil
}

// applyJSONPatch runs ops against doc in order. Semantic failures (missing
// paths, test/safeReplace mismatches) are conflicts; structural ones were
// already rejected by decodePatchOps.
func applyJSONPatch(path string, doc []byte, ops []patchOp) ([]byte, error) {
	current := doc
	for _, op := range ops {
		if op.Op == "safeReplace" {
			test := []patchOp{{Op: "test", Path: op.Path, Value: op.OldValue}}
			if _, err := applyStandard(current, test); err != nil {
				return nil, plumbing.NewErrChangeConflict(
					"safeReplace at %s%s: current value differs from oldValue", path, op.Path)
			}
			replaced, err := applyStandard(current, []patchOp{{Op: "replace", Path: op.Path, Value: op.Value}})
			if err != nil {
				return nil, plumbing.NewErrChangeConflict("safeReplace at %s%s: %v", path, op.Path, err)
			}
			current = replaced
			continue
		}
		next, err := applyStandard(current, []patchOp{op})
		if err != nil {
			return nil, plumbing.NewErrChangeConflict("JSON patch %s at %s%s: %v", op.Op, path, op.Path, err)
		}
		current = next
	}
	return cjson.Canonicalize(current)
}

func applyStandard(doc []byte, ops []patchOp) ([]byte, error) {
	raw, err := json.Marshal(ops)
	if err != nil {
		return nil, err
	}
	p, err := jsonpatch.DecodePatch(raw)
	if err != nil {
		return nil, err
	}
	return p.Apply(doc)
}

// minimalJSONPatch computes the smallest RFC-6902 patch turning old into
// new. Replacements of scalar values are widened into safeReplace so that
// the patch re-applied elsewhere keeps its optimistic-lock semantics.
func minimalJSONPatch(old, new []byte) ([]byte, error) {
	patch, err := jsondiff.CompareJSON(old, new)
	if err != nil {
		return nil, plumbing.NewErrQueryExecution("diff: %v", err)
	}
	ops := make([]patchOp, 0, len(patch))
	for _, op := range patch {
		converted := patchOp{Op: op.Type, Path: op.Path}
		if op.Type == jsondiff.OperationMove || op.Type == jsondiff.OperationCopy {
			converted.From = op.From
		}
		if op.Value != nil || op.Type == jsondiff.OperationAdd || op.Type == jsondiff.OperationReplace {
			raw, err := cjson.Marshal(op.Value)
			if err != nil {
				return nil, err
			}
			converted.Value = raw
		}
		if op.Type == jsondiff.OperationReplace {
			converted.Op = "safeReplace"
			oldRaw, err := cjson.Marshal(op.OldValue)
			if err != nil {
				return nil, err
			}
			converted.OldValue = oldRaw
		}
		ops = append(ops, converted)
	}
	return json.Marshal(ops)
}
