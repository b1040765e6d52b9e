// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/line/centraldogma-sub008/modules/plumbing"
)

var dmp = diffmatchpatch.New()

// makeTextPatch renders the patch that transforms old into new.
func makeTextPatch(old, new string) string {
	return dmp.PatchToText(dmp.PatchMake(old, new))
}

// applyTextPatch applies a patch produced by makeTextPatch. A patch that
// does not parse is a format error; one that does not apply cleanly against
// the current text is a conflict.
func applyTextPatch(path, current, patchText string) (string, error) {
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		return "", plumbing.NewErrChangeFormat("text patch at %s: %v", path, err)
	}
	if len(patches) == 0 {
		return "", plumbing.NewErrChangeFormat("text patch at %s: empty patch", path)
	}
	applied, results := dmp.PatchApply(patches, current)
	for _, ok := range results {
		if !ok {
			return "", plumbing.NewErrChangeConflict("text patch at %s does not apply", path)
		}
	}
	return applied, nil
}
