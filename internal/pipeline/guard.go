// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/pdiddy/iwantit/internal/docpath"
	"github.com/pdiddy/iwantit/internal/steperr"
	"github.com/pdiddy/iwantit/pkg/types"
)

// guardDepth is how deep documents are compared: section.key.
const guardDepth = 2

// alwaysWritable lists paths any step may change.
var alwaysWritable = []string{"warnings", "_meta"}

// additiveSections may gain keys but never lose or rewrite one.
var additiveSections = []string{"search", "dispatch"}

// checkWrites compares the snapshot a step received with the one it
// returned. Keys under search and dispatch may only be added. When the step
// declares its output namespaces, every other change is rejected.
func checkWrites(b *Bound, before, after *types.Document) error {
	bm, err := before.ToMap()
	if err != nil {
		return steperr.Fatal(steperr.ReasonInput, err)
	}
	am, err := after.ToMap()
	if err != nil {
		return steperr.Fatal(steperr.ReasonInvalidOutput, err)
	}
	bf := docpath.Flatten(bm, guardDepth)
	af := docpath.Flatten(am, guardDepth)

	var violations []string
	for path, old := range bf {
		section := strings.SplitN(path, ".", 2)[0]
		if !contains(additiveSections, section) || path == section {
			continue
		}
		if nv, ok := af[path]; !ok {
			violations = append(violations, "removed "+path)
		} else if !reflect.DeepEqual(old, nv) {
			violations = append(violations, "rewrote "+path)
		}
	}

	if b.Emits != nil {
		for _, path := range changedPaths(bf, af) {
			if writable(b.Emits, path) {
				continue
			}
			violations = append(violations, "undeclared "+path)
		}
	}

	if len(violations) == 0 {
		return nil
	}
	sort.Strings(violations)
	return steperr.Fatal(steperr.ReasonUndeclaredWrite,
		fmt.Errorf("step wrote outside its namespace: %s", strings.Join(violations, ", ")))
}

func changedPaths(before, after map[string]any) []string {
	var out []string
	for p, v := range after {
		if old, ok := before[p]; !ok || !reflect.DeepEqual(old, v) {
			out = append(out, p)
		}
	}
	for p := range before {
		if _, ok := after[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

func writable(emits []string, path string) bool {
	for _, ns := range alwaysWritable {
		if docpath.Covers(ns, path) {
			return true
		}
	}
	for _, ns := range emits {
		if docpath.Covers(ns, path) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
