// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package docpath reads and writes dotted paths ("work.candidates") in the
// generic JSON form of a document.
package docpath

import (
	"fmt"
	"strings"
)

// Get returns the value at path and whether it exists.
func Get(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes v at path, creating intermediate objects. It fails when an
// intermediate value exists and is not an object.
func Set(m map[string]any, path string, v any) error {
	parts := strings.Split(path, ".")
	cur := m
	for i, part := range parts[:len(parts)-1] {
		next, ok := cur[part]
		if !ok || next == nil {
			child := make(map[string]any)
			cur[part] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("path %s: %s is not an object", path, strings.Join(parts[:i+1], "."))
		}
		cur = child
	}
	cur[parts[len(parts)-1]] = v
	return nil
}

// Delete removes the value at path if present.
func Delete(m map[string]any, path string) {
	parts := strings.Split(path, ".")
	cur := m
	for _, part := range parts[:len(parts)-1] {
		child, ok := cur[part].(map[string]any)
		if !ok {
			return
		}
		cur = child
	}
	delete(cur, parts[len(parts)-1])
}

// Covers reports whether a write to path is permitted by a declared output
// namespace: the path equals the namespace, lies below it, or is an
// ancestor the namespace lives in.
func Covers(namespace, path string) bool {
	return namespace == path ||
		strings.HasPrefix(path, namespace+".") ||
		strings.HasPrefix(namespace, path+".")
}

// Flatten lists the paths of m down to depth levels, mapping each to its
// value. Objects at the depth limit are returned whole.
func Flatten(m map[string]any, depth int) map[string]any {
	out := make(map[string]any)
	flatten(out, "", m, depth)
	return out
}

func flatten(out map[string]any, prefix string, m map[string]any, depth int) {
	for k, v := range m {
		p := k
		if prefix != "" {
			p = prefix + "." + k
		}
		child, ok := v.(map[string]any)
		if ok && depth > 1 && len(child) > 0 {
			flatten(out, p, child, depth-1)
			continue
		}
		out[p] = v
	}
}
