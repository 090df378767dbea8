//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Cache groups step cache maintenance targets.
type Cache mg.Namespace

// Prune deletes expired cache entries.
func (Cache) Prune() error {
	mg.Deps(Build)
	return sh.RunV(binPath(), "cache", "prune")
}

// Clear deletes every cache entry.
func (Cache) Clear() error {
	mg.Deps(Build)
	return sh.RunV(binPath(), "cache", "clear")
}
