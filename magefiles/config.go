//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Config groups targets that act on the user configuration.
type Config mg.Namespace

// Init writes the default configuration and a secrets template.
func (Config) Init() error {
	mg.Deps(Build)
	return sh.RunV(binPath(), "init")
}

// Validate checks the active configuration.
func (Config) Validate() error {
	mg.Deps(Build)
	return sh.RunV(binPath(), "validate")
}

// Workflows lists the configured workflows.
func (Config) Workflows() error {
	mg.Deps(Build)
	return sh.RunV(binPath(), "list", "workflows")
}
