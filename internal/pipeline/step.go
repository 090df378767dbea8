// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline builds and runs the ordered step sequence. Steps are
// resolved from configuration once, at build time, into one of two
// variants: a builtin compiled into the binary or an external subprocess.
// The executor runs them strictly in order, each on its own snapshot of the
// document, under a per-step retry, timeout, and cache policy.
package pipeline

import (
	"context"

	"github.com/pdiddy/iwantit/pkg/types"
)

// Kind distinguishes the two step variants.
type Kind string

const (
	KindBuiltin  Kind = "builtin"
	KindExternal Kind = "external"
)

// Step transforms a document. A nil error means ok; failures are
// classified with package steperr. Execute receives a snapshot it owns and
// must honor ctx cancellation for all I/O.
type Step interface {
	Execute(ctx context.Context, doc *types.Document) (*types.Document, error)
}

// StepFunc adapts a function to Step.
type StepFunc func(ctx context.Context, doc *types.Document) (*types.Document, error)

// Execute implements Step.
func (f StepFunc) Execute(ctx context.Context, doc *types.Document) (*types.Document, error) {
	return f(ctx, doc)
}

// Builtin describes a step compiled into the binary.
type Builtin struct {
	Description string

	// Emits lists the document paths the step may write.
	Emits []string

	// SideEffect marks dispatch-class builtins regardless of configuration.
	SideEffect bool

	// Cacheable permits result caching when configuration enables it.
	Cacheable bool

	// KeyFields are the default cache key paths.
	KeyFields []string

	// New constructs the step for a configured name.
	New func(name string, cfg types.StepConfig) (Step, error)
}

// Catalog maps builtin names to their descriptions. It is consulted only
// while building a plan.
type Catalog map[string]Builtin

// Bound is a resolved step ready to run.
type Bound struct {
	Name        string
	Kind        Kind
	Builtin     string
	Command     []string
	Description string
	Step        Step

	// Emits is nil for external steps without a declaration, which are
	// trusted by convention.
	Emits []string

	SideEffect bool
	Policy     Policy
	Cache      *CachePolicy
}

// CachePolicy describes how a step's results are cached.
type CachePolicy struct {
	Namespace  string
	TTLSeconds int64
	KeyFields  []string

	// Settings digests the step's builtin, command, env and options.
	Settings string
}
