// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/pdiddy/iwantit/internal/cache"
	"github.com/pdiddy/iwantit/internal/external"
	"github.com/pdiddy/iwantit/pkg/types"
)

// Workflow is a named step sequence selected by media type.
type Workflow struct {
	Name       string
	MediaTypes []string
	Steps      []*Bound
}

// Plan is the resolved pipeline: every step bound, every workflow checked.
type Plan struct {
	PreSteps  []*Bound
	Workflows []*Workflow
	Default   string

	steps map[string]*Bound
}

// Build resolves cfg against catalog. Every configured step is bound,
// referenced or not, so configuration errors surface before any run. All
// problems found are returned together.
func Build(cfg *types.Config, catalog Catalog, configPath string) (*Plan, error) {
	p := &Plan{Default: cfg.DefaultWorkflow, steps: make(map[string]*Bound)}
	var errs []error

	bind := func(name string) *Bound {
		if b, ok := p.steps[name]; ok {
			return b
		}
		b, err := bindStep(cfg, catalog, configPath, name)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		p.steps[name] = b
		return b
	}

	names := make([]string, 0, len(cfg.Steps))
	for name := range cfg.Steps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		bind(name)
	}

	for _, name := range cfg.PreSteps {
		if b := bind(name); b != nil {
			p.PreSteps = append(p.PreSteps, b)
		}
	}

	seen := make(map[string]bool)
	for _, wc := range cfg.Workflows {
		if wc.Name == "" {
			errs = append(errs, errors.New("workflow without a name"))
			continue
		}
		if seen[wc.Name] {
			errs = append(errs, fmt.Errorf("workflow %q defined twice", wc.Name))
			continue
		}
		seen[wc.Name] = true
		wf := &Workflow{Name: wc.Name, MediaTypes: wc.Match.MediaType}
		for _, name := range wc.Steps {
			if b := bind(name); b != nil {
				wf.Steps = append(wf.Steps, b)
			}
		}
		p.Workflows = append(p.Workflows, wf)
	}

	if p.Default != "" && !seen[p.Default] {
		errs = append(errs, fmt.Errorf("default workflow %q is not defined", p.Default))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return p, nil
}

func bindStep(cfg *types.Config, catalog Catalog, configPath, name string) (*Bound, error) {
	sc, defined := cfg.Steps[name]
	if !defined {
		if _, ok := catalog[name]; !ok {
			return nil, fmt.Errorf("step %q is not defined", name)
		}
		sc = types.StepConfig{Builtin: name}
	}

	b := &Bound{
		Name:        name,
		Description: sc.Description,
		SideEffect:  sc.SideEffect,
		Policy:      PolicyFor(cfg.Retries, sc),
	}

	var bi Builtin
	switch {
	case sc.Builtin != "" && len(sc.Command) > 0:
		return nil, fmt.Errorf("step %q: set either builtin or command, not both", name)
	case sc.Builtin != "":
		var ok bool
		bi, ok = catalog[sc.Builtin]
		if !ok {
			return nil, fmt.Errorf("step %q: unknown builtin %q", name, sc.Builtin)
		}
		step, err := bi.New(name, sc)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", name, err)
		}
		b.Kind = KindBuiltin
		b.Builtin = sc.Builtin
		b.Step = step
		b.Emits = bi.Emits
		b.SideEffect = b.SideEffect || bi.SideEffect
		if b.Description == "" {
			b.Description = bi.Description
		}
	case len(sc.Command) > 0:
		step, err := external.New(name, sc.Command, sc.Env, configPath)
		if err != nil {
			return nil, err
		}
		b.Kind = KindExternal
		b.Command = step.Argv()
		b.Step = step
		b.Emits = sc.Emits
	default:
		return nil, fmt.Errorf("step %q: neither builtin nor command is set", name)
	}

	if sc.Cache.Enabled {
		cp, err := cachePolicy(cfg, sc, bi, b)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", name, err)
		}
		b.Cache = cp
	}
	return b, nil
}

func cachePolicy(cfg *types.Config, sc types.StepConfig, bi Builtin, b *Bound) (*CachePolicy, error) {
	if b.SideEffect {
		return nil, errors.New("side-effecting steps cannot be cached")
	}
	if b.Kind == KindBuiltin && !bi.Cacheable {
		return nil, fmt.Errorf("builtin %q is not cacheable", b.Builtin)
	}
	if b.Emits == nil {
		return nil, errors.New("cached external steps must declare emits")
	}
	ttl := sc.Cache.TTL
	if ttl <= 0 {
		ttl = cfg.Cache.DefaultTTL
	}
	if ttl <= 0 {
		return nil, errors.New("cache ttl must be positive")
	}
	keys := sc.Cache.KeyFields
	if len(keys) == 0 {
		keys = bi.KeyFields
	}
	if len(keys) == 0 {
		return nil, errors.New("cache key_fields are required")
	}
	ns := sc.Cache.Namespace
	if ns == "" {
		ns = b.Name
	}
	// Step settings shape the output, so entries written under other
	// settings must not be served.
	settings, err := cache.Key(map[string]any{
		"builtin": sc.Builtin,
		"command": sc.Command,
		"env":     sc.Env,
		"options": sc.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("cache settings digest: %w", err)
	}
	// Entries store whole seconds; round up so a sub-second ttl still hits.
	return &CachePolicy{
		Namespace:  ns,
		TTLSeconds: int64(math.Ceil(ttl.Seconds())),
		KeyFields:  keys,
		Settings:   settings,
	}, nil
}

// Select returns the workflow named name, or the first whose media types
// include mediaType, or the default workflow.
func (p *Plan) Select(name, mediaType string) (*Workflow, error) {
	if name != "" {
		for _, wf := range p.Workflows {
			if wf.Name == name {
				return wf, nil
			}
		}
		return nil, fmt.Errorf("workflow %q is not defined", name)
	}
	for _, wf := range p.Workflows {
		for _, mt := range wf.MediaTypes {
			if mt == mediaType {
				return wf, nil
			}
		}
	}
	if p.Default != "" {
		return p.Select(p.Default, "")
	}
	return nil, fmt.Errorf("no workflow matches media type %q", mediaType)
}

// Step returns the bound step named name.
func (p *Plan) Step(name string) (*Bound, bool) {
	b, ok := p.steps[name]
	return b, ok
}

// Steps returns every bound step sorted by name.
func (p *Plan) Steps() []*Bound {
	out := make([]*Bound, 0, len(p.steps))
	for _, b := range p.steps {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
