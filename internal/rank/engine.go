// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package rank

import (
	"fmt"
	"sort"

	"github.com/pdiddy/iwantit/pkg/types"
)

// DefaultMediaType names the rule set used when a media type has none.
const DefaultMediaType = "default"

// Engine holds one compiled rule set per media type.
type Engine struct {
	sets  map[string]*Ruleset
	empty *Ruleset
}

// NewEngine compiles every rule set in rules. It fails on the first invalid
// rule so bad configuration is caught at load time.
func NewEngine(rules map[string]types.RuleConfig) (*Engine, error) {
	e := &Engine{sets: make(map[string]*Ruleset, len(rules))}

	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rs, err := Compile(rules[name])
		if err != nil {
			return nil, fmt.Errorf("quality_rules.%s: %w", name, err)
		}
		e.sets[name] = rs
	}

	empty, err := Compile(types.RuleConfig{})
	if err != nil {
		return nil, err
	}
	e.empty = empty
	return e, nil
}

// For returns the rule set for mediaType, falling back to the default set
// and then to an empty rule set that scores everything zero.
func (e *Engine) For(mediaType string) *Ruleset {
	if rs, ok := e.sets[mediaType]; ok {
		return rs
	}
	if rs, ok := e.sets[DefaultMediaType]; ok {
		return rs
	}
	return e.empty
}
