package dialogue

import (
	"fmt"
	"strings"
)

// Completion policy modes.
const (
	PolicyCore = "core"
	PolicyAll  = "all"
	PolicyList = "list"
)

// CompletionPolicy decides which slots must be filled before the call ends.
type CompletionPolicy struct {
	Mode string
	// Fields names the slots for PolicyList.
	Fields []string
}

// ParseCompletionPolicy accepts "core", "all", or a comma-separated list
// of slot names.
func ParseCompletionPolicy(s string) (CompletionPolicy, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", PolicyCore:
		return CompletionPolicy{Mode: PolicyCore}, nil
	case PolicyAll:
		return CompletionPolicy{Mode: PolicyAll}, nil
	}
	var fields []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return CompletionPolicy{}, fmt.Errorf("invalid completion policy %q", s)
	}
	return CompletionPolicy{Mode: PolicyList, Fields: fields}, nil
}

func (p CompletionPolicy) String() string {
	if p.Mode == PolicyList {
		return strings.Join(p.Fields, ",")
	}
	if p.Mode == "" {
		return PolicyCore
	}
	return p.Mode
}

// Validate checks that listed slots exist in the catalogue.
func (p CompletionPolicy) Validate(c Catalogue) error {
	if p.Mode != PolicyList {
		return nil
	}
	for _, name := range p.Fields {
		if _, ok := c.Slot(name); !ok {
			return fmt.Errorf("completion policy names unknown field %q", name)
		}
	}
	return nil
}

// Targets returns the slot names that must be filled. Under the core policy
// a catalogue without core slots falls back to its required slots.
func (p CompletionPolicy) Targets(c Catalogue) []string {
	var out []string
	switch p.Mode {
	case PolicyList:
		return p.Fields
	case PolicyAll:
		for _, s := range c.Slots {
			if s.Required {
				out = append(out, s.Name)
			}
		}
	default:
		for _, s := range c.Slots {
			if s.Core {
				out = append(out, s.Name)
			}
		}
		if len(out) == 0 {
			return PolicyAllOf().Targets(c)
		}
	}
	return out
}

// PolicyAllOf is the "all required slots" policy.
func PolicyAllOf() CompletionPolicy {
	return CompletionPolicy{Mode: PolicyAll}
}

// Complete reports whether every target slot has a value.
func (p CompletionPolicy) Complete(c Catalogue, collected map[string]CollectedField) bool {
	for _, name := range p.Targets(c) {
		f, ok := collected[name]
		if !ok || strings.TrimSpace(f.Display()) == "" {
			return false
		}
	}
	return true
}
