package etl

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ── Resource Selection ─────────────────────────────────────
// A Selector names the resources a processor applies to.
//
//	resources:              # absent or null: every resource
//	resources: sales        # regex, full match against the resource name
//	resources: 2            # resource index
//	resources: [sales, 0]   # list of names and/or indexes

// Selector is the configured form of a resource selection.
// The zero value selects every resource.
type Selector struct {
	Pattern string
	Names   []string
	Indexes []int
	set     bool
}

// SelectAll returns a selector matching every resource.
func SelectAll() Selector { return Selector{} }

// SelectPattern returns a selector matching resource names against a regex.
func SelectPattern(pattern string) Selector {
	return Selector{Pattern: pattern, set: true}
}

// SelectNames returns a selector matching an explicit list of names.
func SelectNames(names ...string) Selector {
	return Selector{Names: names, set: true}
}

// IsAll reports whether the selector matches every resource.
func (s Selector) IsAll() bool { return !s.set }

// IsZero lets yaml omitempty drop an unset selector.
func (s Selector) IsZero() bool { return !s.set }

// UnmarshalYAML accepts null, a string, an integer, or a list of strings/integers.
func (s *Selector) UnmarshalYAML(node *yaml.Node) error {
	*s = Selector{}
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil
		}
		s.set = true
		if node.Tag == "!!int" {
			i, err := strconv.Atoi(node.Value)
			if err != nil {
				return fmt.Errorf("resources: %w", err)
			}
			s.Indexes = []int{i}
			return nil
		}
		s.Pattern = node.Value
		return nil

	case yaml.SequenceNode:
		s.set = true
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("resources: line %d: expected name or index", item.Line)
			}
			if item.Tag == "!!int" {
				i, err := strconv.Atoi(item.Value)
				if err != nil {
					return fmt.Errorf("resources: %w", err)
				}
				s.Indexes = append(s.Indexes, i)
				continue
			}
			s.Names = append(s.Names, item.Value)
		}
		return nil

	default:
		return fmt.Errorf("resources: expected string, index or list, got %v", node.Kind)
	}
}

// MarshalYAML writes the selector back in its most compact form.
func (s Selector) MarshalYAML() (any, error) {
	switch {
	case !s.set:
		return nil, nil
	case s.Pattern != "":
		return s.Pattern, nil
	case len(s.Indexes) == 1 && len(s.Names) == 0:
		return s.Indexes[0], nil
	}
	out := make([]any, 0, len(s.Names)+len(s.Indexes))
	for _, n := range s.Names {
		out = append(out, n)
	}
	for _, i := range s.Indexes {
		out = append(out, i)
	}
	return out, nil
}

// ResourceMatcher decides whether a resource participates in a processor.
type ResourceMatcher struct {
	all   bool
	re    *regexp.Regexp
	names []string
}

// NewResourceMatcher resolves a selector against a package descriptor.
// Indexes are turned into names; an out-of-range index is an error.
func NewResourceMatcher(sel Selector, pkg *PackageDescriptor) (*ResourceMatcher, error) {
	if sel.IsAll() {
		return &ResourceMatcher{all: true}, nil
	}
	m := &ResourceMatcher{names: slices.Clone(sel.Names)}
	if sel.Pattern != "" {
		re, err := regexp.Compile(`^(?:` + sel.Pattern + `)$`)
		if err != nil {
			return nil, fmt.Errorf("resource pattern %q: %w", sel.Pattern, err)
		}
		m.re = re
	}
	for _, i := range sel.Indexes {
		if pkg == nil || i < 0 || i >= len(pkg.Resources) {
			return nil, fmt.Errorf("resource index %d out of range", i)
		}
		m.names = append(m.names, pkg.Resources[i].Name)
	}
	return m, nil
}

// Match reports whether the named resource is selected.
func (m *ResourceMatcher) Match(name string) bool {
	if m.all {
		return true
	}
	if m.re != nil && m.re.MatchString(name) {
		return true
	}
	return slices.Contains(m.names, name)
}
