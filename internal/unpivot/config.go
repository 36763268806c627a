package unpivot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"tabflow/internal/etl"
)

// Config is the declarative form of an unpivot step.
type Config struct {
	Resources  etl.Selector `yaml:"resources,omitempty"`
	Fields     []FieldSpec  `yaml:"unpivot"`
	ExtraKeys  []etl.Field  `yaml:"extraKeys,omitempty"`
	ExtraValue etl.Field    `yaml:"extraValue"`
}

// FieldSpec selects wide columns by a regex over the field name and says
// which key values each selected column produces.
type FieldSpec struct {
	Name string       `yaml:"name"`
	Keys KeyTemplates `yaml:"keys"`
}

// KeyTemplate is one key column of a FieldSpec. A string Value is a
// replacement template evaluated against the field name ($1, ${name});
// any other Value is copied into the output as is.
type KeyTemplate struct {
	Key   string
	Value any
}

// KeyTemplates keeps keys in declaration order.
type KeyTemplates []KeyTemplate

// Names returns the key names in order.
func (k KeyTemplates) Names() []string {
	names := make([]string, len(k))
	for i, kt := range k {
		names[i] = kt.Key
	}
	return names
}

func (k *KeyTemplates) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: keys must be a mapping", node.Line)
	}
	out := make(KeyTemplates, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var value any
		if err := node.Content[i+1].Decode(&value); err != nil {
			return fmt.Errorf("line %d: key %q: %w", node.Content[i].Line, node.Content[i].Value, err)
		}
		out = append(out, KeyTemplate{Key: node.Content[i].Value, Value: value})
	}
	*k = out
	return nil
}

func (k KeyTemplates) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, kt := range k {
		var val yaml.Node
		if err := val.Encode(kt.Value); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: kt.Key}, &val)
	}
	return node, nil
}

// compiledSpec holds both forms of a FieldSpec pattern: anchored for
// selecting fields, raw for substituting into key templates.
type compiledSpec struct {
	FieldSpec
	full *regexp.Regexp
	sub  *regexp.Regexp
	tmpl []string // translated template per key; "" for literals
}

func compileSpec(i int, spec FieldSpec) (*compiledSpec, error) {
	full, err := regexp.Compile(`^(?:` + spec.Name + `)$`)
	if err != nil {
		return nil, fmt.Errorf("unpivot[%d] name %q: %w", i, spec.Name, err)
	}
	sub, err := regexp.Compile(spec.Name)
	if err != nil {
		return nil, fmt.Errorf("unpivot[%d] name %q: %w", i, spec.Name, err)
	}
	cs := &compiledSpec{FieldSpec: spec, full: full, sub: sub, tmpl: make([]string, len(spec.Keys))}
	for j, kt := range spec.Keys {
		s, ok := kt.Value.(string)
		if !ok {
			continue
		}
		cs.tmpl[j] = translateTemplate(s)
		if err := checkGroupRefs(cs.tmpl[j], sub); err != nil {
			return nil, fmt.Errorf("unpivot[%d] key %q: %w", i, kt.Key, err)
		}
	}
	return cs, nil
}

// matches reports whether the whole field name matches the pattern.
func (s *compiledSpec) matches(fieldName string) bool {
	return s.full.MatchString(fieldName)
}

var (
	pyNamedRef    = regexp.MustCompile(`\\g<(\w+)>`)
	pyNumberedRef = regexp.MustCompile(`\\(\d+)`)
)

// translateTemplate accepts \1 and \g<name> back-references alongside
// Go's $1 and ${name}.
//
// Substitution uses ReplaceAllString, which skips an empty match directly
// after a previous match: (\d*) with y\1 turns "2024" into "y2024", not
// "y2024y" as Python 3.7+ re.sub would.
func translateTemplate(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	s = pyNamedRef.ReplaceAllString(s, `$${$1}`)
	return pyNumberedRef.ReplaceAllString(s, `$${$1}`)
}

// checkGroupRefs rejects $name and ${name} references to groups the pattern
// does not define. Expand would silently substitute "" for them, so $1_q
// (group "1_q") has to be written ${1}_q.
func checkGroupRefs(tmpl string, re *regexp.Regexp) error {
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '$' || i+1 >= len(tmpl) {
			continue
		}
		rest := tmpl[i+1:]
		if rest[0] == '$' {
			i++
			continue
		}
		var name string
		if rest[0] == '{' {
			end := strings.IndexByte(rest, '}')
			if end < 0 {
				continue
			}
			name = rest[1:end]
			i += end + 1
		} else {
			n := 0
			for n < len(rest) && isGroupNameByte(rest[n]) {
				n++
			}
			name = rest[:n]
			i += n
		}
		if name == "" || hasGroup(re, name) {
			continue
		}
		return fmt.Errorf("template %q references group %q, which %q does not define (write ${1}x, not $1x, when text follows a group)",
			tmpl, name, re.String())
	}
	return nil
}

func isGroupNameByte(c byte) bool {
	return c == '_' || '0' <= c && c <= '9' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}

func hasGroup(re *regexp.Regexp, name string) bool {
	if n, err := strconv.Atoi(name); err == nil {
		return n >= 0 && n <= re.NumSubexp()
	}
	return re.SubexpIndex(name) >= 0
}
