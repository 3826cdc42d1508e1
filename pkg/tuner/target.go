package tuner

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/graft/pkg/nn"
)

// Pattern selects module paths. A path matches when any populated field
// matches it:
//   - Names: the path equals a name or ends with "."+name
//   - Regex: the whole path matches the expression
//   - Paths: the path equals one of the entries
//   - Match: the predicate returns true (not persistable)
//
// Serialised, a names-only pattern is a JSON list and a regex-only pattern a
// JSON string; anything else is an object.
type Pattern struct {
	Names []string               `json:"names,omitempty" yaml:"names,omitempty"`
	Regex string                 `json:"regex,omitempty" yaml:"regex,omitempty"`
	Paths []string               `json:"paths,omitempty" yaml:"paths,omitempty"`
	Match func(path string) bool `json:"-" yaml:"-"`
}

// Names builds a literal-name pattern.
func Names(names ...string) Pattern { return Pattern{Names: names} }

// Regex builds a full-path regular expression pattern.
func Regex(expr string) Pattern { return Pattern{Regex: expr} }

// Paths builds an exact-path pattern.
func Paths(paths ...string) Pattern { return Pattern{Paths: paths} }

// Predicate builds a pattern from a Go function.
func Predicate(fn func(path string) bool) Pattern { return Pattern{Match: fn} }

// IsZero reports whether the pattern selects nothing.
func (p Pattern) IsZero() bool {
	return len(p.Names) == 0 && p.Regex == "" && len(p.Paths) == 0 && p.Match == nil
}

// Compile returns a matcher for the pattern.
func (p Pattern) Compile() (func(path string) bool, error) {
	if p.IsZero() {
		return nil, errors.New("empty target pattern")
	}
	var re *regexp.Regexp
	if p.Regex != "" {
		var err error
		re, err = regexp.Compile(`^(?:` + p.Regex + `)$`)
		if err != nil {
			return nil, fmt.Errorf("target regex %q: %w", p.Regex, err)
		}
	}
	names := append([]string(nil), p.Names...)
	paths := make(map[string]struct{}, len(p.Paths))
	for _, path := range p.Paths {
		paths[path] = struct{}{}
	}
	match := p.Match
	return func(path string) bool {
		for _, n := range names {
			if path == n || strings.HasSuffix(path, "."+n) {
				return true
			}
		}
		if re != nil && re.MatchString(path) {
			return true
		}
		if _, ok := paths[path]; ok {
			return true
		}
		return match != nil && match(path)
	}, nil
}

func (p Pattern) String() string {
	var parts []string
	if len(p.Names) > 0 {
		parts = append(parts, "names="+strings.Join(p.Names, ","))
	}
	if p.Regex != "" {
		parts = append(parts, "regex="+strconv.Quote(p.Regex))
	}
	if len(p.Paths) > 0 {
		parts = append(parts, "paths="+strings.Join(p.Paths, ","))
	}
	if p.Match != nil {
		parts = append(parts, "predicate")
	}
	if len(parts) == 0 {
		return "<empty>"
	}
	return "[" + strings.Join(parts, " ") + "]"
}

var errPredicatePattern = errors.New("predicate target patterns cannot be serialised")

type patternFields struct {
	Names []string `json:"names,omitempty" yaml:"names,omitempty"`
	Regex string   `json:"regex,omitempty" yaml:"regex,omitempty"`
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty"`
}

func (p Pattern) shorthand() (any, error) {
	if p.Match != nil {
		return nil, errPredicatePattern
	}
	switch {
	case p.Regex == "" && len(p.Paths) == 0 && len(p.Names) > 0:
		return p.Names, nil
	case p.Regex != "" && len(p.Paths) == 0 && len(p.Names) == 0:
		return p.Regex, nil
	default:
		return patternFields{Names: p.Names, Regex: p.Regex, Paths: p.Paths}, nil
	}
}

func (p Pattern) MarshalJSON() ([]byte, error) {
	v, err := p.shorthand()
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (p *Pattern) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = Pattern{Regex: s}
		return nil
	}
	var names []string
	if err := json.Unmarshal(data, &names); err == nil {
		*p = Pattern{Names: names}
		return nil
	}
	var f patternFields
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("target pattern: %w", err)
	}
	*p = Pattern{Names: f.Names, Regex: f.Regex, Paths: f.Paths}
	return nil
}

func (p Pattern) MarshalYAML() (any, error) {
	return p.shorthand()
}

func (p *Pattern) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*p = Pattern{Regex: node.Value}
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return err
		}
		*p = Pattern{Names: names}
		return nil
	default:
		var f patternFields
		if err := node.Decode(&f); err != nil {
			return fmt.Errorf("target pattern: %w", err)
		}
		*p = Pattern{Names: f.Names, Regex: f.Regex, Paths: f.Paths}
		return nil
	}
}

// Hook names the capability a tuner attaches to.
type Hook string

const (
	HookInput  Hook = "input"
	HookOutput Hook = "output"
	HookHidden Hook = "hidden"
	HookMask   Hook = "mask"
)

// Role is a capability role: a hook plus, for hidden and mask hooks, the
// positional index in the module's argument or result tuple.
type Role struct {
	Hook  Hook
	Index int
}

func InputRole() Role           { return Role{Hook: HookInput} }
func OutputRole() Role          { return Role{Hook: HookOutput} }
func HiddenRole(index int) Role { return Role{Hook: HookHidden, Index: index} }
func MaskRole(index int) Role   { return Role{Hook: HookMask, Index: index} }

func (r Role) String() string {
	switch r.Hook {
	case HookHidden, HookMask:
		return string(r.Hook) + ":" + strconv.Itoa(r.Index)
	default:
		return string(r.Hook)
	}
}

// Target is a pattern bound to the role tuners take at matching points.
// Label distinguishes targets of one config (root, stem, target...).
type Target struct {
	Label   string
	Pattern Pattern
	Role    Role
}

func (t Target) String() string {
	if t.Label == "" {
		return t.Pattern.String() + "@" + t.Role.String()
	}
	return t.Label + t.Pattern.String() + "@" + t.Role.String()
}

// Point is one resolved injection point.
type Point struct {
	Path string
	Slot *nn.Slot
	// Target indexes the config's Targets() slice.
	Target int
	Role   Role
	// Ordinal is the point's position among the points of its target.
	Ordinal int
	// Count is the number of points resolved for its target.
	Count int
}

// Module returns the original module at the point, looking through wrappers.
func (p Point) Module() nn.Module {
	return nn.Base(p.Slot.Module())
}

// checkWidth compares want with the width the point's module declares for
// its input (or output) at pos. Only position 0 is declared; modules that
// declare nothing pass.
func (p Point) checkWidth(input bool, pos, want int, label string) error {
	if pos != 0 {
		return nil
	}
	side, got := "output", nn.OutWidth(p.Module())
	if input {
		side, got = "input", nn.InWidth(p.Module())
	}
	if got != 0 && got != want {
		return fmt.Errorf("%s %d does not match %s width %d", label, want, side, got)
	}
	return nil
}
