package tuner

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// TypeKey is the field naming the kind in a serialised config.
const TypeKey = "tuner_type"

// Config is the pure-data description of one adapter. Implementations are
// pointer types registered through Register.
type Config interface {
	Kind() Kind
	// Targets lists every target the config injects at. Build receives
	// points carrying an index into this slice.
	Targets() []Target
	Validate() error
	// Build creates the tuner for one resolved point. Errors are reported
	// by the engine as injection failures.
	Build(adapter string, sw *Switch, pt Point) (Tuner, error)
}

// MarshalConfig encodes cfg as a JSON object with its kind under TypeKey.
func MarshalConfig(cfg Config) ([]byte, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode %s config: %w", cfg.Kind(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode %s config: %w", cfg.Kind(), err)
	}
	kind, _ := json.Marshal(cfg.Kind())
	fields[TypeKey] = kind
	return json.MarshalIndent(fields, "", "  ")
}

// UnmarshalConfig decodes a config written by MarshalConfig.
func UnmarshalConfig(data []byte) (Config, error) {
	var head struct {
		Kind Kind `json:"tuner_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg, err := newConfig(head.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", head.Kind, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s config: %w", head.Kind, err)
	}
	return cfg, nil
}

// DecodeYAML decodes a config from a YAML mapping carrying TypeKey.
func DecodeYAML(node *yaml.Node) (Config, error) {
	var head struct {
		Kind Kind `yaml:"tuner_type"`
	}
	if err := node.Decode(&head); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg, err := newConfig(head.Kind)
	if err != nil {
		return nil, err
	}
	if err := node.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", head.Kind, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s config: %w", head.Kind, err)
	}
	return cfg, nil
}

func newConfig(k Kind) (Config, error) {
	if k == "" {
		return nil, errors.New("config has no " + TypeKey)
	}
	info, ok := Lookup(k)
	if !ok {
		return nil, fmt.Errorf("unknown tuner kind %q", k)
	}
	return info.New(), nil
}

// defaulted is implemented by configs whose zero fields stand for a default.
type defaulted interface {
	withDefaults() Config
}

// withDefaults returns a copy of cfg with every defaulted field spelled out.
func withDefaults(cfg Config) Config {
	if d, ok := cfg.(defaulted); ok {
		return d.withDefaults()
	}
	return cfg
}

func initName(name string) string {
	if name == "" {
		return DefaultInit
	}
	return name
}

// Equal reports whether two configs describe the same adapter once defaults
// are filled in, so R 0 and R 8 are the same LoRA. Configs that cannot be
// serialised (predicate targets) are equal only when identical.
func Equal(a, b Config) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a == b {
		return true
	}
	if a.Kind() != b.Kind() {
		return false
	}
	a, b = withDefaults(a), withDefaults(b)
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA == nil && errB == nil {
		return bytes.Equal(ja, jb)
	}
	return reflect.DeepEqual(a, b)
}

// Persistable reports whether cfg can be written to disk.
func Persistable(cfg Config) error {
	for _, t := range cfg.Targets() {
		if t.Pattern.Match != nil {
			return fmt.Errorf("target %s: %w", t, errPredicatePattern)
		}
	}
	return nil
}

func validateTarget(label string, p Pattern) error {
	if _, err := p.Compile(); err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	return nil
}
