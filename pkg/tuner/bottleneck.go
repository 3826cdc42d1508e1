package tuner

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/samcharles93/graft/internal/tensor"
	"github.com/samcharles93/graft/pkg/nn"
)

// BottleneckConfig adds a residual down/up projection to one hidden state
// of each target's output.
type BottleneckConfig struct {
	Dim           int     `json:"dim" yaml:"dim"`
	TargetModules Pattern `json:"target_modules" yaml:"target_modules"`
	HiddenPos     int     `json:"hidden_pos" yaml:"hidden_pos"`
	// AdapterLength is the bottleneck width. Zero means 128.
	AdapterLength int    `json:"adapter_length,omitempty" yaml:"adapter_length,omitempty"`
	ActLayer      string `json:"act_layer,omitempty" yaml:"act_layer,omitempty"`
	Init          string `json:"init,omitempty" yaml:"init,omitempty"`
	Seed          int64  `json:"seed,omitempty" yaml:"seed,omitempty"`
}

func (c *BottleneckConfig) Kind() Kind { return KindBottleneck }

func (c *BottleneckConfig) Targets() []Target {
	return []Target{{Label: "target_modules", Pattern: c.TargetModules, Role: HiddenRole(c.HiddenPos)}}
}

func (c *BottleneckConfig) width() int {
	if c.AdapterLength == 0 {
		return 128
	}
	return c.AdapterLength
}

func (c *BottleneckConfig) act() string {
	if c.ActLayer == "" {
		return "gelu"
	}
	return c.ActLayer
}

func (c *BottleneckConfig) withDefaults() Config {
	d := *c
	d.AdapterLength = c.width()
	d.ActLayer = c.act()
	d.Init = initName(c.Init)
	return &d
}

func (c *BottleneckConfig) Validate() error {
	if c.Dim <= 0 {
		return fmt.Errorf("dim must be positive, got %d", c.Dim)
	}
	if c.AdapterLength < 0 {
		return fmt.Errorf("adapter_length must be positive, got %d", c.AdapterLength)
	}
	if c.HiddenPos < 0 {
		return fmt.Errorf("hidden_pos must be non-negative, got %d", c.HiddenPos)
	}
	if _, ok := tensor.Activation(c.act()); !ok {
		return fmt.Errorf("unknown act_layer %q", c.ActLayer)
	}
	if err := validateTarget("target_modules", c.TargetModules); err != nil {
		return err
	}
	return checkInit(KindBottleneck, c.Init)
}

func (c *BottleneckConfig) Build(adapter string, sw *Switch, pt Point) (Tuner, error) {
	if err := pt.checkWidth(false, c.HiddenPos, c.Dim, "dim"); err != nil {
		return nil, err
	}
	mlp, err := newBottleneck(c.Dim, c.width(), c.act())
	if err != nil {
		return nil, err
	}
	t := &Bottleneck{base: newBase(KindBottleneck, adapter, sw, pt), mlp: mlp, pos: c.HiddenPos}
	if err := initialise(t, c.Init, c.Seed); err != nil {
		return nil, err
	}
	return t, nil
}

// Bottleneck computes h + up(act(down(h))) on one output position.
type Bottleneck struct {
	base
	mlp *bottleneck
	pos int
}

func (t *Bottleneck) Params() []Param { return t.mlp.params("") }

func (t *Bottleneck) After(_ context.Context, _, out nn.Args) (nn.Args, error) {
	h, err := hidden(out, t.pos, "hidden")
	if err != nil {
		return nil, err
	}
	delta, err := t.mlp.apply(h)
	if err != nil {
		return nil, fmt.Errorf("bottleneck: %w", err)
	}
	tensor.AddMat(delta, h)
	return replace(out, t.pos, delta), nil
}

func init() {
	Register(KindInfo{Kind: KindBottleneck, New: func() Config { return &BottleneckConfig{} }})

	RegisterInit(KindBottleneck, DefaultInit, func(tn Tuner, rng *rand.Rand) error {
		t := tn.(*Bottleneck)
		for _, p := range []proj{t.mlp.down, t.mlp.up} {
			xavierUniform(p.W, rng)
			tensor.FillNormal(p.B, rng, 1e-6)
		}
		return nil
	})
}
