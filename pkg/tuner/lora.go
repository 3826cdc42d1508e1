package tuner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/samcharles93/graft/internal/tensor"
	"github.com/samcharles93/graft/pkg/nn"
)

// LoRAConfig adds a scaled low-rank update B·A to linear projections.
type LoRAConfig struct {
	TargetModules Pattern `json:"target_modules" yaml:"target_modules"`
	// R is the update rank. Zero means 8.
	R int `json:"r,omitempty" yaml:"r,omitempty"`
	// Alpha scales the update by Alpha/R. Zero means Alpha = R.
	Alpha float32 `json:"lora_alpha,omitempty" yaml:"lora_alpha,omitempty"`
	// Dropout is kept for checkpoint compatibility; inference ignores it.
	Dropout float32 `json:"lora_dropout,omitempty" yaml:"lora_dropout,omitempty"`
	Init    string  `json:"init_lora_weights,omitempty" yaml:"init_lora_weights,omitempty"`
	Seed    int64   `json:"seed,omitempty" yaml:"seed,omitempty"`
}

func (c *LoRAConfig) Kind() Kind { return KindLoRA }

func (c *LoRAConfig) Targets() []Target {
	return []Target{{Label: "target_modules", Pattern: c.TargetModules, Role: OutputRole()}}
}

func (c *LoRAConfig) rank() int {
	if c.R == 0 {
		return 8
	}
	return c.R
}

// Scale is Alpha/R with defaults applied.
func (c *LoRAConfig) Scale() float32 {
	alpha := c.Alpha
	if alpha == 0 {
		alpha = float32(c.rank())
	}
	return alpha / float32(c.rank())
}

func (c *LoRAConfig) withDefaults() Config {
	d := *c
	d.R = c.rank()
	if d.Alpha == 0 {
		d.Alpha = float32(d.R)
	}
	d.Init = initName(c.Init)
	return &d
}

func (c *LoRAConfig) Validate() error {
	if c.R < 0 {
		return fmt.Errorf("r must be positive, got %d", c.R)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("lora_dropout must be in [0,1), got %g", c.Dropout)
	}
	if err := validateTarget("target_modules", c.TargetModules); err != nil {
		return err
	}
	return checkInit(KindLoRA, c.Init)
}

func (c *LoRAConfig) Build(adapter string, sw *Switch, pt Point) (Tuner, error) {
	lin, ok := pt.Module().(*nn.Linear)
	if !ok {
		return nil, fmt.Errorf("lora needs a linear projection, found %T", pt.Module())
	}
	r := c.rank()
	t := &LoRA{
		base:  newBase(KindLoRA, adapter, sw, pt),
		A:     tensor.NewMat(r, lin.In()),
		B:     tensor.NewMat(lin.Out(), r),
		Scale: c.Scale(),
	}
	if err := initialise(t, c.Init, c.Seed); err != nil {
		return nil, err
	}
	return t, nil
}

// LoRA is the low-rank tuner at one linear projection.
type LoRA struct {
	base
	A     *tensor.Mat // [r x in]
	B     *tensor.Mat // [out x r]
	Scale float32
}

func (t *LoRA) Params() []Param {
	return []Param{{Name: "lora_A", Value: t.A}, {Name: "lora_B", Value: t.B}}
}

func (t *LoRA) After(_ context.Context, in, out nn.Args) (nn.Args, error) {
	x, err := hidden(in, 0, "input")
	if err != nil {
		return nil, err
	}
	y, err := hidden(out, 0, "output")
	if err != nil {
		return nil, err
	}
	if x.C != t.A.C || y.C != t.B.R || x.R != y.R {
		return nil, fmt.Errorf("lora: shapes %dx%d -> %dx%d do not fit rank %d update %dx%d",
			x.R, x.C, y.R, y.C, t.A.R, t.B.R, t.A.C)
	}
	delta := tensor.Project(tensor.Project(x, t.A, nil), t.B, nil)
	res := y.Clone()
	for i := 0; i < res.R; i++ {
		tensor.AddScaled(res.Row(i), delta.Row(i), t.Scale)
	}
	return replace(out, 0, res), nil
}

// Merge folds Scale·B·A into the projection weights.
func (t *LoRA) Merge(m nn.Module) error {
	lin, ok := m.(*nn.Linear)
	if !ok {
		return fmt.Errorf("lora merge: %T is not a linear projection", m)
	}
	if lin.W.R != t.B.R || lin.W.C != t.A.C {
		return errors.New("lora merge: projection shape changed since injection")
	}
	ba := tensor.NewMat(t.B.R, t.A.C)
	tensor.MatMul(ba, t.B, t.A)
	for i := 0; i < lin.W.R; i++ {
		tensor.AddScaled(lin.W.Row(i), ba.Row(i), t.Scale)
	}
	return nil
}

func init() {
	Register(KindInfo{Kind: KindLoRA, New: func() Config { return &LoRAConfig{} }, Mergeable: true})

	RegisterInit(KindLoRA, DefaultInit, func(tn Tuner, rng *rand.Rand) error {
		t := tn.(*LoRA)
		kaimingUniform(t.A, rng)
		tensor.Fill(t.B, 0)
		return nil
	})
	RegisterInit(KindLoRA, "gaussian", func(tn Tuner, rng *rand.Rand) error {
		t := tn.(*LoRA)
		tensor.FillNormal(t.A, rng, 1/float64(t.A.R))
		tensor.Fill(t.B, 0)
		return nil
	})
	// ones keeps A random and sets B to ones so the update is non-zero.
	RegisterInit(KindLoRA, "ones", func(tn Tuner, rng *rand.Rand) error {
		t := tn.(*LoRA)
		kaimingUniform(t.A, rng)
		tensor.Fill(t.B, 1)
		return nil
	})
}
