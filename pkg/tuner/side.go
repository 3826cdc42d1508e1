package tuner

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/samcharles93/graft/internal/tensor"
	"github.com/samcharles93/graft/pkg/nn"
)

// SideConfig runs a small side network on each target's first input and
// blends it into one output position:
//
//	out[pos] = a·out[pos] + (1-a)·side(in[0]),  a = sigmoid(alpha)
type SideConfig struct {
	Dim           int     `json:"dim" yaml:"dim"`
	TargetModules Pattern `json:"target_modules" yaml:"target_modules"`
	// SideModuleName is "mlp" (the default) or "linear".
	SideModuleName  string `json:"side_module_name,omitempty" yaml:"side_module_name,omitempty"`
	TargetHiddenPos int    `json:"target_hidden_pos" yaml:"target_hidden_pos"`
	Init            string `json:"init,omitempty" yaml:"init,omitempty"`
	Seed            int64  `json:"seed,omitempty" yaml:"seed,omitempty"`
}

func (c *SideConfig) Kind() Kind { return KindSide }

func (c *SideConfig) Targets() []Target {
	return []Target{{Label: "target_modules", Pattern: c.TargetModules, Role: HiddenRole(c.TargetHiddenPos)}}
}

func (c *SideConfig) module() string {
	if c.SideModuleName == "" {
		return "mlp"
	}
	return c.SideModuleName
}

func (c *SideConfig) withDefaults() Config {
	d := *c
	d.SideModuleName = c.module()
	d.Init = initName(c.Init)
	return &d
}

func (c *SideConfig) Validate() error {
	if c.Dim <= 0 {
		return fmt.Errorf("dim must be positive, got %d", c.Dim)
	}
	if c.TargetHiddenPos < 0 {
		return fmt.Errorf("target_hidden_pos must be non-negative, got %d", c.TargetHiddenPos)
	}
	switch c.module() {
	case "mlp", "linear":
	default:
		return fmt.Errorf("unknown side_module_name %q", c.SideModuleName)
	}
	if err := validateTarget("target_modules", c.TargetModules); err != nil {
		return err
	}
	return checkInit(KindSide, c.Init)
}

func (c *SideConfig) Build(adapter string, sw *Switch, pt Point) (Tuner, error) {
	if err := pt.checkWidth(true, 0, c.Dim, "dim"); err != nil {
		return nil, err
	}
	if err := pt.checkWidth(false, c.TargetHiddenPos, c.Dim, "dim"); err != nil {
		return nil, err
	}
	t := &Side{
		base:  newBase(KindSide, adapter, sw, pt),
		Alpha: tensor.NewMat(1, 1),
		pos:   c.TargetHiddenPos,
	}
	if c.module() == "mlp" {
		t.layers = []proj{newProj(c.Dim, c.Dim, true), newProj(c.Dim, c.Dim, true)}
	} else {
		t.layers = []proj{newProj(c.Dim, c.Dim, true)}
	}
	if err := initialise(t, c.Init, c.Seed); err != nil {
		return nil, err
	}
	return t, nil
}

// Side is the side-network tuner at one target.
type Side struct {
	base
	layers []proj
	Alpha  *tensor.Mat // 1 x 1 gate logit
	pos    int
}

func (t *Side) Params() []Param {
	var out []Param
	if len(t.layers) == 1 {
		out = t.layers[0].params("side.")
	} else {
		out = append(t.layers[0].params("side.fc1."), t.layers[1].params("side.fc2.")...)
	}
	return append(out, Param{Name: "alpha", Value: t.Alpha})
}

func (t *Side) side(x *tensor.Mat) (*tensor.Mat, error) {
	h, err := t.layers[0].apply(x)
	if err != nil {
		return nil, err
	}
	for _, l := range t.layers[1:] {
		tensor.Apply(h, tensor.Relu)
		if h, err = l.apply(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (t *Side) After(_ context.Context, in, out nn.Args) (nn.Args, error) {
	x, err := hidden(in, 0, "input")
	if err != nil {
		return nil, err
	}
	y, err := hidden(out, t.pos, "hidden")
	if err != nil {
		return nil, err
	}
	s, err := t.side(x)
	if err != nil {
		return nil, fmt.Errorf("side: %w", err)
	}
	if !tensor.SameShape(s, y) {
		return nil, fmt.Errorf("side: branch output %dx%d does not match hidden %dx%d", s.R, s.C, y.R, y.C)
	}
	a := tensor.Sigmoid(t.Alpha.Data[0])
	res := tensor.NewMat(y.R, y.C)
	for i := 0; i < y.R; i++ {
		dr, yr, sr := res.Row(i), y.Row(i), s.Row(i)
		for j := range dr {
			dr[j] = a*yr[j] + (1-a)*sr[j]
		}
	}
	return replace(out, t.pos, res), nil
}

func init() {
	Register(KindInfo{Kind: KindSide, New: func() Config { return &SideConfig{} }})

	RegisterInit(KindSide, DefaultInit, func(tn Tuner, rng *rand.Rand) error {
		t := tn.(*Side)
		for _, l := range t.layers {
			kaimingUniform(l.W, rng)
			tensor.FillUniform(l.B, rng, 1/float64(l.W.C))
		}
		tensor.Fill(t.Alpha, 0)
		return nil
	})
}
