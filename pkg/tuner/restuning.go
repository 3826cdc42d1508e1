package tuner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/samcharles93/graft/internal/tensor"
	"github.com/samcharles93/graft/pkg/nn"
)

// ResTuningConfig builds a bypass alongside the host. Root modules contribute
// res(input), stem modules contribute res(output), and the summed bypass is
// added to the input or output of each target module. Contributions travel
// through the per-forward Trace, so the host must be run through a context
// carrying one.
type ResTuningConfig struct {
	Dims          int     `json:"dims" yaml:"dims"`
	RootModules   Pattern `json:"root_modules,omitempty" yaml:"root_modules,omitempty"`
	StemModules   Pattern `json:"stem_modules" yaml:"stem_modules"`
	TargetModules Pattern `json:"target_modules" yaml:"target_modules"`
	// TargetModulesHook is "input" (the default) or "output".
	TargetModulesHook string `json:"target_modules_hook,omitempty" yaml:"target_modules_hook,omitempty"`
	// TunerCfg names the bypass block. Only "res_adapter" is supported.
	TunerCfg string `json:"tuner_cfg,omitempty" yaml:"tuner_cfg,omitempty"`
	Init     string `json:"init,omitempty" yaml:"init,omitempty"`
	Seed     int64  `json:"seed,omitempty" yaml:"seed,omitempty"`
}

const (
	resRoot   = "root_modules"
	resStem   = "stem_modules"
	resTarget = "target_modules"
)

func (c *ResTuningConfig) Kind() Kind { return KindResTuning }

func (c *ResTuningConfig) hook() Hook {
	if c.TargetModulesHook == "" {
		return HookInput
	}
	return Hook(c.TargetModulesHook)
}

func (c *ResTuningConfig) Targets() []Target {
	var out []Target
	if !c.RootModules.IsZero() {
		out = append(out, Target{Label: resRoot, Pattern: c.RootModules, Role: InputRole()})
	}
	return append(out,
		Target{Label: resStem, Pattern: c.StemModules, Role: OutputRole()},
		Target{Label: resTarget, Pattern: c.TargetModules, Role: Role{Hook: c.hook()}},
	)
}

func (c *ResTuningConfig) withDefaults() Config {
	d := *c
	d.TargetModulesHook = string(c.hook())
	if d.TunerCfg == "" {
		d.TunerCfg = "res_adapter"
	}
	d.Init = initName(c.Init)
	return &d
}

func (c *ResTuningConfig) Validate() error {
	if c.Dims <= 0 {
		return fmt.Errorf("dims must be positive, got %d", c.Dims)
	}
	if h := c.hook(); h != HookInput && h != HookOutput {
		return fmt.Errorf("target_modules_hook must be input or output, got %q", c.TargetModulesHook)
	}
	if c.TunerCfg != "" && c.TunerCfg != "res_adapter" {
		return fmt.Errorf("unsupported tuner_cfg %q", c.TunerCfg)
	}
	if !c.RootModules.IsZero() {
		if err := validateTarget(resRoot, c.RootModules); err != nil {
			return err
		}
	}
	if err := validateTarget(resStem, c.StemModules); err != nil {
		return err
	}
	if err := validateTarget(resTarget, c.TargetModules); err != nil {
		return err
	}
	return checkInit(KindResTuning, c.Init)
}

func (c *ResTuningConfig) Build(adapter string, sw *Switch, pt Point) (Tuner, error) {
	targets := c.Targets()
	if pt.Target < 0 || pt.Target >= len(targets) {
		return nil, fmt.Errorf("restuning: target index %d out of range", pt.Target)
	}
	if err := pt.checkWidth(pt.Role.Hook == HookInput, 0, c.Dims, "dims"); err != nil {
		return nil, err
	}
	t := &ResTuning{
		base:  newBase(KindResTuning, adapter, sw, pt),
		label: targets[pt.Target].Label,
		key:   "restuning/" + adapter,
		idx:   pt.Ordinal,
		count: pt.Count,
	}
	if t.label != resTarget {
		hiddenDim := c.Dims / 4
		if hiddenDim == 0 {
			hiddenDim = 1
		}
		mlp, err := newBottleneck(c.Dims, hiddenDim, "gelu")
		if err != nil {
			return nil, err
		}
		t.mlp = mlp
	}
	if err := initialise(t, c.Init, c.Seed); err != nil {
		return nil, err
	}
	return t, nil
}

// ResTuning is one of the three res-tuning roles: a root or stem tap that
// records a bypass contribution, or a target that consumes their sum.
type ResTuning struct {
	base
	label string
	key   string
	idx   int
	count int
	mlp   *bottleneck // nil for targets
}

func (t *ResTuning) Params() []Param {
	switch t.label {
	case resRoot:
		return t.mlp.params("res_root.")
	case resStem:
		return t.mlp.params("res_stem.")
	}
	return nil
}

var errNoTrace = errors.New("restuning: forward context carries no trace")

func (t *ResTuning) record(ctx context.Context, suffix string, idx, n int, x *tensor.Mat) error {
	tr := TraceFrom(ctx)
	if tr == nil {
		return errNoTrace
	}
	v, err := t.mlp.apply(x)
	if err != nil {
		return fmt.Errorf("restuning %s: %w", t.label, err)
	}
	tr.Put(t.key+suffix, idx, n, v)
	return nil
}

func (t *ResTuning) bypass(ctx context.Context, h *tensor.Mat) (*tensor.Mat, error) {
	tr := TraceFrom(ctx)
	if tr == nil {
		return nil, errNoTrace
	}
	stems := tr.Get(t.key + "/stem")
	if len(stems) == 0 {
		return nil, fmt.Errorf("restuning: no stem contributions recorded before %s", t.path)
	}
	parts := append(tr.Get(t.key+"/root"), stems...)
	res := h.Clone()
	for i, p := range parts {
		if p == nil {
			return nil, fmt.Errorf("restuning: contribution %d missing before %s", i, t.path)
		}
		if !tensor.SameShape(p, res) {
			return nil, fmt.Errorf("restuning: contribution %dx%d does not match %dx%d at %s", p.R, p.C, res.R, res.C, t.path)
		}
		tensor.AddMat(res, p)
	}
	return res, nil
}

func (t *ResTuning) Before(ctx context.Context, in nn.Args) (nn.Args, error) {
	switch {
	case t.label == resRoot:
		x, err := hidden(in, 0, "input")
		if err != nil {
			return nil, err
		}
		return in, t.record(ctx, "/root", t.idx, t.count, x)
	case t.label == resTarget && t.role.Hook == HookInput:
		x, err := hidden(in, 0, "input")
		if err != nil {
			return nil, err
		}
		res, err := t.bypass(ctx, x)
		if err != nil {
			return nil, err
		}
		return replace(in, 0, res), nil
	}
	return in, nil
}

func (t *ResTuning) After(ctx context.Context, _, out nn.Args) (nn.Args, error) {
	switch {
	case t.label == resStem:
		y, err := hidden(out, 0, "output")
		if err != nil {
			return nil, err
		}
		return out, t.record(ctx, "/stem", t.idx, t.count, y)
	case t.label == resTarget && t.role.Hook == HookOutput:
		y, err := hidden(out, 0, "output")
		if err != nil {
			return nil, err
		}
		res, err := t.bypass(ctx, y)
		if err != nil {
			return nil, err
		}
		return replace(out, 0, res), nil
	}
	return out, nil
}

func init() {
	Register(KindInfo{Kind: KindResTuning, New: func() Config { return &ResTuningConfig{} }})

	RegisterInit(KindResTuning, DefaultInit, func(tn Tuner, rng *rand.Rand) error {
		t := tn.(*ResTuning)
		if t.mlp == nil {
			return nil
		}
		for _, p := range []proj{t.mlp.down, t.mlp.up} {
			xavierUniform(p.W, rng)
			tensor.FillNormal(p.B, rng, 1e-6)
		}
		return nil
	})
}
