package nn

import (
	"context"
	"fmt"

	"github.com/samcharles93/graft/internal/tensor"
)

// Linear is y = x·Wᵀ + b with W laid out [out x in].
type Linear struct {
	W *tensor.Mat
	B []float32 // optional
}

// NewLinear allocates a zeroed projection.
func NewLinear(in, out int, bias bool) *Linear {
	l := &Linear{W: tensor.NewMat(out, in)}
	if bias {
		l.B = make([]float32, out)
	}
	return l
}

func (l *Linear) In() int  { return l.W.C }
func (l *Linear) Out() int { return l.W.R }

func (l *Linear) InWidth() int  { return l.In() }
func (l *Linear) OutWidth() int { return l.Out() }

func (l *Linear) Forward(_ context.Context, args Args) (Args, error) {
	x := args.At(0)
	if x == nil {
		return nil, fmt.Errorf("linear: missing input")
	}
	if x.C != l.W.C {
		return nil, fmt.Errorf("linear: input width %d, want %d", x.C, l.W.C)
	}
	return Args{tensor.Project(x, l.W, l.B)}, nil
}

func (l *Linear) Clone() Module {
	c := &Linear{W: l.W.Clone()}
	if l.B != nil {
		c.B = append([]float32(nil), l.B...)
	}
	return c
}

// LayerNorm normalises each row of its input.
type LayerNorm struct {
	Weight []float32
	Bias   []float32
	Eps    float32
}

// NewLayerNorm returns an identity-initialised norm.
func NewLayerNorm(dim int, eps float32) *LayerNorm {
	ln := &LayerNorm{Weight: make([]float32, dim), Bias: make([]float32, dim), Eps: eps}
	for i := range ln.Weight {
		ln.Weight[i] = 1
	}
	return ln
}

func (n *LayerNorm) InWidth() int  { return len(n.Weight) }
func (n *LayerNorm) OutWidth() int { return len(n.Weight) }

func (n *LayerNorm) Forward(_ context.Context, args Args) (Args, error) {
	x := args.At(0)
	if x == nil {
		return nil, fmt.Errorf("layernorm: missing input")
	}
	if x.C != len(n.Weight) {
		return nil, fmt.Errorf("layernorm: input width %d, want %d", x.C, len(n.Weight))
	}
	out := tensor.NewMat(x.R, x.C)
	for i := 0; i < x.R; i++ {
		tensor.LayerNorm(out.Row(i), x.Row(i), n.Weight, n.Bias, n.Eps)
	}
	return Args{out}, nil
}

func (n *LayerNorm) Clone() Module {
	return &LayerNorm{
		Weight: append([]float32(nil), n.Weight...),
		Bias:   append([]float32(nil), n.Bias...),
		Eps:    n.Eps,
	}
}

// Embedding maps a 1 x seq row of token ids (stored as floats) to seq x dim.
type Embedding struct {
	Table *tensor.Mat // [vocab x dim]
}

// InWidth is 0: the input is a row of ids, not a hidden state.
func (e *Embedding) InWidth() int  { return 0 }
func (e *Embedding) OutWidth() int { return e.Table.C }

func (e *Embedding) Forward(_ context.Context, args Args) (Args, error) {
	ids := args.At(0)
	if ids == nil || ids.R != 1 {
		return nil, fmt.Errorf("embedding: expected 1 x seq ids")
	}
	out := tensor.NewMat(ids.C, e.Table.C)
	for i, v := range ids.Row(0) {
		id := int(v)
		if id < 0 || id >= e.Table.R {
			return nil, fmt.Errorf("embedding: id %d out of range [0,%d)", id, e.Table.R)
		}
		copy(out.Row(i), e.Table.Row(id))
	}
	return Args{out}, nil
}

func (e *Embedding) Clone() Module {
	return &Embedding{Table: e.Table.Clone()}
}

// Act applies a named element-wise activation.
type Act struct {
	Name string
	fn   func(float32) float32
}

// NewAct resolves name via tensor.Activation.
func NewAct(name string) (*Act, error) {
	fn, ok := tensor.Activation(name)
	if !ok {
		return nil, fmt.Errorf("nn: unknown activation %q", name)
	}
	return &Act{Name: name, fn: fn}, nil
}

func (a *Act) Forward(_ context.Context, args Args) (Args, error) {
	x := args.At(0)
	if x == nil {
		return nil, fmt.Errorf("act: missing input")
	}
	out := x.Clone()
	tensor.Apply(out, a.fn)
	return Args{out}, nil
}

func (a *Act) Clone() Module { return &Act{Name: a.Name, fn: a.fn} }

// Sequential runs its children in order, feeding each output into the next.
type Sequential struct {
	slots []*Slot
}

// NewSequential names children "0", "1", ...
func NewSequential(mods ...Module) *Sequential {
	s := &Sequential{slots: make([]*Slot, len(mods))}
	for i, m := range mods {
		s.slots[i] = NewSlot(fmt.Sprint(i), m)
	}
	return s
}

func (s *Sequential) Slots() []*Slot { return s.slots }

func (s *Sequential) InWidth() int {
	if len(s.slots) == 0 {
		return 0
	}
	return InWidth(s.slots[0].Module())
}

func (s *Sequential) OutWidth() int {
	if len(s.slots) == 0 {
		return 0
	}
	return OutWidth(s.slots[len(s.slots)-1].Module())
}

func (s *Sequential) Forward(ctx context.Context, args Args) (Args, error) {
	var err error
	for _, slot := range s.slots {
		args, err = slot.Forward(ctx, args)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", slot.Name(), err)
		}
	}
	return args, nil
}

func (s *Sequential) Clone() Module {
	c := &Sequential{slots: make([]*Slot, len(s.slots))}
	for i, slot := range s.slots {
		c.slots[i] = CloneSlot(slot)
	}
	return c
}
