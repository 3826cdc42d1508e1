package tuner

import (
	"fmt"

	"github.com/samcharles93/graft/internal/tensor"
)

// proj is an adapter-owned affine map with W laid out [out x in].
type proj struct {
	W *tensor.Mat
	B *tensor.Mat // 1 x out, optional
}

func newProj(in, out int, bias bool) proj {
	p := proj{W: tensor.NewMat(out, in)}
	if bias {
		p.B = tensor.NewMat(1, out)
	}
	return p
}

func (p proj) apply(x *tensor.Mat) (*tensor.Mat, error) {
	if x.C != p.W.C {
		return nil, fmt.Errorf("input width %d, want %d", x.C, p.W.C)
	}
	var b []float32
	if p.B != nil {
		b = p.B.Data
	}
	return tensor.Project(x, p.W, b), nil
}

func (p proj) params(prefix string) []Param {
	out := []Param{{Name: prefix + "weight", Value: p.W}}
	if p.B != nil {
		out = append(out, Param{Name: prefix + "bias", Value: p.B})
	}
	return out
}

// bottleneck computes up(act(down(x))).
type bottleneck struct {
	down, up proj
	act      func(float32) float32
}

func newBottleneck(dim, hidden int, act string) (*bottleneck, error) {
	fn, ok := tensor.Activation(act)
	if !ok {
		return nil, fmt.Errorf("unknown activation %q", act)
	}
	return &bottleneck{
		down: newProj(dim, hidden, true),
		up:   newProj(hidden, dim, true),
		act:  fn,
	}, nil
}

func (b *bottleneck) apply(x *tensor.Mat) (*tensor.Mat, error) {
	h, err := b.down.apply(x)
	if err != nil {
		return nil, err
	}
	tensor.Apply(h, b.act)
	return b.up.apply(h)
}

func (b *bottleneck) params(prefix string) []Param {
	return append(b.down.params(prefix+"down."), b.up.params(prefix+"up.")...)
}
