// Package tuner defines the adapter kinds that can be grafted onto a host
// model and the contract the injection engine drives them through.
//
// A Tuner is bound to one injection point and one adapter name. It never owns
// the module it augments: the engine wraps the original and calls the tuner's
// hooks around it. Kinds register themselves with Register so configs can be
// decoded by kind tag.
package tuner

import (
	"context"
	"fmt"

	"github.com/samcharles93/graft/internal/tensor"
	"github.com/samcharles93/graft/pkg/nn"
)

// Param is a named adapter tensor. Value is shared with the tuner, so
// writes through it change the live adapter.
type Param struct {
	Name  string
	Value *tensor.Mat
}

// Tuner is one adapter's contribution at one injection point.
type Tuner interface {
	Adapter() string
	Kind() Kind
	Path() string
	Role() Role
	// Enabled reports whether the tuner takes part in a forward under ctx.
	Enabled(ctx context.Context) bool
	// Params lists the tuner's tensors in a stable order.
	Params() []Param
}

// PreHook is implemented by tuners that rewrite the wrapped module's inputs.
type PreHook interface {
	Before(ctx context.Context, in nn.Args) (nn.Args, error)
}

// PostHook is implemented by tuners that rewrite the wrapped module's results.
// in is the argument tuple as seen after the tuner's own Before, if any.
type PostHook interface {
	After(ctx context.Context, in, out nn.Args) (nn.Args, error)
}

// Merger is implemented by tuners whose effect folds into the base module.
type Merger interface {
	Merge(base nn.Module) error
}

// base carries the bookkeeping every kind shares.
type base struct {
	adapter string
	kind    Kind
	path    string
	role    Role
	sw      *Switch
}

func newBase(kind Kind, adapter string, sw *Switch, pt Point) base {
	return base{adapter: adapter, kind: kind, path: pt.Path, role: pt.Role, sw: sw}
}

func (b *base) Adapter() string { return b.adapter }
func (b *base) Kind() Kind      { return b.kind }
func (b *base) Path() string    { return b.path }
func (b *base) Role() Role      { return b.role }

func (b *base) Enabled(ctx context.Context) bool {
	return b.sw.Enabled(ctx)
}

// hidden returns args[idx], failing when the position is absent.
func hidden(args nn.Args, idx int, what string) (*tensor.Mat, error) {
	m := args.At(idx)
	if m == nil {
		return nil, fmt.Errorf("%s position %d is empty (have %d)", what, idx, len(args))
	}
	return m, nil
}

// replace returns a copy of args with position idx set to m.
func replace(args nn.Args, idx int, m *tensor.Mat) nn.Args {
	out := args.Clone()
	for len(out) <= idx {
		out = append(out, nil)
	}
	out[idx] = m
	return out
}
