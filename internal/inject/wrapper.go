package inject

import (
	"context"
	"fmt"

	"github.com/samcharles93/graft/pkg/nn"
	"github.com/samcharles93/graft/pkg/tuner"
)

// Wrapper stands in for an original module and runs the tuners stacked on
// it. Each tuner wraps everything registered before it, so with A then B the
// result is B(A(orig)): pre-hooks run last-registered first, post-hooks run
// in registration order, and every After sees the input its own Before
// produced. Inactive tuners are skipped entirely.
type Wrapper struct {
	path   string
	orig   nn.Module
	tuners []tuner.Tuner
}

func (w *Wrapper) Path() string { return w.path }

// Unwrap returns the original module.
func (w *Wrapper) Unwrap() nn.Module { return w.orig }

// Tuners returns the stack in registration order.
func (w *Wrapper) Tuners() []tuner.Tuner {
	return append([]tuner.Tuner(nil), w.tuners...)
}

func (w *Wrapper) Forward(ctx context.Context, args nn.Args) (nn.Args, error) {
	var active []tuner.Tuner
	for _, t := range w.tuners {
		if t.Enabled(ctx) {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		return w.orig.Forward(ctx, args)
	}

	var err error
	ins := make([]nn.Args, len(active))
	for i := len(active) - 1; i >= 0; i-- {
		t := active[i]
		if pre, ok := t.(tuner.PreHook); ok {
			if args, err = pre.Before(ctx, args); err != nil {
				return nil, fmt.Errorf("%s: adapter %q: %w", w.path, t.Adapter(), err)
			}
		}
		ins[i] = args
	}
	out, err := w.orig.Forward(ctx, args)
	if err != nil {
		return nil, err
	}
	for i := range active {
		post, ok := active[i].(tuner.PostHook)
		if !ok {
			continue
		}
		if out, err = post.After(ctx, ins[i], out); err != nil {
			return nil, fmt.Errorf("%s: adapter %q: %w", w.path, active[i].Adapter(), err)
		}
	}
	return out, nil
}

// Clone copies the original module only. Tuners are not carried over.
func (w *Wrapper) Clone() nn.Module {
	c, ok := w.orig.(nn.Cloner)
	if !ok {
		panic(fmt.Sprintf("inject: %T at %s does not support cloning", w.orig, w.path))
	}
	return c.Clone()
}

func (w *Wrapper) has(adapter string, role tuner.Role) bool {
	for _, t := range w.tuners {
		if t.Adapter() == adapter && t.Role() == role {
			return true
		}
	}
	return false
}

func (w *Wrapper) drop(adapter string) int {
	kept := w.tuners[:0]
	n := 0
	for _, t := range w.tuners {
		if t.Adapter() == adapter {
			n++
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(w.tuners); i++ {
		w.tuners[i] = nil
	}
	w.tuners = kept
	return n
}
