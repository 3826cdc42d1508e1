// Package nn defines the host model boundary: an addressable tree of modules
// whose children are held through swappable slots.
//
// Parents never embed their children directly. Each child lives behind a
// *Slot and is invoked through it, so a child can be replaced in place
// without the parent knowing.
package nn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/graft/internal/tensor"
)

// Args is the positional tuple flowing into and out of a module. Entries may
// be nil for optional positions (an absent attention mask, for example).
type Args []*tensor.Mat

// Clone copies the tuple header. The matrices themselves are shared.
func (a Args) Clone() Args {
	out := make(Args, len(a))
	copy(out, a)
	return out
}

// At returns the i-th entry or nil when out of range.
func (a Args) At(i int) *tensor.Mat {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

// Module is one node of the host model.
type Module interface {
	Forward(ctx context.Context, args Args) (Args, error)
}

// Container is implemented by modules that own children. Slots must be
// returned in a stable order; that order is the document order used for
// path resolution.
type Container interface {
	Slots() []*Slot
}

// Wrapper is implemented by modules that stand in for another module at the
// same address. Tree walks look through wrappers to the wrapped module's
// children without adding a path segment.
type Wrapper interface {
	Unwrap() Module
}

// Shaped is implemented by modules whose first input and first output are
// hidden states of a fixed feature width. Zero means the width is not fixed.
type Shaped interface {
	InWidth() int
	OutWidth() int
}

// InWidth reports the fixed width of m's first input, looking through
// wrappers. It is 0 when m does not declare one.
func InWidth(m Module) int {
	if s, ok := Base(m).(Shaped); ok {
		return s.InWidth()
	}
	return 0
}

// OutWidth is InWidth for the first output.
func OutWidth(m Module) int {
	if s, ok := Base(m).(Shaped); ok {
		return s.OutWidth()
	}
	return 0
}

// Cloner is implemented by modules that can deep-copy themselves.
type Cloner interface {
	Clone() Module
}

// Slot is a named, swappable reference to a child module.
type Slot struct {
	name string
	mod  Module
}

// NewSlot creates a slot holding m.
func NewSlot(name string, m Module) *Slot {
	if strings.Contains(name, ".") {
		panic(fmt.Sprintf("nn: slot name %q must not contain '.'", name))
	}
	return &Slot{name: name, mod: m}
}

// Name returns the path segment for this slot.
func (s *Slot) Name() string { return s.name }

// Module returns the module currently held.
func (s *Slot) Module() Module { return s.mod }

// Swap replaces the held module and returns the previous one.
func (s *Slot) Swap(m Module) Module {
	prev := s.mod
	s.mod = m
	return prev
}

// Forward invokes the held module.
func (s *Slot) Forward(ctx context.Context, args Args) (Args, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.mod.Forward(ctx, args)
}

// Base strips every wrapper layer from m.
func Base(m Module) Module {
	for {
		w, ok := m.(Wrapper)
		if !ok {
			return m
		}
		m = w.Unwrap()
	}
}

// ErrStop can be returned from a WalkFunc to end the walk early without error.
var ErrStop = errors.New("nn: stop walk")

// WalkFunc is called once per slot with its dotted path.
type WalkFunc func(path string, slot *Slot) error

// Walk visits every slot under root in pre-order document order. Children of
// wrapped modules are visited at the wrapped module's paths.
func Walk(root Module, fn WalkFunc) error {
	err := walk("", root, fn)
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}

func walk(prefix string, m Module, fn WalkFunc) error {
	c, ok := Base(m).(Container)
	if !ok {
		return nil
	}
	for _, s := range c.Slots() {
		path := s.name
		if prefix != "" {
			path = prefix + "." + s.name
		}
		if err := fn(path, s); err != nil {
			return err
		}
		if err := walk(path, s.mod, fn); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the slot at path.
func Lookup(root Module, path string) (*Slot, error) {
	var found *Slot
	err := Walk(root, func(p string, s *Slot) error {
		if p == path {
			found = s
			return ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("nn: no module at %q", path)
	}
	return found, nil
}

// Paths lists every addressable path in document order.
func Paths(root Module) []string {
	var out []string
	_ = Walk(root, func(p string, _ *Slot) error {
		out = append(out, p)
		return nil
	})
	return out
}

// Clone deep-copies a module tree. Every module in the tree must implement
// Cloner.
func Clone(m Module) (Module, error) {
	c, ok := m.(Cloner)
	if !ok {
		return nil, fmt.Errorf("nn: %T does not support cloning", m)
	}
	return c.Clone(), nil
}

// CloneSlot deep-copies the module held by s into a new slot with the same name.
// It panics when the held module is not a Cloner; Clone implementations use it
// for children they know to be cloneable.
func CloneSlot(s *Slot) *Slot {
	c, ok := s.mod.(Cloner)
	if !ok {
		panic(fmt.Sprintf("nn: %T at slot %q does not support cloning", s.mod, s.name))
	}
	return NewSlot(s.name, c.Clone())
}
