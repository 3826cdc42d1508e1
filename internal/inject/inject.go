// Package inject performs the graph surgery that installs tuners into a host
// model. Every operation here mutates the host in place and must not run
// concurrently with forwards or with other mutations of the same host.
package inject

import (
	"errors"
	"fmt"

	"github.com/samcharles93/graft/internal/resolve"
	"github.com/samcharles93/graft/pkg/nn"
	"github.com/samcharles93/graft/pkg/tuner"
)

// journal records the edits of one Inject call so they can be undone.
type journal struct {
	entries []edit
}

type edit struct {
	slot    *nn.Slot
	wrapper *Wrapper
	// created is set when this call installed the wrapper; prev is the
	// stack height before the call appended to an existing wrapper.
	created bool
	prev    int
}

func (j *journal) rollback() {
	for i := len(j.entries) - 1; i >= 0; i-- {
		e := j.entries[i]
		if e.created {
			e.slot.Swap(e.wrapper.orig)
			continue
		}
		for k := e.prev; k < len(e.wrapper.tuners); k++ {
			e.wrapper.tuners[k] = nil
		}
		e.wrapper.tuners = e.wrapper.tuners[:e.prev]
	}
	j.entries = nil
}

// Inject resolves cfg against root and installs one tuner per point under
// adapter. Either every point is installed or none is: a failing point rolls
// back the whole call before the error is returned.
func Inject(root nn.Module, adapter string, cfg tuner.Config, sw *tuner.Switch) ([]tuner.Tuner, error) {
	pts, err := resolve.Config(root, cfg)
	if err != nil {
		return nil, err
	}
	var (
		j      journal
		tuners = make([]tuner.Tuner, 0, len(pts))
	)
	fail := func(path string, err error) ([]tuner.Tuner, error) {
		j.rollback()
		return nil, &tuner.InjectionFailureError{Adapter: adapter, Path: path, Err: err}
	}
	for _, pt := range pts {
		if w, ok := pt.Slot.Module().(*Wrapper); ok && w.has(adapter, pt.Role) {
			return fail(pt.Path, fmt.Errorf("already carries a %s tuner", pt.Role))
		}
		t, err := cfg.Build(adapter, sw, pt)
		if err != nil {
			return fail(pt.Path, err)
		}
		j.entries = append(j.entries, attach(pt, t))
		tuners = append(tuners, t)
	}
	return tuners, nil
}

func attach(pt tuner.Point, t tuner.Tuner) edit {
	if w, ok := pt.Slot.Module().(*Wrapper); ok {
		e := edit{slot: pt.Slot, wrapper: w, prev: len(w.tuners)}
		w.tuners = append(w.tuners, t)
		return e
	}
	w := &Wrapper{path: pt.Path, orig: pt.Slot.Module(), tuners: []tuner.Tuner{t}}
	pt.Slot.Swap(w)
	return edit{slot: pt.Slot, wrapper: w, created: true}
}

// Wrappers lists every installed wrapper in document order.
func Wrappers(root nn.Module) []*Wrapper {
	var out []*Wrapper
	_ = nn.Walk(root, func(_ string, s *nn.Slot) error {
		if w, ok := s.Module().(*Wrapper); ok {
			out = append(out, w)
		}
		return nil
	})
	return out
}

// Tuners lists the tuners installed for adapter in document order.
func Tuners(root nn.Module, adapter string) []tuner.Tuner {
	var out []tuner.Tuner
	for _, w := range Wrappers(root) {
		for _, t := range w.tuners {
			if t.Adapter() == adapter {
				out = append(out, t)
			}
		}
	}
	return out
}

// Eject removes every tuner of adapter and restores originals whose stack
// becomes empty. It returns the number of tuners removed.
func Eject(root nn.Module, adapter string) int {
	n := 0
	_ = nn.Walk(root, func(_ string, s *nn.Slot) error {
		w, ok := s.Module().(*Wrapper)
		if !ok {
			return nil
		}
		n += w.drop(adapter)
		if len(w.tuners) == 0 {
			s.Swap(w.orig)
		}
		return nil
	})
	return n
}

var errNothingToMerge = errors.New("no tuners installed")

// Merge folds every tuner of adapter into the module it wraps and then
// ejects the adapter. Nothing is folded unless every tuner can merge.
func Merge(root nn.Module, adapter string, kind tuner.Kind) error {
	type job struct {
		m    tuner.Merger
		base nn.Module
	}
	var jobs []job
	for _, w := range Wrappers(root) {
		for _, t := range w.tuners {
			if t.Adapter() != adapter {
				continue
			}
			m, ok := t.(tuner.Merger)
			if !ok {
				return &tuner.UnmergeableKindError{Adapter: adapter, Kind: kind}
			}
			jobs = append(jobs, job{m: m, base: nn.Base(w.orig)})
		}
	}
	if len(jobs) == 0 {
		return fmt.Errorf("merge %q: %w", adapter, errNothingToMerge)
	}
	for _, jb := range jobs {
		if err := jb.m.Merge(jb.base); err != nil {
			return fmt.Errorf("merge %q: %w", adapter, err)
		}
	}
	Eject(root, adapter)
	return nil
}
