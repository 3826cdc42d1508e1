// Package resolve expands target patterns into concrete injection points.
package resolve

import (
	"fmt"

	"github.com/samcharles93/graft/pkg/nn"
	"github.com/samcharles93/graft/pkg/tuner"
)

// Resolve walks root in document order and returns every slot whose path
// matches t. Repeated calls against an unchanged tree return identical
// sequences. Zero matches is reported as a *tuner.NoMatchError.
func Resolve(root nn.Module, t tuner.Target) ([]tuner.Point, error) {
	match, err := t.Pattern.Compile()
	if err != nil {
		return nil, err
	}
	var pts []tuner.Point
	err = nn.Walk(root, func(path string, slot *nn.Slot) error {
		if match(path) {
			pts = append(pts, tuner.Point{Path: path, Slot: slot, Role: t.Role})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(pts) == 0 {
		return nil, &tuner.NoMatchError{Target: t.String()}
	}
	for i := range pts {
		pts[i].Ordinal = i
		pts[i].Count = len(pts)
	}
	return pts, nil
}

// Config resolves every target of cfg, tagging each point with its target
// index. Points are grouped by target in the order cfg declares them.
func Config(root nn.Module, cfg tuner.Config) ([]tuner.Point, error) {
	var out []tuner.Point
	for i, t := range cfg.Targets() {
		pts, err := Resolve(root, t)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", cfg.Kind(), t.Label, err)
		}
		for j := range pts {
			pts[j].Target = i
		}
		out = append(out, pts...)
	}
	return out, nil
}
