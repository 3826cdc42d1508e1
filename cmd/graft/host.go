package main

import (
	"fmt"
	"strings"

	"github.com/samcharles93/graft/internal/safetensors"
	"github.com/samcharles93/graft/internal/tensor"
	"github.com/samcharles93/graft/internal/toy"
	"github.com/samcharles93/graft/pkg/nn"
)

// hostSpec names a reference host: a preset plus overrides.
type hostSpec struct {
	Preset string `yaml:"preset"`
	Layers int64  `yaml:"layers"`
	Seed   int64  `yaml:"seed"`
}

func currentHostSpec() hostSpec {
	return hostSpec{Preset: hostPreset, Layers: hostLayers, Seed: hostSeed}
}

func (h hostSpec) config() (toy.Config, error) {
	var cfg toy.Config
	switch strings.ToLower(strings.TrimSpace(h.Preset)) {
	case "", "small":
		cfg = toy.Small()
	case "base":
		cfg = toy.Base()
	default:
		return toy.Config{}, fmt.Errorf("unknown host preset %q (want small or base)", h.Preset)
	}
	if h.Layers > 0 {
		cfg.Layers = int(h.Layers)
	}
	if h.Seed != 0 {
		cfg.Seed = h.Seed
	}
	return cfg, nil
}

func (h hostSpec) build() (*toy.Model, error) {
	cfg, err := h.config()
	if err != nil {
		return nil, err
	}
	return toy.New(cfg)
}

// hostWeights collects the base weights of every parameterised layer under
// root, keyed "path.weight" and "path.bias". Adapter wrappers are looked
// through.
func hostWeights(root nn.Module) []safetensors.Tensor {
	var out []safetensors.Tensor
	add := func(name string, m *tensor.Mat) {
		out = append(out, safetensors.Tensor{Name: name, Mat: m})
	}
	row := func(v []float32) *tensor.Mat {
		m := tensor.NewMat(1, len(v))
		copy(m.Data, v)
		return m
	}
	_ = nn.Walk(root, func(path string, slot *nn.Slot) error {
		switch l := nn.Base(slot.Module()).(type) {
		case *nn.Linear:
			add(path+".weight", l.W.Clone())
			if l.B != nil {
				add(path+".bias", row(l.B))
			}
		case *nn.LayerNorm:
			add(path+".weight", row(l.Weight))
			add(path+".bias", row(l.Bias))
		case *nn.Embedding:
			add(path+".weight", l.Table.Clone())
		}
		return nil
	})
	return out
}
