package toy

import (
	"context"
	"strings"
	"testing"

	"github.com/samcharles93/graft/internal/tensor"
	"github.com/samcharles93/graft/pkg/nn"
)

func mustNew(t *testing.T, cfg Config) *Model {
	t.Helper()
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func logits(t *testing.T, m nn.Module, args nn.Args) *tensor.Mat {
	t.Helper()
	out, err := m.Forward(context.Background(), args)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	return out.At(0)
}

func TestForwardShapeAndDeterminism(t *testing.T) {
	cfg := Small()
	a := mustNew(t, cfg)
	b := mustNew(t, cfg)

	got := logits(t, a, Inputs(1, 5, 7, 2))
	if got.R != 1 || got.C != cfg.Labels {
		t.Fatalf("logits shape %dx%d, want 1x%d", got.R, got.C, cfg.Labels)
	}
	if !tensor.Equal(got, logits(t, a, Inputs(1, 5, 7, 2))) {
		t.Fatalf("repeated forward differs")
	}
	if !tensor.Equal(got, logits(t, b, Inputs(1, 5, 7, 2))) {
		t.Fatalf("same seed gives different weights")
	}

	cfg.Seed = 2
	if tensor.Equal(got, logits(t, mustNew(t, cfg), Inputs(1, 5, 7, 2))) {
		t.Fatalf("different seed gives identical logits")
	}
}

func TestPaths(t *testing.T) {
	m := mustNew(t, Small())
	paths := nn.Paths(m)
	want := []string{
		"embeddings.word_embeddings",
		"encoder.layer.0.attention.self.query",
		"encoder.layer.0.attention.output.LayerNorm",
		"encoder.layer.1.intermediate.dense",
		"encoder.layer.1.output.dense",
		"pooler.dense",
		"classifier",
	}
	set := map[string]bool{}
	for _, p := range paths {
		set[p] = true
	}
	for _, w := range want {
		if !set[w] {
			t.Errorf("missing path %q in %s", w, strings.Join(paths, "\n"))
		}
	}
	if _, err := nn.Lookup(m, "encoder.layer.2"); err == nil {
		t.Errorf("small model has only two layers")
	}
}

func TestMaskChangesAttention(t *testing.T) {
	m := mustNew(t, Small())
	full := Inputs(3, 4, 5)
	masked := Inputs(3, 4, 5)
	masked[1].Data[2] = 0
	if tensor.Equal(logits(t, m, full), logits(t, m, masked)) {
		t.Fatalf("masking a key position had no effect")
	}

	bad := nn.Args{full[0], tensor.NewMat(1, 2)}
	if _, err := m.Forward(context.Background(), bad); err == nil {
		t.Fatalf("expected error for short mask")
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := mustNew(t, Small())
	c, err := nn.Clone(m)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	in := Inputs(0, 9, 3)
	before := logits(t, m, in)
	if !tensor.Equal(before, logits(t, c, in)) {
		t.Fatalf("clone differs from original")
	}

	slot, err := nn.Lookup(c, "classifier")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	tensor.Fill(slot.Module().(*nn.Linear).W, 0)
	if !tensor.Equal(before, logits(t, m, in)) {
		t.Fatalf("mutating the clone changed the original")
	}
}

func TestInvalidConfig(t *testing.T) {
	cfg := Small()
	cfg.Heads = 3
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected error for indivisible heads")
	}
	cfg = Small()
	cfg.Layers = 0
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected error for zero layers")
	}
}

func TestWidths(t *testing.T) {
	cfg := Small()
	m := mustNew(t, cfg)
	for _, tc := range []struct {
		path    string
		in, out int
	}{
		{"embeddings", 0, cfg.Hidden},
		{"encoder", cfg.Hidden, cfg.Hidden},
		{"encoder.layer.1", cfg.Hidden, cfg.Hidden},
		{"encoder.layer.0.attention", cfg.Hidden, cfg.Hidden},
		{"encoder.layer.0.attention.self", cfg.Hidden, cfg.Hidden},
		{"encoder.layer.0.intermediate", cfg.Hidden, cfg.Intermediate},
		{"encoder.layer.0.output", cfg.Intermediate, cfg.Hidden},
		{"pooler", cfg.Hidden, cfg.Hidden},
		{"classifier", cfg.Hidden, cfg.Labels},
	} {
		slot, err := nn.Lookup(m, tc.path)
		if err != nil {
			t.Fatalf("Lookup %s: %v", tc.path, err)
		}
		if in, out := nn.InWidth(slot.Module()), nn.OutWidth(slot.Module()); in != tc.in || out != tc.out {
			t.Fatalf("%s widths %d->%d, want %d->%d", tc.path, in, out, tc.in, tc.out)
		}
	}
}
