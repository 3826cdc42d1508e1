package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/graft/internal/logger"
	"github.com/samcharles93/graft/internal/safetensors"
	"github.com/samcharles93/graft/internal/tensor"
	"github.com/samcharles93/graft/pkg/graft"
)

// savedRecipe prepares twoAdapterRecipe and saves it to a fresh directory.
func savedRecipe(t *testing.T) (hostSpec, string) {
	t.Helper()
	host, adapters, err := parseRecipe([]byte(twoAdapterRecipe))
	if err != nil {
		t.Fatalf("parseRecipe: %v", err)
	}
	dir := t.TempDir()
	if _, err := prepareAndSave(*host, adapters, dir, safetensors.DTypeF32, logger.Nop()); err != nil {
		t.Fatalf("prepareAndSave: %v", err)
	}
	return *host, dir
}

func TestPrepareThenInspect(t *testing.T) {
	_, dir := savedRecipe(t)

	rows, err := summarize(dir)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len(rows) != 2 || rows[0].Name != "style" || rows[1].Name != "side" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	style := rows[0]
	// one layer, query and value, A is 2x16 and B is 16x2
	if style.Kind != "LORA" || style.Tensors != 4 || style.Params != 128 || style.DType != safetensors.DTypeF32 {
		t.Fatalf("unexpected style summary: %+v", style)
	}
	if style.Bytes != 128*4 || style.Files <= style.Bytes {
		t.Fatalf("unexpected sizes: %+v", style)
	}
	if rows[1].Params == 0 {
		t.Fatalf("side adapter has no parameters")
	}

	var buf bytes.Buffer
	renderSummary(&buf, rows)
	renderTensors(&buf, rows)
	out := buf.String()
	for _, want := range []string{"style", "side", "LORA", "SIDE", "encoder.layer.0.attention.self.query.lora_A"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary is missing %q:\n%s", want, out)
		}
	}
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	spec, dir := savedRecipe(t)
	m, err := loadModel(spec, dir, nil, logger.Nop())
	if err != nil {
		t.Fatalf("loadModel: %v", err)
	}

	var buf bytes.Buffer
	if err := evaluate(ctx, &buf, m, []int{1, 2, 3}, nil, true); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "active") || !strings.HasPrefix(lines[1], "base") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}

	buf.Reset()
	if err := evaluate(ctx, &buf, m, []int{1, 2, 3}, []string{}, false); err != nil {
		t.Fatalf("evaluate base: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "[]") {
		t.Fatalf("unexpected base label: %q", buf.String())
	}

	err = evaluate(ctx, &buf, m, []int{1}, []string{"ghost"}, false)
	if !errors.Is(err, graft.ErrUnknownAdapterName) {
		t.Fatalf("expected unknown adapter error, got %v", err)
	}
}

func TestMergeAndExport(t *testing.T) {
	ctx := context.Background()
	spec, dir := savedRecipe(t)

	m, err := loadModel(spec, dir, []string{"style"}, logger.Nop())
	if err != nil {
		t.Fatalf("loadModel: %v", err)
	}
	out := filepath.Join(t.TempDir(), "merged", "host.safetensors")
	diff, err := mergeAndExport(ctx, m, []string{"style", "style"}, out, safetensors.DTypeF32)
	if err != nil {
		t.Fatalf("mergeAndExport: %v", err)
	}
	if diff > 1e-3 {
		t.Fatalf("merge changed the output by %g", diff)
	}
	if len(m.Adapters()) != 0 {
		t.Fatalf("merged adapters should be unloaded: %v", m.Adapters())
	}

	f, err := safetensors.Open(out)
	if err != nil {
		t.Fatalf("open merged: %v", err)
	}
	defer func() { _ = f.Close() }()
	if f.Metadata["merged"] != "style" {
		t.Fatalf("unexpected metadata: %v", f.Metadata)
	}
	got, err := f.ReadMat("encoder.layer.0.attention.self.query.weight")
	if err != nil {
		t.Fatalf("read merged query: %v", err)
	}
	fresh, err := spec.build()
	if err != nil {
		t.Fatalf("build host: %v", err)
	}
	var orig *tensor.Mat
	for _, w := range hostWeights(fresh) {
		if w.Name == "encoder.layer.0.attention.self.query.weight" {
			orig = w.Mat
		}
	}
	if orig == nil || tensor.Equal(orig, got) {
		t.Fatalf("merged query weight should differ from the base weight")
	}
	if _, ok := f.Tensors["classifier.bias"]; !ok {
		t.Fatalf("host export is missing classifier.bias")
	}

	both, err := loadModel(spec, dir, nil, logger.Nop())
	if err != nil {
		t.Fatalf("loadModel: %v", err)
	}
	_, err = mergeAndExport(ctx, both, nil, filepath.Join(t.TempDir(), "x.safetensors"), safetensors.DTypeF32)
	if !errors.Is(err, graft.ErrUnmergeableKind) {
		t.Fatalf("expected unmergeable kind error, got %v", err)
	}
	if len(both.Adapters()) != 2 {
		t.Fatalf("failed merge should keep every adapter: %v", both.Adapters())
	}
}

func TestRenderTargets(t *testing.T) {
	host, adapters, err := parseRecipe([]byte(twoAdapterRecipe))
	if err != nil {
		t.Fatalf("parseRecipe: %v", err)
	}
	m, err := host.build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var buf bytes.Buffer
	if err := renderTargets(&buf, m, adapters, "attention.self"); err != nil {
		t.Fatalf("renderTargets: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"encoder.layer.0.attention.self.query", "style:target_modules", "Linear", "(4 paths)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("targets output is missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "pooler") {
		t.Fatalf("filter was ignored:\n%s", out)
	}
}
