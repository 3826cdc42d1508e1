package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/graft/internal/logger"
	"github.com/samcharles93/graft/internal/safetensors"
	"github.com/samcharles93/graft/internal/tensor"
	"github.com/samcharles93/graft/internal/toy"
	"github.com/samcharles93/graft/pkg/graft"
)

// probeIDs is the input used to check that a merge preserved the output.
var probeIDs = []int{1, 2, 3, 4}

func mergeCmd() *cli.Command {
	var (
		out   string
		dtype string
	)

	return &cli.Command{
		Name:  "merge",
		Usage: "Fold saved LoRA adapters into the reference host and write its weights",
		Flags: append(hostFlags(),
			adaptersDirFlag(true),
			&cli.StringSliceFlag{
				Name:    "adapters",
				Aliases: []string{"a"},
				Usage:   "adapters to merge (default: all saved)",
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output safetensors file for the merged host",
				Required:    true,
				Destination: &out,
			},
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "weight dtype on disk (F32, BF16)",
				Value:       safetensors.DTypeF32,
				Destination: &dtype,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := LoadConfig()
			applyHostConfig(cmd, cfg)
			applyDTypeConfig(cmd, cfg, &dtype)
			dir, err := resolveAdaptersDir(adaptersDir, false)
			if err != nil {
				return err
			}
			names := splitNames(cmd.StringSlice("adapters"))
			m, err := loadModel(currentHostSpec(), dir, names, log)
			if err != nil {
				return err
			}
			diff, err := mergeAndExport(ctx, m, names, filepath.Clean(out), strings.ToUpper(dtype))
			if err != nil {
				return err
			}
			log.Info("wrote merged host", "path", out, "max_diff", diff)
			return reportMerge(os.Stdout, out, diff)
		},
	}
}

// mergeAndExport merges names (all when empty) into the host, checks the
// output on a probe input against the unmerged model and writes the host
// weights to path. It returns the largest output deviation.
func mergeAndExport(ctx context.Context, m *graft.Model, names []string, path, dtype string) (float64, error) {
	before, err := m.Forward(ctx, toy.Inputs(probeIDs...))
	if err != nil {
		return 0, err
	}
	names = splitNames(names)
	if len(names) == 0 {
		names = m.Adapters()
	}
	if err := m.MergeAndUnload(names...); err != nil {
		return 0, err
	}
	after, err := m.Forward(ctx, toy.Inputs(probeIDs...))
	if err != nil {
		return 0, err
	}
	meta := map[string]string{"format": "graft", "merged": strings.Join(names, ",")}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	if err := safetensors.Write(path, hostWeights(m.Host()), dtype, meta); err != nil {
		return 0, err
	}
	return tensor.MaxAbsDiff(before.At(0), after.At(0)), nil
}

func reportMerge(w io.Writer, path string, diff float64) error {
	_, err := fmt.Fprintf(w, "merged host written to %s (probe max |diff| %.3g)\n", path, diff)
	return err
}
