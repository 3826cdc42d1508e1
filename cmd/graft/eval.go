package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/graft/internal/logger"
	"github.com/samcharles93/graft/internal/tensor"
	"github.com/samcharles93/graft/internal/toy"
	"github.com/samcharles93/graft/pkg/graft"
)

func evalCmd() *cli.Command {
	var (
		base    bool
		compare bool
	)

	return &cli.Command{
		Name:      "eval",
		Usage:     "Load saved adapters into the reference host and run token ids through it",
		ArgsUsage: "<id> [id...]",
		Flags: append(hostFlags(),
			adaptersDirFlag(true),
			&cli.StringSliceFlag{
				Name:    "adapters",
				Aliases: []string{"a"},
				Usage:   "adapters active for this forward (default: every loaded adapter)",
			},
			&cli.BoolFlag{
				Name:        "base",
				Usage:       "run with no adapter active",
				Destination: &base,
			},
			&cli.BoolFlag{
				Name:        "compare",
				Usage:       "also print the base model's output",
				Destination: &compare,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyHostConfig(cmd, LoadConfig())
			dir, err := resolveAdaptersDir(adaptersDir, false)
			if err != nil {
				return err
			}
			ids, err := parseIDs(cmd.Args().Slice())
			if err != nil {
				return err
			}
			m, err := loadModel(currentHostSpec(), dir, nil, log)
			if err != nil {
				return err
			}

			var selection []string
			switch {
			case base:
				selection = []string{}
			case cmd.IsSet("adapters"):
				selection = splitNames(cmd.StringSlice("adapters"))
			}
			return evaluate(ctx, os.Stdout, m, ids, selection, compare)
		},
	}
}

func loadModel(spec hostSpec, dir string, names []string, log logger.Logger) (*graft.Model, error) {
	host, err := spec.build()
	if err != nil {
		return nil, err
	}
	m := graft.New(host, graft.WithLogger(log))
	if err := m.Load(dir, names...); err != nil {
		return nil, err
	}
	return m, nil
}

func parseIDs(args []string) ([]int, error) {
	var ids []int
	for _, a := range args {
		for _, f := range strings.FieldsFunc(a, func(r rune) bool { return r == ',' || r == ' ' }) {
			id, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("token id %q: %w", f, err)
			}
			if id < 0 {
				return nil, fmt.Errorf("token id %d is negative", id)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("no token ids given")
	}
	return ids, nil
}

// evaluate runs one forward. A nil selection uses the global activation
// state; an empty one runs the base model.
func evaluate(ctx context.Context, w io.Writer, m *graft.Model, ids []int, selection []string, compare bool) error {
	label := "active"
	if selection != nil {
		var err error
		ctx, err = m.WithActiveAdapters(ctx, selection...)
		if err != nil {
			return err
		}
		label = "[" + strings.Join(selection, ",") + "]"
	}
	out, err := m.Forward(ctx, toy.Inputs(ids...))
	if err != nil {
		return err
	}
	printRow(w, label, out.At(0))

	if compare {
		bctx, err := m.WithActiveAdapters(ctx)
		if err != nil {
			return err
		}
		ref, err := m.Forward(bctx, toy.Inputs(ids...))
		if err != nil {
			return err
		}
		printRow(w, "base", ref.At(0))
		_, _ = fmt.Fprintf(w, "max |diff| %.6g\n", tensor.MaxAbsDiff(out.At(0), ref.At(0)))
	}
	return nil
}

func printRow(w io.Writer, label string, m *tensor.Mat) {
	parts := make([]string, len(m.Data))
	for i, v := range m.Data {
		parts[i] = strconv.FormatFloat(float64(v), 'f', 6, 32)
	}
	_, _ = fmt.Fprintf(w, "%-10s %s\n", label, strings.Join(parts, " "))
}
