package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/graft/internal/safetensors"
	"github.com/samcharles93/graft/pkg/graft"
	"github.com/samcharles93/graft/pkg/tuner"
)

type summaryRow struct {
	Name    string
	Kind    tuner.Kind
	DType   string
	Tensors int
	Params  int64
	Bytes   int64
	Files   int64
	tensors []tensorRow
}

type tensorRow struct {
	Name  string
	DType string
	Shape []int
	Bytes int64
}

func inspectCmd() *cli.Command {
	var showTensors bool

	return &cli.Command{
		Name:  "inspect",
		Usage: "Summarise the adapters saved in a directory",
		Flags: []cli.Flag{
			adaptersDirFlag(true),
			&cli.BoolFlag{
				Name:        "tensors",
				Aliases:     []string{"t"},
				Usage:       "list every stored tensor",
				Destination: &showTensors,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyHostConfig(cmd, LoadConfig())
			dir, err := resolveAdaptersDir(adaptersDir, false)
			if err != nil {
				return err
			}
			if man, err := graft.ReadManifest(dir); err == nil {
				fmt.Printf("save %s  dtype %s\n", man.SaveID, man.DType)
			}
			rows, err := summarize(dir)
			if err != nil {
				return err
			}
			renderSummary(os.Stdout, rows)
			if showTensors {
				renderTensors(os.Stdout, rows)
			}
			return nil
		},
	}
}

// summarize reads the config and weight header of every adapter saved in dir.
func summarize(dir string) ([]summaryRow, error) {
	names, err := graft.SavedAdapters(dir)
	if err != nil {
		return nil, err
	}
	rows := make([]summaryRow, 0, len(names))
	for _, name := range names {
		row, err := summarizeAdapter(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("adapter %q: %w", name, err)
		}
		row.Name = name
		rows = append(rows, row)
	}
	return rows, nil
}

func summarizeAdapter(dir string) (summaryRow, error) {
	var row summaryRow
	raw, err := os.ReadFile(filepath.Join(dir, graft.ConfigFile))
	if err != nil {
		return row, err
	}
	cfg, err := tuner.UnmarshalConfig(raw)
	if err != nil {
		return row, err
	}
	row.Kind = cfg.Kind()

	weights := filepath.Join(dir, graft.WeightsFile)
	st, err := os.Stat(weights)
	if err != nil {
		return row, err
	}
	row.Files = st.Size() + int64(len(raw))

	f, err := safetensors.Open(weights)
	if err != nil {
		return row, err
	}
	defer func() { _ = f.Close() }()

	names := make([]string, 0, len(f.Tensors))
	for n := range f.Tensors {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		info := f.Tensors[n]
		elems := int64(1)
		for _, d := range info.Shape {
			elems *= int64(d)
		}
		row.Params += elems
		row.Bytes += info.End - info.Start
		row.DType = info.DType
		row.tensors = append(row.tensors, tensorRow{Name: n, DType: info.DType, Shape: info.Shape, Bytes: info.End - info.Start})
	}
	row.Tensors = len(names)
	return row, nil
}

func renderSummary(w io.Writer, rows []summaryRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"adapter", "kind", "dtype", "tensors", "params", "weights", "on disk"})
	var params int64
	for _, r := range rows {
		t.AppendRow(table.Row{
			r.Name, r.Kind, r.DType, r.Tensors,
			humanize.Comma(r.Params),
			humanize.Bytes(uint64(r.Bytes)),
			humanize.Bytes(uint64(r.Files)),
		})
		params += r.Params
	}
	t.AppendFooter(table.Row{"", "", "", "", humanize.Comma(params), "", ""})
	t.Render()
}

func renderTensors(w io.Writer, rows []summaryRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"adapter", "tensor", "dtype", "shape", "size"})
	for _, r := range rows {
		for _, tr := range r.tensors {
			t.AppendRow(table.Row{r.Name, tr.Name, tr.DType, fmt.Sprint(tr.Shape), humanize.Bytes(uint64(tr.Bytes))})
		}
	}
	t.Render()
}
