package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/graft/internal/resolve"
	"github.com/samcharles93/graft/pkg/graft"
	"github.com/samcharles93/graft/pkg/nn"
)

func targetsCmd() *cli.Command {
	var (
		recipePath string
		filter     string
	)

	return &cli.Command{
		Name:  "targets",
		Usage: "List the reference host's module paths and what a recipe would hook",
		Flags: append(hostFlags(),
			&cli.StringFlag{
				Name:        "recipe",
				Aliases:     []string{"r"},
				Usage:       "adapter recipe (yaml); adds a column of matching adapters",
				Destination: &recipePath,
			},
			&cli.StringFlag{
				Name:        "filter",
				Usage:       "only show paths containing this substring",
				Destination: &filter,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyHostConfig(cmd, LoadConfig())
			spec := currentHostSpec()
			var adapters []graft.Adapter
			if recipePath != "" {
				rh, ra, err := loadRecipe(recipePath)
				if err != nil {
					return err
				}
				if rh != nil {
					spec = *rh
				}
				adapters = ra
			}
			host, err := spec.build()
			if err != nil {
				return err
			}
			return renderTargets(os.Stdout, host, adapters, filter)
		},
	}
}

// renderTargets prints one row per module path. Adapters whose targets
// resolve to a path are listed next to it with the hook role they take.
func renderTargets(w io.Writer, host nn.Module, adapters []graft.Adapter, filter string) error {
	hits := map[string][]string{}
	for _, a := range adapters {
		pts, err := resolve.Config(host, a.Config)
		if err != nil {
			return fmt.Errorf("adapter %q: %w", a.Name, err)
		}
		targets := a.Config.Targets()
		for _, p := range pts {
			label := targets[p.Target].Label
			if label == "" {
				label = strings.ToLower(string(a.Config.Kind()))
			}
			hits[p.Path] = append(hits[p.Path], a.Name+":"+label)
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	header := table.Row{"path", "module"}
	if len(adapters) > 0 {
		header = append(header, "adapters")
	}
	t.AppendHeader(header)

	shown := 0
	err := nn.Walk(host, func(path string, slot *nn.Slot) error {
		if filter != "" && !strings.Contains(path, filter) {
			return nil
		}
		row := table.Row{path, moduleType(slot.Module())}
		if len(adapters) > 0 {
			row = append(row, strings.Join(hits[path], ", "))
		}
		t.AppendRow(row)
		shown++
		return nil
	})
	if err != nil {
		return err
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d paths)\n", shown)
	return nil
}

func moduleType(m nn.Module) string {
	name := fmt.Sprintf("%T", nn.Base(m))
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
