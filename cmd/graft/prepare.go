package main

import (
	"context"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/graft/internal/logger"
	"github.com/samcharles93/graft/internal/safetensors"
	"github.com/samcharles93/graft/pkg/graft"
)

func prepareCmd() *cli.Command {
	var (
		recipePath string
		dtype      string
	)

	return &cli.Command{
		Name:  "prepare",
		Usage: "Inject the adapters of a recipe into the reference host and save them",
		Flags: append(hostFlags(),
			adaptersDirFlag(true),
			&cli.StringFlag{
				Name:        "recipe",
				Aliases:     []string{"r"},
				Usage:       "adapter recipe (yaml)",
				Required:    true,
				Destination: &recipePath,
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

			dir, err := resolveAdaptersDir(adaptersDir, true)
			if err != nil {
				return err
			}
			rh, adapters, err := loadRecipe(recipePath)
			if err != nil {
				return err
			}
			spec := currentHostSpec()
			if rh != nil {
				spec = *rh
			}
			m, err := prepareAndSave(spec, adapters, dir, strings.ToUpper(dtype), log)
			if err != nil {
				return err
			}
			log.Info("saved adapters", "dir", dir, "adapters", m.Adapters())
			rows, err := summarize(dir)
			if err != nil {
				return err
			}
			renderSummary(os.Stdout, rows)
			return nil
		},
	}
}

func prepareAndSave(spec hostSpec, adapters []graft.Adapter, dir, dtype string, log logger.Logger) (*graft.Model, error) {
	host, err := spec.build()
	if err != nil {
		return nil, err
	}
	m := graft.New(host, graft.WithLogger(log))
	if err := m.Prepare(adapters...); err != nil {
		return nil, err
	}
	if err := m.SaveWith(dir, graft.SaveOptions{DType: dtype}); err != nil {
		return nil, err
	}
	return m, nil
}
