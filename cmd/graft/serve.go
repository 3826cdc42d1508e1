package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/graft/internal/api"
	"github.com/samcharles93/graft/internal/logger"
	"github.com/samcharles93/graft/internal/metrics"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve forwards over HTTP with per-request adapter selection",
		Flags: append(hostFlags(),
			adaptersDirFlag(true),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := LoadConfig()
			applyHostConfig(cmd, cfg)
			applyServeConfig(cmd, cfg, &addr)

			dir, err := resolveAdaptersDir(adaptersDir, false)
			if err != nil {
				return err
			}
			m, err := loadModel(currentHostSpec(), dir, nil, log)
			if err != nil {
				return err
			}

			server := api.NewServer(m, metrics.New(), log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "adapters", m.Adapters())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
