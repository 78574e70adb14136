package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dit/internal/api"
	"github.com/samcharles93/dit/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		bf          blockFlags
		addr        string
		readTimeout time.Duration
		maxRuns     int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve a block stack over HTTP",
		Flags: append(commonBlockFlags(&bf),
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
			&cli.Int64Flag{
				Name:        "max-runs",
				Usage:       "stored forward results kept for /v1/runs",
				Value:       api.DefaultRunCapacity,
				Destination: &maxRuns,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			fileCfg := LoadConfig()
			applyModelConfig(cmd, fileCfg)
			applyServeConfig(cmd, fileCfg, &addr)
			cfg, err := resolveBlockConfig(fileCfg, blockConfigPath, &bf, cmd.IsSet)
			if err != nil {
				return err
			}
			model, err := buildModel(ctx, cfg, seed, weightDType, adaLNZero)
			if err != nil {
				return err
			}

			server := api.NewServer(model, api.NewRunStore(int(maxRuns)), log.WithGroup("api"))
			e := echo.New()
			e.Use(api.RequestID)
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "blocks", cfg.NumBlocks, "moe", cfg.UseMoE)
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
