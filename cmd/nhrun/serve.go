package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/samcharles93/nhrun/internal/api"
	"github.com/samcharles93/nhrun/internal/config"
	"github.com/samcharles93/nhrun/internal/logger"
	"github.com/samcharles93/nhrun/internal/runlock"
	"github.com/samcharles93/nhrun/internal/runmode"
	"github.com/samcharles93/nhrun/internal/version"
	"github.com/urfave/cli/v3"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the run dispatch API",
		Flags: append(engineFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			settings := LoadSettings()
			if settings.ServerAddress != "" && !cmd.IsSet("addr") {
				addr = settings.ServerAddress
			}

			opts := applyEngineSettings(cmd, settings)
			eng, err := newEngine(opts, log)
			if err != nil {
				return err
			}
			platform := hostPlatform()
			controller := &runmode.Controller{
				Store:    config.FileStore{},
				Engine:   eng,
				Platform: platform,
				Log:      log,
			}
			if opts.lock {
				controller.Locker = runlock.Files{}
			}

			server := api.NewServer(controller, api.NewRunStore(), platform)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "engine", opts.kind, "version", version.String())
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
