package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/dggs-query/internal/cache/redisstore"
	"github.com/mohammed-shakir/dggs-query/internal/core/config"
	"github.com/mohammed-shakir/dggs-query/internal/core/health"
	"github.com/mohammed-shakir/dggs-query/internal/core/server"
	"github.com/mohammed-shakir/dggs-query/internal/dggs"
	"github.com/mohammed-shakir/dggs-query/internal/dggs/grids"
	"github.com/mohammed-shakir/dggs-query/internal/logger"
	"github.com/mohammed-shakir/dggs-query/internal/metrics"
	"github.com/mohammed-shakir/dggs-query/internal/store/zonestore"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.Log.Level,
		Console:   cfg.Log.Console,
		SampleN:   cfg.Log.SampleN,
		Component: "zoned",
		Grid:      cfg.Grid,
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	p := metrics.Init(metrics.Config{
		Enabled: true,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})

	idx, err := grids.New(cfg.Grid, cfg.GridMaxRes, cfg.ZoneMemoSize, appLog)
	if err != nil {
		appLog.Error("grid setup failed", "err", err)
		return 1
	}
	appLog.Info("starting zoned", "addr", cfg.Addr, "version", Version,
		"grid", idx.Name(), "resolutions", len(idx.Resolutions()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := map[string]health.Checker{}
	if cfg.Store.RedisAddr != "" {
		cli, err := redisstore.New(ctx, cfg.Store.RedisAddr)
		if err != nil {
			appLog.Error("redis connect failed", "addr", cfg.Store.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = cli.Close() }()
		deps["redis"] = cli

		store := zonestore.New(cli, dggs.DefaultSchema, zonestore.Config{
			OpTimeout:    cfg.Store.OpTimeout,
			MaxFanout:    cfg.Store.MaxFanout,
			SelectionTTL: cfg.Store.SelectionTTL,
		}, appLog)

		if cfg.Ingest.Enabled {
			r, shutdown, err := startIngest(ctx, cfg, idx, store, p, appLog, &zl)
			if err != nil {
				appLog.Error("ingest setup failed", "err", err)
				return 1
			}
			defer shutdown()
			deps["ingest"] = r
		}
	} else if cfg.Ingest.Enabled {
		appLog.Warn("ingest enabled without REDIS_ADDR; nothing to write to")
	}

	h := server.Routes(appLog, p.Handler(), deps)
	if err := server.Run(ctx, cfg.Addr, appLog, h); err != nil {
		appLog.Error("server stopped", "err", err)
		return 1
	}
	appLog.Info("zoned stopped")
	return 0
}
