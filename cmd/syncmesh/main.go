package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dropDatabas3/syncmesh/internal/app"
	"github.com/dropDatabas3/syncmesh/internal/config"
	httpx "github.com/dropDatabas3/syncmesh/internal/http"
	"github.com/dropDatabas3/syncmesh/internal/observability/logger"
)

var version = "dev"

func main() {
	var (
		cfgPath    = flag.String("config", envOr("SYNCMESH_CONFIG", "config.yaml"), "ruta del config YAML")
		withWorker = flag.Bool("worker", true, "correr el replicador embebido junto con la API")
	)
	flag.Parse()

	// .env es opcional; las env vars pisan el YAML
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		ServiceName: "syncmesh",
		Version:     version,
	})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.L().Fatal("bootstrap failed", logger.Err(err))
	}
	defer a.Close()

	if *withWorker {
		go func() {
			if err := a.Worker.Run(ctx); err != nil && ctx.Err() == nil {
				logger.L().Error("worker stopped", logger.Err(err))
			}
		}()
	}

	logger.L().Info("api listening",
		logger.String("addr", cfg.Server.Addr),
		logger.String("hub", cfg.Hub),
		logger.Int("replicas", len(cfg.Replicas)))

	if err := httpx.Start(ctx, cfg.Server.Addr, a.Router()); err != nil {
		logger.L().Fatal("server failed", logger.Err(err))
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
