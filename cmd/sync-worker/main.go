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
	"github.com/dropDatabas3/syncmesh/internal/observability/logger"
)

var version = "dev"

// Daemon de replicación sin API: útil para separar el plano de datos
// del plano de administración.
func main() {
	var (
		cfgPath = flag.String("config", envOr("SYNCMESH_CONFIG", "config.yaml"), "ruta del config YAML")
		once    = flag.Bool("once", false, "una sola pasada de todos los flujos y salir")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		ServiceName: "sync-worker",
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

	if *once {
		if err := a.Worker.RunAll(ctx); err != nil {
			logger.L().Fatal("one-shot run failed", logger.Err(err))
		}
		return
	}

	if err := a.Worker.Run(ctx); err != nil && ctx.Err() == nil {
		logger.L().Fatal("worker failed", logger.Err(err))
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
