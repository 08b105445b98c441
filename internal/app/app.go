// Package app arma el grafo de componentes del servicio a partir de la
// configuración: réplicas, cache, worker, notificaciones y API HTTP.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dropDatabas3/syncmesh/internal/cache"
	cachemem "github.com/dropDatabas3/syncmesh/internal/cache/memory"
	cacheredis "github.com/dropDatabas3/syncmesh/internal/cache/redis"
	"github.com/dropDatabas3/syncmesh/internal/config"
	"github.com/dropDatabas3/syncmesh/internal/conflict"
	"github.com/dropDatabas3/syncmesh/internal/conflictlink"
	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
	"github.com/dropDatabas3/syncmesh/internal/email"
	httpx "github.com/dropDatabas3/syncmesh/internal/http"
	"github.com/dropDatabas3/syncmesh/internal/http/handlers"
	"github.com/dropDatabas3/syncmesh/internal/metrics"
	"github.com/dropDatabas3/syncmesh/internal/observability/logger"
	"github.com/dropDatabas3/syncmesh/internal/store"
	syncx "github.com/dropDatabas3/syncmesh/internal/sync"

	// Adapters registrados vía init().
	_ "github.com/dropDatabas3/syncmesh/internal/store/adapters/memory"
	_ "github.com/dropDatabas3/syncmesh/internal/store/adapters/pg"
	_ "github.com/dropDatabas3/syncmesh/internal/store/adapters/sqlite"
)

// App es el grafo armado. Los cmd/ lo usan entero (API) o en parte
// (worker standalone).
type App struct {
	Cfg *config.Config

	Hub      store.Connection
	Replicas map[string]repository.ReplicaStore
	Edges    map[string]repository.EdgeStore

	Conflicts repository.ConflictStore
	Cursors   repository.CursorStore
	Configs   repository.SyncConfigStore
	Stats     repository.StatsStore

	Cache    cache.Cache
	Links    *conflictlink.Issuer
	Notifier *email.Notifier // nil si email deshabilitado

	ConflictSvc *conflict.Service
	Worker      *syncx.Worker

	Registry *prometheus.Registry
}

// New abre las réplicas y cablea los componentes. El caller es dueño
// del ciclo de vida: llamar Close al terminar.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Cfg:      cfg,
		Replicas: map[string]repository.ReplicaStore{},
		Edges:    map[string]repository.EdgeStore{},
	}

	conns := map[string]store.Connection{}
	for name, rc := range cfg.Replicas {
		conn, err := store.Open(ctx, store.AdapterConfig{
			Name:        rc.Driver,
			ReplicaName: name,
			Code:        rc.Code,
			DSN:         rc.DSN,
			Migrate:     true,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("opening replica %s: %w", name, err)
		}
		conns[name] = conn
		a.Replicas[name] = conn

		if name != cfg.Hub {
			edge, ok := conn.(repository.EdgeStore)
			if !ok {
				a.Close()
				return nil, fmt.Errorf("replica %s (%s) cannot act as edge: no sync_log support", name, rc.Driver)
			}
			a.Edges[name] = edge
		}
	}

	a.Hub = conns[cfg.Hub]
	a.Conflicts = a.Hub.Conflicts()
	a.Cursors = a.Hub.Cursors()
	a.Configs = a.Hub.Configs()
	a.Stats = a.Hub.Stats()
	if a.Conflicts == nil || a.Cursors == nil || a.Configs == nil || a.Stats == nil {
		a.Close()
		return nil, fmt.Errorf("hub replica %s (%s) does not support control stores", cfg.Hub, cfg.Replicas[cfg.Hub].Driver)
	}

	switch cfg.Cache.Kind {
	case "redis":
		a.Cache = cacheredis.New(cfg.Cache.Redis.Addr, cfg.Cache.Redis.DB, cfg.Cache.Redis.Prefix)
	default:
		ttl, _ := time.ParseDuration(cfg.Cache.Memory.DefaultTTL)
		a.Cache = cachemem.New(ttl)
	}

	secret := cfg.JWT.Secret
	if secret == "" {
		// dev only; Validate lo exige en prod
		secret = "syncmesh-dev-secret"
		logger.L().Warn("jwt.secret empty, using dev secret")
	}
	a.Links = conflictlink.NewIssuer(secret, cfg.JWT.Issuer, cfg.LinkTTL(), cfg.SessionTTL(), a.Cache)

	if cfg.Email.Enabled {
		tpl, err := email.LoadTemplates(cfg.Email.TemplatesDir)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("loading email templates: %w", err)
		}
		sender := email.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)
		sender.TLSMode = cfg.SMTP.TLS
		sender.InsecureSkipVerify = cfg.SMTP.InsecureSkipVerify
		a.Notifier = email.NewNotifier(sender, a.Links, tpl, cfg.Email.BaseURL, cfg.Email.NotifyTo, cfg.LinkTTL())
	}

	a.ConflictSvc = conflict.NewService(a.Conflicts, a.Replicas)

	var notifier syncx.ConflictNotifier
	if a.Notifier != nil {
		notifier = a.Notifier
	}
	a.Worker = syncx.New(syncx.Options{
		BatchSize:       cfg.Sync.BatchSize,
		PollInterval:    cfg.PollInterval(),
		ApplyTimeout:    cfg.ApplyTimeout(),
		FailedSkipAfter: cfg.Sync.FailedSkipAfter,
	}, a.Replicas, a.Edges, a.Cursors, a.Conflicts, a.Configs, a.Stats, notifier)

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector())
	a.Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterSync(a.Registry)

	return a, nil
}

// Router arma el handler HTTP completo de la API de administración.
func (a *App) Router() http.Handler {
	conflicts := &handlers.ConflictsHandler{
		Svc:    a.ConflictSvc,
		Links:  a.Links,
		APIKey: a.Cfg.Server.AdminAPIKey,
	}
	magic := &handlers.MagicHandler{Links: a.Links}
	configs := &handlers.ConfigsHandler{Configs: a.Configs, Replicas: a.Replicas}
	ops := &handlers.SyncOpsHandler{
		Configs:   a.Configs,
		Cursors:   a.Cursors,
		Conflicts: a.Conflicts,
		Stats:     a.Stats,
		Edges:     a.Edges,
	}

	return httpx.NewRouter(httpx.RouterOptions{
		APIKey:         a.Cfg.Server.AdminAPIKey,
		AllowedOrigins: a.Cfg.Server.CORSAllowedOrigins,
		Registry:       a.Registry,
		Replicas:       a.Replicas,
		Public:         []httpx.Registrar{magic, conflicts},
		Admin:          []httpx.Registrar{configs, ops},
	})
}

// Close cierra todas las réplicas abiertas.
func (a *App) Close() {
	for name, r := range a.Replicas {
		if err := r.Close(); err != nil {
			logger.L().Warn("closing replica", logger.Replica(name), logger.Err(err))
		}
	}
}
