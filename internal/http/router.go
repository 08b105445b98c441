package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
)

// Registrar es un handler que sabe montar sus rutas.
type Registrar interface {
	Register(r chi.Router)
}

// RouterOptions arma el router completo de la API.
type RouterOptions struct {
	APIKey         string
	AllowedOrigins []string
	Registry       *prometheus.Registry

	// Replicas se usa para el readiness probe.
	Replicas map[string]repository.ReplicaStore

	// Public se monta sin autenticación (magic link, conflictos con
	// auth propia); Admin detrás de la API key.
	Public []Registrar
	Admin  []Registrar
}

func NewRouter(opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", readyz(opts.Replicas))

	if opts.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}

	for _, h := range opts.Public {
		h.Register(r)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequireAdmin(opts.APIKey))
		for _, h := range opts.Admin {
			h.Register(r)
		}
	})

	var out http.Handler = r
	out = WithLogging(out)
	out = WithRecover(out)
	out = WithCORS(out, opts.AllowedOrigins)
	out = WithRequestID(out)
	return out
}

// readyz responde 200 solo si todas las réplicas contestan el ping.
func readyz(replicas map[string]repository.ReplicaStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		for name, rep := range replicas {
			if err := rep.Ping(ctx); err != nil {
				WriteError(w, http.StatusServiceUnavailable, "not_ready", "replica "+name+": "+err.Error())
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

// Start levanta el servidor y lo apaga con gracia cuando ctx termina.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	}
}
