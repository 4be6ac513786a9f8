// Package httpapi exposes the read-only operator surface: health checks
// and the current active-bot count. Stored scheduler run summaries and
// bot execution rows are not served. The user-facing CRUD/dashboard
// surface is an external collaborator and out of scope here.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"dcabot/internal/core"
	"dcabot/internal/infrastructure/health"
	"dcabot/internal/ledger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the internal ops HTTP surface (component health + active-bot count).
type Server struct {
	addr    string
	router  chi.Router
	httpSrv *http.Server
	logger  core.Logger
}

// New builds a Server that serves /healthz from the health manager and
// /runs as {"activeBots": n}, the number of bots store.ActiveBots returns.
func New(addr string, healthMgr *health.HealthManager, store ledger.Store, logger core.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if healthMgr.IsHealthy() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(healthMgr.GetStatus())
	})

	r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		bots, err := store.ActiveBots(req.Context())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"activeBots": len(bots)})
	})

	return &Server{
		addr:   addr,
		router: r,
		logger: logger.WithField("component", "httpapi"),
	}
}

// Run implements bootstrap.Runner.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
