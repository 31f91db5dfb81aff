package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/yuku/dbcon"
	"github.com/yuku/dbcon/config"
	"github.com/yuku/dbcon/metrics"
)

func serve(ctx context.Context, src config.Source, log zerolog.Logger, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", ":9090", "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry := dbcon.NewRegistry(
		dbcon.WithSource(src),
		dbcon.WithLogger(log),
		dbcon.WithObserver(metrics.New(reg)),
	)
	defer registry.Close()
	reg.MustRegister(metrics.NewCollector(registry))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newRouter(registry, reg, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", *addr).Msg("serving pool metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

type poolInfo struct {
	Name   string `json:"name"`
	Loaded bool   `json:"loaded"`
	Active int    `json:"active,omitempty"`
	Idle   int    `json:"idle,omitempty"`
}

func newRouter(registry *dbcon.Registry, gatherer prometheus.Gatherer, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/pools", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			names, err := registry.AvailableNames()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			infos := make([]poolInfo, 0, len(names))
			for _, name := range names {
				info := poolInfo{Name: name}
				if s, ok := registry.PoolStats(name); ok {
					info.Loaded, info.Active, info.Idle = true, s.Active, s.Idle
				}
				infos = append(infos, info)
			}
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(infos); err != nil {
				log.Warn().Err(err).Msg("failed to write pool list")
			}
		})

		r.Get("/{name}", func(w http.ResponseWriter, req *http.Request) {
			name := chi.URLParam(req, "name")
			if !registry.IsSynonymKnown(name) {
				http.NotFound(w, req)
				return
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = io.WriteString(w, registry.PoolStatus(name))
		})

		r.Delete("/{name}", func(w http.ResponseWriter, req *http.Request) {
			name := chi.URLParam(req, "name")
			registry.DestroyNamedPool(name)
			log.Info().Str("synonym", name).Msg("pool destroyed on request")
			w.WriteHeader(http.StatusNoContent)
		})
	})

	return r
}
