// Command poolserver runs a pgpool connection pool against a
// PostgreSQL server and exposes it over HTTP for operational use:
// statistics, health checks, liveness probing and live resizing.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/guileen/pgpool/logger"
	"github.com/guileen/pgpool/pgxconn"
	"github.com/guileen/pgpool/pool"
)

func main() {
	var (
		addr     = flag.String("addr", ":8080", "listen address")
		connInfo = flag.String("conninfo", os.Getenv("DATABASE_URL"), "PostgreSQL conninfo")
		name     = flag.String("name", "", "pool name (generated if empty)")
		minSize  = flag.Int("min-size", 4, "minimum pool size")
		maxSize  = flag.Int("max-size", 0, "maximum pool size (defaults to min-size)")
		workers  = flag.Int("workers", 0, "maintenance workers (default 3)")
	)
	flag.Parse()

	p, err := pgxconn.NewPool(*connInfo, pool.Config{
		Name:       *name,
		MinSize:    *minSize,
		MaxSize:    *maxSize,
		NumWorkers: *workers,
	})
	if err != nil {
		logger.Error("cannot create pool", logger.ErrorField(err))
		os.Exit(1)
	}
	defer p.Close()
	logger.Info("pool started", "pool", p.Name(), "min_size", p.MinSize(), "max_size", p.MaxSize())

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Get("/stats", statsHandler(p.GetStats))
	r.Post("/stats/pop", statsHandler(p.PopStats))
	r.Post("/check", func(w http.ResponseWriter, r *http.Request) {
		p.Check(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/resize", resizeHandler(p))
	r.Get("/healthz", healthHandler(p))

	server := &http.Server{
		Addr:    *addr,
		Handler: r,
	}
	go func() {
		logger.Info("http server listening", "addr", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", logger.ErrorField(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown failed", logger.ErrorField(err))
	}
}

// requestID tags every request with a uuid usable for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := logger.WithRequestID(r.Context(), id)
		logger.InfoContext(ctx, "request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func statsHandler(stats func() map[string]int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats()); err != nil {
			logger.WarnContext(r.Context(), "cannot encode stats", logger.ErrorField(err))
		}
	}
}

func resizeHandler(p *pool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		minSize, err := strconv.Atoi(r.URL.Query().Get("min"))
		if err != nil {
			http.Error(w, "invalid min", http.StatusBadRequest)
			return
		}
		maxSize, err := strconv.Atoi(r.URL.Query().Get("max"))
		if err != nil {
			http.Error(w, "invalid max", http.StatusBadRequest)
			return
		}
		if err := p.Resize(minSize, maxSize); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func healthHandler(p *pool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := p.Get(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer func() {
			if err := conn.Release(); err != nil {
				logger.WarnContext(r.Context(), "release failed", logger.ErrorField(err))
			}
		}()
		if err := conn.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok\n"))
	}
}
