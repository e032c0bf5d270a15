package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jwttoken "wwwallet/internal/jwt_token"
	"wwwallet/internal/notify"
	"wwwallet/internal/platform/config"
	"wwwallet/internal/platform/httpserver"
	"wwwallet/internal/platform/logger"
	"wwwallet/internal/platform/metrics"
	"wwwallet/internal/platform/postgres"
	"wwwallet/internal/platform/redis"
	"wwwallet/internal/privatedata"
	"wwwallet/internal/privatedata/handler"
	"wwwallet/internal/privatedata/store"
	"wwwallet/pkg/platform/httputil"
)

// main wires the private data server: a store backend, the versioned
// private data routes, optional change notifications and /metrics.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

type healthFunc func(context.Context) error

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	blobs, health, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	opts := []handler.Option{handler.WithMaxBlobBytes(cfg.MaxBlobBytes)}

	if cfg.Kafka.Enabled() {
		publisher, err := notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, notify.WithLogger(log))
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := publisher.Close(closeCtx); err != nil {
				log.Warn("kafka publisher close failed", "error", err)
			}
		}()
		if err := publisher.EnsureTopic(ctx, 3, 1); err != nil {
			log.Warn("could not ensure notification topic", "topic", cfg.Kafka.Topic, "error", err)
		}
		opts = append(opts, handler.WithPublisher(publisher))
		log.Info("change notifications enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	h := handler.New(blobs, jwttoken.NewJWTServiceAdapter(jwtService), log, m, opts...)

	r := chi.NewRouter()
	h.Register(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := health(r.Context()); err != nil {
			log.WarnContext(r.Context(), "health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	srv := httpserver.New(cfg.Addr, r)
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting private data server", "addr", cfg.Addr, "storage", cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Server, log *slog.Logger) (privatedata.Store, healthFunc, func(), error) {
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		s := store.NewPostgresStore(db)
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return s, db.PingContext, func() { db.Close() }, nil
	case config.StorageRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, nil, err
		}
		return store.NewRedisStore(client.Client), client.Health, func() { client.Close() }, nil
	default:
		log.Warn("using in-memory storage; private data is lost on restart")
		return store.NewInMemoryStore(), func(context.Context) error { return nil }, func() {}, nil
	}
}
