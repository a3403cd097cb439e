package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/crosspartition/inference-proxy/internal/proxy/audit"
	"github.com/crosspartition/inference-proxy/internal/proxy/circuit"
	"github.com/crosspartition/inference-proxy/internal/proxy/credentials"
	"github.com/crosspartition/inference-proxy/internal/proxy/forward"
	"github.com/crosspartition/inference-proxy/internal/proxy/handlers"
	"github.com/crosspartition/inference-proxy/internal/proxy/orchestrator"
	"github.com/crosspartition/inference-proxy/internal/shared/config"
	"github.com/crosspartition/inference-proxy/internal/shared/redis"
	"github.com/crosspartition/inference-proxy/internal/shared/secrets"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	table, err := config.LoadRouteTable(cfg.PathsFile)
	if err != nil {
		log.Error("failed to load route table", "error", err)
		os.Exit(1)
	}
	log.Info("loaded route table",
		"paths", len(table.Paths), "principals", len(table.Principals), "file", cfg.PathsFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink, err := buildSink(cfg)
	if err != nil {
		log.Error("failed to open audit sink", "driver", cfg.AuditDriver, "error", err)
		os.Exit(1)
	}
	auditWriter := audit.NewWriter(sink, cfg.AuditQueueSize, log)
	log.Info("audit sink ready", "driver", cfg.AuditDriver)

	var limiter handlers.RateLimiter
	if cfg.RedisURL != "" {
		redisClient, err := redis.New(ctx, cfg.RedisURL)
		if err != nil {
			log.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		limiter = redisClient
		log.Info("rate limiting via Redis")
	} else {
		limiter = handlers.NewLocalLimiter()
		log.Info("rate limiting in-process")
	}

	store := buildSecretStore(cfg)

	circuits := circuit.NewRegistry(circuit.Options{
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.OpenCooldown,
		FailureWindow:    cfg.FailureWindow,
	})
	provider := credentials.New(store, cfg.CredentialTTL)
	executor := forward.NewExecutor(&http.Client{Timeout: cfg.CallTimeout}, provider, log)
	orch := orchestrator.New(table.PathMap(), circuits, provider, executor, auditWriter, cfg.CallTimeout, log)

	handler := handlers.NewHandler(orch, cfg.MaxPayloadBytes)
	middleware := handlers.NewMiddleware(table, limiter, cfg.DefaultRateLimit, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.CallTimeout + 5*time.Second))
	r.Use(middleware.CORS)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", handler.HandleHealth)
		r.Get("/routing/info", handler.HandleRoutingInfo)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth)
			r.Use(middleware.RateLimit)

			r.Post("/inference/invoke", handler.HandleInvoke)
			r.Post("/{path}/inference/invoke", handler.HandleInvoke)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  cfg.CallTimeout + 10*time.Second,
		WriteTimeout: cfg.CallTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("proxy listening", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}

	// Drain queued audit records before exit.
	if err := auditWriter.Close(); err != nil {
		log.Error("audit writer close error", "error", err)
	}

	log.Info("stopped")
}

func buildSink(cfg *config.Config) (audit.Sink, error) {
	switch cfg.AuditDriver {
	case "postgres":
		return audit.NewPostgresSink(cfg.DatabaseURL)
	case "sqlite":
		return audit.NewSQLiteSink(cfg.SQLitePath)
	case "nats":
		return audit.NewNATSSink(cfg.NATSURL, cfg.NATSSubject)
	default:
		return audit.NewMemorySink(), nil
	}
}

func buildSecretStore(cfg *config.Config) secrets.Store {
	if cfg.SecretSource == "file" {
		return secrets.NewFileStore(cfg.SecretsFile)
	}
	return secrets.NewEnvStore()
}
