package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bankrail/bankrail/internal/audit"
	"github.com/bankrail/bankrail/internal/config"
	"github.com/bankrail/bankrail/internal/guard"
	"github.com/bankrail/bankrail/internal/observability/logger"
	"github.com/bankrail/bankrail/internal/observability/metrics"
	"github.com/bankrail/bankrail/internal/observability/tracing"
	"github.com/bankrail/bankrail/internal/session"
	"github.com/bankrail/bankrail/internal/store/postgres"
	redisstore "github.com/bankrail/bankrail/internal/store/redis"
	"github.com/bankrail/bankrail/internal/tenant"
	transportHTTP "github.com/bankrail/bankrail/internal/transport/http"
	"github.com/bankrail/bankrail/internal/upstream"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting bankrail portal")

	ctx := context.Background()

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.SamplingRate,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	meter := metrics.New(metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)

	// Select the persistence backend.
	var (
		sessionRepo session.Repository
		tenantRepo  tenant.SnapshotRepository
	)
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := postgres.New(ctx, postgres.Config{
			Host:         cfg.Database.Host,
			Port:         cfg.Database.Port,
			User:         cfg.Database.User,
			Password:     cfg.Database.Password,
			Database:     cfg.Database.Database,
			SSLMode:      cfg.Database.SSLMode,
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		})
		if err != nil {
			slog.Error("failed to connect to database", logger.Error(err))
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("connected to database")
		sessionRepo = postgres.NewSessionRepository(db)
		tenantRepo = postgres.NewTenantRepository(db)
	case config.StoreRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Error("failed to connect to redis", logger.Error(err))
			os.Exit(1)
		}
		defer client.Close()
		slog.Info("connected to redis")
		sessionRepo = redisstore.NewSessionRepository(client)
		tenantRepo = redisstore.NewTenantRepository(client)
	default:
		slog.Warn("using in-memory stores, sessions will not survive restarts")
		sessionRepo = session.NewMemoryRepository()
		tenantRepo = tenant.NewMemorySnapshotRepository()
	}

	auditLogger := audit.NewSlogLogger()
	sessionService := session.NewService(sessionRepo, cfg.Session.Lifetime, auditLogger)

	upstreamClient, err := upstream.New(cfg.Upstream.BaseURL, cfg.Upstream.Timeout,
		sessionService, auditLogger, meter)
	if err != nil {
		slog.Error("failed to initialize upstream client", logger.Error(err))
		os.Exit(1)
	}

	tenantStore := tenant.NewStore(tenantRepo)
	resolver := tenant.NewResolver(tenantStore, upstreamClient, auditLogger)

	// Rehydrate the tenant context against a freshly derived key for the
	// public host. A mismatched snapshot is discarded, not trusted.
	startupKey := tenant.DeriveKey(tenant.Origin{
		Host:        cfg.Portal.PublicHost,
		Path:        "/",
		DevOverride: cfg.Portal.DevSubdomain,
	})
	snap, err := tenantRepo.Load(ctx)
	if err != nil && !errors.Is(err, tenant.ErrSnapshotNotFound) {
		slog.Warn("failed to load tenant snapshot", logger.Error(err))
	}
	tenantStore.Restore(snap, startupKey)

	// Requests arriving before startup finishes are held, not rejected.
	var ready atomic.Bool
	g := guard.New(sessionService, cfg.Session.CookieName, ready.Load)

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	handler := transportHTTP.NewHandler(
		sessionService,
		upstreamClient,
		resolver,
		tenantStore,
		auditLogger,
		transportHTTP.PortalConfig{
			Session: transportHTTP.SessionConfig{
				CookieName:     cfg.Session.CookieName,
				CookieDomain:   cfg.Session.CookieDomain,
				CookiePath:     cfg.Session.CookiePath,
				CookieSecure:   cfg.Session.CookieSecure,
				CookieHTTPOnly: cfg.Session.CookieHTTPOnly,
				CookieSameSite: cfg.Session.SameSite(),
				CookieMaxAge:   int(cfg.Session.Lifetime.Seconds()),
			},
			DevOverride: cfg.Portal.DevSubdomain,
			Development: cfg.Portal.Development,
		},
	)

	router := transportHTTP.NewRouter(handler, rateLimiter, g)
	ready.Store(true)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Session cleanup sweep.
	go func() {
		ticker := time.NewTicker(cfg.Session.CleanupEvery)
		defer ticker.Stop()
		for range ticker.C {
			if err := sessionService.CleanupExpired(ctx); err != nil {
				slog.ErrorContext(ctx, "failed to cleanup expired sessions", logger.Error(err))
			}
		}
	}()

	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}
