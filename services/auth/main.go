package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagnosis/community-hub/pkg/auth"
	"github.com/diagnosis/community-hub/pkg/config"
	"github.com/diagnosis/community-hub/pkg/database"
	"github.com/diagnosis/community-hub/pkg/events"
	"github.com/diagnosis/community-hub/pkg/logger"
	"github.com/diagnosis/community-hub/pkg/metrics"
	mw "github.com/diagnosis/community-hub/pkg/middleware"
	"github.com/diagnosis/community-hub/services/auth/internal/handlers"
	"github.com/diagnosis/community-hub/services/auth/internal/janitor"
	"github.com/diagnosis/community-hub/services/auth/internal/repository"
	"github.com/diagnosis/community-hub/services/auth/internal/repository/memstore"
	"github.com/diagnosis/community-hub/services/auth/internal/service"
	"github.com/diagnosis/community-hub/services/auth/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err, "env", cfg.Env)
		os.Exit(1)
	}
	if cfg.Auth.JWTSecret == config.DevJWTSecret {
		logger.Warn("Using the development JWT secret", "env", cfg.Env)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		members repository.MemberRepository
		tokens  repository.TokenRepository
		limiter repository.RateLimitRepository
	)

	switch cfg.Store {
	case "memory":
		store := memstore.New()
		members, tokens, limiter = store, store, store
		logger.Warn("Using in-memory store; data is lost on restart")
	default:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := repository.EnsureSchema(ctx, pool); err != nil {
			logger.Error("Failed to apply schema", "error", err)
			os.Exit(1)
		}
		members = repository.NewMemberRepository(pool)
		tokens = repository.NewTokenRepository(pool)
	}

	if cfg.Redis.URL != "" {
		if client, err := connectRedis(ctx, cfg.Redis.URL); err != nil {
			logger.Warn("Redis unavailable, rate limits fall back to process memory", "error", err)
		} else {
			defer client.Close()
			limiter = repository.NewRateLimitRepository(client)
		}
	}
	if limiter == nil {
		limiter = memstore.New()
	}

	var publisher events.Publisher
	bus, err := events.NewNATSEventBus(cfg.NATS.URL, "auth-service")
	switch {
	case err == nil:
		defer bus.Close()
		publisher = bus
	case cfg.IsProduction():
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	default:
		logger.Warn("NATS unavailable, magic links will not be e-mailed", "error", err)
	}

	m := metrics.New("auth")
	signer := auth.NewSigner(cfg.Auth.JWTSecret)
	sessions := session.NewManager(signer, cfg.IsProduction(), cfg.Auth.SessionTTL)

	authService := service.NewAuthService(members, tokens, limiter, signer, publisher, m, cfg)
	memberService := service.NewMemberService(members, publisher, m)
	h := handlers.New(authService, memberService, sessions, limiter, cfg)

	trusted, err := mw.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("Invalid TRUSTED_PROXIES", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(mw.TrustedRealIP(trusted))
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("auth"))
	r.Use(mw.Logging)
	r.Use(mw.Recover)
	r.Use(mw.CORS(cfg.WebURL))
	r.Use(mw.Health)
	r.Use(mw.Metrics(m))
	h.Routes(r)

	sweeper, err := janitor.New(tokens, janitor.DefaultSchedule)
	if err != nil {
		logger.Error("Failed to schedule token janitor", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting auth service", "port", cfg.Server.Port, "env", cfg.Env, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down auth service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Auth service error", "error", err)
		os.Exit(1)
	}
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
