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
	"github.com/diagnosis/community-hub/pkg/logger"
	"github.com/diagnosis/community-hub/pkg/metrics"
	mw "github.com/diagnosis/community-hub/pkg/middleware"
	"github.com/diagnosis/community-hub/services/gateway/internal/handlers"
	"github.com/diagnosis/community-hub/services/gateway/internal/proxy"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err, "env", cfg.Env)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authProxy, err := proxy.NewServiceProxy("auth", getEnv("AUTH_SERVICE_URL", "http://localhost:8081"))
	if err != nil {
		logger.Error("Failed to configure auth proxy", "error", err)
		os.Exit(1)
	}

	m := metrics.New("gateway")
	h := handlers.New(authProxy, auth.NewSigner(cfg.Auth.JWTSecret))

	trusted, err := mw.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("Invalid TRUSTED_PROXIES", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(mw.TrustedRealIP(trusted))
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("gateway"))
	r.Use(mw.Logging)
	r.Use(mw.Recover)
	r.Use(mw.CORS(cfg.WebURL))
	r.Use(mw.Health)
	r.Use(mw.Metrics(m))
	h.Routes(r)

	srv := &http.Server{
		Addr:         ":" + getEnv("GATEWAY_PORT", "8080"),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting gateway service", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gateway service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Gateway server error", "error", err)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
