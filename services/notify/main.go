package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagnosis/community-hub/pkg/config"
	"github.com/diagnosis/community-hub/pkg/events"
	"github.com/diagnosis/community-hub/pkg/logger"
	"github.com/diagnosis/community-hub/pkg/metrics"
	mw "github.com/diagnosis/community-hub/pkg/middleware"
	"github.com/diagnosis/community-hub/services/notify/internal/consumer"
	"github.com/diagnosis/community-hub/services/notify/internal/mailer"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus, err := events.NewNATSEventBus(cfg.NATS.URL, "notify-service")
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	m := metrics.New("notify")
	sender := mailer.FromConfig(cfg.Email)
	if err := consumer.New(bus, sender, m, cfg.NATS.Queue).Start(); err != nil {
		logger.Error("Failed to subscribe", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("notify"))
	r.Use(mw.Logging)
	r.Use(mw.Recover)
	r.Use(mw.Health)
	r.Use(mw.Metrics(m))

	srv := &http.Server{
		Addr:         ":" + getPort(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting notify service", "addr", srv.Addr, "queue", cfg.NATS.Queue, "dev_mail", cfg.Email.DevMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down notify service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Notify service error", "error", err)
		os.Exit(1)
	}
}

func getPort() string {
	if port := os.Getenv("NOTIFY_PORT"); port != "" {
		return port
	}
	return "8086"
}
