package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	api "jobtracker/internal/api"
	"jobtracker/internal/config"
	"jobtracker/internal/jobstore"
	"jobtracker/internal/ratelimit"
	"jobtracker/internal/telemetry"
	"jobtracker/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := telemetry.NewLogger(os.Stderr, cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := jobstore.Open(ctx, cfg.JobStore, logger)
	if err != nil {
		logger.Error("open job store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	var limiter api.Limiter
	if cfg.RateLimitCapacity > 0 {
		if url := jobstore.ResolveURL(cfg.JobStore); isRedis(url) {
			client, err := ratelimit.Dial(ctx, url)
			if err != nil {
				logger.Warn("rate limiter disabled", "error", err)
			} else {
				defer client.Close()
				limiter = ratelimit.NewTokenBucket(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour,
					ratelimit.WithPrefix(cfg.JobStore.Namespace+":ratelimit"))
			}
		}
	}

	runner := worker.NewRunner(st, logger)
	server := api.New(st, runner, limiter, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		runner.Stop()
		runner.Wait()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("api stopped")
}

func isRedis(url string) bool {
	return strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://")
}
