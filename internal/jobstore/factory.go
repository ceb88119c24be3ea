package jobstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"jobtracker/internal/config"
	"jobtracker/internal/telemetry"
)

// ResolveURL picks the connection URL in priority order: explicit job-store URL,
// generic cache URL, task result backend, task broker, then an URL assembled from
// the discrete Redis host/credential variables. An empty result selects the
// default SQLite file.
func ResolveURL(cfg config.JobStore) string {
	for _, candidate := range []string{cfg.URL, cfg.RedisURL, cfg.ResultBackendURL, cfg.BrokerURL} {
		if candidate != "" {
			return candidate
		}
	}
	return redisURLFromParts(cfg.RedisHost, cfg.RedisUsername, cfg.RedisPassword)
}

func redisURLFromParts(host, username, password string) string {
	if host == "" {
		return ""
	}
	u := url.URL{Scheme: "redis", Host: host, Path: "/0"}
	switch {
	case username != "" && password != "":
		u.User = url.UserPassword(username, password)
	case username != "":
		u.User = url.User(username)
	case password != "":
		u.User = url.UserPassword("", password)
	}
	return u.String()
}

func isRedisURL(u string) bool {
	return strings.HasPrefix(u, "redis://") || strings.HasPrefix(u, "rediss://")
}

func isPostgresURL(u string) bool {
	return strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://")
}

// Open builds the configured backend and wraps it with metrics. A remote backend that
// fails to start is logged and replaced by the default SQLite file rather than
// failing startup.
func Open(ctx context.Context, cfg config.JobStore, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []Option{
		WithPollInterval(cfg.PollInterval),
		WithNamespace(cfg.Namespace),
		WithLogger(logger),
	}

	target := ResolveURL(cfg)
	switch {
	case isRedisURL(target) || isPostgresURL(target):
		backend := "redis"
		if isPostgresURL(target) {
			backend = "postgres"
		}
		st, err := openRemote(ctx, cfg, backend, target, opts)
		if err == nil {
			logger.Info("using job store", "backend", backend, "url", redactURL(target))
			return Instrument(st, backend), nil
		}
		telemetry.BackendFallbacks.WithLabelValues(backend).Inc()
		logger.Warn("falling back to sqlite job store", "backend", backend, "error", err)
	case strings.HasPrefix(target, "memory://"):
		logger.Info("using job store", "backend", "memory")
		return Instrument(NewMemoryStore(opts...), "memory"), nil
	case strings.HasPrefix(target, "sqlite://"):
		path := SQLitePathFromURL(target)
		logger.Info("using job store", "backend", "sqlite", "path", path)
		st, err := NewSQLiteStore(ctx, path, opts...)
		if err != nil {
			return nil, err
		}
		return Instrument(st, "sqlite"), nil
	case target != "":
		logger.Warn("unsupported job store url, using default sqlite file", "url", redactURL(target))
	}

	logger.Info("using default sqlite job store", "path", cfg.SQLitePath)
	st, err := NewSQLiteStore(ctx, cfg.SQLitePath, opts...)
	if err != nil {
		return nil, fmt.Errorf("open default sqlite store: %w", err)
	}
	return Instrument(st, "sqlite"), nil
}

func openRemote(ctx context.Context, cfg config.JobStore, backend, target string, opts []Option) (Store, error) {
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if backend == "postgres" {
		return NewPostgresStore(ctx, target, opts...)
	}
	return NewRedisStore(ctx, target, opts...)
}
