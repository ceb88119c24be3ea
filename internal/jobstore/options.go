package jobstore

import (
	"log/slog"
	"time"

	"jobtracker/internal/models"
)

// DefaultPollInterval is how often the polling backends re-check the pause flag.
const DefaultPollInterval = 500 * time.Millisecond

// DefaultNamespace prefixes every Redis key written by the store.
const DefaultNamespace = "jobtracker"

type options struct {
	logLimit     int
	pollInterval time.Duration
	namespace    string
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures a backend.
type Option func(*options)

// WithLogLimit overrides MaxLogEntries. Values below one are ignored.
func WithLogLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.logLimit = n
		}
	}
}

// WithPollInterval sets the pause re-check interval of the polling backends.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithNamespace sets the Redis key prefix.
func WithNamespace(ns string) Option {
	return func(o *options) {
		if ns != "" {
			o.namespace = ns
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logLimit:     models.MaxLogEntries,
		pollInterval: DefaultPollInterval,
		namespace:    DefaultNamespace,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (o options) stamp() float64 {
	return models.EpochSeconds(o.now())
}
