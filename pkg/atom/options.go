package atom

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/atom/pkg/atom/config"
	"github.com/randalmurphal/atom/pkg/atom/observability"
)

// runtimeConfig holds Runtime construction settings.
type runtimeConfig struct {
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
	location *time.Location
	cfg      config.Config
	hasCfg   bool
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
		location: time.Local,
	}
}

// Option configures a Runtime.
type Option func(*runtimeConfig)

// WithLogger sets the logger shared by every component the Runtime creates.
// Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(c *runtimeConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder. Default: no metrics.
//
// Example:
//
//	rt, err := atom.New(atom.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *runtimeConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpans sets the span manager used by buses. Default: no tracing.
func WithSpans(s observability.SpanManager) Option {
	return func(c *runtimeConfig) {
		if s != nil {
			c.spans = s
		}
	}
}

// WithLocation sets the time zone for cron schedules. Default: time.Local
func WithLocation(loc *time.Location) Option {
	return func(c *runtimeConfig) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithConfig builds the executors described in cfg during New.
func WithConfig(cfg config.Config) Option {
	return func(c *runtimeConfig) {
		c.cfg = cfg
		c.hasCfg = true
	}
}
