package executor

import (
	"fmt"
	"log/slog"

	"github.com/randalmurphal/atom/pkg/atom/bind"
	"github.com/randalmurphal/atom/pkg/atom/config"
	"github.com/randalmurphal/atom/pkg/atom/observability"
)

// Executor kinds accepted in config.
const (
	KindDynamic      = "dynamic"
	KindCached       = "cached"
	KindWorkStealing = "work_stealing"
	KindGrouped      = "grouped"
)

// ConfigOption adjusts executors created by FromConfig.
type ConfigOption func(*Selector)

// WithConfigLogger sets the logger of every executor FromConfig builds.
func WithConfigLogger(logger *slog.Logger) ConfigOption {
	return func(s *Selector) { *s = s.Logger(logger) }
}

// WithConfigMetrics sets the metrics recorder of every executor FromConfig builds.
func WithConfigMetrics(m observability.MetricsRecorder) ConfigOption {
	return func(s *Selector) { *s = s.Metrics(m) }
}

// FromConfig builds and registers every executor listed under the
// "executors" key of cfg. Grouped executors are keyed by string.
//
//	executors:
//	  - name: io
//	    type: dynamic
//	    core_workers: 2
//	    max_workers: 8
//	    keep_alive: 30s
//
// If any entry fails, executors already built by this call are shut down
// and removed again.
func FromConfig(cfg config.Config, reg *Registry, owner bind.Bindable, opts ...ConfigOption) ([]Executor, error) {
	var built []Executor
	for i, section := range cfg.Sections("executors") {
		exec, err := fromSection(section, opts)
		if err == nil {
			err = register(reg, exec, owner)
		}
		if err != nil {
			for _, e := range built {
				if reg != nil {
					reg.entries.CompareAndRemove(e.Name(), func(v Executor) bool { return v == e })
				}
				e.ShutdownNow()
			}
			return nil, fmt.Errorf("executors[%d]: %w", i, err)
		}
		built = append(built, exec)
	}
	return built, nil
}

func fromSection(c config.Config, opts []ConfigOption) (Executor, error) {
	sel := Named(c.String("name", "")).
		Daemon(c.Bool("daemon", false)).
		Priority(c.Int("priority", 0))
	for _, opt := range opts {
		opt(&sel)
	}

	switch kind := c.String("type", KindDynamic); kind {
	case KindDynamic:
		return dynamicFrom(sel.Dynamic(), c).Build()
	case KindGrouped:
		d := dynamicFrom(sel.Dynamic(), c)
		return GroupedBuilder[string]{DynamicBuilder: d}.Build()
	case KindCached:
		return sel.Cached().KeepAlive(c.Duration("keep_alive", DefaultKeepAlive)).Build()
	case KindWorkStealing:
		b := sel.WorkStealing()
		b = b.Parallelism(c.Int("parallelism", b.parallelism))
		if c.Bool("async_mode", false) {
			b = b.AsyncMode()
		}
		return b.Build()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func dynamicFrom(b DynamicBuilder, c config.Config) DynamicBuilder {
	return b.
		CoreWorkers(c.Int("core_workers", b.cfg.core)).
		MaxWorkers(c.Int("max_workers", b.cfg.max)).
		KeepAlive(c.Duration("keep_alive", b.cfg.keepAlive)).
		AllowCoreTimeout(c.Bool("allow_core_timeout", b.cfg.allowCoreTimeout)).
		QueueCapacity(c.Int("queue_capacity", b.cfg.queueCapacity))
}
