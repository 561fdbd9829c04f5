package atom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"

	"github.com/randalmurphal/atom/pkg/atom/bind"
	"github.com/randalmurphal/atom/pkg/atom/config"
	aerrors "github.com/randalmurphal/atom/pkg/atom/errors"
	"github.com/randalmurphal/atom/pkg/atom/event"
	"github.com/randalmurphal/atom/pkg/atom/executor"
	"github.com/randalmurphal/atom/pkg/atom/observability"
	"github.com/randalmurphal/atom/pkg/atom/registry"
	"github.com/randalmurphal/atom/pkg/atom/task"
)

// ErrShutdown is returned when using a Runtime after Shutdown.
var ErrShutdown = errors.New("runtime shut down")

// Runtime owns the shared executors, buses and scheduler of a program.
type Runtime struct {
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
	cfg       config.Config
	executors *executor.Registry
	buses     *event.BusRegistry
	scheduler *task.Scheduler
	services  *registry.Registry[reflect.Type, any]
	scope     *bind.Scope
	closed    atomic.Bool
}

// New creates a Runtime. With WithConfig, the configured executors are
// built and registered before New returns.
func New(opts ...Option) (*Runtime, error) {
	c := defaultRuntimeConfig()
	for _, opt := range opts {
		opt(&c)
	}

	r := &Runtime{
		logger:    c.logger,
		metrics:   c.metrics,
		spans:     c.spans,
		cfg:       c.cfg,
		executors: executor.NewRegistry(c.logger),
		buses:     event.NewBusRegistry(c.logger),
		scheduler: task.NewScheduler(
			task.WithLogger(c.logger),
			task.WithMetrics(c.metrics),
			task.WithLocation(c.location),
		),
		services: registry.New[reflect.Type, any](),
		scope:    bind.NewScope(),
	}

	if c.hasCfg {
		_, err := executor.FromConfig(c.cfg, r.executors, r.scope,
			executor.WithConfigLogger(c.logger),
			executor.WithConfigMetrics(c.metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("build executors: %w", err)
		}
	}
	return r, nil
}

// Logger returns the Runtime logger.
func (r *Runtime) Logger() *slog.Logger { return r.logger }

// Executors returns the executor registry.
func (r *Runtime) Executors() *executor.Registry { return r.executors }

// Buses returns the bus registry.
func (r *Runtime) Buses() *event.BusRegistry { return r.buses }

// Scheduler returns the task scheduler.
func (r *Runtime) Scheduler() *task.Scheduler { return r.scheduler }

// Owner returns the Runtime's lifecycle scope. Resources bound to it are
// released on Shutdown.
func (r *Runtime) Owner() bind.Bindable { return r.scope }

// Executor looks up a registered executor by name.
func (r *Runtime) Executor(name string) (executor.Executor, error) {
	return r.executors.Lookup(name)
}

// Post sends ev to every registered bus that accepts it.
func (r *Runtime) Post(ctx context.Context, ev any, opts ...event.PostOption) (event.Result, error) {
	if r.closed.Load() {
		return event.Continue, ErrShutdown
	}
	return r.buses.Post(ctx, ev, opts...)
}

// NewBus creates a bus carrying the Runtime's logger, metrics and spans and
// registers it with the bus registry. Options in opts take precedence.
func NewBus[E any](r *Runtime, opts ...event.Option) (*event.Bus[E], error) {
	if r.closed.Load() {
		return nil, ErrShutdown
	}
	base := []event.Option{
		event.WithLogger(r.logger),
		event.WithMetrics(r.metrics),
		event.WithSpans(r.spans),
	}
	bus := event.NewBus[E](append(base, opts...)...)
	if err := r.buses.RegisterBus(bus, r.scope); err != nil {
		return nil, err
	}
	return bus, nil
}

// NewBusFromConfig creates a bus configured by the "buses.<name>" section
// of the Runtime config. A missing section yields a default bus.
func NewBusFromConfig[E any](r *Runtime, name string, opts ...event.Option) (*event.Bus[E], error) {
	section := r.cfg.Section("buses").Section(name)
	fromCfg, err := event.OptionsFromConfig(section, r.executors)
	if err != nil {
		return nil, fmt.Errorf("bus %q: %w", name, err)
	}
	base := append([]event.Option{event.WithName(name)}, fromCfg...)
	return NewBus[E](r, append(base, opts...)...)
}

// Provide stores v as the Runtime's T. Each type can be provided once.
func Provide[T any](r *Runtime, v T) error {
	t := reflect.TypeFor[T]()
	if err := r.services.Insert(t, v); err != nil {
		return &aerrors.InitializationError{What: t.String()}
	}
	r.logger.Debug("service provided", slog.String("type", t.String()))
	return nil
}

// Lookup returns the Runtime's T, if provided.
func Lookup[T any](r *Runtime) (T, bool) {
	v, ok := r.services.Get(reflect.TypeFor[T]())
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Shutdown cancels scheduled tasks, releases everything bound to the
// Runtime and waits for non-daemon executors to terminate. Calling it
// again returns nil.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r.closed.Swap(true) {
		return nil
	}
	r.logger.Info("runtime shutting down")

	var errs []error
	if err := r.scheduler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if err := r.executors.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("executors: %w", err))
	}
	r.scope.Dispose()
	return errors.Join(errs...)
}
