package executor

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/randalmurphal/atom/pkg/atom/bind"
	"github.com/randalmurphal/atom/pkg/atom/observability"
)

// Default pool settings.
const (
	DefaultKeepAlive     = 60 * time.Second
	DefaultQueueCapacity = 1024
)

// Selector is the first builder stage. It carries the settings shared by
// every executor kind; pick a kind to continue.
type Selector struct {
	s settings
}

// Named starts building an executor called name.
func Named(name string) Selector {
	return Selector{s: settings{name: name}}
}

// Daemon marks the executor as one registry shutdown does not wait for.
func (b Selector) Daemon(daemon bool) Selector {
	b.s.daemon = daemon
	return b
}

// Priority records a scheduling priority. Goroutines have no priority, so
// it is only reported in logs.
func (b Selector) Priority(priority int) Selector {
	b.s.priority = priority
	return b
}

// Logger sets the executor's logger.
func (b Selector) Logger(logger *slog.Logger) Selector {
	b.s.logger = logger
	return b
}

// Metrics sets the executor's metrics recorder.
func (b Selector) Metrics(m observability.MetricsRecorder) Selector {
	b.s.metrics = m
	return b
}

// Dynamic selects an elastic pool.
func (b Selector) Dynamic() DynamicBuilder {
	n := runtime.GOMAXPROCS(0)
	return DynamicBuilder{s: b.s, cfg: poolConfig{
		core:          n,
		max:           n,
		keepAlive:     DefaultKeepAlive,
		queueCapacity: DefaultQueueCapacity,
	}}
}

// Cached selects a queue-less pool that grows with demand.
func (b Selector) Cached() CachedBuilder {
	return CachedBuilder{s: b.s, keepAlive: DefaultKeepAlive}
}

// WorkStealing selects a work-stealing pool.
func (b Selector) WorkStealing() WorkStealingBuilder {
	return WorkStealingBuilder{s: b.s, parallelism: runtime.GOMAXPROCS(0)}
}

// Wrap adapts a foreign runner.
func (b Selector) Wrap(runner Runner) WrappedBuilder {
	return WrappedBuilder{s: b.s, runner: runner}
}

// GroupedBy selects a grouped executor keyed by K. Go methods cannot take
// type parameters, hence the function form.
func GroupedBy[K comparable](b Selector) GroupedBuilder[K] {
	d := b.Dynamic()
	return GroupedBuilder[K]{DynamicBuilder: d}
}

// DynamicBuilder configures an elastic pool.
type DynamicBuilder struct {
	s   settings
	cfg poolConfig
}

// CoreWorkers sets how many workers are kept alive while idle.
func (b DynamicBuilder) CoreWorkers(n int) DynamicBuilder {
	b.cfg.core = n
	return b
}

// MaxWorkers sets the upper bound on workers.
func (b DynamicBuilder) MaxWorkers(n int) DynamicBuilder {
	b.cfg.max = n
	return b
}

// KeepAlive sets how long a surplus worker may sit idle.
func (b DynamicBuilder) KeepAlive(d time.Duration) DynamicBuilder {
	b.cfg.keepAlive = d
	return b
}

// AllowCoreTimeout lets core workers exit after the keep-alive too.
func (b DynamicBuilder) AllowCoreTimeout(allow bool) DynamicBuilder {
	b.cfg.allowCoreTimeout = allow
	return b
}

// QueueCapacity bounds the number of tasks waiting for a worker.
func (b DynamicBuilder) QueueCapacity(n int) DynamicBuilder {
	b.cfg.queueCapacity = n
	return b
}

func (b DynamicBuilder) validate() error {
	switch {
	case b.s.name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	case b.cfg.core < 0:
		return fmt.Errorf("%w: %s: core workers %d < 0", ErrInvalidConfig, b.s.name, b.cfg.core)
	case b.cfg.max < 1 || b.cfg.max < b.cfg.core:
		return fmt.Errorf("%w: %s: max workers %d must be >= max(1, core %d)", ErrInvalidConfig, b.s.name, b.cfg.max, b.cfg.core)
	case b.cfg.queueCapacity < 0:
		return fmt.Errorf("%w: %s: queue capacity %d < 0", ErrInvalidConfig, b.s.name, b.cfg.queueCapacity)
	case b.cfg.allowCoreTimeout && b.cfg.keepAlive <= 0:
		return fmt.Errorf("%w: %s: core timeout requires a positive keep-alive", ErrInvalidConfig, b.s.name)
	}
	return nil
}

// Build returns an unregistered pool.
func (b DynamicBuilder) Build() (*Pool, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	return newPool(b.s, b.cfg), nil
}

// BuildAndRegister builds the pool and publishes it in reg. Disposing
// owner removes it from reg and shuts it down.
func (b DynamicBuilder) BuildAndRegister(reg *Registry, owner bind.Bindable) (*Pool, error) {
	p, err := b.Build()
	if err != nil {
		return nil, err
	}
	if err := register(reg, p, owner); err != nil {
		return nil, err
	}
	return p, nil
}

// CachedBuilder configures a cached pool.
type CachedBuilder struct {
	s         settings
	keepAlive time.Duration
}

// KeepAlive sets how long an idle worker lingers before exiting.
func (b CachedBuilder) KeepAlive(d time.Duration) CachedBuilder {
	b.keepAlive = d
	return b
}

// Build returns an unregistered pool.
func (b CachedBuilder) Build() (*Pool, error) {
	if b.s.name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if b.keepAlive <= 0 {
		return nil, fmt.Errorf("%w: %s: cached pools need a positive keep-alive", ErrInvalidConfig, b.s.name)
	}
	return newPool(b.s, poolConfig{keepAlive: b.keepAlive}), nil
}

// BuildAndRegister builds the pool and publishes it in reg.
func (b CachedBuilder) BuildAndRegister(reg *Registry, owner bind.Bindable) (*Pool, error) {
	p, err := b.Build()
	if err != nil {
		return nil, err
	}
	if err := register(reg, p, owner); err != nil {
		return nil, err
	}
	return p, nil
}

// WorkStealingBuilder configures a work-stealing pool.
type WorkStealingBuilder struct {
	s           settings
	parallelism int
	asyncMode   bool
}

// Parallelism sets the number of workers.
func (b WorkStealingBuilder) Parallelism(n int) WorkStealingBuilder {
	b.parallelism = n
	return b
}

// AsyncMode makes workers take their own tasks oldest first.
func (b WorkStealingBuilder) AsyncMode() WorkStealingBuilder {
	b.asyncMode = true
	return b
}

// Build returns an unregistered pool. Its workers start immediately.
func (b WorkStealingBuilder) Build() (*StealingPool, error) {
	if b.s.name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if b.parallelism < 1 {
		return nil, fmt.Errorf("%w: %s: parallelism %d < 1", ErrInvalidConfig, b.s.name, b.parallelism)
	}
	return newStealingPool(b.s, b.parallelism, b.asyncMode), nil
}

// BuildAndRegister builds the pool and publishes it in reg.
func (b WorkStealingBuilder) BuildAndRegister(reg *Registry, owner bind.Bindable) (*StealingPool, error) {
	p, err := b.Build()
	if err != nil {
		return nil, err
	}
	if err := register(reg, p, owner); err != nil {
		return nil, err
	}
	return p, nil
}

// WrappedBuilder configures an adapter around a foreign runner.
type WrappedBuilder struct {
	s        settings
	runner   Runner
	detector Detector
}

// WithDetector sets a membership check for contexts the runner marks itself.
func (b WrappedBuilder) WithDetector(d Detector) WrappedBuilder {
	b.detector = d
	return b
}

// Build returns an unregistered adapter.
func (b WrappedBuilder) Build() (*Wrapped, error) {
	if b.s.name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if b.runner == nil {
		return nil, fmt.Errorf("%w: %s: runner is required", ErrInvalidConfig, b.s.name)
	}
	return newWrapped(b.s, b.runner, b.detector), nil
}

// BuildAndRegister builds the adapter and publishes it in reg.
func (b WrappedBuilder) BuildAndRegister(reg *Registry, owner bind.Bindable) (*Wrapped, error) {
	w, err := b.Build()
	if err != nil {
		return nil, err
	}
	if err := register(reg, w, owner); err != nil {
		return nil, err
	}
	return w, nil
}

// GroupedBuilder configures a grouped executor. Pool settings apply to the
// underlying pool that keyed tasks run on.
type GroupedBuilder[K comparable] struct {
	DynamicBuilder
}

// CoreWorkers sets the underlying pool's core workers.
func (b GroupedBuilder[K]) CoreWorkers(n int) GroupedBuilder[K] {
	b.DynamicBuilder = b.DynamicBuilder.CoreWorkers(n)
	return b
}

// MaxWorkers sets the underlying pool's max workers.
func (b GroupedBuilder[K]) MaxWorkers(n int) GroupedBuilder[K] {
	b.DynamicBuilder = b.DynamicBuilder.MaxWorkers(n)
	return b
}

// KeepAlive sets the underlying pool's keep-alive.
func (b GroupedBuilder[K]) KeepAlive(d time.Duration) GroupedBuilder[K] {
	b.DynamicBuilder = b.DynamicBuilder.KeepAlive(d)
	return b
}

// AllowCoreTimeout lets the underlying pool's core workers time out.
func (b GroupedBuilder[K]) AllowCoreTimeout(allow bool) GroupedBuilder[K] {
	b.DynamicBuilder = b.DynamicBuilder.AllowCoreTimeout(allow)
	return b
}

// QueueCapacity bounds the underlying pool's queue.
func (b GroupedBuilder[K]) QueueCapacity(n int) GroupedBuilder[K] {
	b.DynamicBuilder = b.DynamicBuilder.QueueCapacity(n)
	return b
}

// Build returns an unregistered grouped executor.
func (b GroupedBuilder[K]) Build() (*Grouped[K], error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	return newGrouped[K](b.s, b.cfg), nil
}

// BuildAndRegister builds the grouped executor and publishes it in reg.
func (b GroupedBuilder[K]) BuildAndRegister(reg *Registry, owner bind.Bindable) (*Grouped[K], error) {
	g, err := b.Build()
	if err != nil {
		return nil, err
	}
	if err := register(reg, g, owner); err != nil {
		return nil, err
	}
	return g, nil
}

func register(reg *Registry, exec Executor, owner bind.Bindable) error {
	if reg == nil {
		return nil
	}
	if err := reg.Register(exec, owner); err != nil {
		exec.ShutdownNow()
		return err
	}
	return nil
}
