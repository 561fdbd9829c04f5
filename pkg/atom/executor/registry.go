package executor

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/atom/pkg/atom/bind"
	"github.com/randalmurphal/atom/pkg/atom/registry"
)

// Registry publishes executors by name.
type Registry struct {
	entries *registry.Registry[string, Executor]
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger means slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: registry.New[string, Executor](),
		logger:  logger,
	}
}

// Register publishes exec under its name. When owner is disposed the
// executor is removed and shut down.
func (r *Registry) Register(exec Executor, owner bind.Bindable) error {
	if err := r.entries.Insert(exec.Name(), exec); err != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateName, exec.Name())
	}
	r.logger.Debug("executor registered", slog.String("executor", exec.Name()))
	bind.Attach(owner, func() {
		r.entries.CompareAndRemove(exec.Name(), func(v Executor) bool { return v == exec })
		exec.Shutdown()
	})
	return nil
}

// Get returns the executor registered under name.
func (r *Registry) Get(name string) (Executor, bool) {
	return r.entries.Get(name)
}

// Lookup is Get for callers that want an error.
func (r *Registry) Lookup(name string) (Executor, error) {
	exec, ok := r.entries.Get(name)
	if !ok {
		return nil, fmt.Errorf("executor %q not registered", name)
	}
	return exec, nil
}

// Remove unpublishes name without shutting the executor down.
func (r *Registry) Remove(name string) (Executor, bool) {
	return r.entries.Remove(name)
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	return r.entries.Keys()
}

// Shutdown shuts every registered executor down and waits for the
// non-daemon ones to terminate. It returns ctx's error if any of them is
// still running when ctx ends.
func (r *Registry) Shutdown(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, exec := range r.entries.Values() {
		exec.Shutdown()
		if exec.Daemon() {
			continue
		}
		g.Go(func() error {
			if !exec.AwaitTermination(gctx) {
				return fmt.Errorf("executor %q did not terminate: %w", exec.Name(), context.Cause(gctx))
			}
			return nil
		})
	}
	return g.Wait()
}
