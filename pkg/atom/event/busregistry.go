package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/atom/pkg/atom/bind"
	"github.com/randalmurphal/atom/pkg/atom/executor"
	"github.com/randalmurphal/atom/pkg/atom/future"
	"github.com/randalmurphal/atom/pkg/atom/registry"
)

// AnyBus is the type-erased view of a Bus used by BusRegistry.
type AnyBus interface {
	Name() string
	EventType() reflect.Type
	HandlesEvent(ev any) bool
	HandlesEventType(t reflect.Type) bool
	Register(reg Registrable) error
	postAny(ctx context.Context, ev any, opts ...PostOption) (Result, error)
}

// BusRegistry routes events and registrations to every compatible bus.
type BusRegistry struct {
	buses  *registry.Registry[AnyBus, AnyBus]
	logger *slog.Logger
}

// NewBusRegistry creates an empty registry.
func NewBusRegistry(logger *slog.Logger) *BusRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &BusRegistry{
		buses:  registry.New[AnyBus, AnyBus](),
		logger: logger,
	}
}

// RegisterBus adds bus. Disposing owner removes it again.
func (r *BusRegistry) RegisterBus(bus AnyBus, owner bind.Bindable) error {
	if err := r.buses.Insert(bus, bus); err != nil {
		return fmt.Errorf("bus %s: %w", bus.Name(), err)
	}
	bind.Attach(owner, func() { r.RemoveBus(bus) })
	r.logger.Debug("bus registered", slog.String("bus", bus.Name()))
	return nil
}

// RemoveBus removes bus and reports whether it was present.
func (r *BusRegistry) RemoveBus(bus AnyBus) bool {
	_, ok := r.buses.Remove(bus)
	return ok
}

// Buses returns the registered buses in registration order.
func (r *BusRegistry) Buses() []AnyBus {
	return r.buses.Values()
}

// HandlesEvent reports whether any bus accepts ev.
func (r *BusRegistry) HandlesEvent(ev any) bool {
	for _, b := range r.buses.Values() {
		if b.HandlesEvent(ev) {
			return true
		}
	}
	return false
}

// HandlesEventType reports whether any bus accepts events of t.
func (r *BusRegistry) HandlesEventType(t reflect.Type) bool {
	for _, b := range r.buses.Values() {
		if b.HandlesEventType(t) {
			return true
		}
	}
	return false
}

// Register adds reg to every bus whose events it can handle.
func (r *BusRegistry) Register(reg Registrable) error {
	var registered int
	for _, b := range r.buses.Values() {
		if !reg.EventType().AssignableTo(b.EventType()) && !b.EventType().AssignableTo(reg.EventType()) {
			continue
		}
		if err := b.Register(reg); err != nil {
			return err
		}
		registered++
	}
	if registered == 0 {
		return fmt.Errorf("register %s: %w", reg.EventType(), ErrNoBus)
	}
	return nil
}

// Post runs ev through every compatible bus in registration order. The
// result is the last one that is not Continue; faults from all buses are
// joined.
func (r *BusRegistry) Post(ctx context.Context, ev any, opts ...PostOption) (Result, error) {
	result := Continue
	var errs []error
	for _, b := range r.buses.Values() {
		if !b.HandlesEvent(ev) {
			continue
		}
		res, err := b.postAny(ctx, ev, opts...)
		if err != nil {
			errs = append(errs, err)
		}
		if res != nil && !IsContinue(res) {
			result = res
		}
	}
	return result, errors.Join(errs...)
}

// PostAsync runs ev through every compatible bus concurrently. Async
// handlers without their own executor run on exec when it is non-nil.
func (r *BusRegistry) PostAsync(ctx context.Context, ev any, exec executor.Executor, opts ...PostOption) *future.Future[Result] {
	if exec != nil {
		opts = append(opts, WithExecutor(exec))
	}
	var buses []AnyBus
	for _, b := range r.buses.Values() {
		if b.HandlesEvent(ev) {
			buses = append(buses, b)
		}
	}

	f := future.New[Result]()
	results := make([]Result, len(buses))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range buses {
		g.Go(func() error {
			res, err := b.postAny(gctx, ev, opts...)
			results[i] = res
			return err
		})
	}
	go func() {
		if err := g.Wait(); err != nil {
			f.Fail(err)
			return
		}
		result := Continue
		for _, res := range results {
			if res != nil && !IsContinue(res) {
				result = res
			}
		}
		f.Complete(result)
	}()
	return f
}
