/*
Package atom wires the event bus, executors and task scheduler into one
explicitly constructed Runtime.

# Overview

atom is a Go library for in-process event dispatch and task execution:

  - Typed event buses with priority-ordered continuation chains (package event)
  - Executors with dynamic, cached, work-stealing, wrapped and grouped
    strategies (package executor)
  - Immediate, delayed, fixed-rate and cron tasks with futures (package task)

A Runtime owns one executor registry, one bus registry and one scheduler.
It is an ordinary value: construct it at startup, pass it to the code that
needs it and shut it down on exit. There is no package-level instance.

# Basic Usage

	rt, err := atom.New(atom.WithLogger(logger))
	if err != nil {
	    log.Fatal(err)
	}
	defer rt.Shutdown(context.Background())

	orders, err := atom.NewBus[OrderPlaced](rt, event.WithName("orders"))
	if err != nil {
	    log.Fatal(err)
	}

	_, err = orders.RegisterFunc(func(b event.RegistrationBuilder[OrderPlaced]) event.RegistrationBuilder[OrderPlaced] {
	    return b.WithPriority(event.First).WithSyncHandler(validate)
	})

	result, err := orders.Post(ctx, OrderPlaced{ID: "A1"})

# Services

Provide stores one value per type for the lifetime of the Runtime. A
second Provide for the same type fails with an InitializationError, so
shared services are set exactly once.

	if err := atom.Provide(rt, paymentClient); err != nil {
	    log.Fatal(err)
	}
	client, ok := atom.Lookup[*PaymentClient](rt)

# Configuration

WithConfig builds the executors listed under "executors" and keeps the
config so NewBusFromConfig can read bus sections:

	executors:
	  - name: io
	    type: dynamic
	    max_workers: 8
	buses:
	  orders:
	    failure_policy: continue
	    default_executor: io
*/
package atom
