// Package executor provides named, lifecycle-managed task runners.
//
// Four pool strategies are available through the staged builders:
//
//   - Dynamic: core and max worker counts, keep-alive for idle workers,
//     optional core timeout and a bounded queue.
//   - Cached: no queue, a worker per concurrent task, idle workers reaped.
//   - WorkStealing: fixed parallelism with per-worker deques (LIFO, or
//     FIFO in async mode); idle workers steal from busy ones.
//   - Wrapped: adapts a runner owned elsewhere.
//
// A Grouped executor runs at most one task per key at a time; later tasks
// for a busy key wait in a FIFO queue and run after the earlier one ends.
//
// # Lifecycle
//
// Every executor moves Running -> ShuttingDown -> Terminated. Shutdown stops
// new submissions and lets accepted work finish. ShutdownNow additionally
// cancels the context handed to running tasks and returns the tasks that
// never started. Submitting after shutdown returns a *errors.RejectedError.
//
// # Building
//
//	exec, err := executor.Named("io").
//	    Dynamic().
//	    CoreWorkers(2).
//	    MaxWorkers(8).
//	    KeepAlive(30 * time.Second).
//	    BuildAndRegister(reg, owner)
//
// Executors can also be described in YAML and created with FromConfig.
package executor
