// Package task provides cancellable units of work.
//
// A Task is built once and run once, usually by handing Run to an
// executor. A FutureTask additionally produces a value observable through
// a future. Scheduled tasks are owned by a Scheduler and fire after a
// delay, at a fixed rate, or on a cron schedule; a ScheduledFuture is a
// repeating task whose body decides when it has a result.
//
// Every task moves through mutually exclusive states:
//
//	Pending -> Running -> Done
//	   \          \
//	    `----------`--> Cancelled
//
// Repeating tasks return to Pending between firings. Cancel succeeds only
// from Pending or Running; with mayInterrupt set it also cancels the
// context passed to a running body.
//
// Building:
//
//	t := task.Immediate().WithName("warm-cache").Build(func(ctx context.Context) { ... })
//	_ = t.SubmitTo(exec)
//
//	tick, err := task.Scheduled(sched).
//	    WithFixedRate(0, time.Second).
//	    WithDelegateExecutor(exec).
//	    Build(func(ctx context.Context, self *task.ScheduledTask) { ... })
package task
