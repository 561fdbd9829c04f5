package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronv3 "github.com/robfig/cron/v3"

	aerrors "github.com/randalmurphal/atom/pkg/atom/errors"
	"github.com/randalmurphal/atom/pkg/atom/observability"
)

// Scheduler fires scheduled tasks. Delay and fixed-rate tasks use timers;
// cron tasks share one cron runner that is started on first use.
type Scheduler struct {
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	location *time.Location

	root   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	cron   *cronv3.Cron
	tasks  map[string]*ScheduledTask
	closed bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// WithMetrics sets the recorder for task runs.
func WithMetrics(m observability.MetricsRecorder) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLocation sets the time zone cron specs are evaluated in.
func WithLocation(loc *time.Location) SchedulerOption {
	return func(s *Scheduler) { s.location = loc }
}

// NewScheduler creates a scheduler.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	root, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		location: time.Local,
		root:     root,
		cancel:   cancel,
		tasks:    make(map[string]*ScheduledTask),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len returns the number of live scheduled tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) track(t *ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &aerrors.SchedulingError{Task: t.Name(), Reason: "scheduler is shut down"}
	}
	s.tasks[t.ID()] = t
	return nil
}

func (s *Scheduler) untrack(t *ScheduledTask) {
	s.mu.Lock()
	delete(s.tasks, t.ID())
	s.mu.Unlock()
}

func (s *Scheduler) addCron(spec string, fire func()) (cronv3.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		s.cron = cronv3.New(cronv3.WithSeconds(), cronv3.WithLocation(s.location))
		s.cron.Start()
	}
	return s.cron.AddFunc(spec, fire)
}

func (s *Scheduler) removeCron(id cronv3.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.cron.Remove(id)
	}
}

// Shutdown cancels every scheduled task, interrupting running bodies, and
// waits for running cron jobs to return or ctx to end.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	tasks := make([]*ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	cr := s.cron
	s.mu.Unlock()

	for _, t := range tasks {
		t.Cancel(true)
	}
	s.cancel()
	s.logger.Info("scheduler shut down", slog.Int("cancelled_tasks", len(tasks)))

	if cr == nil {
		return nil
	}
	select {
	case <-cr.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
