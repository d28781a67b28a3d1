// Package scheduler runs the engine's periodic tasks on a cron schedule.
// Every task is non-reentrant: a tick that fires while the previous run is
// still executing is skipped, never overlapped.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskHandler is one schedulable unit of work.
type TaskHandler interface {
	Execute(ctx context.Context) error
	Name() string
	Description() string
}

// taskExecutionTimeout bounds a single run; SLA windows are measured in
// days, so a pass that needs longer than this is stuck.
const taskExecutionTimeout = 10 * time.Minute

// Task tracks one scheduled task and its run statistics.
type Task struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Schedule    string    `json:"schedule"`
	LastRun     time.Time `json:"last_run"`
	NextRun     time.Time `json:"next_run"`
	RunCount    int64     `json:"run_count"`
	ErrorCount  int64     `json:"error_count"`

	handler TaskHandler
	entryID cron.EntryID
}

// Scheduler owns the cron instance and the task registry.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	tasks  map[string]*Task
	mu     sync.RWMutex
}

// New creates a scheduler. The skip-if-still-running chain makes every task
// mutually exclusive with itself, which is what keeps escalation passes from
// emitting duplicate events under slow databases.
func New(logger *slog.Logger) *Scheduler {
	cronLogger := &slogCronLogger{logger: logger.With("component", "cron")}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{
		cron:   c,
		logger: logger,
		tasks:  make(map[string]*Task),
	}
}

// Register schedules a task. Registration must happen before Start.
func (s *Scheduler) Register(schedule string, handler TaskHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := handler.Name()
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %q already registered", name)
	}

	task := &Task{
		Name:        name,
		Description: handler.Description(),
		Schedule:    schedule,
		handler:     handler,
	}

	entryID, err := s.cron.AddFunc(schedule, func() { s.run(task) })
	if err != nil {
		return fmt.Errorf("failed to schedule task %q: %w", name, err)
	}
	task.entryID = entryID
	s.tasks[name] = task

	s.logger.Info("Task registered", "task", name, "schedule", schedule)
	return nil
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", "tasks", len(s.tasks))
}

// Stop stops the cron and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// RunNow executes a task immediately, outside its schedule. Manual triggers
// from the API use it. The run still serializes with scheduled runs only in
// the sense that both are idempotent; the handler must tolerate overlap with
// a scheduled tick.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	task, exists := s.tasks[name]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("task %q not found", name)
	}

	go s.run(task)
	return nil
}

// Tasks returns a snapshot of every registered task.
func (s *Scheduler) Tasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		snapshot := *task
		if entry := s.cron.Entry(task.entryID); entry.ID == task.entryID {
			snapshot.NextRun = entry.Next
		}
		out = append(out, snapshot)
	}
	return out
}

func (s *Scheduler) run(task *Task) {
	ctx, cancel := context.WithTimeout(context.Background(), taskExecutionTimeout)
	defer cancel()

	start := time.Now()

	s.mu.Lock()
	task.LastRun = start
	task.RunCount++
	s.mu.Unlock()

	if err := task.handler.Execute(ctx); err != nil {
		s.mu.Lock()
		task.ErrorCount++
		s.mu.Unlock()
		s.logger.Error("Scheduled task failed",
			"task", task.Name, "error", err, "duration", time.Since(start))
		return
	}

	s.logger.Debug("Scheduled task completed",
		"task", task.Name, "duration", time.Since(start))
}

// slogCronLogger adapts slog to the cron.Logger interface.
type slogCronLogger struct {
	logger *slog.Logger
}

func (l *slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
