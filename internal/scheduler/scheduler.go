package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Scheduler checks its tasks on a fixed tick and runs the due ones in
// order of their next run time. Runs never overlap.
type Scheduler struct {
	logger *slog.Logger
	tasks  map[string]*Task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	runMu  sync.Mutex

	started       bool
	checkInterval time.Duration
	now           func() time.Time
}

// Config contains scheduler configuration
type Config struct {
	CheckInterval time.Duration // how often to look for due tasks
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{CheckInterval: time.Second}
}

// New creates a scheduler with no tasks
func New(logger *slog.Logger, config Config) *Scheduler {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:        logger,
		tasks:         make(map[string]*Task),
		ctx:           ctx,
		cancel:        cancel,
		checkInterval: config.CheckInterval,
		now:           time.Now,
	}
}

// Add registers a task. Adding a name twice replaces the earlier task.
func (s *Scheduler) Add(name, expression string, handler Handler) error {
	parsed, err := ParseExpression(expression)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[name] = &Task{
		Name:       name,
		Expression: expression,
		Enabled:    true,
		NextRun:    parsed.NextRun(s.now()),
		parsed:     parsed,
		handler:    handler,
	}
	s.logger.Debug("Registered scheduled task", "task", name, "expression", expression)
	return nil
}

// Start begins the scheduler loop
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Debug("Starting scheduler", "checkInterval", s.checkInterval.String())
	s.wg.Add(1)
	go s.run()
}

// Stop cancels any running task and waits for the loop to exit
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug("Scheduler stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("scheduler shutdown timed out")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runDue()
		case <-s.ctx.Done():
			return
		}
	}
}

// runDue executes every task due at the current time
func (s *Scheduler) runDue() {
	now := s.now()

	s.mu.Lock()
	var due []*Task
	for _, t := range s.tasks {
		if t.IsDue(now) {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextRun.Equal(due[j].NextRun) {
			return due[i].NextRun.Before(due[j].NextRun)
		}
		return due[i].Name < due[j].Name
	})
	for _, t := range due {
		if s.ctx.Err() != nil {
			return
		}
		s.execute(t)
	}
}

func (s *Scheduler) execute(t *Task) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := s.now()
	err := t.handler(s.ctx)
	finished := s.now()
	duration := finished.Sub(start)

	if err != nil {
		s.logger.Warn("Scheduled task failed", "task", t.Name, "error", err, "duration", duration.String())
	} else {
		s.logger.Debug("Scheduled task completed", "task", t.Name, "duration", duration.String())
	}

	s.mu.Lock()
	t.markRun(finished, duration, err)
	s.mu.Unlock()
}

// RunNow executes a task immediately, regardless of its schedule
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("task not found: %s", name)
	}
	s.execute(t)

	s.mu.Lock()
	defer s.mu.Unlock()
	if t.LastStatus == StatusFailed {
		return fmt.Errorf("task %s failed: %s", name, t.LastError)
	}
	return nil
}

// SetEnabled enables or disables a task. Re-enabling reschedules it from now.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("task not found: %s", name)
	}
	if enabled && !t.Enabled {
		t.NextRun = t.parsed.NextRun(s.now())
	}
	t.Enabled = enabled
	return nil
}

// Get returns a copy of the named task
func (s *Scheduler) Get(name string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return Task{}, false
	}
	return t.snapshot(), true
}

// List returns copies of all tasks ordered by name
func (s *Scheduler) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
