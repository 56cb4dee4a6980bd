// Package scheduler runs named maintenance tasks on interval or daily
// schedules inside the ledger process.
package scheduler

import (
	"context"
	"time"
)

// Task names used by the ledger
const (
	TaskRecalibrate     = "recalibrate"
	TaskEscalationSweep = "escalation_sweep"
)

// Run statuses
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Handler executes one run of a task
type Handler func(ctx context.Context) error

// Task is a named handler with its schedule and last-run bookkeeping
type Task struct {
	Name         string     `json:"name"`
	Expression   string     `json:"expression"`
	Enabled      bool       `json:"enabled"`
	NextRun      time.Time  `json:"nextRun"`
	LastRun      *time.Time `json:"lastRun,omitempty"`
	LastStatus   string     `json:"lastStatus,omitempty"`
	LastDuration int64      `json:"lastDuration,omitempty"` // milliseconds
	LastError    string     `json:"lastError,omitempty"`
	Runs         int        `json:"runs"`

	parsed  *ParsedExpression
	handler Handler
}

// IsDue reports whether the task should run at now
func (t *Task) IsDue(now time.Time) bool {
	if !t.Enabled {
		return false
	}
	return !now.Before(t.NextRun)
}

// markRun records a finished run and schedules the next one
func (t *Task) markRun(finished time.Time, duration time.Duration, err error) {
	t.LastRun = &finished
	t.LastDuration = duration.Milliseconds()
	t.Runs++
	if err == nil {
		t.LastStatus = StatusSuccess
		t.LastError = ""
	} else {
		t.LastStatus = StatusFailed
		t.LastError = err.Error()
	}
	t.NextRun = t.parsed.NextRun(finished)
}

// snapshot returns a copy safe to hand to callers
func (t *Task) snapshot() Task {
	c := *t
	c.handler = nil
	if t.LastRun != nil {
		lr := *t.LastRun
		c.LastRun = &lr
	}
	return c
}
