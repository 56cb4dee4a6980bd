package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"librarian/internal/slogutil"
)

func TestParseExpressionInterval(t *testing.T) {
	tests := []struct {
		expr    string
		wantDur time.Duration
		wantErr bool
	}{
		{"every 5m", 5 * time.Minute, false},
		{"every 5 minutes", 5 * time.Minute, false},
		{"every 2h", 2 * time.Hour, false},
		{"every 2 hours", 2 * time.Hour, false},
		{"every 1d", 24 * time.Hour, false},
		{"every 1 day", 24 * time.Hour, false},
		{"every 30s", 30 * time.Second, false},
		{"every 250ms", 250 * time.Millisecond, false},
		{"Every 300 Seconds", 300 * time.Second, false},
		{"every 0s", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			parsed, err := ParseExpression(tt.expr)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseExpression() error = %v", err)
			}
			if parsed.Type != ExprTypeInterval {
				t.Errorf("Type = %q, want %q", parsed.Type, ExprTypeInterval)
			}
			if parsed.Interval != tt.wantDur {
				t.Errorf("Interval = %v, want %v", parsed.Interval, tt.wantDur)
			}
		})
	}
}

func TestParseExpressionDaily(t *testing.T) {
	tests := []struct {
		expr     string
		wantHour int
		wantMin  int
		wantErr  bool
	}{
		{"daily at 09:00", 9, 0, false},
		{"daily at 9:00", 9, 0, false},
		{"daily at 23:59", 23, 59, false},
		{"daily at 00:00", 0, 0, false},
		{"daily at 25:00", 0, 0, true},
		{"daily at 12:60", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			parsed, err := ParseExpression(tt.expr)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseExpression() error = %v", err)
			}
			if parsed.Type != ExprTypeDaily {
				t.Errorf("Type = %q, want %q", parsed.Type, ExprTypeDaily)
			}
			if parsed.Hour != tt.wantHour || parsed.Minute != tt.wantMin {
				t.Errorf("time = %02d:%02d, want %02d:%02d", parsed.Hour, parsed.Minute, tt.wantHour, tt.wantMin)
			}
		})
	}
}

func TestParseExpressionUnrecognized(t *testing.T) {
	for _, expr := range []string{"", "hourly", "*/5 * * * *", "every", "every x minutes"} {
		if _, err := ParseExpression(expr); err == nil {
			t.Errorf("ParseExpression(%q) should fail", expr)
		}
	}
}

func TestEvery(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{300 * time.Second, "every 300s"},
		{time.Minute, "every 60s"},
		{1500 * time.Millisecond, "every 1500ms"},
	}
	for _, tt := range tests {
		if got := Every(tt.d); got != tt.want {
			t.Errorf("Every(%v) = %q, want %q", tt.d, got, tt.want)
		}
		parsed, err := ParseExpression(Every(tt.d))
		if err != nil {
			t.Fatalf("Every(%v) does not parse: %v", tt.d, err)
		}
		if parsed.Interval != tt.d {
			t.Errorf("round trip of %v gave %v", tt.d, parsed.Interval)
		}
	}
}

func TestNextRunTimeDaily(t *testing.T) {
	from := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	next, err := NextRunTime("daily at 09:00", from)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextRunTime() = %v, want %v", next, want)
	}

	next, _ = NextRunTime("daily at 11:30", from)
	want = time.Date(2026, 3, 10, 11, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextRunTime() = %v, want %v", next, want)
	}

	next, _ = NextRunTime("daily at 10:00", from)
	if !next.Equal(from.AddDate(0, 0, 1)) {
		t.Errorf("a run exactly at from should move to tomorrow, got %v", next)
	}
}

func TestNextRunTimeInterval(t *testing.T) {
	from := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	next, err := NextRunTime("every 90s", from)
	if err != nil {
		t.Fatal(err)
	}
	if !next.Equal(from.Add(90 * time.Second)) {
		t.Errorf("NextRunTime() = %v", next)
	}
	if _, err := NextRunTime("sometimes", from); err == nil {
		t.Error("expected error for invalid expression")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{3 * time.Hour, "3h"},
		{48 * time.Hour, "2d"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestTaskIsDue(t *testing.T) {
	now := time.Now()
	task := &Task{Enabled: true, NextRun: now}
	if !task.IsDue(now) {
		t.Error("task at its next run time should be due")
	}
	if task.IsDue(now.Add(-time.Second)) {
		t.Error("task before its next run time should not be due")
	}
	task.Enabled = false
	if task.IsDue(now.Add(time.Hour)) {
		t.Error("disabled task should never be due")
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestScheduler() (*Scheduler, *clock) {
	c := &clock{now: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)}
	s := New(slogutil.NewDiscardLogger(), Config{CheckInterval: time.Hour})
	s.now = c.Now
	return s, c
}

func TestSchedulerRunDue(t *testing.T) {
	s, c := newTestScheduler()

	var order []string
	record := func(name string) Handler {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	if err := s.Add("slow", "every 10m", record("slow")); err != nil {
		t.Fatal(err)
	}
	if err := s.Add("fast", "every 1m", record("fast")); err != nil {
		t.Fatal(err)
	}

	s.runDue()
	if len(order) != 0 {
		t.Fatalf("nothing should be due yet, ran %v", order)
	}

	c.advance(time.Minute)
	s.runDue()
	c.advance(10 * time.Minute)
	s.runDue()

	want := []string{"fast", "fast", "slow"}
	if len(order) != len(want) {
		t.Fatalf("ran %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("ran %v, want %v", order, want)
		}
	}

	task, ok := s.Get("fast")
	if !ok {
		t.Fatal("Get(fast) not found")
	}
	if task.Runs != 2 || task.LastStatus != StatusSuccess {
		t.Errorf("fast task = %+v", task)
	}
	if !task.NextRun.Equal(c.Now().Add(time.Minute)) {
		t.Errorf("NextRun = %v, want one interval after last run", task.NextRun)
	}
}

func TestSchedulerRecordsFailures(t *testing.T) {
	s, c := newTestScheduler()
	if err := s.Add("broken", "every 1m", func(context.Context) error {
		return errors.New("disk full")
	}); err != nil {
		t.Fatal(err)
	}

	c.advance(time.Minute)
	s.runDue()

	task, _ := s.Get("broken")
	if task.LastStatus != StatusFailed || task.LastError != "disk full" {
		t.Errorf("task = %+v, want failed with error", task)
	}
	if err := s.RunNow("broken"); err == nil {
		t.Error("RunNow() should report the failure")
	}
	if err := s.RunNow("missing"); err == nil {
		t.Error("RunNow() on unknown task should fail")
	}
}

func TestSchedulerSetEnabled(t *testing.T) {
	s, c := newTestScheduler()
	var runs int
	if err := s.Add("task", "every 1m", func(context.Context) error { runs++; return nil }); err != nil {
		t.Fatal(err)
	}
	if err := s.SetEnabled("task", false); err != nil {
		t.Fatal(err)
	}

	c.advance(5 * time.Minute)
	s.runDue()
	if runs != 0 {
		t.Fatalf("disabled task ran %d times", runs)
	}

	if err := s.SetEnabled("task", true); err != nil {
		t.Fatal(err)
	}
	task, _ := s.Get("task")
	if !task.NextRun.Equal(c.Now().Add(time.Minute)) {
		t.Errorf("re-enabled NextRun = %v", task.NextRun)
	}
	if err := s.SetEnabled("missing", true); err == nil {
		t.Error("SetEnabled() on unknown task should fail")
	}
}

func TestSchedulerAddInvalidExpression(t *testing.T) {
	s, _ := newTestScheduler()
	if err := s.Add("bad", "whenever", func(context.Context) error { return nil }); err == nil {
		t.Error("Add() should reject an invalid expression")
	}
	if len(s.List()) != 0 {
		t.Error("invalid task should not be registered")
	}
}

func TestSchedulerLoop(t *testing.T) {
	s := New(slogutil.NewDiscardLogger(), Config{CheckInterval: 5 * time.Millisecond})
	var runs atomic.Int32
	if err := s.Add("tick", "every 10ms", func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	s.Start()
	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if runs.Load() < 2 {
		t.Errorf("runs = %d, want at least 2", runs.Load())
	}
}

func TestListOrderedByName(t *testing.T) {
	s, _ := newTestScheduler()
	noop := func(context.Context) error { return nil }
	_ = s.Add("b", "every 1m", noop)
	_ = s.Add("a", "daily at 03:00", noop)

	tasks := s.List()
	if len(tasks) != 2 || tasks[0].Name != "a" || tasks[1].Name != "b" {
		t.Errorf("List() = %+v", tasks)
	}
}
