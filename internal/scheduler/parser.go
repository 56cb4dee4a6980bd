package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Expression types
const (
	ExprTypeInterval = "interval"
	ExprTypeDaily    = "daily"
)

// ParsedExpression represents a parsed schedule expression
type ParsedExpression struct {
	Type     string
	Interval time.Duration // for interval type
	Hour     int           // for daily type
	Minute   int
}

var (
	intervalRegex = regexp.MustCompile(`^every\s+(\d+)\s*(ms|s|m|h|d|milliseconds?|seconds?|minutes?|hours?|days?)$`)
	dailyRegex    = regexp.MustCompile(`^daily\s+at\s+(\d{1,2}):(\d{2})$`)
)

// ParseExpression parses "every <n><unit>" or "daily at HH:MM"
func ParseExpression(expr string) (*ParsedExpression, error) {
	expr = strings.TrimSpace(strings.ToLower(expr))

	if matches := intervalRegex.FindStringSubmatch(expr); matches != nil {
		value, _ := strconv.Atoi(matches[1])
		unit := matches[2]

		var duration time.Duration
		switch {
		case unit == "ms" || strings.HasPrefix(unit, "milli"):
			duration = time.Duration(value) * time.Millisecond
		case strings.HasPrefix(unit, "s"):
			duration = time.Duration(value) * time.Second
		case strings.HasPrefix(unit, "m"):
			duration = time.Duration(value) * time.Minute
		case strings.HasPrefix(unit, "h"):
			duration = time.Duration(value) * time.Hour
		case strings.HasPrefix(unit, "d"):
			duration = time.Duration(value) * 24 * time.Hour
		}

		if duration <= 0 {
			return nil, fmt.Errorf("interval must be positive: %s", expr)
		}
		return &ParsedExpression{Type: ExprTypeInterval, Interval: duration}, nil
	}

	if matches := dailyRegex.FindStringSubmatch(expr); matches != nil {
		hour, _ := strconv.Atoi(matches[1])
		minute, _ := strconv.Atoi(matches[2])
		if hour > 23 || minute > 59 {
			return nil, fmt.Errorf("invalid time: %s:%s", matches[1], matches[2])
		}
		return &ParsedExpression{Type: ExprTypeDaily, Hour: hour, Minute: minute}, nil
	}

	return nil, fmt.Errorf("unrecognized schedule expression: %s", expr)
}

// Every renders an interval expression for d
func Every(d time.Duration) string {
	if d%time.Second != 0 {
		return fmt.Sprintf("every %dms", d.Milliseconds())
	}
	return fmt.Sprintf("every %ds", int64(d/time.Second))
}

// NextRunTime calculates the next run time for an expression
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	parsed, err := ParseExpression(expr)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.NextRun(from), nil
}

// NextRun calculates the next run time after from
func (p *ParsedExpression) NextRun(from time.Time) time.Time {
	switch p.Type {
	case ExprTypeDaily:
		next := time.Date(from.Year(), from.Month(), from.Day(), p.Hour, p.Minute, 0, 0, from.Location())
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	default:
		return from.Add(p.Interval)
	}
}

// FormatDuration formats a duration for display
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
