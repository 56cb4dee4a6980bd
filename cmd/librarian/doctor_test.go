package main

import (
	"strings"
	"testing"
	"time"

	"librarian/internal/config"
)

func TestCheckRecomputeSchedule(t *testing.T) {
	now := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		seconds    int
		schedule   string
		wantStatus string
		wantText   string
	}{
		{"interval", 300, "", "pass", "every 300s (next run in 5m)"},
		{"daily", 300, "daily at 03:00", "pass", "next run in 2h"},
		{"off", 0, "", "warn", "off"},
		{"unparseable", 300, "hourly", "fail", "unrecognized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Calibration.RecomputeIntervalSeconds = tt.seconds
			cfg.Calibration.RecomputeSchedule = tt.schedule

			got := checkRecomputeSchedule(cfg, now)
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q (%s)", got.Status, tt.wantStatus, got.Message)
			}
			if !strings.Contains(got.Message, tt.wantText) {
				t.Errorf("Message = %q, want it to contain %q", got.Message, tt.wantText)
			}
		})
	}
}
