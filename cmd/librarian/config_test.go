package main

import (
	"strings"
	"testing"

	"librarian/internal/config"
)

func TestIsEqual(t *testing.T) {
	tests := []struct {
		name string
		a    interface{}
		b    interface{}
		want bool
	}{
		{"equal ints", 30, 30, true},
		{"int and whole float", int64(30), float64(30), true},
		{"different strings", "fixed", "adaptive", false},
		{"equal bools", true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("isEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestComputeDiff(t *testing.T) {
	current := map[string]interface{}{
		"version": 1,
		"calibration": map[string]interface{}{
			"minSamples":  12,
			"bucketCount": 10,
		},
		"logging": map[string]interface{}{"level": "info"},
	}
	defaults := map[string]interface{}{
		"version": 1,
		"calibration": map[string]interface{}{
			"minSamples":  30,
			"bucketCount": 10,
		},
		"logging": map[string]interface{}{"level": "info"},
	}

	diff := computeDiff(current, defaults)
	if len(diff) != 1 {
		t.Fatalf("diff = %v, want only calibration", diff)
	}
	cal, ok := diff["calibration"].(map[string]interface{})
	if !ok || len(cal) != 1 || cal["minSamples"] != 12 {
		t.Errorf("calibration diff = %v", diff["calibration"])
	}
}

func TestRenderConfig_Formats(t *testing.T) {
	result := &config.LoadResult{Config: config.DefaultConfig(), UsedDefaults: true}

	tests := []struct {
		format string
		want   string
	}{
		{"json", `"minSamples": 30`},
		{"yaml", "minSamples: 30"},
		{"toml", "minSamples = 30"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			out, err := renderConfig(result, false, tt.format)
			if err != nil {
				t.Fatalf("renderConfig() error = %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}

	if _, err := renderConfig(result, false, "ini"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestRenderConfig_DiffOnly(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Calibration.MinSamples = 12
	result := &config.LoadResult{Config: cfg}

	out, err := renderConfig(result, true, "json")
	if err != nil {
		t.Fatalf("renderConfig() error = %v", err)
	}
	if !strings.Contains(out, `"minSamples": 12`) {
		t.Errorf("diff missing modified value:\n%s", out)
	}
	if strings.Contains(out, "bucketCount") {
		t.Errorf("diff should omit unchanged values:\n%s", out)
	}
}

func TestConfigLines(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Calibration.Partition = "adaptive"
	current, err := config.Flatten(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defaults, err := config.Flatten(config.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	all := configLines(current, defaults, false)
	if len(all) != len(current)-1 {
		t.Errorf("got %d lines, want every key except repoRoot (%d)", len(all), len(current)-1)
	}

	diff := configLines(current, defaults, true)
	if len(diff) != 1 || diff[0] != "  calibration.partition: adaptive (default: fixed)" {
		t.Errorf("diff lines = %v", diff)
	}
}
