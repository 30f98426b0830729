package main

import (
	"testing"
	"time"

	"github.com/ShayCichocki/phylorun/internal/config"
)

func TestConfigValues(t *testing.T) {
	cfg := config.Default()

	tests := []struct {
		key   string
		value string
		want  string
	}{
		{"engines.tnt.path", "/opt/tnt", "/opt/tnt"},
		{"supervisor.stop_timeout", "2s", "2s"},
		{"consensus.tnt_index_base", "1", "1"},
		{"archive.enabled", "true", "true"},
		{"ARCHIVE.BUCKET", "trees", "trees"},
		{"archive.secret_access_key", "abcdefghijklmnop", "abcd...mnop"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if err := setConfigValue(cfg, tt.key, tt.value); err != nil {
				t.Fatalf("setConfigValue: %v", err)
			}
			got, err := getConfigValue(cfg, tt.key)
			if err != nil {
				t.Fatalf("getConfigValue: %v", err)
			}
			if got != tt.want {
				t.Errorf("getConfigValue(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}

	if cfg.Supervisor.StopTimeout != 2*time.Second {
		t.Errorf("expected stop timeout 2s, got %v", cfg.Supervisor.StopTimeout)
	}
}

func TestConfigValues_Errors(t *testing.T) {
	cfg := config.Default()

	tests := []struct {
		key   string
		value string
	}{
		{"no.such.key", "x"},
		{"supervisor.start_timeout", "soon"},
		{"archive.path_style", "maybe"},
		{"consensus.tnt_index_base", "one"},
	}

	for _, tt := range tests {
		if err := setConfigValue(cfg, tt.key, tt.value); err == nil {
			t.Errorf("setConfigValue(%q, %q) expected error", tt.key, tt.value)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{2 * time.Hour, "2h"},
		{90 * time.Minute, "1h30m"},
		{72 * time.Hour, "3d"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
