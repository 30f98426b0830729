package main

import (
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/ShayCichocki/phylorun/pkg/models"
)

func TestStopOutcome(t *testing.T) {
	tests := []struct {
		name     string
		job      *models.AnalysisJob
		wantMsg  string
		wantAttr color.Attribute
	}{
		{
			name:     "stopped",
			job:      &models.AnalysisJob{ID: "j1", Status: models.JobStopped, Reason: "stopped by user"},
			wantMsg:  "Job j1 stopped: stopped by user",
			wantAttr: color.FgGreen,
		},
		{
			name:     "finished first",
			job:      &models.AnalysisJob{ID: "j1", Status: models.JobFinished, Reason: "completed"},
			wantMsg:  "Job j1 finished: completed (before the stop took effect)",
			wantAttr: color.FgYellow,
		},
		{
			name:     "failed first",
			job:      &models.AnalysisJob{ID: "j1", Status: models.JobFailed, Reason: "engine crashed"},
			wantMsg:  "Job j1 failed: engine crashed",
			wantAttr: color.FgRed,
		},
		{
			name:     "removed",
			job:      nil,
			wantMsg:  "Job j1 was removed",
			wantAttr: color.FgYellow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, msg, attr := stopOutcome("j1", tt.job)
			if msg != tt.wantMsg {
				t.Errorf("stopOutcome() msg = %q, want %q", msg, tt.wantMsg)
			}
			if attr != tt.wantAttr {
				t.Errorf("stopOutcome() color = %v, want %v", attr, tt.wantAttr)
			}
			if tt.job != nil && tt.job.Status != models.JobStopped && strings.Contains(msg, "stopped") {
				t.Errorf("non-stopped job reported as stopped: %q", msg)
			}
		})
	}
}
