package models

import "testing"

func TestJobStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status JobStatus
		want   bool
	}{
		{"queued is valid", JobQueued, true},
		{"ready is valid", JobReady, true},
		{"running is valid", JobRunning, true},
		{"finished is valid", JobFinished, true},
		{"failed is valid", JobFailed, true},
		{"stopped is valid", JobStopped, true},
		{"empty string is invalid", JobStatus(""), false},
		{"unknown status is invalid", JobStatus("done"), false},
		{"uppercase is invalid", JobStatus("RUNNING"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("JobStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{JobQueued, false},
		{JobReady, false},
		{JobRunning, false},
		{JobFinished, true},
		{JobFailed, true},
		{JobStopped, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("JobStatus(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestDefaultBayesParams(t *testing.T) {
	p := DefaultBayesParams()
	if p.BurnIn >= p.Generations/p.SampleFreq {
		t.Errorf("burn-in %d discards every sample (%d samples)", p.BurnIn, p.Generations/p.SampleFreq)
	}
	if p.Runs < 1 || p.Chains < 1 {
		t.Errorf("DefaultBayesParams() runs=%d chains=%d, want positive", p.Runs, p.Chains)
	}
}
