// Package report writes a YAML summary of a finished batch.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/decom/executor"
)

// Version of the report layout
const Version = "v1"

// Report is the persisted form of a batch result
type Report struct {
	Version   string     `yaml:"version"`
	RunID     string     `yaml:"run_id"`
	Started   time.Time  `yaml:"started"`
	Finished  time.Time  `yaml:"finished"`
	Duration  string     `yaml:"duration"`
	Total     int        `yaml:"total"`
	Attempted int        `yaml:"attempted"`
	Succeeded int        `yaml:"succeeded"`
	Failed    int        `yaml:"failed"`
	Skipped   int        `yaml:"skipped"`
	Instances []Instance `yaml:"instances,omitempty"`
}

// Instance is one line of the report
type Instance struct {
	ID         string `yaml:"id"`
	Status     string `yaml:"status"`
	FinalState string `yaml:"final_state,omitempty"`
	StopIssued bool   `yaml:"stop_issued"`
	Duration   string `yaml:"duration,omitempty"`
	Error      string `yaml:"error,omitempty"`
	SkipReason string `yaml:"skip_reason,omitempty"`
}

// FromBatch converts a batch result
func FromBatch(b *executor.BatchResult) *Report {
	r := &Report{
		Version:   Version,
		RunID:     b.RunID,
		Started:   b.StartTime,
		Finished:  b.EndTime,
		Duration:  b.Duration.Round(time.Millisecond).String(),
		Total:     b.Total,
		Attempted: b.Attempted,
		Succeeded: b.Succeeded,
		Failed:    b.Failed,
		Skipped:   b.Skipped,
		Instances: make([]Instance, 0, len(b.Results)),
	}
	for _, res := range b.Results {
		inst := Instance{
			ID:         res.InstanceID,
			Status:     string(res.Status),
			FinalState: string(res.Final),
			StopIssued: res.StopIssued,
			Error:      res.Error,
			SkipReason: res.SkipReason,
		}
		if res.Duration > 0 {
			inst.Duration = res.Duration.Round(time.Millisecond).String()
		}
		r.Instances = append(r.Instances, inst)
	}
	return r
}

// Write stores r at path, replacing any previous report. Inconsistent
// counts are refused.
func Write(path string, r *Report) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid report: %w", err)
	}

	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Validate ensures the counts are consistent
func (r *Report) Validate() error {
	if r.Version != Version {
		return fmt.Errorf("unsupported version %q", r.Version)
	}
	if r.Attempted+r.Skipped != r.Total {
		return fmt.Errorf("attempted (%d) + skipped (%d) != total (%d)", r.Attempted, r.Skipped, r.Total)
	}
	if r.Succeeded > r.Attempted {
		return fmt.Errorf("succeeded (%d) exceeds attempted (%d)", r.Succeeded, r.Attempted)
	}
	return nil
}
