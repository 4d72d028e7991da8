package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/calmasset/rebalancer/internal/journal"
	"github.com/oklog/ulid/v2"
)

// StageResult is the outcome of one pipeline stage. Skipped stages never
// appear in the trace.
type StageResult struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
	Note  string `json:"note,omitempty"`
}

// RunTrace is the structured record of one rebalancing run. It carries every
// intermediate value a caller needs to manually reconcile a partially
// executed run after a mid-pipeline failure.
type RunTrace struct {
	ID        string        `json:"id"`
	Started   time.Time     `json:"started"`
	Finished  time.Time     `json:"finished"`
	Success   bool          `json:"success"`
	Stages    []StageResult `json:"stages"`
	Equity    string        `json:"equity,omitempty"`
	FractionA float64       `json:"fraction_a,omitempty"`
	FractionB float64       `json:"fraction_b,omitempty"`
	SharesA   int64         `json:"shares_a,omitempty"`
	SharesB   int64         `json:"shares_b,omitempty"`
	Loss      float64       `json:"tracking_loss,omitempty"`
	DeltaA    string        `json:"delta_a,omitempty"`
	DeltaB    string        `json:"delta_b,omitempty"`
}

func newRunTrace() *RunTrace {
	return &RunTrace{
		ID:      ulid.Make().String(),
		Started: time.Now().UTC(),
	}
}

func (t *RunTrace) stageOK(name, note string) {
	t.Stages = append(t.Stages, StageResult{Name: name, Note: note})
}

func (t *RunTrace) stageFailed(name string, err error) {
	t.Stages = append(t.Stages, StageResult{Name: name, Error: err.Error()})
}

func (t *RunTrace) finish() {
	t.Finished = time.Now().UTC()
	t.Success = true
	for _, s := range t.Stages {
		if s.Error != "" {
			t.Success = false
			break
		}
	}
}

// FailureReason returns the error of the first failed stage, if any.
func (t *RunTrace) FailureReason() string {
	for _, s := range t.Stages {
		if s.Error != "" {
			return fmt.Sprintf("%s: %s", s.Name, s.Error)
		}
	}

	return ""
}

// Write encodes the trace as JSON.
func (t *RunTrace) Write(w io.Writer) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	if err := e.Encode(t); err != nil {
		return fmt.Errorf("failed to write run trace: %w", err)
	}

	return nil
}

// Record converts the trace into a journal row.
func (t *RunTrace) Record() (journal.RunRecord, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return journal.RunRecord{}, fmt.Errorf("failed to marshal run trace: %w", err)
	}

	return journal.RunRecord{
		ID:       t.ID,
		Started:  t.Started,
		Finished: t.Finished,
		Success:  t.Success,
		Reason:   t.FailureReason(),
		Trace:    string(raw),
	}, nil
}
