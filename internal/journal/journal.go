// Package journal persists percentage-move snapshots and rebalancing run
// records in a local sqlite database.
package journal

import "time"

// MoveSnapshot is one sampled percentage move for the managed pair plus the
// blended portfolio move under the current allocation.
type MoveSnapshot struct {
	ID            string
	Time          time.Time
	MoveA         float64
	MoveB         float64
	PortfolioMove float64
	BenchmarkRate float64
}

// RunRecord is a persisted rebalancing run. Trace holds the full JSON trace.
type RunRecord struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Success  bool
	Reason   string
	Trace    string
}
