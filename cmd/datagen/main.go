package main

import (
	"flag"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/calmasset/rebalancer/internal/journal"
)

// Generates a year of synthetic per-minute move snapshots so the journal can
// be exercised without waiting for real market sessions. The daily move is
// drawn from a normal fitted to broad-market returns and spread across the
// 390 minutes of a trading day.
const (
	dailyDrift    = 0.0002939
	dailyStddev   = 0.0097392
	benchmarkRate = 0.00000010426
	tradingDayMin = 390.0
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	out := flag.String("out", "journal.db", "journal database to fill")
	days := flag.Int("days", 365, "calendar days to generate")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	weight := flag.Float64("weight", 0.5, "portfolio weight of the primary asset")
	flag.Parse()

	store, err := journal.Open(*out)
	if err != nil {
		log.Error("failed to open journal", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	rng := rand.New(rand.NewSource(*seed))
	start := time.Now().UTC().AddDate(0, 0, -*days).Truncate(time.Minute)

	written := 0
	for at := start; at.Before(time.Now().UTC()); at = at.Add(time.Minute) {
		if !tradingMinute(at) {
			continue
		}

		moveA := minuteMove(rng)
		moveB := minuteMove(rng)
		err := store.RecordMove(journal.MoveSnapshot{
			Time:          at,
			MoveA:         moveA,
			MoveB:         moveB,
			PortfolioMove: *weight*moveA + (1-*weight)*moveB,
			BenchmarkRate: benchmarkRate,
		})
		if err != nil {
			log.Error("failed to record move", "error", err)
			os.Exit(1)
		}
		written++
	}

	log.Info("synthetic moves generated", "snapshots", written, "out", *out)
}

// minuteMove scales one sampled daily move down to a single minute.
func minuteMove(rng *rand.Rand) float64 {
	daily := 1.0 + rng.NormFloat64()*dailyStddev + dailyDrift
	return math.Pow(daily, 1.0/tradingDayMin) - 1.0
}

func tradingMinute(at time.Time) bool {
	if at.Weekday() == time.Saturday || at.Weekday() == time.Sunday {
		return false
	}

	minute := at.Hour()*60 + at.Minute()
	return minute >= 13*60+30 && minute < 20*60
}
