package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Job decides its own firing moments. Scheduled work runs sequentially in
// the tick loop, so at most one job body executes at a time.
type Job interface {
	Name() string
	Due(now time.Time) bool
	Run(ctx context.Context) error
}

// Scheduler polls its jobs on a fixed tick and runs the due ones in order.
type Scheduler struct {
	log  *slog.Logger
	tick time.Duration
	jobs []Job
}

func New(log *slog.Logger, tick time.Duration, jobs ...Job) *Scheduler {
	return &Scheduler{log: log, tick: tick, jobs: jobs}
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.log.Info("scheduler started", "jobs", len(s.jobs), "tick", s.tick)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.runDue(ctx, now.UTC())
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	for _, job := range s.jobs {
		if !job.Due(now) {
			continue
		}

		s.log.Info("running scheduled job", "job", job.Name())
		if err := job.Run(ctx); err != nil {
			s.log.Error("scheduled job failed", "job", job.Name(), "error", err)
		}
	}
}

// DailyJob fires once per weekday at a fixed UTC wall clock time.
type DailyJob struct {
	name    string
	hour    int
	minute  int
	lastDay time.Time
	run     func(ctx context.Context) error
}

// NewDailyJob parses at as "HH:MM" in UTC.
func NewDailyJob(name, at string, run func(ctx context.Context) error) (*DailyJob, error) {
	hour, minute, err := parseWallClock(at)
	if err != nil {
		return nil, fmt.Errorf("invalid time for job %s: %w", name, err)
	}

	return &DailyJob{name: name, hour: hour, minute: minute, run: run}, nil
}

func (j *DailyJob) Name() string { return j.name }

func (j *DailyJob) Due(now time.Time) bool {
	if isWeekend(now) {
		return false
	}

	day := now.Truncate(24 * time.Hour)
	if day.Equal(j.lastDay) {
		return false
	}

	target := j.hour*60 + j.minute
	if now.Hour()*60+now.Minute() < target {
		return false
	}

	j.lastDay = day
	return true
}

func (j *DailyJob) Run(ctx context.Context) error { return j.run(ctx) }

// WindowJob fires at a fixed period, but only on weekdays inside the
// [from, to) UTC wall clock window.
type WindowJob struct {
	name    string
	every   time.Duration
	from    int
	to      int
	lastRun time.Time
	run     func(ctx context.Context) error
}

func NewWindowJob(name string, every time.Duration, from, to string, run func(ctx context.Context) error) (*WindowJob, error) {
	fromHour, fromMinute, err := parseWallClock(from)
	if err != nil {
		return nil, fmt.Errorf("invalid window start for job %s: %w", name, err)
	}

	toHour, toMinute, err := parseWallClock(to)
	if err != nil {
		return nil, fmt.Errorf("invalid window end for job %s: %w", name, err)
	}

	return &WindowJob{
		name:  name,
		every: every,
		from:  fromHour*60 + fromMinute,
		to:    toHour*60 + toMinute,
		run:   run,
	}, nil
}

func (j *WindowJob) Name() string { return j.name }

func (j *WindowJob) Due(now time.Time) bool {
	if isWeekend(now) {
		return false
	}

	minute := now.Hour()*60 + now.Minute()
	if minute < j.from || minute >= j.to {
		return false
	}

	if now.Sub(j.lastRun) < j.every {
		return false
	}

	j.lastRun = now
	return true
}

func (j *WindowJob) Run(ctx context.Context) error { return j.run(ctx) }

func parseWallClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q: %w", s, err)
	}

	return t.Hour(), t.Minute(), nil
}

func isWeekend(now time.Time) bool {
	return now.Weekday() == time.Saturday || now.Weekday() == time.Sunday
}
