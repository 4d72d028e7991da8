package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

const schema = `
CREATE TABLE IF NOT EXISTS moves (
	id             TEXT PRIMARY KEY,
	time           TIMESTAMP NOT NULL,
	move_a         REAL NOT NULL,
	move_b         REAL NOT NULL,
	portfolio_move REAL NOT NULL,
	benchmark_rate REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id       TEXT PRIMARY KEY,
	started  TIMESTAMP NOT NULL,
	finished TIMESTAMP NOT NULL,
	success  INTEGER NOT NULL,
	reason   TEXT NOT NULL DEFAULT '',
	trace    TEXT NOT NULL DEFAULT ''
);
`

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply journal schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) RecordMove(m MoveSnapshot) error {
	if m.ID == "" {
		m.ID = ulid.Make().String()
	}

	_, err := s.db.Exec(`
		INSERT INTO moves (id, time, move_a, move_b, portfolio_move, benchmark_rate)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Time, m.MoveA, m.MoveB, m.PortfolioMove, m.BenchmarkRate,
	)
	if err != nil {
		return fmt.Errorf("failed to record move snapshot: %w", err)
	}

	return nil
}

func (s *Store) ListMoves(from, to time.Time) ([]MoveSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, time, move_a, move_b, portfolio_move, benchmark_rate
		FROM moves WHERE time >= ? AND time < ? ORDER BY time`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query move snapshots: %w", err)
	}
	defer rows.Close()

	var out []MoveSnapshot
	for rows.Next() {
		var m MoveSnapshot
		if err := rows.Scan(&m.ID, &m.Time, &m.MoveA, &m.MoveB, &m.PortfolioMove, &m.BenchmarkRate); err != nil {
			return nil, fmt.Errorf("failed to scan move snapshot: %w", err)
		}
		out = append(out, m)
	}

	return out, rows.Err()
}

func (s *Store) RecordRun(r RunRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started, finished, success, reason, trace)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Started, r.Finished, r.Success, r.Reason, r.Trace,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	return nil
}

func (s *Store) GetRun(id string) (RunRecord, error) {
	var r RunRecord
	err := s.db.QueryRow(`
		SELECT id, started, finished, success, reason, trace
		FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.Started, &r.Finished, &r.Success, &r.Reason, &r.Trace)
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	return r, nil
}

func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, started, finished, success, reason, trace
		FROM runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Started, &r.Finished, &r.Success, &r.Reason, &r.Trace); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
