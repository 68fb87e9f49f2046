package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// BeginRun inserts a new run row and returns it.
func (s *Store) BeginRun(ctx context.Context) (*Run, error) {
	run := &Run{ID: uuid.NewString(), StartedAt: time.Now()}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, started_at) VALUES (?, ?)", run.ID, run.StartedAt,
	)
	if err != nil {
		return nil, storageErr("begin run", err)
	}
	return run, nil
}

// FinishRun stores the final counts of run.
func (s *Store) FinishRun(ctx context.Context, run *Run) error {
	now := time.Now()
	run.FinishedAt = &now
	_, err := s.db.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, processed = ?, skipped = ?, failed = ? WHERE id = ?",
		now, run.Processed, run.Skipped, run.Failed, run.ID,
	)
	return storageErr("finish run", err)
}

// LastRun returns the most recently started run, or ErrNotFound.
func (s *Store) LastRun(ctx context.Context) (*Run, error) {
	run := &Run{}
	var finished sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, processed, skipped, failed
		 FROM runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&run.ID, &run.StartedAt, &finished, &run.Processed, &run.Skipped, &run.Failed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("last run", err)
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}
