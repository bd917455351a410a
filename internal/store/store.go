package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one row of the run history.
type Run struct {
	ID           string    `db:"id"`
	AOI          string    `db:"aoi"`
	Epoch1       string    `db:"epoch1"`
	Epoch2       string    `db:"epoch2"`
	StartedAt    time.Time `db:"started_at"`
	FinishedAt   time.Time `db:"finished_at"`
	Status       string    `db:"status"`
	Seed         int64     `db:"seed"`
	Samples      int       `db:"samples"`
	Accuracy     float64   `db:"accuracy"`
	Kappa        float64   `db:"kappa"`
	TrainingOnly bool      `db:"training_only"`
	LossKm2      float64   `db:"loss_km2"`
	StableKm2    float64   `db:"stable_km2"`
	GainKm2      float64   `db:"gain_km2"`
	AOIKm2       float64   `db:"aoi_km2"`
	Error        string    `db:"error"`
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	aoi           TEXT NOT NULL,
	epoch1        TEXT NOT NULL,
	epoch2        TEXT NOT NULL,
	started_at    TIMESTAMP NOT NULL,
	finished_at   TIMESTAMP NOT NULL,
	status        TEXT NOT NULL,
	seed          BIGINT NOT NULL,
	samples       INTEGER NOT NULL,
	accuracy      DOUBLE PRECISION NOT NULL,
	kappa         DOUBLE PRECISION NOT NULL,
	training_only BOOLEAN NOT NULL,
	loss_km2      DOUBLE PRECISION NOT NULL,
	stable_km2    DOUBLE PRECISION NOT NULL,
	gain_km2      DOUBLE PRECISION NOT NULL,
	aoi_km2       DOUBLE PRECISION NOT NULL,
	error         TEXT NOT NULL
)`

// RunStore persists run history in sqlite or postgres.
type RunStore struct {
	db *sqlx.DB
}

// Open connects with driver "sqlite" or "postgres" and creates the schema.
func Open(ctx context.Context, driver, dsn string) (*RunStore, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s store: %w", driver, err)
	}
	if driver == "sqlite" {
		// a single connection keeps in-memory databases alive and serialises writers
		db.SetMaxOpenConns(1)
	}
	s := NewRunStore(db)
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func NewRunStore(db *sqlx.DB) *RunStore {
	return &RunStore{db: db}
}

func (s *RunStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}
	return nil
}

func (s *RunStore) SaveRun(ctx context.Context, run Run) error {
	const query = `
		INSERT INTO runs (
			id, aoi, epoch1, epoch2, started_at, finished_at, status, seed, samples,
			accuracy, kappa, training_only, loss_km2, stable_km2, gain_km2, aoi_km2, error
		) VALUES (
			:id, :aoi, :epoch1, :epoch2, :started_at, :finished_at, :status, :seed, :samples,
			:accuracy, :kappa, :training_only, :loss_km2, :stable_km2, :gain_km2, :aoi_km2, :error
		)`
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = run.FinishedAt.UTC()
	if _, err := s.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := s.db.Rebind(`SELECT * FROM runs ORDER BY started_at DESC LIMIT ?`)

	var runs []Run
	if err := s.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

func (s *RunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := s.db.Rebind(`SELECT * FROM runs WHERE id = ?`)

	var run Run
	if err := s.db.GetContext(ctx, &run, query, id); err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return &run, nil
}

func (s *RunStore) Close() error {
	return s.db.Close()
}
