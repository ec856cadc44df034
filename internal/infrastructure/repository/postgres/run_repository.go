package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/store-app-detector/internal/core/domain"
)

const defaultListLimit = 20

// RunRepository stores detection run history in detection_runs. Session ids are never stored:
// they are only valid for the lifetime of a single run.
type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *RunRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS detection_runs (
	id TEXT PRIMARY KEY,
	store_url TEXT NOT NULL,
	status TEXT NOT NULL,
	last_step TEXT NOT NULL DEFAULT '',
	apps_found INTEGER NOT NULL DEFAULT 0,
	error_kind TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	result JSONB,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_detection_runs_store_url ON detection_runs(store_url, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_detection_runs_status ON detection_runs(status);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *RunRepository) Create(ctx context.Context, run *domain.DetectionRun) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO detection_runs (id, store_url, status, last_step, apps_found, started_at)
VALUES ($1,$2,$3,$4,$5,$6)
`,
		run.ID, run.StoreURL, string(run.Status), string(run.LastStep), run.AppsFound, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert detection run: %w", err)
	}
	return nil
}

func (r *RunRepository) MarkRunning(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE detection_runs
SET status = $2
WHERE id = $1
`, id, string(domain.RunRunning))
	if err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	return requireAffected(res, "mark run running", id)
}

func (r *RunRepository) MarkComplete(ctx context.Context, id string, result *domain.DetectionResult, finishedAt time.Time) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal detection result: %w", err)
	}
	appsFound := 0
	if result != nil {
		appsFound = len(result.DetectedApps)
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE detection_runs
SET status = $2, last_step = $3, apps_found = $4, result = $5, finished_at = $6
WHERE id = $1
`, id, string(domain.RunComplete), string(domain.StepFinalizing), appsFound, resultJSON, finishedAt)
	if err != nil {
		return fmt.Errorf("mark run complete: %w", err)
	}
	return requireAffected(res, "mark run complete", id)
}

func (r *RunRepository) MarkFailed(ctx context.Context, id string, step domain.Step, errorKind, errorMessage string, finishedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE detection_runs
SET status = $2, last_step = $3, error_kind = $4, error_message = $5, finished_at = $6
WHERE id = $1
`, id, string(domain.RunFailed), string(step), errorKind, errorMessage, finishedAt)
	if err != nil {
		return fmt.Errorf("mark run failed: %w", err)
	}
	return requireAffected(res, "mark run failed", id)
}

const selectRunColumns = `
SELECT id, store_url, status, last_step, apps_found, error_kind, error_message, result, started_at, finished_at
FROM detection_runs
`

func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.DetectionRun, error) {
	row := r.db.QueryRowContext(ctx, selectRunColumns+`WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRunNotFound, "get detection run", fmt.Errorf("id=%s", id))
		}
		return nil, err
	}
	return run, nil
}

func (r *RunRepository) ListByStore(ctx context.Context, storeURL string, limit int) ([]domain.DetectionRun, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, selectRunColumns+`WHERE store_url = $1
ORDER BY started_at DESC
LIMIT $2`, storeURL, limit)
	if err != nil {
		return nil, fmt.Errorf("list detection runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.DetectionRun, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detection runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.DetectionRun, error) {
	var (
		run        domain.DetectionRun
		status     string
		lastStep   string
		resultRaw  []byte
		finishedAt sql.NullTime
	)
	err := row.Scan(
		&run.ID, &run.StoreURL, &status, &lastStep, &run.AppsFound, &run.ErrorKind, &run.ErrorMessage,
		&resultRaw, &run.StartedAt, &finishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan detection run: %w", err)
	}

	run.Status = domain.RunStatus(status)
	run.LastStep = domain.Step(lastStep)
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if len(resultRaw) > 0 && string(resultRaw) != "null" {
		var result domain.DetectionResult
		if err := json.Unmarshal(resultRaw, &result); err != nil {
			return nil, fmt.Errorf("unmarshal detection result: %w", err)
		}
		run.Result = &result
	}
	return &run, nil
}

func requireAffected(res sql.Result, op, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrRunNotFound, op, fmt.Errorf("id=%s", id))
	}
	return nil
}
