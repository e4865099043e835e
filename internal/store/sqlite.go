package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/breakdown-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	platform   TEXT NOT NULL DEFAULT 'unknown',
	output_dir TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	error_code TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_steps (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	step        TEXT NOT NULL,
	exit_code   INTEGER NOT NULL,
	argv        TEXT NOT NULL,
	stdout_tail TEXT NOT NULL DEFAULT '',
	stderr_tail TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_url ON runs(url);
CREATE INDEX IF NOT EXISTS idx_run_steps_run_id ON run_steps(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, nr NewRun) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	platform := nr.Platform
	if platform == "" {
		platform = model.PlatformUnknown
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, url, platform, output_dir, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, nr.URL, string(platform), nr.OutputDir, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		URL:       nr.URL,
		Platform:  platform,
		OutputDir: nr.OutputDir,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, code model.ErrorCode) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error_code = ?, updated_at = ? WHERE id = ?`,
		string(status), string(code), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) AppendStep(ctx context.Context, runID string, step model.StepRecord) error {
	argv, err := json.Marshal(step.Argv)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal argv")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_steps (id, run_id, step, exit_code, argv, stdout_tail, stderr_tail, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), runID, step.Step, step.ExitCode, string(argv),
		step.StdoutTail, step.StderrTail, step.DurationMs, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert step for run %s", runID)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE runs SET updated_at = ? WHERE id = ?`, time.Now().UTC(), runID)
	return eris.Wrapf(err, "sqlite: touch run %s", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, platform, output_dir, status, error_code, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT step, exit_code, argv, stdout_tail, stderr_tail, duration_ms FROM run_steps
		 WHERE run_id = ? ORDER BY created_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list steps for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var st model.StepRecord
		var argv string
		if err := rows.Scan(&st.Step, &st.ExitCode, &argv, &st.StdoutTail, &st.StderrTail, &st.DurationMs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan step")
		}
		if err := json.Unmarshal([]byte(argv), &st.Argv); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal argv")
		}
		r.Steps = append(r.Steps, st)
	}
	return r, eris.Wrap(rows.Err(), "sqlite: list steps iterate")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, url, platform, output_dir, status, error_code, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.URL != "" {
		query += ` AND url = ?`
		args = append(args, filter.URL)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRunNotFound, "sqlite: %s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	err := row.Scan(&r.ID, &r.URL, &r.Platform, &r.OutputDir, &r.Status, &r.ErrorCode, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	return &r, nil
}
