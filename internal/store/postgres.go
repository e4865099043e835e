package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/breakdown-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	url        TEXT NOT NULL,
	platform   TEXT NOT NULL DEFAULT 'unknown',
	output_dir TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	error_code TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_steps (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	step        TEXT NOT NULL,
	exit_code   INTEGER NOT NULL,
	argv        JSONB NOT NULL,
	stdout_tail TEXT NOT NULL DEFAULT '',
	stderr_tail TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_url ON runs(url);
CREATE INDEX IF NOT EXISTS idx_run_steps_run_id ON run_steps(run_id, created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, nr NewRun) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	platform := nr.Platform
	if platform == "" {
		platform = model.PlatformUnknown
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, url, platform, output_dir, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, nr.URL, string(platform), nr.OutputDir, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, code model.ErrorCode) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error_code = $2, updated_at = $3 WHERE id = $4`,
		string(status), string(code), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "postgres: finish run %s", runID)
	}
	return nil
}

func (s *PostgresStore) AppendStep(ctx context.Context, runID string, step model.StepRecord) error {
	argv, err := json.Marshal(step.Argv)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal argv")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_steps (id, run_id, step, exit_code, argv, stdout_tail, stderr_tail, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New().String(), runID, step.Step, step.ExitCode, argv,
		step.StdoutTail, step.StderrTail, step.DurationMs, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: insert step for run %s", runID)
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var platform, status, code string
	err := s.pool.QueryRow(ctx,
		`SELECT id, url, platform, output_dir, status, error_code, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.URL, &platform, &r.OutputDir, &status, &code, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrRunNotFound, "postgres: get run %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	r.Platform = model.Platform(platform)
	r.Status = model.RunStatus(status)
	r.ErrorCode = model.ErrorCode(code)

	rows, err := s.pool.Query(ctx,
		`SELECT step, exit_code, argv, stdout_tail, stderr_tail, duration_ms FROM run_steps
		 WHERE run_id = $1 ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list steps for run %s", runID)
	}
	defer rows.Close()

	for rows.Next() {
		var st model.StepRecord
		var argv []byte
		if err := rows.Scan(&st.Step, &st.ExitCode, &argv, &st.StdoutTail, &st.StderrTail, &st.DurationMs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan step")
		}
		if err := json.Unmarshal(argv, &st.Argv); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal argv")
		}
		r.Steps = append(r.Steps, st)
	}
	return &r, eris.Wrap(rows.Err(), "postgres: list steps iterate")
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, url, platform, output_dir, status, error_code, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.URL != "" {
		query += fmt.Sprintf(` AND url = $%d`, argIdx)
		args = append(args, filter.URL)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter.UTC())
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var platform, status, code string
		if err := rows.Scan(&r.ID, &r.URL, &platform, &r.OutputDir, &status, &code, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Platform = model.Platform(platform)
		r.Status = model.RunStatus(status)
		r.ErrorCode = model.ErrorCode(code)
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
