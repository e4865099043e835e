package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/breakdown-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS runs`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "https://mp.weixin.qq.com/s/x", "wechat_mp", "/out", "running", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), NewRun{URL: "https://mp.weixin.qq.com/s/x", Platform: model.PlatformWechatMP, OutputDir: "/out"})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("failed", "PipelineFailed", pgxmock.AnyArg(), "nope").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishRun(context.Background(), "nope", model.RunStatusFailed, model.ErrPipelineFailed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendStep(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO run_steps`).
		WithArgs(pgxmock.AnyArg(), "run-1", "fetch", 0, pgxmock.AnyArg(), "", "", int64(10), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.AppendStep(context.Background(), "run-1", model.StepRecord{
		Step: "fetch", Argv: []string{"breakdown-cli", "fetch"}, DurationMs: 10,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, url, platform, output_dir, status, error_code, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "platform", "output_dir", "status", "error_code", "created_at", "updated_at"}).
			AddRow("run-1", "u", "douyin", "/o", "complete", "", now, now))
	mock.ExpectQuery(`SELECT step, exit_code, argv`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"step", "exit_code", "argv", "stdout_tail", "stderr_tail", "duration_ms"}).
			AddRow("fetch", 0, []byte(`["a","b"]`), "out", "", int64(5)))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.PlatformDouyin, run.Platform)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.Len(t, run.Steps, 1)
	assert.Equal(t, []string{"a", "b"}, run.Steps[0].Argv)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, url, platform, output_dir, status, error_code, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`AND status = \$1 AND url = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("failed", "u", 5, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "platform", "output_dir", "status", "error_code", "created_at", "updated_at"}).
			AddRow("r1", "u", "xiaohongshu", "/o", "failed", "AuthStale", now, now))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusFailed, URL: "u", Limit: 5, Offset: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.ErrAuthStale, runs[0].ErrorCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_CreatedAfter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`WHERE true AND created_at >= \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs(cutoff, defaultListLimit).
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "platform", "output_dir", "status", "error_code", "created_at", "updated_at"}))

	runs, err := s.ListRuns(context.Background(), RunFilter{CreatedAfter: cutoff})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
