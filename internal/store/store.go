// Package store records pipeline runs and their step logs.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/breakdown-cli/internal/config"
	"github.com/sells-group/breakdown-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	URL    string          `json:"url,omitempty"`
	// CreatedAfter keeps runs created at or after this time when non-zero.
	CreatedAfter time.Time `json:"created_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// NewRun describes a run at creation time.
type NewRun struct {
	URL       string
	Platform  model.Platform
	OutputDir string
}

// Store defines the persistence interface for run history.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run NewRun) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, code model.ErrorCode) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Steps
	AppendStep(ctx context.Context, runID string, step model.StepRecord) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = eris.New("run not found")

// Open connects to the configured backend and applies the schema.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres", "postgresql":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
