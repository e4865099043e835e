// Package monitoring watches recorded runs and raises webhook alerts when
// failures cluster.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunTotal    int     `json:"run_total"`
	RunComplete int     `json:"run_complete"`
	RunFailed   int     `json:"run_failed"`
	RunRunning  int     `json:"run_running"`
	RunFailRate float64 `json:"run_fail_rate"`

	// Failed runs by error code, and by platform.
	FailuresByCode     map[model.ErrorCode]int `json:"failures_by_code"`
	FailuresByPlatform map[model.Platform]int  `json:"failures_by_platform"`

	// Average wall time of completed runs.
	AvgDurationSecs float64 `json:"avg_duration_secs"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of the store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers metrics from the run store.
type Collector struct {
	store RunLister
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st RunLister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		FailuresByCode:     map[model.ErrorCode]int{},
		FailuresByPlatform: map[model.Platform]int{},
		LookbackHours:      lookbackHours,
		CollectedAt:        now,
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunTotal = len(runs)
	var totalDur time.Duration
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunComplete++
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
		case model.RunStatusFailed:
			snap.RunFailed++
			code := r.ErrorCode
			if code == "" {
				code = model.ErrPipelineFailed
			}
			snap.FailuresByCode[code]++
			snap.FailuresByPlatform[r.Platform]++
		case model.RunStatusRunning:
			snap.RunRunning++
		}
	}

	if finished := snap.RunComplete + snap.RunFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunFailed) / float64(finished)
	}
	if snap.RunComplete > 0 {
		snap.AvgDurationSecs = totalDur.Seconds() / float64(snap.RunComplete)
	}
	return snap, nil
}
