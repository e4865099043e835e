package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/monitoring"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			URL:       "https://v.douyin.com/abc/",
			Platform:  model.PlatformDouyin,
			Status:    model.RunStatusComplete,
			CreatedAt: now,
			UpdatedAt: now.Add(2 * time.Minute),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			URL:       "https://www.xiaohongshu.com/explore/0123456789abcdef01234567",
			Platform:  model.PlatformXiaohongshu,
			Status:    model.RunStatusFailed,
			ErrorCode: model.ErrAuthStale,
			CreatedAt: now.Add(-1 * time.Hour),
			UpdatedAt: now.Add(-59 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "PLATFORM")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "douyin")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "2m0s")
	assert.Contains(t, output, "AuthStale")
	assert.Contains(t, output, "https://www.xiaohongshu.com/explore/0...")
	assert.Contains(t, output, "2026-06-15 10:30")
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, &monitoring.MetricsSnapshot{
		LookbackHours:   24,
		RunTotal:        4,
		RunComplete:     2,
		RunFailed:       2,
		RunFailRate:     0.5,
		AvgDurationSecs: 42,
		FailuresByCode:  map[model.ErrorCode]int{model.ErrToolMissing: 1, model.ErrAuthStale: 1},
	})

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "50.0%")
	assert.Contains(t, output, "42.0s")
	assert.Less(t, strings.Index(output, "AuthStale"), strings.Index(output, "ToolMissing"))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestFormatCategories(t *testing.T) {
	var buf bytes.Buffer
	formatCategories(&buf, []string{"a/clip.MP4", "cover.jpg", "voice.m4a", "subs.srt", "note.json"})

	output := buf.String()
	assert.Contains(t, output, "video ")
	assert.Contains(t, output, "images ")
	assert.Contains(t, output, "audio ")
	assert.Contains(t, output, "transcript ")
	assert.Contains(t, output, "other ")
}
