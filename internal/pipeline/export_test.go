package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  早起 的\n\t三个习惯 ", "早起 的 三个习惯"},
		{`a/b:c*d?"e"`, "a-b-c-d-e"},
		{"emoji 🎉 time!", "emoji - time"},
		{"...", "content"},
		{"", "content"},
		{strings.Repeat("长", 50), strings.Repeat("长", 40)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeTitle(tt.in), tt.in)
	}
}

func TestNamedPrefix(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.Equal(t, "20250910-标题", NamedPrefix([]byte(`{"meta":{"fetched_at":"2025-09-10T00:00:00Z"},"post_content":{"title":"标题"}}`), "/o/x", now))
	assert.Equal(t, "20260102-封面大字", NamedPrefix([]byte(`{"asset_index":{"cover_text":["封面大字"]}}`), "/o/x", now))
	assert.Equal(t, "20260102-www-douyin-com-video-1", NamedPrefix([]byte(`{}`), "/o/www-douyin-com-video-1-20260102-030405", now))
	assert.Equal(t, "20260102-content", NamedPrefix(nil, "/", now))
}

func TestExportNamed_Suffixes(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "exports")
	require.NoError(t, os.WriteFile(filepath.Join(src, ReportFile), []byte(`{"ok":true}`), 0o644))

	first, err := ExportNamed(src, dst, "20260102-a")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dst, "20260102-a.json"), first["json"])
	assert.NotContains(t, first, "markdown")

	require.NoError(t, os.WriteFile(filepath.Join(src, MarkdownFile), []byte("# r"), 0o644))
	second, err := ExportNamed(src, dst, "20260102-a")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dst, "20260102-a-2.json"), second["json"])
	assert.Equal(t, filepath.Join(dst, "20260102-a-2.md"), second["markdown"])

	third, err := ExportNamed(src, dst, "20260102-a")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dst, "20260102-a-3.json"), third["json"])
}

func TestExportNamed_MissingReport(t *testing.T) {
	_, err := ExportNamed(t.TempDir(), t.TempDir(), "p")
	assert.Error(t, err)
}
