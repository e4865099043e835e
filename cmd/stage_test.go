package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/breakdown-cli/internal/analyze"
	"github.com/sells-group/breakdown-cli/internal/config"
	"github.com/sells-group/breakdown-cli/internal/model"
)

func readDoc(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestFinishStage_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "fetch_result.json")
	fr := model.FetchResult{OK: true, Meta: model.FetchMeta{URL: "u"}}

	require.NoError(t, finishStage(path, fr, fr.OK))

	doc := readDoc(t, path)
	assert.Equal(t, true, doc["ok"])
	assert.Contains(t, doc, "asset_index")
}

func TestFinishStage_FailureWritesOnlyError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.json")
	sr := model.SignalsResult{Error: model.NewStructuredError(model.ErrUpstreamStageFailed, "", map[string]any{"stage": "fetch"})}

	err := finishStage(path, sr, sr.OK)
	assert.ErrorIs(t, err, errStageFailed)

	doc := readDoc(t, path)
	assert.Equal(t, false, doc["ok"])
	assert.NotContains(t, doc, "signals")
	errDoc := doc["error"].(map[string]any)
	assert.Equal(t, "UpstreamStageFailed", errDoc["code"])
	assert.NotEmpty(t, errDoc["next_action"])
}

func TestFailureDoc(t *testing.T) {
	_, ok := failureDoc(analyze.Report{})
	assert.False(t, ok)

	f, ok := failureDoc(analyze.Report{Error: model.NewStructuredError(model.ErrPipelineFailed, "x", nil)})
	require.True(t, ok)
	assert.False(t, f.OK)
	assert.Equal(t, model.ErrPipelineFailed, f.Error.Code)

	_, ok = failureDoc("other")
	assert.False(t, ok)
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, "/x/r.json", defaultPath("/x/r.json", "/d", "fetch_result.json"))
	assert.Equal(t, filepath.Join("/d", "fetch_result.json"), defaultPath("", "/d", "fetch_result.json"))
}

func TestManualFlags_Assets(t *testing.T) {
	m := manualFlags{video: []string{"a.mp4"}, transcript: []string{"a.srt"}}
	got := m.assets()
	assert.Equal(t, []string{"a.mp4"}, got.Video)
	assert.Equal(t, []string{"a.srt"}, got.Transcript)
	assert.Empty(t, got.Images)
}

func TestNewEngine_BadRegistryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adapters.yaml")
	require.NoError(t, os.WriteFile(path, []byte("adapters: ["), 0o644))

	_, err := newEngine(&config.Config{Fetch: config.FetchConfig{AdaptersFile: path}})
	assert.Error(t, err)

	engine, err := newEngine(&config.Config{})
	require.NoError(t, err)
	assert.NotNil(t, engine)
}
