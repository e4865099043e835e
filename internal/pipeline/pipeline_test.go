package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/store"
	"github.com/sells-group/breakdown-cli/internal/workdir"
)

type mockStepRunner struct {
	mock.Mock
}

func (m *mockStepRunner) RunStep(ctx context.Context, step string, args []string) model.StepRecord {
	a := m.Called(ctx, step, args)
	return a.Get(0).(model.StepRecord)
}

type mockConfirmer struct {
	mock.Mock
}

func (m *mockConfirmer) Confirm(prompt string, defaultYes bool) (bool, error) {
	a := m.Called(prompt, defaultYes)
	return a.Bool(0), a.Error(1)
}

// stageWrites makes a mocked step write its stage document.
func stageWrites(t *testing.T, path string, doc any) func(mock.Arguments) {
	return func(mock.Arguments) {
		data, err := json.Marshal(doc)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
}

func argValue(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func newTestOrchestrator(t *testing.T, steps StepRunner, st store.Store, confirm Confirmer, export string) *Orchestrator {
	t.Helper()
	o := New(Options{OutputRoot: t.TempDir(), ExportDir: export}, steps, st, confirm)
	o.now = func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) }
	return o
}

func readMeta(t *testing.T, dir string) model.RunMeta {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, RunMetaFile))
	require.NoError(t, err)
	var meta model.RunMeta
	require.NoError(t, json.Unmarshal(data, &meta))
	return meta
}

func successfulSteps(t *testing.T, dir string, report string) *mockStepRunner {
	steps := &mockStepRunner{}
	steps.On("RunStep", mock.Anything, StepFetch, mock.Anything).
		Run(stageWrites(t, filepath.Join(dir, FetchResultFile), map[string]any{"ok": true})).
		Return(model.StepRecord{Step: StepFetch}).Once()
	steps.On("RunStep", mock.Anything, StepExtract, mock.Anything).
		Run(stageWrites(t, filepath.Join(dir, SignalsFile), map[string]any{"ok": true})).
		Return(model.StepRecord{Step: StepExtract}).Once()
	steps.On("RunStep", mock.Anything, StepAnalyze, mock.Anything).
		Run(func(mock.Arguments) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, ReportFile), []byte(report), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(dir, MarkdownFile), []byte("# report"), 0o644))
		}).
		Return(model.StepRecord{Step: StepAnalyze}).Once()
	return steps
}

func TestRun_Success_AlwaysKeeps(t *testing.T) {
	dir := t.TempDir()
	export := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video.mp4"), []byte("v"), 0o644))

	steps := successfulSteps(t, dir, `{"ok":true,"meta":{"fetched_at":"2026-04-30T01:02:03Z"},"post_content":{"title":"三个习惯/改变人生"}}`)
	o := newTestOrchestrator(t, steps, nil, nil, export)

	meta, err := o.Run(context.Background(), Request{
		URL:           "https://www.douyin.com/video/7300000000000000000",
		OutputDir:     dir,
		SaveArtifacts: model.RetainAlways,
	})
	require.NoError(t, err)
	steps.AssertExpectations(t)

	assert.True(t, meta.OK)
	assert.Equal(t, model.PlatformDouyin, meta.Platform)
	require.Len(t, meta.Steps, 3)
	assert.FileExists(t, filepath.Join(dir, "video.mp4"))
	assert.NoFileExists(t, filepath.Join(dir, ErrorFile))
	assert.NoFileExists(t, filepath.Join(dir, workdir.LockFile))

	assert.Equal(t, filepath.Join(export, "20260430-三个习惯-改变人生.json"), meta.NamedOutputs["json"])
	assert.FileExists(t, meta.NamedOutputs["markdown"])

	onDisk := readMeta(t, dir)
	assert.True(t, onDisk.OK)
	assert.Equal(t, "2026-05-04T10:00:00Z", onDisk.FinishedAt)
}

func TestRun_NeverPrunesArtifacts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "download", "frames"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "download", "frames", "f.jpg"), []byte("j"), 0o644))

	steps := successfulSteps(t, dir, `{"ok":true}`)
	o := newTestOrchestrator(t, steps, nil, nil, "")

	meta, err := o.Run(context.Background(), Request{URL: "https://x.com/a", OutputDir: dir, SaveArtifacts: model.RetainNever})
	require.NoError(t, err)
	assert.True(t, meta.OK)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{ReportFile, MarkdownFile, RunMetaFile}, names)
}

func TestRun_UpstreamFailureHalts(t *testing.T) {
	dir := t.TempDir()
	steps := &mockStepRunner{}
	steps.On("RunStep", mock.Anything, StepFetch, mock.Anything).
		Run(stageWrites(t, filepath.Join(dir, FetchResultFile), model.NewFailure(
			model.NewStructuredError(model.ErrAuthStale, "", nil)))).
		Return(model.StepRecord{Step: StepFetch, ExitCode: 1}).Once()

	o := newTestOrchestrator(t, steps, nil, nil, "")
	meta, err := o.Run(context.Background(), Request{URL: "https://www.xiaohongshu.com/explore/abc", OutputDir: dir, SaveArtifacts: model.RetainNever})
	require.NoError(t, err)
	steps.AssertExpectations(t)
	steps.AssertNotCalled(t, "RunStep", mock.Anything, StepExtract, mock.Anything)

	assert.False(t, meta.OK)
	require.Len(t, meta.Steps, 1)
	assert.Equal(t, filepath.Join(dir, ErrorFile), meta.ErrorFile)

	data, err := os.ReadFile(filepath.Join(dir, ErrorFile))
	require.NoError(t, err)
	var failure struct {
		OK    bool                   `json:"ok"`
		Error *model.StructuredError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &failure))
	assert.False(t, failure.OK)
	assert.Equal(t, model.ErrUpstreamStageFailed, failure.Error.Code)
	assert.Equal(t, StepFetch, failure.Error.Extra["stage"])
	upstream, ok := failure.Error.Extra["upstream"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "AuthStale", upstream["code"])

	// Failed runs keep their artifacts.
	assert.FileExists(t, filepath.Join(dir, FetchResultFile))
	assert.False(t, readMeta(t, dir).OK)
}

func TestRun_MissingStageDocument(t *testing.T) {
	dir := t.TempDir()
	steps := &mockStepRunner{}
	steps.On("RunStep", mock.Anything, StepFetch, mock.Anything).
		Return(model.StepRecord{Step: StepFetch, ExitCode: 2, StderrTail: "panic"}).Once()

	o := newTestOrchestrator(t, steps, nil, nil, "")
	meta, err := o.Run(context.Background(), Request{URL: "u", OutputDir: dir, SaveArtifacts: model.RetainAlways})
	require.NoError(t, err)
	assert.False(t, meta.OK)
	assert.Contains(t, meta.Error, string(model.ErrPipelineFailed))
}

func TestRun_StaleDocumentsIgnored(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{FetchResultFile, SignalsFile, ReportFile, ErrorFile} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{"ok":true}`), 0o644))
	}

	steps := &mockStepRunner{}
	steps.On("RunStep", mock.Anything, StepFetch, mock.Anything).
		Return(model.StepRecord{Step: StepFetch, ExitCode: 2, StderrTail: "Traceback"}).Once()

	o := newTestOrchestrator(t, steps, nil, nil, "")
	meta, err := o.Run(context.Background(), Request{URL: "u", OutputDir: dir, SaveArtifacts: model.RetainAlways})
	require.NoError(t, err)
	steps.AssertExpectations(t)
	steps.AssertNotCalled(t, "RunStep", mock.Anything, StepExtract, mock.Anything)

	assert.False(t, meta.OK)
	require.Len(t, meta.Steps, 1)
	assert.Contains(t, meta.Error, string(model.ErrPipelineFailed))
	assert.NoFileExists(t, filepath.Join(dir, FetchResultFile))
	// Later stages' documents are cleared only when those stages run.
	assert.FileExists(t, filepath.Join(dir, SignalsFile))
}

func TestRun_NonZeroExitWithSuccessDocument(t *testing.T) {
	dir := t.TempDir()
	steps := &mockStepRunner{}
	steps.On("RunStep", mock.Anything, StepFetch, mock.Anything).
		Run(stageWrites(t, filepath.Join(dir, FetchResultFile), map[string]any{"ok": true})).
		Return(model.StepRecord{Step: StepFetch, ExitCode: 3}).Once()

	o := newTestOrchestrator(t, steps, nil, nil, "")
	meta, err := o.Run(context.Background(), Request{URL: "u", OutputDir: dir, SaveArtifacts: model.RetainAlways})
	require.NoError(t, err)
	steps.AssertNotCalled(t, "RunStep", mock.Anything, StepExtract, mock.Anything)
	assert.False(t, meta.OK)
	assert.Contains(t, meta.Error, string(model.ErrPipelineFailed))
}

func TestCheckStage_ExitCodeOverridesOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ok":true}`), 0o644))

	assert.Nil(t, CheckStage(StepFetch, path, model.StepRecord{ExitCode: 0}))

	serr := CheckStage(StepFetch, path, model.StepRecord{ExitCode: 1})
	require.NotNil(t, serr)
	assert.Equal(t, model.ErrPipelineFailed, serr.Code)
	assert.Equal(t, 1, serr.Extra["exit_code"])
}

func TestRun_AskNonInteractiveKeeps(t *testing.T) {
	dir := t.TempDir()
	steps := successfulSteps(t, dir, `{"ok":true}`)
	confirm := &mockConfirmer{}
	o := newTestOrchestrator(t, steps, nil, confirm, "")

	meta, err := o.Run(context.Background(), Request{URL: "u", OutputDir: dir, SaveArtifacts: model.RetainAsk, NonInteractive: true})
	require.NoError(t, err)
	confirm.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything)
	assert.Equal(t, model.RetainAlways, meta.SaveArtifacts)
	require.Len(t, meta.Notes, 1)
	assert.Contains(t, meta.Notes[0], string(model.ErrInteractiveInputUnavailable))
	assert.FileExists(t, filepath.Join(dir, FetchResultFile))
}

func TestRun_LockedDirectory(t *testing.T) {
	dir := t.TempDir()
	lock, err := workdir.Acquire(dir)
	require.NoError(t, err)
	defer lock.Release() //nolint:errcheck

	o := newTestOrchestrator(t, &mockStepRunner{}, nil, nil, "")
	_, err = o.Run(context.Background(), Request{URL: "u", OutputDir: dir, SaveArtifacts: model.RetainAlways})
	assert.ErrorIs(t, err, workdir.ErrLocked)
}

func TestRun_RecordsHistory(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	steps := successfulSteps(t, dir, `{"ok":true}`)
	o := newTestOrchestrator(t, steps, st, nil, "")
	meta, err := o.Run(context.Background(), Request{URL: "https://mp.weixin.qq.com/s/abc", OutputDir: dir, SaveArtifacts: model.RetainAlways})
	require.NoError(t, err)
	require.NotEmpty(t, meta.RunID)

	run, err := st.GetRun(context.Background(), meta.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, model.PlatformWechatMP, run.Platform)
	assert.Len(t, run.Steps, 3)
}

func TestRun_UsesRecordedRunID(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	run, err := st.CreateRun(context.Background(), store.NewRun{URL: "https://v.douyin.com/x/", OutputDir: dir})
	require.NoError(t, err)

	steps := successfulSteps(t, dir, `{"ok":true}`)
	o := newTestOrchestrator(t, steps, st, nil, "")
	meta, err := o.Run(context.Background(), Request{RunID: run.ID, URL: "https://v.douyin.com/x/", OutputDir: dir, SaveArtifacts: model.RetainAlways})
	require.NoError(t, err)
	assert.Equal(t, run.ID, meta.RunID)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
}

func TestFetchArgs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, SessionDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, SessionDir, SessionFile), []byte("{}"), 0o644))

	args := fetchArgs(Request{
		URL:    "u",
		Manual: model.ManualAssets{Images: []string{"/a.jpg", "/b.jpg"}, Transcript: []string{"/s.srt"}},
	}, dir, "/r.json")

	assert.Equal(t, StepFetch, args[0])
	assert.Equal(t, filepath.Join(dir, SessionDir, SessionFile), argValue(args, "--session-file"))
	assert.Equal(t, "/s.srt", argValue(args, "--input-transcript"))
	assert.Equal(t, []string{"--input-image", "/a.jpg", "--input-image", "/b.jpg", "--input-transcript", "/s.srt"}, args[len(args)-6:])

	explicit := fetchArgs(Request{URL: "u", SessionFile: "/s.json"}, dir, "/r.json")
	assert.Equal(t, "/s.json", argValue(explicit, "--session-file"))
}

func TestCheckStage_Unreadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	serr := CheckStage(StepExtract, path, model.StepRecord{ExitCode: 0})
	require.NotNil(t, serr)
	assert.Equal(t, model.ErrPipelineFailed, serr.Code)
	assert.NotEmpty(t, serr.NextAction)
}
