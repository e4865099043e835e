package analyze

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/pkg/anthropic"
)

type mockClient struct{ mock.Mock }

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*anthropic.MessageResponse)
	return resp, args.Error(1)
}

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func newTestAnalyzer(c anthropic.Client, modelID string) *Analyzer {
	a := New(c, Options{Model: modelID})
	a.now = func() time.Time { return fixedNow }
	return a
}

func ptr(f float64) *float64 { return &f }

func chunks(texts ...string) []model.SignalChunk {
	out := make([]model.SignalChunk, len(texts))
	for i, t := range texts {
		out[i] = model.SignalChunk{Text: t, Source: "transcript.srt", Sequence: i + 1}
	}
	return out
}

func signals() model.SignalsResult {
	return model.SignalsResult{
		OK: true,
		Meta: model.FetchMeta{
			URL:         "https://v.douyin.com/abc/",
			Platform:    model.PlatformDouyin,
			ContentType: model.ContentTypeVideo,
			FetchedAt:   "2026-03-01T10:00:00Z",
		},
		AssetIndex:  model.AssetIndex{CoverText: []string{"三个技巧"}},
		PostContent: model.PostContent{Title: "如何剪辑"},
		Signals: model.Signals{
			OCRHits:          []model.OCRHit{{Source: "frame_001.jpg", Text: "封面\n第二行", Confidence: 0.9}},
			TranscriptChunks: chunks("a", "b", "c", "d", "e", "f", "g"),
			EvidencePool: []model.EvidenceItem{
				{Type: model.EvidenceFrameOCR, Source: "frame_001.jpg", Locator: "frame_001.jpg", Snippet: "封面", Confidence: 0.9},
				{Type: "bogus", Source: "x", Snippet: "y", Confidence: 2},
			},
		},
		Limitations: []string{"no OCR text"},
	}
}

func TestAnalyze_UpstreamFailed(t *testing.T) {
	sr := model.SignalsResult{OK: false, Error: model.NewStructuredError(model.ErrToolMissing, "", nil)}
	rep := newTestAnalyzer(nil, "").Analyze(context.Background(), sr)

	assert.False(t, rep.OK)
	require.NotNil(t, rep.Error)
	assert.Equal(t, model.ErrUpstreamStageFailed, rep.Error.Code)
	assert.Equal(t, "extract", rep.Error.Extra["stage"])
	assert.Equal(t, sr.Error, rep.Error.Extra["upstream"])
}

func TestAnalyzeFile_Unreadable(t *testing.T) {
	rep := newTestAnalyzer(nil, "").AnalyzeFile(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.False(t, rep.OK)
	assert.Equal(t, model.ErrUpstreamStageFailed, rep.Error.Code)
}

func TestAnalyzeFile_Reads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ok":true,"meta":{"url":"u"},"signals":{"transcript_chunks":[{"text":"hi","source":"s","sequence":1}]}}`), 0o644))

	rep := newTestAnalyzer(nil, "").AnalyzeFile(context.Background(), path)
	require.True(t, rep.OK)
	assert.Equal(t, "hi", rep.Hook.Text)
	assert.Equal(t, []string{}, rep.PostContent.Tags)
}

func TestHeuristic_Report(t *testing.T) {
	rep := newTestAnalyzer(nil, "").Analyze(context.Background(), signals())

	require.True(t, rep.OK)
	assert.Equal(t, ModeHeuristic, rep.Meta.AnalysisMode)
	assert.Equal(t, "2026-03-01T10:00:00Z", rep.Meta.FetchedAt)
	assert.Equal(t, "2026-03-04T05:06:07Z", rep.Meta.AnalyzedAt)
	assert.Equal(t, "a", rep.Hook.Text)
	assert.Equal(t, "三个技巧", rep.CoverTitle.Text)
	assert.Equal(t, "a b c d e f g", rep.VoiceoverCopy.Text)
	assert.Equal(t, []string{"no OCR text", LimitationInferred}, rep.Limitations)

	require.Len(t, rep.EvidencePool, 2)
	assert.Equal(t, model.EvidenceTranscriptSpan, rep.EvidencePool[1].Type)
	assert.Equal(t, 1.0, rep.EvidencePool[1].Confidence)
	assert.Len(t, rep.Hook.Evidence, 2)
}

func TestHeuristic_Fallbacks(t *testing.T) {
	sr := signals()
	sr.AssetIndex.CoverText = nil
	sr.Signals.TranscriptChunks = nil
	rep := Heuristic(sr, fixedNow)

	assert.Equal(t, "封面\n第二行", rep.Hook.Text)
	assert.Equal(t, "封面", rep.CoverTitle.Text)
	assert.Equal(t, NoVoiceoverText, rep.VoiceoverCopy.Text)
	require.Len(t, rep.ScriptStructure, 1)
	assert.Equal(t, "structure", rep.ScriptStructure[0].Section)
	assert.Equal(t, NoStructureText, rep.ScriptStructure[0].Text)

	sr.Signals.OCRHits = nil
	sr.Signals.EvidencePool = nil
	sr.Meta.FetchedAt = ""
	rep = Heuristic(sr, fixedNow)
	assert.Equal(t, NoHookText, rep.Hook.Text)
	assert.Equal(t, NoCoverText, rep.CoverTitle.Text)
	assert.Equal(t, "2026-03-04T05:06:07Z", rep.Meta.FetchedAt)
	assert.Empty(t, rep.ScriptStructure[0].Evidence)
	assert.NotNil(t, rep.EvidencePool)
}

func TestHeuristic_HookTruncated(t *testing.T) {
	sr := signals()
	long := make([]rune, 200)
	for i := range long {
		long[i] = '长'
	}
	sr.Signals.TranscriptChunks = chunks(string(long))
	rep := Heuristic(sr, fixedNow)
	assert.Len(t, []rune(rep.Hook.Text), maxHookRunes)
}

func TestScriptStructure_Thirds(t *testing.T) {
	secs := ScriptStructure(chunks("a", "b", "c", "d", "e", "f", "g"), nil)
	require.Len(t, secs, 3)
	assert.Equal(t, "a b", secs[0].Text)
	assert.Equal(t, "c d", secs[1].Text)
	assert.Equal(t, "e f g", secs[2].Text)
	assert.Equal(t, "line:5", secs[2].Evidence[0].Locator)
	assert.Equal(t, model.EvidenceTranscriptSpan, secs[2].Evidence[0].Type)
	assert.Equal(t, sectionConfidence, secs[0].Evidence[0].Confidence)
}

func TestScriptStructure_FewChunks(t *testing.T) {
	secs := ScriptStructure(chunks("only"), nil)
	require.Len(t, secs, 3)
	assert.Equal(t, "only", secs[0].Text)
	assert.Equal(t, EmptySection, secs[1].Text)
	assert.Equal(t, EmptySection, secs[2].Text)
	assert.Empty(t, secs[1].Evidence)
}

func TestScriptStructure_Timed(t *testing.T) {
	cs := chunks("a", "b", "c")
	cs[1].Start, cs[1].End = ptr(2.5), ptr(4)
	secs := ScriptStructure(cs, nil)
	assert.Equal(t, model.EvidenceTimestamp, secs[1].Evidence[0].Type)
	assert.Equal(t, "2.5s", secs[1].Evidence[0].Locator)
}

func TestAnalyze_LLMSummary(t *testing.T) {
	c := &mockClient{}
	c.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" && req.MaxTokens == 1024 && len(req.Messages) == 1
	})).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: "强钩子 [line:1]"}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20},
	}, nil)

	rep := newTestAnalyzer(c, "claude-haiku-4-5-20251001").Analyze(context.Background(), signals())

	assert.Equal(t, ModeLLM, rep.Meta.AnalysisMode)
	assert.Equal(t, "claude-haiku-4-5-20251001", rep.Meta.Model)
	assert.Equal(t, "强钩子 [line:1]", rep.Summary)
	c.AssertExpectations(t)
}

func TestAnalyze_LLMFailureDegrades(t *testing.T) {
	c := &mockClient{}
	c.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))

	rep := newTestAnalyzer(c, "m").Analyze(context.Background(), signals())

	require.True(t, rep.OK)
	assert.Equal(t, ModeHeuristic, rep.Meta.AnalysisMode)
	assert.Empty(t, rep.Summary)
	assert.Empty(t, rep.Meta.Model)
}

func TestAnalyze_EmptySummaryDegrades(t *testing.T) {
	c := &mockClient{}
	c.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{}, nil)

	rep := newTestAnalyzer(c, "m").Analyze(context.Background(), signals())
	assert.Equal(t, ModeHeuristic, rep.Meta.AnalysisMode)
}
