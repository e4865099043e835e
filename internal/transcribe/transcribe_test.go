package transcribe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/sells-group/breakdown-cli/internal/config"
	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/resilience"
	"github.com/sells-group/breakdown-cli/internal/runner"
)

type fakeTranscriber struct {
	name   string
	chunks []model.SignalChunk
	err    error
	calls  int
}

func (f *fakeTranscriber) Name() string { return f.name }

func (f *fakeTranscriber) Transcribe(context.Context, string) ([]model.SignalChunk, error) {
	f.calls++
	return f.chunks, f.err
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF....WAVE"), 0o644))
	return path
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("大家好。今天讲三件事！真的吗？ Yes! ok? trailing")
	assert.Equal(t, []string{"大家好。", "今天讲三件事！", "真的吗？", "Yes!", "ok?", "trailing"}, got)
	assert.Empty(t, SplitSentences("   "))
}

func TestUntimedChunks(t *testing.T) {
	chunks := UntimedChunks("一。二。", "/a.wav")
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].Sequence)
	assert.Equal(t, 2, chunks[1].Sequence)
	assert.False(t, chunks[0].Timed())
	assert.Equal(t, "/a.wav", chunks[1].Source)
}

func TestCascade_FallsThrough(t *testing.T) {
	cloud := &fakeTranscriber{name: "openai", err: errors.New("HTTP Error 401")}
	empty := &fakeTranscriber{name: "gemini"}
	local := &fakeTranscriber{name: "whisper", chunks: []model.SignalChunk{{Text: "hi", Sequence: 1}}}

	chunks, logs := NewCascade(cloud, empty, local).Run(context.Background(), "a.wav")
	require.Len(t, chunks, 1)
	require.Len(t, logs, 3)
	assert.Equal(t, "openai", logs[0].Engine)
	assert.Contains(t, logs[0].Error, "401")
	assert.Equal(t, "no speech recognised", logs[1].Message)
	assert.Equal(t, "transcribed", logs[2].Message)
}

func TestCascade_StopsAtFirstSuccess(t *testing.T) {
	first := &fakeTranscriber{name: "a", chunks: []model.SignalChunk{{Text: "x"}}}
	second := &fakeTranscriber{name: "b", chunks: []model.SignalChunk{{Text: "y"}}}

	chunks, _ := NewCascade(first, second).Run(context.Background(), "a.wav")
	assert.Equal(t, "x", chunks[0].Text)
	assert.Equal(t, 0, second.calls)
}

func TestCascade_NothingProduced(t *testing.T) {
	chunks, logs := NewCascade(&fakeTranscriber{name: "a", err: errors.New("x")}).Run(context.Background(), "a.wav")
	assert.Empty(t, chunks)
	assert.Len(t, logs, 1)
}

func TestOpenAI_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, defaultOpenAIModel, r.FormValue("model"))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "audio.wav", header.Filename)
		_, _ = w.Write([]byte(`{"text":"第一句。第二句！"}`))
	}))
	defer srv.Close()

	o := NewOpenAI("sk-test", "", srv.URL+"/v1", time.Second, rate.NewLimiter(rate.Inf, 1))
	audio := writeAudio(t)
	chunks, err := o.Transcribe(context.Background(), audio)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "第一句。", chunks[0].Text)
	assert.Equal(t, audio, chunks[0].Source)
	assert.Nil(t, chunks[0].Start)
}

func TestOpenAI_RetriesTransient(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"text":"ok."}`))
	}))
	defer srv.Close()

	o := NewOpenAI("k", "", srv.URL, time.Second, nil)
	o.retry = resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	chunks, err := o.Transcribe(context.Background(), writeAudio(t))
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestOpenAI_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	o := NewOpenAI("bad", "", srv.URL, time.Second, nil)
	_, err := o.Transcribe(context.Background(), writeAudio(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP Error 401")
}

type fakeGenerator struct {
	text     string
	err      error
	gotModel string
	gotParts []*genai.Part
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotModel = model
	f.gotParts = contents[0].Parts
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}},
	}}}, nil
}

func TestGemini_Transcribe(t *testing.T) {
	gen := &fakeGenerator{text: "你好！再见。"}
	g := newGemini(gen, "", nil)

	chunks, err := g.Transcribe(context.Background(), writeAudio(t))
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
	assert.Equal(t, defaultGeminiModel, gen.gotModel)
	require.Len(t, gen.gotParts, 2)
	require.NotNil(t, gen.gotParts[0].InlineData)
	assert.Equal(t, "audio/wav", gen.gotParts[0].InlineData.MIMEType)
}

func TestGemini_Error(t *testing.T) {
	g := newGemini(&fakeGenerator{err: errors.New("quota")}, "m", nil)
	_, err := g.Transcribe(context.Background(), writeAudio(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
}

func TestParseWhisperJSON(t *testing.T) {
	data := []byte(`{"transcription":[
		{"offsets":{"from":0,"to":2340},"text":" 开场白"},
		{"offsets":{"from":2340,"to":3000},"text":"   "},
		{"offsets":{"from":3000,"to":5006},"text":"第二段"}
	]}`)
	chunks, err := ParseWhisperJSON(data, "/a.wav")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "开场白", chunks[0].Text)
	assert.InDelta(t, 0.0, *chunks[0].Start, 0.0001)
	assert.InDelta(t, 2.34, *chunks[0].End, 0.0001)
	assert.InDelta(t, 5.01, *chunks[1].End, 0.0001)
	assert.Equal(t, 2, chunks[1].Sequence)

	_, err = ParseWhisperJSON([]byte("nope"), "/a.wav")
	assert.Error(t, err)
}

func TestWhisper_Args(t *testing.T) {
	vad := filepath.Join(t.TempDir(), "vad.bin")
	require.NoError(t, os.WriteFile(vad, []byte("x"), 0o644))

	w := NewWhisper(WhisperOptions{Model: "m.bin", VADModel: vad}, nil)
	assert.True(t, w.VADEnabled())
	args := w.Args("/a.wav", "/tmp/out")
	assert.Equal(t, []string{"-m", "m.bin", "-f", "/a.wav", "-l", "zh", "-bs", "5", "-oj", "-of", "/tmp/out", "-np", "--vad", "-vm", vad, "-vsd", "300"}, args)

	w = NewWhisper(WhisperOptions{Model: "m.bin"}, nil)
	assert.False(t, w.VADEnabled())
	assert.NotContains(t, w.Args("/a.wav", "/o"), "--vad")
}

func TestWhisper_MissingVADModelLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	w := NewWhisper(WhisperOptions{Model: "m.bin", VADModel: filepath.Join(t.TempDir(), "absent.bin")}, nil)
	assert.False(t, w.VADEnabled())
	assert.NotContains(t, w.Args("/a.wav", "/o"), "--vad")
	assert.Equal(t, 1, logs.FilterMessage("transcribe: whisper VAD disabled, model not found").Len())

	NewWhisper(WhisperOptions{Model: "m.bin"}, nil)
	assert.Equal(t, 1, logs.FilterMessage("transcribe: whisper VAD disabled, no vad_model configured").Len())
}

func TestWhisper_TranscribeWithScript(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "whisper-cli")
	// writes {"transcription":[...]} to the path following -of
	script := `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-of" ]; then out="$2"; fi
  shift
done
printf '{"transcription":[{"offsets":{"from":1000,"to":2500},"text":"测试"}]}' > "$out.json"
`
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	w := NewWhisper(WhisperOptions{BinPath: bin, Model: "m.bin", Timeout: 5 * time.Second}, runner.NewExecExecutor())
	chunks, err := w.Transcribe(context.Background(), writeAudio(t))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "测试", chunks[0].Text)
	assert.InDelta(t, 1.0, *chunks[0].Start, 0.0001)
	assert.InDelta(t, 2.5, *chunks[0].End, 0.0001)
}

func TestWhisper_NotInstalled(t *testing.T) {
	w := NewWhisper(WhisperOptions{BinPath: "/nonexistent/whisper-cli"}, runner.NewExecExecutor())
	_, err := w.Transcribe(context.Background(), writeAudio(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not installed")
}

func TestNewFromConfig(t *testing.T) {
	c, err := NewFromConfig(context.Background(), config.TranscribeConfig{OpenAIKey: "k"}, runner.NewExecExecutor())
	require.NoError(t, err)
	assert.Equal(t, []string{"openai", "whisper"}, c.Engines())

	c, err = NewFromConfig(context.Background(), config.TranscribeConfig{}, runner.NewExecExecutor())
	require.NoError(t, err)
	assert.Equal(t, []string{"whisper"}, c.Engines())
}

func TestNewFromConfig_BlankKeysSkipped(t *testing.T) {
	c, err := NewFromConfig(context.Background(), config.TranscribeConfig{OpenAIKey: "   ", GeminiKey: "\t"}, runner.NewExecExecutor())
	require.NoError(t, err)
	assert.Equal(t, []string{"whisper"}, c.Engines())
}
