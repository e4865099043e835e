// Package transcribe turns extracted audio into transcript chunks through
// cloud engines, when credentials are present, and a local whisper.cpp
// fallback.
package transcribe

import (
	"context"
	"math"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/breakdown-cli/internal/config"
	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/runner"
)

// Transcriber converts one audio file into ordered chunks.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audioPath string) ([]model.SignalChunk, error)
}

// Cascade tries transcribers in order until one yields chunks.
type Cascade struct {
	engines []Transcriber
}

// NewCascade creates a cascade over the given engines.
func NewCascade(engines ...Transcriber) *Cascade {
	return &Cascade{engines: engines}
}

// Engines returns the engine names in order.
func (c *Cascade) Engines() []string {
	names := make([]string, len(c.engines))
	for i, e := range c.engines {
		names[i] = e.Name()
	}
	return names
}

// Run returns the chunks of the first engine that produced any, plus one log
// entry per engine tried. It never fails: a cascade where every engine
// errors or stays silent yields no chunks.
func (c *Cascade) Run(ctx context.Context, audioPath string) ([]model.SignalChunk, []model.LogEntry) {
	var logs []model.LogEntry
	for _, e := range c.engines {
		chunks, err := e.Transcribe(ctx, audioPath)
		entry := model.LogEntry{Step: "transcribe", Engine: e.Name()}
		switch {
		case err != nil:
			zap.L().Debug("transcribe: engine failed, trying next", zap.String("engine", e.Name()), zap.Error(err))
			entry.Error = err.Error()
		case len(chunks) == 0:
			entry.Message = "no speech recognised"
		default:
			entry.Message = "transcribed"
		}
		logs = append(logs, entry)
		if err == nil && len(chunks) > 0 {
			return chunks, logs
		}
	}
	return nil, logs
}

// NewFromConfig builds the standard cascade. Cloud engines are included
// only when their credential is set; whisper.cpp is always last. All cloud
// engines share one request limiter.
func NewFromConfig(ctx context.Context, cfg config.TranscribeConfig, exec runner.Executor) (*Cascade, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	rps := cfg.RPS
	if rps <= 0 {
		rps = 2
	}
	limiter := rate.NewLimiter(rate.Limit(rps), 1)

	var engines []Transcriber
	if config.HasCredential(cfg.OpenAIKey) {
		engines = append(engines, NewOpenAI(strings.TrimSpace(cfg.OpenAIKey), cfg.OpenAIModel, cfg.OpenAIBaseURL, timeout, limiter))
	}
	if config.HasCredential(cfg.GeminiKey) {
		g, err := NewGemini(ctx, strings.TrimSpace(cfg.GeminiKey), cfg.GeminiModel, limiter)
		if err != nil {
			return nil, err
		}
		engines = append(engines, g)
	}
	engines = append(engines, NewWhisper(WhisperOptions{
		BinPath:  cfg.WhisperPath,
		Model:    cfg.WhisperModel,
		VADModel: cfg.VADModel,
		Language: cfg.Language,
		BeamSize: cfg.BeamSize,
		Timeout:  timeout,
	}, exec))
	return NewCascade(engines...), nil
}

var reSentenceEnd = regexp.MustCompile(`[。！？!?]`)

// SplitSentences splits text after each sentence-ending mark, keeping the
// mark, and drops blank pieces.
func SplitSentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range reSentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[last:loc[1]]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		out = append(out, s)
	}
	return out
}

// UntimedChunks turns plain transcript text into sentence chunks.
func UntimedChunks(text, source string) []model.SignalChunk {
	var chunks []model.SignalChunk
	for i, s := range SplitSentences(text) {
		chunks = append(chunks, model.SignalChunk{Text: s, Source: source, Sequence: i + 1})
	}
	return chunks
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
