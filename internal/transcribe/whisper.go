package transcribe

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/runner"
)

// WhisperOptions configures the whisper.cpp CLI.
type WhisperOptions struct {
	BinPath  string
	Model    string
	VADModel string
	Language string
	BeamSize int
	Timeout  time.Duration
}

// Whisper runs whisper.cpp locally and keeps per-segment timing.
type Whisper struct {
	opts WhisperOptions
	exec runner.Executor
}

// NewWhisper creates the local engine.
func NewWhisper(opts WhisperOptions, exec runner.Executor) *Whisper {
	if opts.BinPath == "" {
		opts.BinPath = "whisper-cli"
	}
	if opts.Language == "" {
		opts.Language = "zh"
	}
	if opts.BeamSize <= 0 {
		opts.BeamSize = 5
	}
	switch {
	case opts.VADModel == "":
		zap.L().Warn("transcribe: whisper VAD disabled, no vad_model configured")
	default:
		if _, err := os.Stat(opts.VADModel); err != nil {
			zap.L().Warn("transcribe: whisper VAD disabled, model not found",
				zap.String("vad_model", opts.VADModel), zap.Error(err))
			opts.VADModel = ""
		}
	}
	return &Whisper{opts: opts, exec: exec}
}

// VADEnabled reports whether silence filtering is passed to whisper.cpp.
func (w *Whisper) VADEnabled() bool { return w.opts.VADModel != "" }

// Name returns "whisper".
func (w *Whisper) Name() string { return "whisper" }

// Args returns the CLI arguments writing JSON next to outPrefix.
func (w *Whisper) Args(audioPath, outPrefix string) []string {
	args := []string{
		"-m", w.opts.Model,
		"-f", audioPath,
		"-l", w.opts.Language,
		"-bs", strconv.Itoa(w.opts.BeamSize),
		"-oj",
		"-of", outPrefix,
		"-np",
	}
	if w.VADEnabled() {
		args = append(args, "--vad", "-vm", w.opts.VADModel, "-vsd", "300")
	}
	return args
}

// Transcribe runs the CLI into a temporary directory and parses its JSON.
func (w *Whisper) Transcribe(ctx context.Context, audioPath string) ([]model.SignalChunk, error) {
	tmp, err := os.MkdirTemp("", "breakdown-whisper-*")
	if err != nil {
		return nil, eris.Wrap(err, "transcribe: create temp dir")
	}
	defer os.RemoveAll(tmp) //nolint:errcheck

	prefix := filepath.Join(tmp, "transcript")
	res := w.exec.Run(ctx, runner.Command{
		Name:    w.opts.BinPath,
		Args:    w.Args(audioPath, prefix),
		Timeout: w.opts.Timeout,
	})
	if res.NotFound {
		return nil, eris.Errorf("transcribe: %s not installed", w.opts.BinPath)
	}
	if !res.OK() {
		return nil, eris.Errorf("transcribe: whisper failed (exit %d): %s", res.ExitCode, runner.Tail(res.Stderr, 500))
	}

	data, err := os.ReadFile(prefix + ".json")
	if err != nil {
		return nil, eris.Wrap(err, "transcribe: read whisper output")
	}
	return ParseWhisperJSON(data, audioPath)
}

// ParseWhisperJSON reads whisper.cpp JSON output. Segment offsets are in
// milliseconds; start and end are converted to seconds with two decimals.
func ParseWhisperJSON(data []byte, source string) ([]model.SignalChunk, error) {
	if !gjson.ValidBytes(data) {
		return nil, eris.New("transcribe: whisper output is not valid json")
	}
	var chunks []model.SignalChunk
	for _, seg := range gjson.GetBytes(data, "transcription").Array() {
		text := strings.TrimSpace(seg.Get("text").String())
		if text == "" {
			continue
		}
		start := round2(seg.Get("offsets.from").Float() / 1000)
		end := round2(seg.Get("offsets.to").Float() / 1000)
		chunks = append(chunks, model.SignalChunk{
			Text:     text,
			Start:    &start,
			End:      &end,
			Source:   source,
			Sequence: len(chunks) + 1,
		})
	}
	return chunks, nil
}
