// Package extract turns acquired assets into machine-readable signals:
// on-screen text, speech transcripts and post metadata, plus the evidence
// pool later stages cite.
package extract

import (
	"context"
	"time"

	"github.com/sells-group/breakdown-cli/internal/config"
	"github.com/sells-group/breakdown-cli/internal/media"
	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/ocr"
	"github.com/sells-group/breakdown-cli/internal/runner"
	"github.com/sells-group/breakdown-cli/internal/transcribe"
)

// SpeechRecognizer runs a transcription cascade over one audio file.
type SpeechRecognizer interface {
	Run(ctx context.Context, audioPath string) ([]model.SignalChunk, []model.LogEntry)
}

// Engines holds the capability providers used by an Extractor. It is built
// once per process and passed in; nothing here is a package-level global.
type Engines struct {
	Frames     []media.FrameExtractor
	Audio      []media.AudioExtractor
	OCR        ocr.TextRecognizer
	Speech     SpeechRecognizer
	OCRWorkers int
	MaxImages  int
}

// NewEngines builds the standard engines from configuration.
func NewEngines(ctx context.Context, cfg *config.Config, exec runner.Executor) (*Engines, error) {
	mediaTimeout := time.Duration(cfg.Extract.MediaTimeoutSecs) * time.Second
	ffopts := media.FFmpegOptions{
		FFmpegPath:     cfg.Extract.FFmpegPath,
		SceneThreshold: cfg.Extract.SceneThreshold,
		MaxSceneFrames: cfg.Extract.MaxSceneFrames,
		Timeout:        mediaTimeout,
		TailChars:      cfg.Pipeline.TailChars,
	}

	recognizer, err := ocr.NewFromConfig(cfg.OCR, exec)
	if err != nil {
		return nil, err
	}
	speech, err := transcribe.NewFromConfig(ctx, cfg.Transcribe, exec)
	if err != nil {
		return nil, err
	}

	return &Engines{
		Frames: []media.FrameExtractor{
			media.NewFFmpegFrames(ffopts, exec),
			media.NewSampledFrames(media.SampledOptions{
				FFmpegPath:  cfg.Extract.FFmpegPath,
				FFprobePath: cfg.Extract.FFprobePath,
				MaxFrames:   cfg.Extract.MaxSampledFrames,
				Timeout:     mediaTimeout,
				TailChars:   cfg.Pipeline.TailChars,
			}, exec),
		},
		Audio: []media.AudioExtractor{
			media.NewFFmpegAudio(ffopts, exec),
			media.NewPCMAudio(cfg.Extract.FFmpegPath, exec, mediaTimeout, cfg.Pipeline.TailChars),
		},
		OCR:        recognizer,
		Speech:     speech,
		OCRWorkers: cfg.Extract.OCRWorkers,
		MaxImages:  cfg.Extract.MaxImages,
	}, nil
}
