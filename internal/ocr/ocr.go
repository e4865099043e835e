// Package ocr recognises on-screen text in frames and images through an
// ordered cascade of engines.
package ocr

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/breakdown-cli/internal/config"
	"github.com/sells-group/breakdown-cli/internal/runner"
)

// Result is the recognised text of one image.
type Result struct {
	Text       string
	Confidence float64
	Engine     string
}

// Empty reports whether nothing was recognised.
func (r Result) Empty() bool { return r.Text == "" }

// TextRecognizer recognises text in one image file.
type TextRecognizer interface {
	Name() string
	Recognize(ctx context.Context, imagePath string) (Result, error)
}

// Cascade tries recognizers in order and returns the first non-empty result.
type Cascade struct {
	engines []TextRecognizer
}

// NewCascade creates a cascade over the given engines.
func NewCascade(engines ...TextRecognizer) *Cascade {
	return &Cascade{engines: engines}
}

// Name returns "cascade".
func (c *Cascade) Name() string { return "cascade" }

// Engines returns the engine names in order.
func (c *Cascade) Engines() []string {
	names := make([]string, len(c.engines))
	for i, e := range c.engines {
		names[i] = e.Name()
	}
	return names
}

// Recognize returns the first non-empty result. An empty result with a nil
// error means every engine ran and found no text; an error means at least
// one engine failed and none produced text.
func (c *Cascade) Recognize(ctx context.Context, imagePath string) (Result, error) {
	var lastErr error
	for _, e := range c.engines {
		res, err := e.Recognize(ctx, imagePath)
		if err != nil {
			zap.L().Debug("ocr: engine failed, trying next",
				zap.String("engine", e.Name()),
				zap.String("image", imagePath),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		if !res.Empty() {
			if res.Engine == "" {
				res.Engine = e.Name()
			}
			return res, nil
		}
	}
	if lastErr != nil {
		return Result{}, eris.Wrap(lastErr, "ocr: no engine recognised text")
	}
	return Result{}, nil
}

// NewFromConfig builds the standard cascade: the local RapidOCR server,
// Mistral when its key is present, then the tesseract CLI. Results are
// cached by image content.
func NewFromConfig(cfg config.OCRConfig, exec runner.Executor) (*Cached, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second

	var engines []TextRecognizer
	if cfg.RapidOCRURL != "" {
		engines = append(engines, NewRapidOCR(cfg.RapidOCRURL, timeout))
	}
	if config.HasCredential(cfg.MistralKey) {
		engines = append(engines, NewMistralOCR(strings.TrimSpace(cfg.MistralKey), cfg.MistralModel, cfg.MistralBaseURL, timeout))
	}
	engines = append(engines, NewTesseract(cfg.TesseractPath, cfg.TesseractLangs, exec, timeout))

	cached, err := NewCached(NewCascade(engines...), cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return cached, nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
