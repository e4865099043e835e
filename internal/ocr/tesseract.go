package ocr

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/breakdown-cli/internal/runner"
)

const defaultTesseractLangs = "chi_sim+eng"

// Tesseract recognises text with the tesseract CLI.
type Tesseract struct {
	binPath string
	langs   string
	exec    runner.Executor
	timeout time.Duration
}

// NewTesseract creates a Tesseract engine. If binPath is empty, "tesseract"
// is used.
func NewTesseract(binPath, langs string, exec runner.Executor, timeout time.Duration) *Tesseract {
	if binPath == "" {
		binPath = "tesseract"
	}
	if langs == "" {
		langs = defaultTesseractLangs
	}
	return &Tesseract{binPath: binPath, langs: langs, exec: exec, timeout: timeout}
}

// Name returns "tesseract".
func (t *Tesseract) Name() string { return "tesseract" }

// Recognize runs `tesseract <image> stdout -l <langs>`. The CLI reports no
// usable score, so confidence is the share of letters and digits in the
// output clamped to [0.25, 0.95].
func (t *Tesseract) Recognize(ctx context.Context, imagePath string) (Result, error) {
	res := t.exec.Run(ctx, runner.Command{
		Name:    t.binPath,
		Args:    []string{imagePath, "stdout", "-l", t.langs},
		Timeout: t.timeout,
	})
	if res.NotFound {
		return Result{}, eris.Errorf("ocr: %s not installed", t.binPath)
	}
	if !res.OK() {
		return Result{}, eris.Errorf("ocr: tesseract failed for %s (exit %d): %s", imagePath, res.ExitCode, runner.Tail(res.Stderr, 500))
	}

	text := strings.TrimSpace(res.Stdout)
	if text == "" {
		return Result{}, nil
	}
	return Result{Text: text, Confidence: AlnumConfidence(text), Engine: t.Name()}, nil
}

// AlnumConfidence scores text by its share of letters and digits.
func AlnumConfidence(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}
	n := 0
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	conf := float64(n) / float64(len(runes))
	conf = min(0.95, max(0.25, conf))
	return round2(conf)
}
