package transcribe

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/sells-group/breakdown-cli/internal/model"
)

const (
	defaultGeminiModel = "gemini-2.5-flash"

	geminiPrompt = "Transcribe the speech in this audio verbatim in its original language. " +
		"Return only the transcript text with punctuation and no commentary."
)

// contentGenerator is the part of the genai client the engine uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini transcribes by sending the audio inline to a Gemini model.
type Gemini struct {
	models  contentGenerator
	model   string
	limiter *rate.Limiter
}

// NewGemini creates the Gemini engine backed by the Gemini API.
func NewGemini(ctx context.Context, apiKey, model string, limiter *rate.Limiter) (*Gemini, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, eris.Wrap(err, "transcribe: create gemini client")
	}
	return newGemini(cli.Models, model, limiter), nil
}

func newGemini(models contentGenerator, model string, limiter *rate.Limiter) *Gemini {
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{models: models, model: model, limiter: limiter}
}

// Name returns "gemini".
func (g *Gemini) Name() string { return "gemini" }

// Transcribe asks the model for a plain transcript and splits it into
// sentences.
func (g *Gemini) Transcribe(ctx context.Context, audioPath string) ([]model.SignalChunk, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, eris.Wrapf(err, "transcribe: read audio %s", audioPath)
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "transcribe: rate limiter")
		}
	}

	mimeType := audioMIMEType(audioPath)
	resp, err := g.models.GenerateContent(ctx, g.model,
		[]*genai.Content{{
			Role: "user",
			Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
				{Text: geminiPrompt},
			},
		}},
		&genai.GenerateContentConfig{ResponseMIMEType: "text/plain"},
	)
	if err != nil {
		return nil, eris.Wrap(err, "transcribe: gemini generate")
	}

	var sb strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, p := range resp.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	return UntimedChunks(sb.String(), audioPath), nil
}

func audioMIMEType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".aac":
		return "audio/aac"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	default:
		return "audio/wav"
	}
}
