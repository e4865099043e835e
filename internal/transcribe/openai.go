package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/resilience"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini-transcribe"
)

// OpenAI transcribes through the OpenAI audio transcription endpoint. The
// response carries no timing, so chunks are untimed sentences.
type OpenAI struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
}

// NewOpenAI creates the OpenAI engine. A nil limiter disables throttling.
func NewOpenAI(apiKey, model, baseURL string, timeout time.Duration, limiter *rate.Limiter) *OpenAI {
	if model == "" {
		model = defaultOpenAIModel
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("openai", "transcribe")
	return &OpenAI{
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimRight(baseURL, "/") + "/audio/transcriptions",
		client:   &http.Client{Timeout: timeout},
		limiter:  limiter,
		retry:    retry,
	}
}

// Name returns "openai".
func (o *OpenAI) Name() string { return "openai" }

type openAITranscription struct {
	Text string `json:"text"`
}

// Transcribe uploads the audio file and splits the returned text.
func (o *OpenAI) Transcribe(ctx context.Context, audioPath string) ([]model.SignalChunk, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, eris.Wrapf(err, "transcribe: read audio %s", audioPath)
	}

	text, err := resilience.DoVal(ctx, o.retry, func(ctx context.Context) (string, error) {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return "", eris.Wrap(err, "transcribe: rate limiter")
			}
		}
		return o.call(ctx, filepath.Base(audioPath), data)
	})
	if err != nil {
		return nil, err
	}
	return UntimedChunks(text, audioPath), nil
}

func (o *OpenAI) call(ctx context.Context, filename string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", o.model); err != nil {
		return "", eris.Wrap(err, "transcribe: write model field")
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", eris.Wrap(err, "transcribe: write format field")
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", eris.Wrap(err, "transcribe: create file part")
	}
	if _, err := part.Write(data); err != nil {
		return "", eris.Wrap(err, "transcribe: write file part")
	}
	if err := mw.Close(); err != nil {
		return "", eris.Wrap(err, "transcribe: close form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, &body)
	if err != nil {
		return "", eris.Wrap(err, "transcribe: create openai request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", resilience.NewTransientError(eris.Wrap(err, "transcribe: openai call"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := resilience.CheckResponse(resp, "openai"); err != nil {
		return "", err
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "transcribe: read openai response")
	}
	var out openAITranscription
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", eris.Wrap(err, "transcribe: unmarshal openai response")
	}
	return out.Text, nil
}
