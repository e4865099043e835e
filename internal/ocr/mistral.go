package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/breakdown-cli/internal/resilience"
)

const (
	defaultMistralBaseURL = "https://api.mistral.ai/v1"
	defaultMistralModel   = "mistral-ocr-latest"

	// mistralConfidence is reported for Mistral results, which carry no
	// per-line scores.
	mistralConfidence = 0.8
)

// MistralOCR recognises image text with the Mistral OCR API.
type MistralOCR struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	retry    resilience.RetryConfig
	breaker  *resilience.CircuitBreaker
}

// NewMistralOCR creates a MistralOCR engine. Empty model and baseURL use
// the defaults.
func NewMistralOCR(apiKey, model, baseURL string, timeout time.Duration) *MistralOCR {
	if model == "" {
		model = defaultMistralModel
	}
	if baseURL == "" {
		baseURL = defaultMistralBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("mistral", "ocr")
	breaker := resilience.DefaultCircuitBreakerConfig()
	breaker.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("ocr: mistral circuit state change",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return &MistralOCR{
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimRight(baseURL, "/") + "/ocr",
		client:   &http.Client{Timeout: timeout},
		retry:    retry,
		breaker:  resilience.NewCircuitBreaker(breaker),
	}
}

// Name returns "mistral".
func (m *MistralOCR) Name() string { return "mistral" }

type mistralOCRRequest struct {
	Model    string             `json:"model"`
	Document mistralOCRDocument `json:"document"`
}

type mistralOCRDocument struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
}

type mistralOCRResponse struct {
	Pages []mistralOCRPage `json:"pages"`
}

type mistralOCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

// Recognize sends the image as a data URL and joins the returned pages.
// Repeated failures open the breaker so later images skip straight to the
// next engine.
func (m *MistralOCR) Recognize(ctx context.Context, imagePath string) (Result, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return Result{}, eris.Wrapf(err, "ocr: read image %s", imagePath)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(imagePath)))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	reqBody := mistralOCRRequest{
		Model: m.model,
		Document: mistralOCRDocument{
			Type:     "image_url",
			ImageURL: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
		},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, eris.Wrap(err, "ocr: marshal mistral request")
	}

	ocrResp, err := resilience.ExecuteVal(ctx, m.breaker, func(ctx context.Context) (*mistralOCRResponse, error) {
		return resilience.DoVal(ctx, m.retry, func(ctx context.Context) (*mistralOCRResponse, error) {
			return m.call(ctx, bodyBytes)
		})
	})
	if err != nil {
		return Result{}, err
	}

	var sb strings.Builder
	for i, page := range ocrResp.Pages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(page.Markdown)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return Result{}, nil
	}
	return Result{Text: text, Confidence: mistralConfidence, Engine: m.Name()}, nil
}

func (m *MistralOCR) call(ctx context.Context, body []byte) (*mistralOCRResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create mistral request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "ocr: mistral API call"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := resilience.CheckResponse(resp, "mistral"); err != nil {
		return nil, err
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: read mistral response")
	}
	var ocrResp mistralOCRResponse
	if err := json.Unmarshal(respBody, &ocrResp); err != nil {
		return nil, eris.Wrap(err, "ocr: unmarshal mistral response")
	}
	return &ocrResp, nil
}
