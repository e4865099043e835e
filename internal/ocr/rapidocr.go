package ocr

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/breakdown-cli/internal/resilience"
)

// RapidOCR calls a local RapidOCR model server. The server answers an image
// upload with one entry per detected line:
//
//	{"0": {"rec_txt": "...", "score": "0.98", "dt_boxes": [...]}, ...}
type RapidOCR struct {
	url    string
	client *http.Client
}

// NewRapidOCR creates a RapidOCR client for the given endpoint.
func NewRapidOCR(url string, timeout time.Duration) *RapidOCR {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RapidOCR{url: url, client: &http.Client{Timeout: timeout}}
}

// Name returns "rapidocr".
func (r *RapidOCR) Name() string { return "rapidocr" }

// Recognize uploads the image and joins the detected lines. Confidence is
// the mean line score rounded to two decimals; lines without a score count
// as 0.6.
func (r *RapidOCR) Recognize(ctx context.Context, imagePath string) (Result, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return Result{}, eris.Wrapf(err, "ocr: read image %s", imagePath)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image_file", filepath.Base(imagePath))
	if err != nil {
		return Result{}, eris.Wrap(err, "ocr: create rapidocr form")
	}
	if _, err := part.Write(data); err != nil {
		return Result{}, eris.Wrap(err, "ocr: write rapidocr form")
	}
	if err := mw.Close(); err != nil {
		return Result{}, eris.Wrap(err, "ocr: close rapidocr form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, &body)
	if err != nil {
		return Result{}, eris.Wrap(err, "ocr: create rapidocr request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, eris.Wrap(err, "ocr: rapidocr call")
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := resilience.CheckResponse(resp, "rapidocr"); err != nil {
		return Result{}, err
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, eris.Wrap(err, "ocr: read rapidocr response")
	}
	return ParseRapidOCR(respBody)
}

// ParseRapidOCR converts a server response into a Result. Both the object
// form and a plain array of {rec_txt, score} entries are accepted.
func ParseRapidOCR(body []byte) (Result, error) {
	if !gjson.ValidBytes(body) {
		return Result{}, eris.New("ocr: rapidocr returned invalid json")
	}

	var texts []string
	var sum float64
	gjson.ParseBytes(body).ForEach(func(_, line gjson.Result) bool {
		txt := strings.TrimSpace(line.Get("rec_txt").String())
		if txt == "" {
			return true
		}
		score := 0.6
		if s := line.Get("score"); s.Exists() {
			score = s.Float()
		}
		texts = append(texts, txt)
		sum += score
		return true
	})

	if len(texts) == 0 {
		return Result{}, nil
	}
	return Result{
		Text:       strings.Join(texts, "\n"),
		Confidence: round2(sum / float64(len(texts))),
		Engine:     "rapidocr",
	}, nil
}
