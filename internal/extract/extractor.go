package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/breakdown-cli/internal/evidence"
	"github.com/sells-group/breakdown-cli/internal/media"
	"github.com/sells-group/breakdown-cli/internal/model"
)

// Output names under the extraction output directory.
const (
	FramesDirName = "frames"
	AudioFileName = "audio.wav"
)

// Limitation messages. The list is empty only when both OCR and
// transcription produced output.
const (
	LimitationNoTranscript = "no transcript: no speech or subtitle text was extracted"
	LimitationNoOCR        = "no OCR: no on-screen text was recognised"
	LimitationNoDecoder    = "no video decoding: ffmpeg was not found, so frames and audio were not extracted"
)

// frameLocatorPrefix marks OCR hits that came from extracted video frames.
const frameLocatorPrefix = "frame:"

const (
	maxEvidencePerSource = 10
	maxHookChunks        = 5
	maxHookOCR           = 3
	transcriptConfidence = 0.7
	defaultMaxImages     = 10
	defaultOCRWorkers    = 4
)

// Extractor runs the capability cascades over one fetch result.
type Extractor struct {
	engines *Engines
	now     func() time.Time
}

// NewExtractor creates an extractor over the given engines.
func NewExtractor(engines *Engines) *Extractor {
	return &Extractor{engines: engines, now: time.Now}
}

// ReadFetchResult loads a fetch_result.json document.
func ReadFetchResult(path string) (model.FetchResult, error) {
	var fr model.FetchResult
	data, err := os.ReadFile(path)
	if err != nil {
		return fr, err
	}
	if err := json.Unmarshal(data, &fr); err != nil {
		return fr, err
	}
	return fr, nil
}

// ExtractFile reads the fetch result at fetchPath and extracts signals.
// An unreadable document is treated like a failed upstream stage.
func (x *Extractor) ExtractFile(ctx context.Context, fetchPath, outputDir string) model.SignalsResult {
	fr, err := ReadFetchResult(fetchPath)
	if err != nil {
		return upstreamFailed(map[string]any{"code": model.ErrPipelineFailed, "reason": err.Error()})
	}
	return x.Extract(ctx, fr, outputDir)
}

// ocrJob is one image to recognise.
type ocrJob struct {
	path    string
	locator string
}

// Extract produces the signals document. Engine failures are recorded in
// logs and never abort the stage; only a failed upstream fetch is an error.
func (x *Extractor) Extract(ctx context.Context, fr model.FetchResult, outputDir string) model.SignalsResult {
	if !fr.OK {
		var upstream any
		if fr.Error != nil {
			upstream = fr.Error
		}
		return upstreamFailed(upstream)
	}

	outputDir, _ = filepath.Abs(outputDir)
	log := zap.L().With(zap.String("output_dir", outputDir))

	idx := fr.AssetIndex
	videos := existing(idx.Video)
	images := existing(idx.Images)
	audio := existing(idx.Audio)
	transcripts := existing(idx.Transcript)

	var (
		logs      = []model.LogEntry{}
		jobs      []ocrJob
		chunks    = []model.SignalChunk{}
		generated []string
		noDecoder bool
	)

	if len(videos) > 0 {
		video := videos[0]
		frames, frameLogs := media.Frames(ctx, x.engines.Frames, video, filepath.Join(outputDir, FramesDirName))
		logs = append(logs, frameLogs...)
		for i, f := range frames {
			jobs = append(jobs, ocrJob{path: f, locator: fmt.Sprintf("%s%d", frameLocatorPrefix, i)})
		}

		audioPath := filepath.Join(outputDir, AudioFileName)
		ok, audioLogs := media.Audio(ctx, x.engines.Audio, video, audioPath)
		logs = append(logs, audioLogs...)
		if ok {
			generated = append(generated, audioPath)
		}
		noDecoder = (len(frames) == 0 && media.DecoderMissing(frameLogs)) ||
			(!ok && media.DecoderMissing(audioLogs))
	}

	maxImages := x.engines.MaxImages
	if maxImages <= 0 {
		maxImages = defaultMaxImages
	}
	for i, img := range images[:min(len(images), maxImages)] {
		jobs = append(jobs, ocrJob{path: img, locator: fmt.Sprintf("image:%d", i)})
	}

	hits, ocrLogs := x.recognize(ctx, jobs)
	logs = append(logs, ocrLogs...)

	speechSource := ""
	switch {
	case len(generated) > 0:
		speechSource = generated[0]
	case len(audio) > 0:
		speechSource = audio[0]
	}
	if speechSource != "" && x.engines.Speech != nil {
		speech, speechLogs := x.engines.Speech.Run(ctx, speechSource)
		logs = append(logs, speechLogs...)
		chunks = append(chunks, speech...)
	}

	for _, sub := range transcripts {
		subChunks, err := ParseSubtitleFile(sub)
		if err != nil {
			logs = append(logs, model.LogEntry{Step: "subtitle", Error: err.Error()})
			continue
		}
		chunks = append(chunks, subChunks...)
	}

	meta := FromSidecars(existing(fr.Artifacts.AllFiles))
	chunks = append(chunks, meta.Chunks...)

	pool := append(OCREvidence(hits), TranscriptEvidence(chunks)...)
	pool = append(pool, meta.Evidence[:min(len(meta.Evidence), maxEvidencePerSource)]...)

	result := model.SignalsResult{
		OK:                true,
		Meta:              fr.Meta,
		AssetIndex:        idx,
		PostContent:       mergePost(meta.Post, fr.PostContent),
		EngagementMetrics: fr.EngagementMetrics,
		Signals: model.Signals{
			OCRHits:          hits,
			TranscriptChunks: chunks,
			EvidencePool:     evidence.NormalizeItems(pool),
			HookCandidates:   HookCandidates(chunks, hits),
		},
		Logs:        logs,
		Limitations: Limitations(chunks, hits),
	}
	if noDecoder {
		result.Limitations = append(result.Limitations, LimitationNoDecoder)
	}
	result.Meta.SignalsExtractedAt = x.now().UTC().Format(time.RFC3339)
	result.AssetIndex.Audio = mergeSorted(idx.Audio, generated)
	result.AssetIndex.CoverText = CoverText(hits, meta.CoverTexts)

	log.Info("extract: signals ready",
		zap.Int("ocr_hits", len(hits)),
		zap.Int("transcript_chunks", len(chunks)),
		zap.Int("evidence", len(result.Signals.EvidencePool)),
	)
	return result
}

// recognize runs OCR over jobs with bounded parallelism and returns hits in
// job order.
func (x *Extractor) recognize(ctx context.Context, jobs []ocrJob) ([]model.OCRHit, []model.LogEntry) {
	hits := []model.OCRHit{}
	if len(jobs) == 0 || x.engines.OCR == nil {
		return hits, nil
	}

	type outcome struct {
		hit *model.OCRHit
		err error
	}
	results := make([]outcome, len(jobs))

	workers := x.engines.OCRWorkers
	if workers <= 0 {
		workers = defaultOCRWorkers
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i, job := range jobs {
		g.Go(func() error {
			res, err := x.engines.OCR.Recognize(ctx, job.path)
			if err != nil {
				results[i] = outcome{err: err}
				return nil
			}
			if res.Empty() {
				return nil
			}
			results[i] = outcome{hit: &model.OCRHit{
				Source:     job.path,
				Locator:    job.locator,
				Text:       res.Text,
				Confidence: res.Confidence,
				Engine:     res.Engine,
			}}
			return nil
		})
	}
	_ = g.Wait()

	var logs []model.LogEntry
	for i, r := range results {
		switch {
		case r.err != nil:
			logs = append(logs, model.LogEntry{Step: "ocr", Message: jobs[i].locator, Error: r.err.Error()})
		case r.hit != nil:
			hits = append(hits, *r.hit)
		}
	}
	logs = append(logs, model.LogEntry{
		Step:    "ocr",
		Engine:  x.engines.OCR.Name(),
		Message: fmt.Sprintf("%d of %d images had text", len(hits), len(jobs)),
	})
	return hits, logs
}

// OCREvidence cites up to ten OCR hits. Hits located on an extracted frame
// are frame_ocr; anything else (covers, gallery images) is cover_ocr.
func OCREvidence(hits []model.OCRHit) []model.EvidenceItem {
	out := []model.EvidenceItem{}
	for _, h := range hits[:min(len(hits), maxEvidencePerSource)] {
		typ := model.EvidenceCoverOCR
		if strings.HasPrefix(h.Locator, frameLocatorPrefix) {
			typ = model.EvidenceFrameOCR
		}
		out = append(out, model.EvidenceItem{
			Type:       typ,
			Source:     h.Source,
			Locator:    h.Locator,
			Snippet:    evidence.Truncate(h.Text, maxEvidenceText),
			Confidence: h.Confidence,
		})
	}
	return out
}

// TranscriptEvidence cites up to ten chunks. Timed chunks become timestamp
// evidence located by "<start>s-<end>s"; untimed ones are transcript spans
// located by line.
func TranscriptEvidence(chunks []model.SignalChunk) []model.EvidenceItem {
	out := []model.EvidenceItem{}
	for _, c := range chunks[:min(len(chunks), maxEvidencePerSource)] {
		item := model.EvidenceItem{
			Type:       model.EvidenceTranscriptSpan,
			Source:     c.Source,
			Locator:    "line:" + strconv.Itoa(c.Sequence),
			Snippet:    evidence.Truncate(c.Text, maxEvidenceText),
			Confidence: transcriptConfidence,
		}
		if c.Timed() {
			item.Type = model.EvidenceTimestamp
			end := *c.Start
			if c.End != nil {
				end = *c.End
			}
			item.Locator = formatSeconds(*c.Start) + "s-" + formatSeconds(end) + "s"
		}
		out = append(out, item)
	}
	return out
}

// HookCandidates are the opening transcript lines, or the first OCR texts
// when nothing was said.
func HookCandidates(chunks []model.SignalChunk, hits []model.OCRHit) []string {
	out := []string{}
	for _, c := range chunks[:min(len(chunks), maxHookChunks)] {
		out = append(out, c.Text)
	}
	if len(out) > 0 {
		return out
	}
	for _, h := range hits[:min(len(hits), maxHookOCR)] {
		out = append(out, h.Text)
	}
	return out
}

// CoverText is the first line of the first OCR hit, else the first
// metadata title.
func CoverText(hits []model.OCRHit, titles []string) []string {
	if len(hits) > 0 {
		first, _, _ := strings.Cut(hits[0].Text, "\n")
		if first = evidence.Truncate(strings.TrimSpace(first), maxCoverTitle); first != "" {
			return []string{first}
		}
	}
	if len(titles) > 0 {
		return titles[:1]
	}
	return []string{}
}

// Limitations lists the capabilities that produced nothing.
func Limitations(chunks []model.SignalChunk, hits []model.OCRHit) []string {
	out := []string{}
	if len(chunks) == 0 {
		out = append(out, LimitationNoTranscript)
	}
	if len(hits) == 0 {
		out = append(out, LimitationNoOCR)
	}
	return out
}

func upstreamFailed(upstream any) model.SignalsResult {
	return model.SignalsResult{
		OK:    false,
		Error: model.NewStructuredError(model.ErrUpstreamStageFailed, "", map[string]any{"stage": "fetch", "upstream": upstream}),
	}
}

func mergePost(primary, fallback model.PostContent) model.PostContent {
	if primary.Title == "" {
		primary.Title = fallback.Title
	}
	if primary.Body == "" {
		primary.Body = fallback.Body
	}
	if len(primary.Tags) == 0 {
		primary.Tags = fallback.Tags
	}
	if primary.Tags == nil {
		primary.Tags = []string{}
	}
	return primary
}

func mergeSorted(a, b []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, list := range [][]string{a, b} {
		for _, p := range list {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out
}

func existing(paths []string) []string {
	var out []string
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			out = append(out, p)
		}
	}
	return out
}

func formatSeconds(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
