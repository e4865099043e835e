package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/breakdown-cli/internal/evidence"
	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/pkg/anthropic"
)

const (
	maxHookRunes      = 120
	maxSectionRunes   = 280
	maxCoverRunes     = 80
	maxVoiceoverRunes = 500
	maxPromptRunes    = 2000
	sectionConfidence = 0.7
)

// Fixed texts for reports with missing signals.
const (
	NoHookText      = "opening signal insufficient; needs manual review"
	NoStructureText = "no usable subtitle or voiceover text; script structure could not be segmented"
	NoCoverText     = "none (no clear cover text was extracted)"
	NoVoiceoverText = "none (no usable voiceover text was extracted)"
	EmptySection    = "insufficient content"
)

// LimitationInferred is always appended: structure and hooks are inferred,
// not labelled by the platform.
const LimitationInferred = "script structure and hook are inferred from extracted signals, not platform labels"

var sectionNames = []string{"opening hook", "body", "close / call to action"}

var reSpace = regexp.MustCompile(`\s+`)

// Options configures an Analyzer.
type Options struct {
	Model     string
	MaxTokens int64
}

// Analyzer builds reports. A nil client yields heuristic reports only.
type Analyzer struct {
	client anthropic.Client
	opts   Options
	now    func() time.Time
}

// New creates an Analyzer.
func New(client anthropic.Client, opts Options) *Analyzer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	return &Analyzer{client: client, opts: opts, now: time.Now}
}

// ReadSignals loads a signals.json document.
func ReadSignals(path string) (model.SignalsResult, error) {
	var sr model.SignalsResult
	data, err := os.ReadFile(path)
	if err != nil {
		return sr, eris.Wrapf(err, "analyze: read %s", path)
	}
	if err := json.Unmarshal(data, &sr); err != nil {
		return sr, eris.Wrapf(err, "analyze: decode %s", path)
	}
	return sr, nil
}

// AnalyzeFile reads the signals document at path and analyses it. An
// unreadable document is treated like a failed upstream stage.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) Report {
	sr, err := ReadSignals(path)
	if err != nil {
		return failed(map[string]any{"code": model.ErrPipelineFailed, "reason": err.Error()})
	}
	return a.Analyze(ctx, sr)
}

// Analyze builds the report for sr.
func (a *Analyzer) Analyze(ctx context.Context, sr model.SignalsResult) Report {
	if !sr.OK {
		var upstream any
		if sr.Error != nil {
			upstream = sr.Error
		}
		return failed(upstream)
	}

	rep := Heuristic(sr, a.now())
	if a.client == nil || a.opts.Model == "" {
		return rep
	}

	summary, err := a.summarise(ctx, sr)
	if err != nil {
		zap.L().Warn("analyze: llm summary failed, keeping heuristic report", zap.Error(err))
		return rep
	}
	rep.Summary = summary
	rep.Meta.AnalysisMode = ModeLLM
	rep.Meta.Model = a.opts.Model
	return rep
}

// Heuristic builds the deterministic part of a report.
func Heuristic(sr model.SignalsResult, now time.Time) Report {
	sig := sr.Signals
	pool := evidence.NormalizeItems(sig.EvidencePool)
	chunks := sig.TranscriptChunks

	hook := ""
	switch {
	case len(chunks) > 0:
		hook = evidence.Truncate(chunks[0].Text, maxHookRunes)
	case len(sig.OCRHits) > 0:
		hook = evidence.Truncate(sig.OCRHits[0].Text, maxHookRunes)
	}
	if hook == "" {
		hook = NoHookText
	}

	cover := ""
	if len(sr.AssetIndex.CoverText) > 0 {
		cover = sr.AssetIndex.CoverText[0]
	} else if len(sig.OCRHits) > 0 {
		first, _, _ := strings.Cut(sig.OCRHits[0].Text, "\n")
		cover = evidence.Truncate(first, maxCoverRunes)
	}
	if cover == "" {
		cover = NoCoverText
	}

	voiceover := evidence.Truncate(joinChunks(chunks), maxVoiceoverRunes)
	if voiceover == "" {
		voiceover = NoVoiceoverText
	}

	fetchedAt := sr.Meta.FetchedAt
	if fetchedAt == "" {
		fetchedAt = now.UTC().Format(time.RFC3339)
	}

	limitations := append([]string{}, sr.Limitations...)
	limitations = append(limitations, LimitationInferred)

	if sr.PostContent.Tags == nil {
		sr.PostContent.Tags = []string{}
	}

	return Report{
		OK: true,
		Meta: ReportMeta{
			URL:          sr.Meta.URL,
			Platform:     sr.Meta.Platform,
			ContentType:  sr.Meta.ContentType,
			FetchedAt:    fetchedAt,
			AnalyzedAt:   now.UTC().Format(time.RFC3339),
			AnalysisMode: ModeHeuristic,
		},
		AssetIndex:        sr.AssetIndex,
		PostContent:       sr.PostContent,
		EngagementMetrics: sr.EngagementMetrics,
		Hook:              CitedText{Text: hook, Evidence: head(pool, 3)},
		ScriptStructure:   ScriptStructure(chunks, pool),
		CoverTitle:        CitedText{Text: cover, Evidence: head(pool, 2)},
		VoiceoverCopy:     CitedText{Text: voiceover, Evidence: head(pool, 4)},
		EvidencePool:      pool,
		Limitations:       limitations,
	}
}

// ScriptStructure splits the transcript into opening, body and close
// thirds. The close takes any remainder. Without a transcript a single
// placeholder section cites the first pool item.
func ScriptStructure(chunks []model.SignalChunk, pool []model.EvidenceItem) []Section {
	if len(chunks) == 0 {
		return []Section{{Section: "structure", Text: NoStructureText, Evidence: head(pool, 1)}}
	}

	size := max(1, len(chunks)/3)
	out := make([]Section, 0, len(sectionNames))
	for i, name := range sectionNames {
		start := min(i*size, len(chunks))
		end := min(start+size, len(chunks))
		if i == len(sectionNames)-1 {
			end = len(chunks)
		}
		part := chunks[start:end]

		text := evidence.Truncate(joinChunks(part), maxSectionRunes)
		if text == "" {
			out = append(out, Section{Section: name, Text: EmptySection, Evidence: []model.EvidenceItem{}})
			continue
		}
		first := part[0]
		locator := fmt.Sprintf("line:%d", first.Sequence)
		typ := model.EvidenceTranscriptSpan
		if first.Timed() {
			typ = model.EvidenceTimestamp
			locator = fmt.Sprintf("%gs", *first.Start)
		}
		out = append(out, Section{
			Section: name,
			Text:    text,
			Evidence: evidence.NormalizeItems([]model.EvidenceItem{{
				Type: typ, Source: first.Source, Locator: locator, Snippet: text, Confidence: sectionConfidence,
			}}),
		})
	}
	return out
}

const systemPrompt = `You break down why a short social-media post performs well.
Using only the signals provided, write a concise analysis (at most 200 words) covering the hook,
the narrative structure, on-screen text, and what a creator could adapt. Cite locators in brackets.
Reply in the language of the post.`

func (a *Analyzer) summarise(ctx context.Context, sr model.SignalsResult) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "platform: %s\ncontent type: %s\n", sr.Meta.Platform, sr.Meta.ContentType)
	fmt.Fprintf(&b, "title: %s\nbody: %s\ntags: %s\n", sr.PostContent.Title,
		evidence.Truncate(sr.PostContent.Body, 500), strings.Join(sr.PostContent.Tags, ", "))
	fmt.Fprintf(&b, "transcript: %s\n", evidence.Truncate(joinChunks(sr.Signals.TranscriptChunks), maxPromptRunes))
	b.WriteString("evidence:\n")
	for _, e := range head(sr.Signals.EvidencePool, 20) {
		fmt.Fprintf(&b, "- [%s %s] %s\n", e.Type, e.Locator, e.Snippet)
	}

	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.opts.Model,
		MaxTokens: a.opts.MaxTokens,
		System:    systemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		return "", err
	}
	resp.Usage.LogCost(a.opts.Model, "analyze")

	text := resp.Text()
	if text == "" {
		return "", eris.New("analyze: empty summary")
	}
	return text, nil
}

func failed(upstream any) Report {
	return Report{
		OK: false,
		Error: model.NewStructuredError(model.ErrUpstreamStageFailed, "",
			map[string]any{"stage": "extract", "upstream": upstream}),
	}
}

func joinChunks(chunks []model.SignalChunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.TrimSpace(reSpace.ReplaceAllString(strings.Join(parts, " "), " "))
}

func head(items []model.EvidenceItem, n int) []model.EvidenceItem {
	out := make([]model.EvidenceItem, 0, n)
	return append(out, items[:min(len(items), n)]...)
}
