// Package analyze turns a signals document into a breakdown report. The
// report is built deterministically from the signals; an LLM summary is
// attached when a model is configured.
package analyze

import "github.com/sells-group/breakdown-cli/internal/model"

// Analysis modes recorded in report meta.
const (
	ModeHeuristic = "heuristic"
	ModeLLM       = "llm"
)

// ReportMeta describes the analysed post and how it was analysed.
type ReportMeta struct {
	URL          string            `json:"url"`
	Platform     model.Platform    `json:"platform"`
	ContentType  model.ContentType `json:"content_type"`
	FetchedAt    string            `json:"fetched_at"`
	AnalyzedAt   string            `json:"analyzed_at"`
	AnalysisMode string            `json:"analysis_mode"`
	Model        string            `json:"model,omitempty"`
}

// CitedText is a piece of the breakdown with the evidence behind it.
type CitedText struct {
	Text     string               `json:"text"`
	Evidence []model.EvidenceItem `json:"evidence"`
}

// Section is one part of the script structure.
type Section struct {
	Section  string               `json:"section"`
	Text     string               `json:"text"`
	Evidence []model.EvidenceItem `json:"evidence"`
}

// Report is the contract written to report.json.
type Report struct {
	OK                bool                    `json:"ok"`
	Meta              ReportMeta              `json:"meta"`
	AssetIndex        model.AssetIndex        `json:"asset_index"`
	PostContent       model.PostContent       `json:"post_content"`
	EngagementMetrics model.EngagementMetrics `json:"engagement_metrics"`
	Hook              CitedText               `json:"hook"`
	ScriptStructure   []Section               `json:"script_structure"`
	CoverTitle        CitedText               `json:"cover_title"`
	VoiceoverCopy     CitedText               `json:"voiceover_copy"`
	EvidencePool      []model.EvidenceItem    `json:"evidence_pool"`
	Summary           string                  `json:"summary,omitempty"`
	Limitations       []string                `json:"limitations"`
	Error             *model.StructuredError  `json:"error,omitempty"`
}
