package model

// SignalChunk is one unit of extracted text. Start and End are set only when
// the producing engine yields timing.
type SignalChunk struct {
	Text     string   `json:"text"`
	Start    *float64 `json:"start"`
	End      *float64 `json:"end"`
	Source   string   `json:"source"`
	Sequence int      `json:"sequence"`
}

// Timed reports whether the chunk carries timing information.
func (c SignalChunk) Timed() bool {
	return c.Start != nil
}

// OCRHit is recognised on-screen text for one frame or image.
type OCRHit struct {
	Source     string  `json:"source"`
	Locator    string  `json:"locator"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Engine     string  `json:"engine,omitempty"`
}

// Signals groups everything the extraction stage produced.
type Signals struct {
	OCRHits          []OCRHit       `json:"ocr_hits"`
	TranscriptChunks []SignalChunk  `json:"transcript_chunks"`
	EvidencePool     []EvidenceItem `json:"evidence_pool"`
	HookCandidates   []string       `json:"hook_candidates"`
}

// LogEntry is a diagnostic record from one extraction step.
type LogEntry struct {
	Step     string `json:"step"`
	Engine   string `json:"engine,omitempty"`
	Command  string `json:"command,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Stderr   string `json:"stderr_tail,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}
