package model

import "time"

// RetentionMode controls what happens to intermediate artifacts after a
// successful run.
type RetentionMode string

const (
	RetainAlways RetentionMode = "always"
	RetainNever  RetentionMode = "never"
	RetainAsk    RetentionMode = "ask"
)

// Valid reports whether m is a known retention mode.
func (m RetentionMode) Valid() bool {
	return m == RetainAlways || m == RetainNever || m == RetainAsk
}

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// StepRecord captures one stage process invocation.
type StepRecord struct {
	Step       string   `json:"step"`
	ExitCode   int      `json:"exit_code"`
	StdoutTail string   `json:"stdout_tail"`
	StderrTail string   `json:"stderr_tail"`
	Argv       []string `json:"argv"`
	DurationMs int64    `json:"duration_ms"`
}

// RunMeta is the final run-metadata document (run_meta.json).
type RunMeta struct {
	RunID          string            `json:"run_id"`
	URL            string            `json:"url"`
	Platform       Platform          `json:"platform"`
	StartedAt      string            `json:"started_at"`
	FinishedAt     string            `json:"finished_at,omitempty"`
	SaveArtifacts  RetentionMode     `json:"save_artifacts"`
	NonInteractive bool              `json:"non_interactive"`
	OutputDir      string            `json:"output_dir"`
	OK             bool              `json:"ok"`
	Steps          []StepRecord      `json:"steps"`
	ErrorFile      string            `json:"error_file,omitempty"`
	Error          string            `json:"error,omitempty"`
	NamedOutputs   map[string]string `json:"named_outputs,omitempty"`
	Notes          []string          `json:"notes,omitempty"`
}

// Run is a persisted pipeline run.
type Run struct {
	ID        string       `json:"id"`
	URL       string       `json:"url"`
	Platform  Platform     `json:"platform"`
	OutputDir string       `json:"output_dir"`
	Status    RunStatus    `json:"status"`
	ErrorCode ErrorCode    `json:"error_code,omitempty"`
	Steps     []StepRecord `json:"steps,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
