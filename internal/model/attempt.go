package model

// AdapterAttempt records one invocation of an acquisition adapter. Attempts
// are appended to an ordered log and never modified after creation.
type AdapterAttempt struct {
	AdapterName    string   `json:"adapter_name"`
	VariantLabel   string   `json:"variant_label"`
	InvokedCommand string   `json:"invoked_command"`
	ExitCode       int      `json:"exit_code"`
	StdoutTail     string   `json:"stdout_tail"`
	StderrTail     string   `json:"stderr_tail"`
	NewFiles       []string `json:"new_files"`
	ToolMissing    bool     `json:"tool_missing,omitempty"`
	DurationMs     int64    `json:"duration_ms"`
}

// Succeeded reports whether the attempt exited cleanly and produced files.
// A clean exit without new files is a silent no-op, not a success.
func (a AdapterAttempt) Succeeded() bool {
	return a.ExitCode == 0 && len(a.NewFiles) > 0
}
