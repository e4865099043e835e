package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/runner"
)

// StepRunner runs one stage as its own process and reports how it went.
type StepRunner interface {
	RunStep(ctx context.Context, step string, args []string) model.StepRecord
}

// ProcessRunner re-invokes the breakdown-cli binary for each stage.
type ProcessRunner struct {
	exec      runner.Executor
	binary    string
	timeout   time.Duration
	tailChars int
}

// NewProcessRunner creates a runner for binary. An empty binary means the
// running executable.
func NewProcessRunner(exec runner.Executor, binary string, timeout time.Duration, tailChars int) *ProcessRunner {
	if binary == "" {
		binary = "breakdown-cli"
		if exe, err := os.Executable(); err == nil {
			binary = exe
		}
	}
	return &ProcessRunner{exec: exec, binary: binary, timeout: timeout, tailChars: tailChars}
}

// RunStep runs `<binary> <args...>` and records its exit code and output tails.
func (p *ProcessRunner) RunStep(ctx context.Context, step string, args []string) model.StepRecord {
	cmd := runner.Command{Name: p.binary, Args: args, Timeout: p.timeout}
	res := p.exec.Run(ctx, cmd)
	return model.StepRecord{
		Step:       step,
		ExitCode:   res.ExitCode,
		StdoutTail: runner.Tail(res.Stdout, p.tailChars),
		StderrTail: runner.Tail(res.Stderr, p.tailChars),
		Argv:       runner.Redact(cmd.Argv()),
		DurationMs: res.Duration.Milliseconds(),
	}
}
