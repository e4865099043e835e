// Package runner executes external tools with timeouts and captures their
// output for diagnostics.
package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/rotisserie/eris"
)

// DefaultTailChars is how much of stdout/stderr is kept for diagnostics.
const DefaultTailChars = 2000

// waitDelay bounds how long Run waits for output pipes after the process
// group has been killed.
const waitDelay = 2 * time.Second

// Exit codes synthesised when the process could not report one.
const (
	ExitNotFound = 127
	ExitTimeout  = 124
	ExitStartErr = -1
)

// Command describes one external tool invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Timeout time.Duration
	Env     []string

	// Stdout, when set, receives the process output as it is produced
	// instead of it being buffered into Result.Stdout.
	Stdout io.Writer
}

// Argv returns the full argument vector including the tool name.
func (c Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

// Result is the outcome of running a Command. Run never returns a Go error;
// every failure mode is folded into the result.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
	NotFound bool
}

// OK reports a clean zero exit.
func (r Result) OK() bool {
	return r.ExitCode == 0 && !r.TimedOut && !r.NotFound
}

// Executor runs commands.
type Executor interface {
	Run(ctx context.Context, c Command) Result
}

// ExecExecutor runs commands as real subprocesses.
type ExecExecutor struct{}

// NewExecExecutor returns the default subprocess executor.
func NewExecExecutor() *ExecExecutor {
	return &ExecExecutor{}
}

// Run executes c, enforcing c.Timeout when positive. On timeout or
// cancellation the whole process group is killed, so helpers spawned by
// the tool do not outlive it.
func (e *ExecExecutor) Run(ctx context.Context, c Command) Result {
	path, err := FindExecutable(c.Name)
	if err != nil {
		return Result{ExitCode: ExitNotFound, NotFound: true, Stderr: err.Error()}
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var stdout, stderr bytes.Buffer
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	} else {
		cmd.Stdout = &stdout
	}
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case runErr == nil:
		res.ExitCode = 0
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.ExitCode = ExitTimeout
		res.TimedOut = true
		res.Stderr += "\ntimeout after " + c.Timeout.String()
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = ExitStartErr
			res.Stderr += "\n" + runErr.Error()
		}
	}
	return res
}

// Tail keeps the last n runes of s.
func Tail(s string, n int) string {
	if n <= 0 {
		n = DefaultTailChars
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

var secretFlags = map[string]bool{
	"--cookies":    true,
	"--add-header": true,
	"--password":   true,
	"--username":   true,
	"-p":           true,
	"-u":           true,
}

// Redacted is substituted for secret-bearing flag values.
const Redacted = "[REDACTED]"

// Redact replaces the value following any secret-bearing flag, and inline
// --flag=value forms, with Redacted.
func Redact(argv []string) []string {
	out := make([]string, len(argv))
	copy(out, argv)
	for i := 0; i < len(out); i++ {
		arg := out[i]
		if secretFlags[arg] && i+1 < len(out) {
			out[i+1] = Redacted
			i++
			continue
		}
		for flag := range secretFlags {
			if strings.HasPrefix(flag, "--") && strings.HasPrefix(arg, flag+"=") {
				out[i] = flag + "=" + Redacted
			}
		}
	}
	return out
}

// Render produces the shell-quoted, redacted form of argv for logs.
func Render(argv []string) string {
	return shellquote.Join(Redact(argv)...)
}

var fallbackDirs = []string{"~/.local/bin", "/opt/homebrew/bin", "/usr/local/bin"}

// FindExecutable resolves name via PATH, then well-known user install
// directories. Names containing a path separator are checked directly.
func FindExecutable(name string) (string, error) {
	if name == "" {
		return "", eris.New("runner: empty executable name")
	}
	if filepath.Base(name) != name {
		if isExecutable(name) {
			return name, nil
		}
		return "", eris.Errorf("runner: executable not found: %s", name)
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	home, _ := os.UserHomeDir()
	for _, dir := range fallbackDirs {
		if rest, ok := strings.CutPrefix(dir, "~/"); ok {
			if home == "" {
				continue
			}
			dir = filepath.Join(home, rest)
		}
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", eris.Errorf("runner: executable not found: %s", name)
}

// Available reports whether name resolves to an executable.
func Available(name string) bool {
	_, err := FindExecutable(name)
	return err == nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
