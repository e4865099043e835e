// Package acquire downloads a post's media and metadata by trying an ordered
// list of downloader strategies until one produces files.
package acquire

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/runner"
	"github.com/sells-group/breakdown-cli/internal/workdir"
)

// Variant is one way of invoking a downloader, typically a cookie source.
type Variant struct {
	Label string
	Args  []string
}

// Downloader is an acquisition strategy. Available must be a side-effect
// free check; Download must never panic and always returns an attempt.
type Downloader interface {
	Name() string
	Available() bool
	Variants(ref model.ContentRef, s Session) []Variant
	Download(ctx context.Context, ref model.ContentRef, v Variant, dir string) model.AdapterAttempt
}

// Session is the login-session document produced by the external bootstrap
// step. Only the cookie source is consumed here.
type Session struct {
	OK      bool `json:"ok"`
	Cookies struct {
		CookiesFile        string `json:"cookies_file"`
		CookiesFromBrowser string `json:"cookies_from_browser"`
	} `json:"cookies"`
}

// LoadSession reads a session document. A missing path yields an empty
// session; a session that reports failure is treated as absent.
func LoadSession(path string) (Session, error) {
	var s Session
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, eris.Wrapf(err, "acquire: read session %s", path)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, eris.Wrapf(err, "acquire: parse session %s", path)
	}
	if !s.OK {
		return Session{}, nil
	}
	return s, nil
}

// WithCookiesFile returns a copy of s whose cookie source is the given file.
func (s Session) WithCookiesFile(path string) Session {
	s.OK = true
	s.Cookies.CookiesFile = path
	s.Cookies.CookiesFromBrowser = ""
	return s
}

// runTool executes one external tool invocation against dir and records the
// attempt, including the files it created.
func runTool(ctx context.Context, exec runner.Executor, adapter, label string, cmd runner.Command, dir string, tail int) model.AdapterAttempt {
	attempt := model.AdapterAttempt{
		AdapterName:    adapter,
		VariantLabel:   label,
		InvokedCommand: runner.Render(cmd.Argv()),
		NewFiles:       []string{},
	}

	before, err := workdir.Take(dir)
	if err != nil {
		attempt.ExitCode = runner.ExitStartErr
		attempt.StderrTail = err.Error()
		return attempt
	}

	res := exec.Run(ctx, cmd)

	after, err := workdir.Take(dir)
	if err == nil {
		attempt.NewFiles = nonNil(workdir.Diff(before, after))
	}
	attempt.ExitCode = res.ExitCode
	attempt.StdoutTail = runner.Tail(res.Stdout, tail)
	attempt.StderrTail = runner.Tail(res.Stderr, tail)
	attempt.ToolMissing = res.NotFound
	attempt.DurationMs = res.Duration.Milliseconds()
	return attempt
}

// missingAttempt records that a required tool is not installed.
func missingAttempt(name string) model.AdapterAttempt {
	return model.AdapterAttempt{
		AdapterName:  name,
		VariantLabel: "unavailable",
		ExitCode:     runner.ExitNotFound,
		StderrTail:   name + " is not installed or not on PATH",
		NewFiles:     []string{},
		ToolMissing:  true,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func durationMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
