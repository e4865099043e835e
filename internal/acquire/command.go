package acquire

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/runner"
)

// Template placeholders substituted into CommandDownloader arguments.
const (
	PlaceholderURL    = "{url}"
	PlaceholderOutput = "{output}"
)

// CommandDownloader runs a platform-specific download tool described by an
// argument template such as ["douyin-downloader", "--url", "{url}", "--output", "{output}"].
type CommandDownloader struct {
	name     string
	template []string
	exec     runner.Executor
	timeout  time.Duration
	tail     int
}

// NewCommandDownloader creates a downloader from a tokenised template. The
// first token is the executable.
func NewCommandDownloader(name string, template []string, exec runner.Executor, timeout time.Duration, tail int) *CommandDownloader {
	if name == "" && len(template) > 0 {
		name = template[0]
	}
	return &CommandDownloader{name: name, template: template, exec: exec, timeout: timeout, tail: tail}
}

// Name returns the adapter name.
func (d *CommandDownloader) Name() string { return d.name }

// Available reports whether the tool is installed.
func (d *CommandDownloader) Available() bool {
	return len(d.template) > 0 && runner.Available(d.template[0])
}

// Variants returns the single default invocation.
func (d *CommandDownloader) Variants(model.ContentRef, Session) []Variant {
	return []Variant{{Label: "default"}}
}

// Download expands the template and runs the tool.
func (d *CommandDownloader) Download(ctx context.Context, ref model.ContentRef, v Variant, dir string) model.AdapterAttempt {
	argv := Expand(d.template, ref.NormalizedURL, dir)
	cmd := runner.Command{
		Name:    argv[0],
		Args:    append(argv[1:], v.Args...),
		Timeout: d.timeout,
	}
	return runTool(ctx, d.exec, d.name, v.Label, cmd, dir, d.tail)
}

// Expand substitutes placeholders in every template token.
func Expand(template []string, url, output string) []string {
	r := strings.NewReplacer(PlaceholderURL, url, PlaceholderOutput, output)
	out := make([]string, len(template))
	for i, tok := range template {
		out[i] = r.Replace(tok)
	}
	return out
}
