package pipeline

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"
	"github.com/rotisserie/eris"

	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/workdir"
)

// Files that survive the "never" retention mode.
var keptFiles = map[string]bool{
	ReportFile:       true,
	MarkdownFile:     true,
	RunMetaFile:      true,
	ErrorFile:        true,
	workdir.LockFile: true,
}

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(prompt string, defaultYes bool) (bool, error)
}

// TerminalConfirmer prompts on the controlling terminal.
type TerminalConfirmer struct{}

// Confirm shows an interactive prompt. It fails when stdin is not a
// terminal.
func (TerminalConfirmer) Confirm(prompt string, defaultYes bool) (bool, error) {
	if !StdinIsTerminal() {
		return defaultYes, eris.New("pipeline: stdin is not a terminal")
	}
	ok, err := pterm.DefaultInteractiveConfirm.WithDefaultValue(defaultYes).Show(prompt)
	if err != nil {
		return defaultYes, eris.Wrap(err, "pipeline: read confirmation")
	}
	return ok, nil
}

// StdinIsTerminal reports whether stdin is attached to a terminal.
func StdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

const retentionPrompt = "Keep downloaded media and intermediate artifacts (video, images, frames, audio)?"

// ResolveRetention turns "ask" into a concrete mode. Without an interactive
// terminal, or when the prompt fails, artifacts are kept and the returned
// note records why.
func ResolveRetention(mode model.RetentionMode, nonInteractive bool, confirm Confirmer) (model.RetentionMode, string) {
	if mode != model.RetainAsk {
		return mode, ""
	}
	if nonInteractive || confirm == nil {
		return model.RetainAlways, string(model.ErrInteractiveInputUnavailable) + ": non-interactive run, keeping artifacts"
	}
	keep, err := confirm.Confirm(retentionPrompt, true)
	if err != nil {
		return model.RetainAlways, string(model.ErrInteractiveInputUnavailable) + ": " + err.Error() + ", keeping artifacts"
	}
	if keep {
		return model.RetainAlways, ""
	}
	return model.RetainNever, ""
}

// Prune deletes every file under dir except the final report, run metadata
// and error documents, then removes directories left empty.
func Prune(dir string) error {
	var dirs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir {
				dirs = append(dirs, path)
			}
			return nil
		}
		if keptFiles[d.Name()] {
			return nil
		}
		return os.Remove(path)
	})
	if err != nil {
		return eris.Wrapf(err, "pipeline: prune %s", dir)
	}

	// Deepest first so parents empty out before they are tried.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, d := range dirs {
		_ = os.Remove(d)
	}
	return nil
}
