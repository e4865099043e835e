// Package pipeline runs fetch, extract and analyze as separate processes
// over one working directory and records what happened.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/platform"
	"github.com/sells-group/breakdown-cli/internal/store"
	"github.com/sells-group/breakdown-cli/internal/workdir"
)

// Stage documents inside a run's output directory.
const (
	FetchResultFile = "fetch_result.json"
	SignalsFile     = "signals.json"
	ReportFile      = "report.json"
	MarkdownFile    = "report.md"
	RunMetaFile     = "run_meta.json"
	ErrorFile       = "error.json"
	SessionDir      = "session"
	SessionFile     = "session.json"
)

// Stage names, also the CLI subcommands the orchestrator invokes.
const (
	StepFetch   = "fetch"
	StepExtract = "extract"
	StepAnalyze = "analyze"
)

// Request describes one end-to-end run.
type Request struct {
	// RunID is a run already recorded in the store. When empty the
	// orchestrator records a new one.
	RunID          string
	URL            string
	OutputDir      string
	SaveArtifacts  model.RetentionMode
	NonInteractive bool
	SessionFile    string
	CookiesFile    string
	Manual         model.ManualAssets
}

// Options configures an Orchestrator.
type Options struct {
	// OutputRoot holds default run directories and named report exports.
	OutputRoot string
	// ExportDir receives named report copies. Empty disables export.
	ExportDir string
}

// Orchestrator sequences the stages of a run.
type Orchestrator struct {
	opts    Options
	steps   StepRunner
	store   store.Store
	confirm Confirmer
	now     func() time.Time
}

// New creates an Orchestrator. st may be nil to skip run history.
func New(opts Options, steps StepRunner, st store.Store, confirm Confirmer) *Orchestrator {
	return &Orchestrator{opts: opts, steps: steps, store: st, confirm: confirm, now: time.Now}
}

// Run executes one pipeline. The returned metadata has also been written to
// run_meta.json. A stage failure is reported through meta.OK and error.json;
// the error return is reserved for problems with the working directory.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*model.RunMeta, error) {
	started := o.now()
	ref := platform.Resolve(req.URL)

	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(o.opts.OutputRoot, platform.Slug(req.URL, started))
	}
	outputDir, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: resolve output dir")
	}

	lock, err := workdir.Acquire(outputDir)
	if err != nil {
		return nil, err
	}
	defer lock.Release() //nolint:errcheck

	mode := req.SaveArtifacts
	if mode == "" {
		mode = model.RetainAsk
	}
	mode, note := ResolveRetention(mode, req.NonInteractive, o.confirm)

	meta := &model.RunMeta{
		URL:            req.URL,
		Platform:       ref.Platform,
		StartedAt:      started.UTC().Format(time.RFC3339),
		SaveArtifacts:  mode,
		NonInteractive: req.NonInteractive,
		OutputDir:      outputDir,
		Steps:          []model.StepRecord{},
	}
	if note != "" {
		meta.Notes = append(meta.Notes, note)
	}

	log := zap.L().With(zap.String("url", req.URL), zap.String("output_dir", outputDir))
	log.Info("pipeline: starting run", zap.String("platform", string(ref.Platform)))

	runID := req.RunID
	if runID == "" {
		runID = o.createRun(ctx, req.URL, ref.Platform, outputDir)
	}
	meta.RunID = runID

	if serr := o.runStages(ctx, req, outputDir, meta); serr != nil {
		return o.fail(ctx, meta, serr)
	}

	if mode == model.RetainNever {
		if err := Prune(outputDir); err != nil {
			log.Warn("pipeline: prune failed", zap.Error(err))
			meta.Notes = append(meta.Notes, err.Error())
		}
	}

	if o.opts.ExportDir != "" {
		report, _ := os.ReadFile(filepath.Join(outputDir, ReportFile))
		named, err := ExportNamed(outputDir, o.opts.ExportDir, NamedPrefix(report, outputDir, o.now()))
		if err != nil {
			log.Warn("pipeline: named export failed", zap.Error(err))
			meta.Notes = append(meta.Notes, err.Error())
		} else {
			meta.NamedOutputs = named
		}
	}

	meta.OK = true
	meta.FinishedAt = o.now().UTC().Format(time.RFC3339)
	o.finishRun(ctx, runID, model.RunStatusComplete, "")
	if err := WriteJSON(filepath.Join(outputDir, RunMetaFile), meta); err != nil {
		return meta, err
	}
	log.Info("pipeline: run complete", zap.String("run_id", runID))
	return meta, nil
}

// runStages runs fetch, extract and analyze in order, stopping at the first
// stage that fails.
func (o *Orchestrator) runStages(ctx context.Context, req Request, outputDir string, meta *model.RunMeta) *model.StructuredError {
	fetchPath := filepath.Join(outputDir, FetchResultFile)
	signalsPath := filepath.Join(outputDir, SignalsFile)
	reportPath := filepath.Join(outputDir, ReportFile)

	markdownPath := filepath.Join(outputDir, MarkdownFile)

	stages := []struct {
		name   string
		args   []string
		result string
		// outputs are removed before the step runs so a document left by an
		// earlier run in the same directory is never mistaken for this one.
		outputs []string
	}{
		{StepFetch, fetchArgs(req, outputDir, fetchPath), fetchPath, []string{fetchPath}},
		{StepExtract, []string{StepExtract, "--fetch-result", fetchPath, "--output-dir", outputDir, "--result-file", signalsPath}, signalsPath, []string{signalsPath}},
		{StepAnalyze, []string{StepAnalyze, "--signals", signalsPath, "--output", reportPath, "--markdown-output", markdownPath}, reportPath, []string{reportPath, markdownPath}},
	}

	if err := removeStale(filepath.Join(outputDir, ErrorFile)); err != nil {
		return model.NewStructuredError(model.ErrPipelineFailed, err.Error(), map[string]any{"output_dir": outputDir})
	}

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return model.NewStructuredError(model.ErrPipelineFailed, "run cancelled before "+st.name, map[string]any{"output_dir": outputDir})
		}
		for _, out := range st.outputs {
			if err := removeStale(out); err != nil {
				return model.NewStructuredError(model.ErrPipelineFailed, err.Error(), map[string]any{"stage": st.name})
			}
		}
		zap.L().Info("pipeline: running step", zap.String("step", st.name))

		rec := o.steps.RunStep(ctx, st.name, st.args)
		meta.Steps = append(meta.Steps, rec)
		o.appendStep(ctx, meta.RunID, rec)

		if serr := CheckStage(st.name, st.result, rec); serr != nil {
			zap.L().Error("pipeline: step failed",
				zap.String("step", st.name),
				zap.Int("exit_code", rec.ExitCode),
				zap.String("code", string(serr.Code)),
			)
			return serr
		}
	}
	return nil
}

// removeStale deletes path if it exists.
func removeStale(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "pipeline: clear stale %s", filepath.Base(path))
	}
	return nil
}

// CheckStage decides whether a finished stage lets the run continue. A
// stage document with ok:false becomes UpstreamStageFailed wrapping the
// stage's own error. A missing or unreadable document, or an ok:true
// document from a step that exited non-zero, is PipelineFailed.
func CheckStage(step, resultPath string, rec model.StepRecord) *model.StructuredError {
	data, err := os.ReadFile(resultPath)
	if err != nil {
		return model.NewStructuredError(model.ErrPipelineFailed,
			fmt.Sprintf("step %s exited %d without writing %s", step, rec.ExitCode, filepath.Base(resultPath)),
			map[string]any{"stage": step, "exit_code": rec.ExitCode, "stderr_tail": rec.StderrTail})
	}
	var status model.StageStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return model.NewStructuredError(model.ErrPipelineFailed,
			fmt.Sprintf("step %s wrote an unreadable %s", step, filepath.Base(resultPath)),
			map[string]any{"stage": step, "exit_code": rec.ExitCode, "parse_error": err.Error()})
	}
	if !status.OK {
		var upstream any
		if status.Error != nil {
			upstream = status.Error
		}
		return model.NewStructuredError(model.ErrUpstreamStageFailed, "",
			map[string]any{"stage": step, "upstream": upstream})
	}
	if rec.ExitCode != 0 {
		return model.NewStructuredError(model.ErrPipelineFailed,
			fmt.Sprintf("step %s exited %d after reporting success", step, rec.ExitCode),
			map[string]any{"stage": step, "exit_code": rec.ExitCode, "stderr_tail": rec.StderrTail})
	}
	return nil
}

func fetchArgs(req Request, outputDir, resultPath string) []string {
	args := []string{StepFetch, "--url", req.URL, "--output-dir", outputDir, "--result-file", resultPath}

	session := req.SessionFile
	if session == "" {
		if candidate := filepath.Join(outputDir, SessionDir, SessionFile); exists(candidate) {
			session = candidate
		}
	}
	if session != "" {
		args = append(args, "--session-file", session)
	}
	if req.CookiesFile != "" {
		args = append(args, "--cookies", req.CookiesFile)
	}
	for _, group := range []struct {
		flag  string
		paths []string
	}{
		{"--input-video", req.Manual.Video},
		{"--input-image", req.Manual.Images},
		{"--input-audio", req.Manual.Audio},
		{"--input-transcript", req.Manual.Transcript},
	} {
		for _, p := range group.paths {
			args = append(args, group.flag, p)
		}
	}
	return args
}

// fail writes error.json and run_meta.json for a halted run.
func (o *Orchestrator) fail(ctx context.Context, meta *model.RunMeta, serr *model.StructuredError) (*model.RunMeta, error) {
	errorPath := filepath.Join(meta.OutputDir, ErrorFile)
	meta.OK = false
	meta.FinishedAt = o.now().UTC().Format(time.RFC3339)
	meta.ErrorFile = errorPath
	meta.Error = serr.Error()
	o.finishRun(ctx, meta.RunID, model.RunStatusFailed, serr.Code)

	if err := WriteJSON(errorPath, model.NewFailure(serr)); err != nil {
		return meta, err
	}
	if err := WriteJSON(filepath.Join(meta.OutputDir, RunMetaFile), meta); err != nil {
		return meta, err
	}
	zap.L().Warn("pipeline: run failed", zap.String("code", string(serr.Code)), zap.String("error_file", errorPath))
	return meta, nil
}

func (o *Orchestrator) createRun(ctx context.Context, url string, p model.Platform, outputDir string) string {
	if o.store == nil {
		return ""
	}
	run, err := o.store.CreateRun(ctx, store.NewRun{URL: url, Platform: p, OutputDir: outputDir})
	if err != nil {
		zap.L().Warn("pipeline: failed to record run", zap.Error(err))
		return ""
	}
	return run.ID
}

func (o *Orchestrator) appendStep(ctx context.Context, runID string, rec model.StepRecord) {
	if o.store == nil || runID == "" {
		return
	}
	if err := o.store.AppendStep(ctx, runID, rec); err != nil {
		zap.L().Warn("pipeline: failed to record step", zap.String("step", rec.Step), zap.Error(err))
	}
}

func (o *Orchestrator) finishRun(ctx context.Context, runID string, status model.RunStatus, code model.ErrorCode) {
	if o.store == nil || runID == "" {
		return
	}
	if err := o.store.FinishRun(context.WithoutCancel(ctx), runID, status, code); err != nil {
		zap.L().Warn("pipeline: failed to update run status", zap.Error(err))
	}
}

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "pipeline: marshal %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return eris.Wrapf(err, "pipeline: write %s", path)
	}
	return nil
}
