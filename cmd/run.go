package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/pterm/pterm"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/pipeline"
	"github.com/sells-group/breakdown-cli/internal/runner"
	"github.com/sells-group/breakdown-cli/internal/store"
)

var (
	runURL            string
	runOutputDir      string
	runSaveArtifacts  string
	runNonInteractive bool
	runSessionFile    string
	runCookies        string
	runExportDir      string
	runNoHistory      bool
	runManual         manualFlags
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run fetch, extract and analyze for one post",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}
		ctx := cmd.Context()

		mode := model.RetentionMode(runSaveArtifacts)
		if mode == "" {
			mode = model.RetentionMode(cfg.Pipeline.SaveArtifacts)
		}
		if !mode.Valid() {
			return eris.Errorf("run: --save-artifacts must be always, never or ask, got %q", mode)
		}

		var st store.Store
		if !runNoHistory {
			s, err := store.Open(ctx, cfg.Store)
			if err != nil {
				zap.L().Warn("run: run history unavailable", zap.Error(err))
			} else {
				st = s
				defer st.Close() //nolint:errcheck
			}
		}

		orch := newOrchestrator(st, pipeline.TerminalConfirmer{}, runExportDir)
		pterm.Info.Printfln("Breaking down %s", runURL)

		meta, err := orch.Run(ctx, pipeline.Request{
			URL:            runURL,
			OutputDir:      runOutputDir,
			SaveArtifacts:  mode,
			NonInteractive: runNonInteractive || !pipeline.StdinIsTerminal(),
			SessionFile:    runSessionFile,
			CookiesFile:    runCookies,
			Manual:         runManual.assets(),
		})
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		printRunSummary(meta)
		if !meta.OK {
			return errStageFailed
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runURL, "url", "", "post URL or share text (required)")
	runCmd.Flags().StringVar(&runOutputDir, "output-dir", "", "working directory (default <output_root>/<slug>-<timestamp>)")
	runCmd.Flags().StringVar(&runSaveArtifacts, "save-artifacts", "", "keep intermediate files: always, never or ask (default from config)")
	runCmd.Flags().BoolVar(&runNonInteractive, "non-interactive", false, "never prompt; ask behaves like always")
	runCmd.Flags().StringVar(&runSessionFile, "session-file", "", "login session document")
	runCmd.Flags().StringVar(&runCookies, "cookies", "", "Netscape cookies file")
	runCmd.Flags().StringVar(&runExportDir, "export-dir", "", "copy the report here under a dated, titled name")
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "do not record the run in the store")
	runManual.register(runCmd)
	_ = runCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(runCmd)
}

// newOrchestrator wires the stage subprocess runner from configuration.
func newOrchestrator(st store.Store, confirm pipeline.Confirmer, exportDir string) *pipeline.Orchestrator {
	steps := pipeline.NewProcessRunner(
		runner.NewExecExecutor(),
		"",
		time.Duration(cfg.Pipeline.StepTimeoutSecs)*time.Second,
		cfg.Pipeline.TailChars,
	)
	return pipeline.New(pipeline.Options{OutputRoot: cfg.Pipeline.OutputRoot, ExportDir: exportDir}, steps, st, confirm)
}

func printRunSummary(meta *model.RunMeta) {
	for _, s := range meta.Steps {
		line := fmt.Sprintf("%-8s exit %d in %s", s.Step, s.ExitCode, (time.Duration(s.DurationMs) * time.Millisecond).Round(time.Millisecond))
		if s.ExitCode == 0 {
			pterm.Success.Println(line)
		} else {
			pterm.Error.Println(line)
		}
	}
	for _, n := range meta.Notes {
		pterm.Warning.Println(n)
	}
	if !meta.OK {
		pterm.Error.Printfln("%s (details in %s)", meta.Error, meta.ErrorFile)
		return
	}
	pterm.Success.Printfln("Report: %s", filepath.Join(meta.OutputDir, pipeline.ReportFile))
	for kind, path := range meta.NamedOutputs {
		pterm.Info.Printfln("Exported %s: %s", kind, path)
	}
}
