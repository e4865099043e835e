package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/breakdown-cli/internal/acquire"
	"github.com/sells-group/breakdown-cli/internal/analyze"
	"github.com/sells-group/breakdown-cli/internal/config"
	"github.com/sells-group/breakdown-cli/internal/extract"
	"github.com/sells-group/breakdown-cli/internal/fetcher"
	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/pipeline"
	"github.com/sells-group/breakdown-cli/internal/platform"
	"github.com/sells-group/breakdown-cli/internal/runner"
	anthropicpkg "github.com/sells-group/breakdown-cli/pkg/anthropic"
)

// errStageFailed makes a stage exit 1 after its failure document has been
// written.
var errStageFailed = eris.New("stage failed; see the result file")

type manualFlags struct {
	video, images, audio, transcript []string
}

func (m *manualFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&m.video, "input-video", nil, "local video file to include (repeatable)")
	cmd.Flags().StringArrayVar(&m.images, "input-image", nil, "local image file to include (repeatable)")
	cmd.Flags().StringArrayVar(&m.audio, "input-audio", nil, "local audio file to include (repeatable)")
	cmd.Flags().StringArrayVar(&m.transcript, "input-transcript", nil, "local subtitle or transcript file to include (repeatable)")
}

func (m *manualFlags) assets() model.ManualAssets {
	return model.ManualAssets{Video: m.video, Images: m.images, Audio: m.audio, Transcript: m.transcript}
}

// -- fetch --

var (
	fetchURL         string
	fetchOutputDir   string
	fetchResultFile  string
	fetchSessionFile string
	fetchCookies     string
	fetchManual      manualFlags
)

var fetchCmd = &cobra.Command{
	Use:   pipeline.StepFetch,
	Short: "Acquire a post's media and metadata",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}
		ctx := cmd.Context()

		ref := platform.Resolve(fetchURL)
		outputDir := fetchOutputDir
		if outputDir == "" {
			outputDir = filepath.Join(cfg.Pipeline.OutputRoot, platform.Slug(fetchURL, time.Now()))
		}
		resultPath := defaultPath(fetchResultFile, outputDir, pipeline.FetchResultFile)

		var result model.FetchResult
		session, err := acquire.LoadSession(fetchSessionFile)
		if err != nil {
			result = model.FetchResult{Error: model.NewStructuredError(model.ErrAuthStale, err.Error(),
				map[string]any{"session_file": fetchSessionFile})}
		} else {
			engine, err := newEngine(cfg)
			if err != nil {
				return err
			}
			result = engine.Fetch(ctx, acquire.Request{
				Ref:         ref,
				OutputDir:   outputDir,
				Session:     session,
				CookiesFile: fetchCookies,
				Manual:      fetchManual.assets(),
			})
		}
		return finishStage(resultPath, result, result.OK)
	},
}

// -- extract --

var (
	extractFetchResult string
	extractOutputDir   string
	extractResultFile  string
)

var extractCmd = &cobra.Command{
	Use:   pipeline.StepExtract,
	Short: "Extract on-screen text, transcripts and metadata from fetched assets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("extract"); err != nil {
			return err
		}
		ctx := cmd.Context()

		outputDir := extractOutputDir
		if outputDir == "" {
			outputDir = filepath.Dir(extractFetchResult)
		}
		resultPath := defaultPath(extractResultFile, outputDir, pipeline.SignalsFile)

		engines, err := extract.NewEngines(ctx, cfg, runner.NewExecExecutor())
		if err != nil {
			return err
		}
		result := extract.NewExtractor(engines).ExtractFile(ctx, extractFetchResult, outputDir)
		return finishStage(resultPath, result, result.OK)
	},
}

// -- analyze --

var (
	analyzeSignals  string
	analyzeOutput   string
	analyzeMarkdown string
)

var analyzeCmd = &cobra.Command{
	Use:   pipeline.StepAnalyze,
	Short: "Build a cited breakdown report from extracted signals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		resultPath := defaultPath(analyzeOutput, filepath.Dir(analyzeSignals), pipeline.ReportFile)
		report := newAnalyzer(cfg).AnalyzeFile(ctx, analyzeSignals)

		if analyzeMarkdown != "" {
			if err := os.WriteFile(analyzeMarkdown, []byte(analyze.Markdown(report)), 0o644); err != nil {
				return eris.Wrap(err, "analyze: write markdown")
			}
		}
		return finishStage(resultPath, report, report.OK)
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchURL, "url", "", "post URL or share text (required)")
	fetchCmd.Flags().StringVar(&fetchOutputDir, "output-dir", "", "working directory (default <output_root>/<slug>-<timestamp>)")
	fetchCmd.Flags().StringVar(&fetchResultFile, "result-file", "", "result path (default <output-dir>/fetch_result.json)")
	fetchCmd.Flags().StringVar(&fetchSessionFile, "session-file", "", "login session document")
	fetchCmd.Flags().StringVar(&fetchCookies, "cookies", "", "Netscape cookies file")
	fetchManual.register(fetchCmd)
	_ = fetchCmd.MarkFlagRequired("url")

	extractCmd.Flags().StringVar(&extractFetchResult, "fetch-result", "", "fetch_result.json path (required)")
	extractCmd.Flags().StringVar(&extractOutputDir, "output-dir", "", "working directory (default: the fetch result's directory)")
	extractCmd.Flags().StringVar(&extractResultFile, "result-file", "", "result path (default <output-dir>/signals.json)")
	_ = extractCmd.MarkFlagRequired("fetch-result")

	analyzeCmd.Flags().StringVar(&analyzeSignals, "signals", "", "signals.json path (required)")
	analyzeCmd.Flags().StringVar(&analyzeOutput, "output", "", "report path (default: report.json next to the signals)")
	analyzeCmd.Flags().StringVar(&analyzeMarkdown, "markdown-output", "", "optional markdown report path")
	_ = analyzeCmd.MarkFlagRequired("signals")

	rootCmd.AddCommand(fetchCmd, extractCmd, analyzeCmd)
}

// newEngine builds the acquisition engine from configuration.
func newEngine(c *config.Config) (*acquire.Engine, error) {
	regCfg, err := acquire.LoadRegistryConfig(c.Fetch.AdaptersFile)
	if err != nil {
		return nil, err
	}
	httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: c.Fetch.UserAgent,
		Timeout:   time.Duration(c.Fetch.ArticleTimeoutSecs) * time.Second,
		RPS:       c.Fetch.ArticleRPS,
	})
	registry := acquire.NewRegistry(regCfg, acquire.RegistryDeps{
		Exec:      runner.NewExecExecutor(),
		Fetcher:   httpFetcher,
		YtDlpPath: c.Fetch.YtDlpPath,
		Browsers:  c.Fetch.Browsers,
		Timeout:   time.Duration(c.Fetch.AdapterTimeoutSecs) * time.Second,
		TailChars: c.Fetch.TailChars,
	})
	return acquire.NewEngine(registry), nil
}

// newAnalyzer attaches the LLM summary only when an Anthropic key is set.
func newAnalyzer(c *config.Config) *analyze.Analyzer {
	var client anthropicpkg.Client
	if config.HasCredential(c.Analyze.AnthropicKey) {
		client = anthropicpkg.NewClient(strings.TrimSpace(c.Analyze.AnthropicKey))
	}
	return analyze.New(client, analyze.Options{Model: c.Analyze.Model, MaxTokens: c.Analyze.MaxTokens})
}

func defaultPath(explicit, dir, name string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(dir, name)
}

// finishStage writes the stage document, prints its path and turns a failed
// document into a non-zero exit.
func finishStage(path string, doc any, ok bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "create %s", filepath.Dir(path))
	}
	if !ok {
		if f, isFailure := failureDoc(doc); isFailure {
			doc = f
		}
	}
	if err := pipeline.WriteJSON(path, doc); err != nil {
		return err
	}
	fmt.Println(path)
	if !ok {
		return errStageFailed
	}
	return nil
}

// failureDoc reduces a failed stage result to the {ok:false, error} shape.
func failureDoc(doc any) (model.Failure, bool) {
	var serr *model.StructuredError
	switch d := doc.(type) {
	case model.FetchResult:
		serr = d.Error
	case model.SignalsResult:
		serr = d.Error
	case analyze.Report:
		serr = d.Error
	}
	if serr == nil {
		return model.Failure{}, false
	}
	return model.NewFailure(serr), true
}
