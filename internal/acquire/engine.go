package acquire

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/breakdown-cli/internal/assets"
	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/workdir"
)

// DownloadDirName is the subdirectory of the output directory adapters
// write into.
const DownloadDirName = "download"

// Planner yields the downloader plan for a platform.
type Planner interface {
	Plan(p model.Platform) Plan
}

// Request is one acquisition job.
type Request struct {
	Ref         model.ContentRef
	OutputDir   string
	Session     Session
	CookiesFile string
	Manual      model.ManualAssets
}

// Engine runs the ordered downloader plan and assembles the fetch result.
type Engine struct {
	planner Planner
	now     func() time.Time
}

// NewEngine creates an acquisition engine.
func NewEngine(planner Planner) *Engine {
	return &Engine{planner: planner, now: time.Now}
}

// Fetch acquires the post. It always returns a result; when OK is false the
// Error field explains why and nothing else is meaningful.
func (e *Engine) Fetch(ctx context.Context, req Request) model.FetchResult {
	ref := req.Ref
	log := zap.L().With(zap.String("url", ref.NormalizedURL), zap.String("platform", string(ref.Platform)))

	if ref.Platform == model.PlatformUnknown {
		return failed(model.NewStructuredError(model.ErrUnsupportedPlatform, "", map[string]any{"url": ref.RawURL}))
	}

	session := req.Session
	if req.CookiesFile != "" {
		if !fileExists(req.CookiesFile) {
			return failed(model.NewStructuredError(model.ErrInvalidCookieFile,
				"the cookies file does not exist: "+req.CookiesFile,
				map[string]any{"cookies_file": req.CookiesFile}))
		}
		session = session.WithCookiesFile(req.CookiesFile)
	}

	outputDir, _ := filepath.Abs(req.OutputDir)
	downloadDir := filepath.Join(outputDir, DownloadDirName)
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return failed(model.NewStructuredError(model.ErrUnknownDownloadFailure, "could not create the download directory: "+err.Error(), nil))
	}

	attempts, success := e.run(ctx, ref, session, downloadDir, log)

	snap, _ := workdir.Take(downloadDir)
	produced := snap.Files()

	if !success && ref.Platform.ImageCentric() && len(Sidecars(produced)) > 0 {
		log.Info("acquire: no adapter succeeded but a metadata document was found")
		success = true
	}

	manual := model.ManualAssets{
		Video:      assets.ExistingFiles(req.Manual.Video),
		Images:     assets.ExistingFiles(req.Manual.Images),
		Audio:      assets.ExistingFiles(req.Manual.Audio),
		Transcript: assets.ExistingFiles(req.Manual.Transcript),
	}
	idx := assets.Build(produced, manual)
	contentType := assets.InferContentType(idx)

	if !success && contentType == model.ContentTypeUnknown {
		code := Classify(attempts)
		log.Warn("acquire: all adapters failed", zap.String("code", string(code)), zap.Int("attempts", len(attempts)))
		return failed(model.NewStructuredError(code, "", map[string]any{
			"url":          ref.RawURL,
			"platform":     ref.Platform,
			"attempts":     attempts,
			"download_dir": downloadDir,
		}))
	}

	allFiles := mergeFiles(produced, manual.All())
	md := ExtractMetadata(allFiles, ref.Platform)

	return model.FetchResult{
		OK: true,
		Meta: model.FetchMeta{
			URL:           ref.RawURL,
			NormalizedURL: ref.NormalizedURL,
			Platform:      ref.Platform,
			ContentType:   contentType,
			FetchedAt:     e.now().UTC().Format(time.RFC3339),
			PublishedAt:   md.PublishedAt,
			NormalizeNote: ref.NormalizeNote,
		},
		AssetIndex:        idx,
		PostContent:       md.Post,
		EngagementMetrics: md.Metrics,
		Artifacts: model.Artifacts{
			OutputDir:    outputDir,
			DownloadDir:  downloadDir,
			AllFiles:     allFiles,
			ManualAssets: manual,
		},
		AdapterAttempts: attempts,
	}
}

// run walks the plan: available specialised tools first, then the generic
// downloader, stopping at the first successful attempt.
func (e *Engine) run(ctx context.Context, ref model.ContentRef, s Session, dir string, log *zap.Logger) ([]model.AdapterAttempt, bool) {
	plan := e.planner.Plan(ref.Platform)
	attempts := []model.AdapterAttempt{}

	try := func(d Downloader) bool {
		for _, v := range d.Variants(ref, s) {
			if ctx.Err() != nil {
				return false
			}
			a := d.Download(ctx, ref, v, dir)
			attempts = append(attempts, a)
			if a.Succeeded() {
				log.Info("acquire: adapter succeeded",
					zap.String("adapter", a.AdapterName),
					zap.String("variant", a.VariantLabel),
					zap.Int("new_files", len(a.NewFiles)),
				)
				return true
			}
			log.Debug("acquire: adapter failed, trying next",
				zap.String("adapter", a.AdapterName),
				zap.String("variant", a.VariantLabel),
				zap.Int("exit_code", a.ExitCode),
			)
		}
		return false
	}

	for _, d := range plan.Specialized {
		if !d.Available() {
			continue
		}
		if try(d) {
			return attempts, true
		}
	}

	if plan.Generic == nil {
		return attempts, false
	}
	if !plan.Generic.Available() {
		attempts = append(attempts, missingAttempt(plan.Generic.Name()))
		return attempts, false
	}
	return attempts, try(plan.Generic)
}

func failed(err *model.StructuredError) model.FetchResult {
	return model.FetchResult{OK: false, Error: err}
}

func mergeFiles(a, b []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, list := range [][]string{a, b} {
		for _, f := range list {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	sort.Strings(out)
	return out
}
