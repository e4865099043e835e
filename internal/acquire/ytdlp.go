package acquire

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/runner"
)

// YtDlpName is the adapter name recorded for the generic downloader.
const YtDlpName = "yt-dlp"

// DefaultBrowsers is the browser cookie preference order.
var DefaultBrowsers = []string{"chrome", "chromium", "firefox", "safari"}

// xiaohongshuBrowsers is the preference order for xiaohongshu, where
// Safari sessions are more common than Firefox ones.
var xiaohongshuBrowsers = []string{"chrome", "chromium", "safari", "firefox"}

// YtDlp is the generic downloader. Each cookie source is a variant.
type YtDlp struct {
	bin      string
	browsers []string
	exec     runner.Executor
	timeout  time.Duration
	tail     int
}

// NewYtDlp creates the generic downloader. Empty browsers use DefaultBrowsers.
func NewYtDlp(bin string, browsers []string, exec runner.Executor, timeout time.Duration, tail int) *YtDlp {
	if bin == "" {
		bin = YtDlpName
	}
	return &YtDlp{bin: bin, browsers: browsers, exec: exec, timeout: timeout, tail: tail}
}

// Name returns the adapter name.
func (y *YtDlp) Name() string { return YtDlpName }

// Available reports whether yt-dlp is installed.
func (y *YtDlp) Available() bool { return runner.Available(y.bin) }

// Variants lists cookie sources in preference order, de-duplicated by their
// argument set: session cookie file, session browser, preferred browsers,
// then no cookies.
func (y *YtDlp) Variants(ref model.ContentRef, s Session) []Variant {
	var variants []Variant
	if s.OK {
		if f := s.Cookies.CookiesFile; f != "" && fileExists(f) {
			variants = append(variants, Variant{Label: "session", Args: []string{"--cookies", f}})
		}
		if b := s.Cookies.CookiesFromBrowser; b != "" {
			variants = append(variants, Variant{Label: "session-browser", Args: []string{"--cookies-from-browser", b}})
		}
	}

	browsers := y.browsers
	if ref.Platform == model.PlatformXiaohongshu {
		browsers = xiaohongshuBrowsers
	} else if len(browsers) == 0 {
		browsers = DefaultBrowsers
	}
	for _, b := range browsers {
		variants = append(variants, Variant{Label: "browser:" + b, Args: []string{"--cookies-from-browser", b}})
	}
	variants = append(variants, Variant{Label: "no-cookies"})

	seen := map[string]bool{}
	out := variants[:0]
	for _, v := range variants {
		key := strings.Join(v.Args, "\x00")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

// BaseArgs returns the fixed yt-dlp arguments writing media, metadata,
// thumbnails and subtitles under dir.
func BaseArgs(dir string) []string {
	return []string{
		"--no-progress",
		"--no-warnings",
		"--write-info-json",
		"--write-thumbnail",
		"--write-subs",
		"--write-auto-subs",
		"--sub-langs", "zh.*,en.*",
		"-o", filepath.Join(dir, "%(id)s", "%(title).120B.%(ext)s"),
	}
}

// Download runs yt-dlp with the variant's cookie arguments.
func (y *YtDlp) Download(ctx context.Context, ref model.ContentRef, v Variant, dir string) model.AdapterAttempt {
	args := append(BaseArgs(dir), v.Args...)
	args = append(args, ref.NormalizedURL)
	cmd := runner.Command{Name: y.bin, Args: args, Timeout: y.timeout}
	return runTool(ctx, y.exec, YtDlpName, v.Label, cmd, dir, y.tail)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
