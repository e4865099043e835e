package pipeline

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

const (
	maxTitleRunes = 40
	fallbackTitle = "content"
)

var (
	reSpaces      = regexp.MustCompile(`\s+`)
	reReserved    = regexp.MustCompile(`[\\/:*?"<>|]+`)
	reUnsupported = regexp.MustCompile(`[^0-9A-Za-z\p{Han}\-_ ]+`)
	reSlugStamp   = regexp.MustCompile(`-\d{8}-\d{6}$`)
)

// SanitizeTitle makes text safe for use in a file name. Runs of whitespace
// collapse to one space and characters outside letters, digits, CJK, space,
// hyphen and underscore become hyphens. The result is at most 40 runes and
// never empty.
func SanitizeTitle(text string) string {
	text = reSpaces.ReplaceAllString(strings.TrimSpace(text), " ")
	text = reReserved.ReplaceAllString(text, "-")
	text = reUnsupported.ReplaceAllString(text, "-")
	text = strings.Trim(text, " .-_")
	if text == "" {
		return fallbackTitle
	}
	r := []rune(text)
	if len(r) > maxTitleRunes {
		r = r[:maxTitleRunes]
	}
	return string(r)
}

// NamedPrefix derives "<yyyymmdd>-<title>" for a report. The date comes from
// the report's fetch time, else now. The title is the post title, else the
// cover text, else the output directory's slug.
func NamedPrefix(report []byte, outputDir string, now time.Time) string {
	doc := gjson.ParseBytes(report)

	date := strings.ReplaceAll(truncate(doc.Get("meta.fetched_at").String(), 10), "-", "")
	if len(date) != 8 {
		date = now.UTC().Format("20060102")
	}

	title := SanitizeTitle(doc.Get("post_content.title").String())
	if title == fallbackTitle {
		title = SanitizeTitle(doc.Get("asset_index.cover_text.0").String())
	}
	if title == fallbackTitle {
		title = SanitizeTitle(reSlugStamp.ReplaceAllString(filepath.Base(outputDir), ""))
	}
	return date + "-" + title
}

// ExportNamed copies report.json (and report.md when present) from
// outputDir into exportDir under prefix, adding -2, -3, ... until neither
// name is taken. It returns the written paths keyed "json" and "markdown".
func ExportNamed(outputDir, exportDir, prefix string) (map[string]string, error) {
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "pipeline: mkdir %s", exportDir)
	}

	jsonDst, mdDst := namedPair(exportDir, prefix, 1)
	for n := 2; exists(jsonDst) || exists(mdDst); n++ {
		jsonDst, mdDst = namedPair(exportDir, prefix, n)
	}

	out := map[string]string{}
	if err := copyFile(filepath.Join(outputDir, ReportFile), jsonDst); err != nil {
		return nil, err
	}
	out["json"] = jsonDst

	mdSrc := filepath.Join(outputDir, MarkdownFile)
	if exists(mdSrc) {
		if err := copyFile(mdSrc, mdDst); err != nil {
			return nil, err
		}
		out["markdown"] = mdDst
	}
	return out, nil
}

func namedPair(dir, prefix string, n int) (string, string) {
	name := prefix
	if n > 1 {
		name += "-" + strconv.Itoa(n)
	}
	return filepath.Join(dir, name+".json"), filepath.Join(dir, name+".md")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "pipeline: open %s", src)
	}
	defer in.Close() //nolint:errcheck

	out, err := os.Create(dst)
	if err != nil {
		return eris.Wrapf(err, "pipeline: create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return eris.Wrapf(err, "pipeline: copy to %s", dst)
	}
	return eris.Wrapf(out.Close(), "pipeline: close %s", dst)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
