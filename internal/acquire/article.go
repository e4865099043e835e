package acquire

import (
	"context"
	"encoding/json"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/breakdown-cli/internal/fetcher"
	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/workdir"
)

// ArticleName is the adapter name recorded for the article page downloader.
const ArticleName = "article-html"

// Files written by the article downloader.
const (
	ArticleHTMLFile = "article.html"
	ArticleBodyFile = "article_body.txt"
	ArticleInfoFile = "wechat_article.info.json"
)

const (
	maxArticleTags = 20
	maxArticleDesc = 2000
)

var (
	reMsgDesc  = regexp.MustCompile(`var\s+msg_desc\s*=\s*"([^"]*)"`)
	reNickname = regexp.MustCompile(`var\s+nickname\s*=\s*"([^"]*)"`)
	rePublish  = regexp.MustCompile(`\bct\s*=\s*['"]?(\d{10})['"]?`)
	reTagSplit = regexp.MustCompile(`[,，\s]+`)
	reBlankRun = regexp.MustCompile(`\n{3,}`)
)

// ArticleInfo is the sidecar metadata document written for article pages.
type ArticleInfo struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Tags             []string `json:"tags"`
	Platform         string   `json:"platform"`
	Uploader         string   `json:"uploader"`
	WebpageURL       string   `json:"webpage_url"`
	PublishTimestamp string   `json:"publish_timestamp"`
	ViewCount        *int64   `json:"view_count"`
	LikeCount        *int64   `json:"like_count"`
	CommentCount     *int64   `json:"comment_count"`
	CoverURL         string   `json:"cover_url"`
	CoverLocalFile   string   `json:"cover_local_file"`
}

// ArticleDownloader fetches an article page directly and extracts its text,
// cover and metadata. It needs no external tool.
type ArticleDownloader struct {
	fetch fetcher.Fetcher
}

// NewArticleDownloader creates the article page downloader.
func NewArticleDownloader(f fetcher.Fetcher) *ArticleDownloader {
	return &ArticleDownloader{fetch: f}
}

// Name returns the adapter name.
func (a *ArticleDownloader) Name() string { return ArticleName }

// Available is always true.
func (a *ArticleDownloader) Available() bool { return true }

// Variants returns the single direct fetch.
func (a *ArticleDownloader) Variants(model.ContentRef, Session) []Variant {
	return []Variant{{Label: "direct"}}
}

// Download fetches the page and writes article.html, article_body.txt,
// wechat_article.info.json and, when present, the cover image.
func (a *ArticleDownloader) Download(ctx context.Context, ref model.ContentRef, v Variant, dir string) model.AdapterAttempt {
	start := time.Now()
	attempt := model.AdapterAttempt{
		AdapterName:    ArticleName,
		VariantLabel:   v.Label,
		InvokedCommand: "GET " + ref.NormalizedURL,
		NewFiles:       []string{},
	}

	before, _ := workdir.Take(dir)
	err := a.download(ctx, ref.NormalizedURL, dir)
	after, _ := workdir.Take(dir)
	attempt.NewFiles = nonNil(workdir.Diff(before, after))
	attempt.DurationMs = durationMs(start)

	if err != nil {
		attempt.ExitCode = 1
		attempt.StderrTail = err.Error()
		return attempt
	}
	attempt.StdoutTail = "ok"
	return attempt
}

func (a *ArticleDownloader) download(ctx context.Context, rawURL, dir string) error {
	page, err := a.fetch.GetPage(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "acquire: mkdir download dir")
	}
	if err := os.WriteFile(filepath.Join(dir, ArticleHTMLFile), []byte(page.HTML), 0o644); err != nil {
		return eris.Wrap(err, "acquire: write article html")
	}

	info, err := ParseArticle(page.HTML)
	if err != nil {
		return err
	}
	info.WebpageURL = rawURL

	if err := os.WriteFile(filepath.Join(dir, ArticleBodyFile), []byte(info.Description), 0o644); err != nil {
		return eris.Wrap(err, "acquire: write article body")
	}
	info.Description = truncateRunes(info.Description, maxArticleDesc)

	if info.CoverURL != "" {
		ext := ".jpg"
		if strings.Contains(strings.ToLower(info.CoverURL), ".png") {
			ext = ".png"
		}
		coverPath := filepath.Join(dir, "cover"+ext)
		if _, err := a.fetch.DownloadToFile(ctx, info.CoverURL, coverPath); err != nil {
			zap.L().Debug("acquire: cover download failed", zap.String("url", info.CoverURL), zap.Error(err))
			_ = os.Remove(coverPath)
		} else {
			info.CoverLocalFile = coverPath
		}
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return eris.Wrap(err, "acquire: marshal article info")
	}
	if err := os.WriteFile(filepath.Join(dir, ArticleInfoFile), data, 0o644); err != nil {
		return eris.Wrap(err, "acquire: write article info")
	}
	return nil
}

// ParseArticle extracts title, body text, tags, cover, author and publish
// time from an article page. Description holds the full body text.
func ParseArticle(raw string) (ArticleInfo, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return ArticleInfo{}, eris.Wrap(err, "acquire: parse article html")
	}

	info := ArticleInfo{Platform: string(model.PlatformWechatMP), Tags: []string{}}

	info.Title = metaContent(doc, `meta[property="og:title"]`)
	if info.Title == "" {
		info.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	desc := metaContent(doc, `meta[name="description"]`)
	if desc == "" {
		desc = firstMatch(reMsgDesc, raw)
	}

	for _, kw := range reTagSplit.Split(metaContent(doc, `meta[name="keywords"]`), -1) {
		if kw = strings.TrimSpace(kw); kw != "" && len(info.Tags) < maxArticleTags {
			info.Tags = append(info.Tags, kw)
		}
	}

	body := ""
	if content := doc.Find("#js_content").First(); content.Length() > 0 {
		body = articleText(content)
	}
	if body == "" {
		body = desc
	}
	if body == "" {
		body = info.Title
	}
	info.Description = body

	info.CoverURL = metaContent(doc, `meta[property="og:image"]`)
	info.Uploader = firstMatch(reNickname, raw)
	info.PublishTimestamp = firstMatch(rePublish, raw)
	return info, nil
}

// articleText converts the article body to Markdown, falling back to the
// node's plain text.
func articleText(sel *goquery.Selection) string {
	sel.Find("script, style").Remove()
	inner, err := sel.Html()
	if err == nil {
		if md, err := htmltomarkdown.ConvertString(inner); err == nil {
			if md = strings.TrimSpace(md); md != "" {
				return reBlankRun.ReplaceAllString(md, "\n\n")
			}
		}
	}
	return strings.TrimSpace(sel.Text())
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(v)
}

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return html.UnescapeString(strings.TrimSpace(m[1]))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
