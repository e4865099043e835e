package acquire

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sells-group/breakdown-cli/internal/model"
)

const (
	maxMetadataTags = 30
	maxHashtags     = 15
	maxArticleBody  = 5000
	maxArticleTitle = 80
)

var (
	reHashtag  = regexp.MustCompile(`#([A-Za-z0-9_\x{4e00}-\x{9fa5}]{2,30})`)
	reNonDigit = regexp.MustCompile(`[^0-9]`)
)

// Metadata is what the sidecar documents say about a post.
type Metadata struct {
	Post        model.PostContent
	Metrics     model.EngagementMetrics
	PublishedAt string
}

// IsSidecar reports whether path is a metadata document: "*.info.json" or
// an "*article.info*.json" file.
func IsSidecar(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	if filepath.Ext(name) != ".json" {
		return false
	}
	return strings.HasSuffix(name, ".info.json") || strings.Contains(name, "article.info")
}

// Sidecars filters files down to metadata documents, preserving order.
func Sidecars(files []string) []string {
	var out []string
	for _, f := range files {
		if IsSidecar(f) {
			out = append(out, f)
		}
	}
	return out
}

// ExtractMetadata merges every sidecar document in files. The first
// non-empty value of each field wins. WeChat articles without a title fall
// back to the article body, and posts without tags fall back to #hashtags.
func ExtractMetadata(files []string, platform model.Platform) Metadata {
	md := Metadata{Post: model.PostContent{Tags: []string{}}}

	for _, path := range Sidecars(files) {
		data, err := os.ReadFile(path)
		if err != nil || !gjson.ValidBytes(data) {
			continue
		}
		doc := gjson.ParseBytes(data)
		if !doc.IsObject() {
			continue
		}

		if md.Post.Title == "" {
			md.Post.Title = firstString(doc, "title", "fulltitle")
		}
		if md.Post.Body == "" {
			md.Post.Body = firstString(doc, "description", "desc")
		}
		if len(md.Post.Tags) == 0 {
			md.Post.Tags = TagList(doc, maxMetadataTags)
		}

		if md.Metrics.Likes == nil {
			md.Metrics.Likes = PickInt(doc, "like_count", "digg_count", "likes")
		}
		if md.Metrics.Comments == nil {
			md.Metrics.Comments = PickInt(doc, "comment_count", "comments_count", "comments")
		}
		if md.Metrics.Plays == nil {
			md.Metrics.Plays = PickInt(doc, "view_count", "play_count", "plays")
		}
		if md.PublishedAt == "" {
			md.PublishedAt = firstString(doc, "upload_date", "release_date", "timestamp", "publish_timestamp")
		}
	}

	if platform == model.PlatformWechatMP && md.Post.Title == "" {
		for _, f := range files {
			if filepath.Base(f) != ArticleBodyFile {
				continue
			}
			data, err := os.ReadFile(f)
			if err != nil {
				continue
			}
			text := strings.TrimSpace(string(data))
			if text == "" {
				continue
			}
			md.Post.Body = truncateRunes(text, maxArticleBody)
			md.Post.Title = truncateRunes(strings.SplitN(text, "\n", 2)[0], maxArticleTitle)
			break
		}
	}

	if len(md.Post.Tags) == 0 {
		md.Post.Tags = Hashtags(md.Post.Title+" "+md.Post.Body, maxHashtags)
	}
	return md
}

// TagList reads "tags", falling back to "categories", keeping at most n
// non-blank entries.
func TagList(doc gjson.Result, n int) []string {
	arr := doc.Get("tags")
	if !arr.IsArray() {
		arr = doc.Get("categories")
	}
	tags := []string{}
	if !arr.IsArray() {
		return tags
	}
	for _, v := range arr.Array() {
		if s := strings.TrimSpace(v.String()); s != "" {
			tags = append(tags, s)
			if len(tags) == n {
				break
			}
		}
	}
	return tags
}

// Hashtags extracts up to n #tags from text.
func Hashtags(text string, n int) []string {
	tags := []string{}
	for _, m := range reHashtag.FindAllStringSubmatch(text, -1) {
		tags = append(tags, m[1])
		if len(tags) == n {
			break
		}
	}
	return tags
}

// PickInt returns the first key holding a usable count. Numbers are
// truncated; strings are reduced to their digits, so "1.2万" reads as 12.
// Booleans and nulls are skipped.
func PickInt(doc gjson.Result, keys ...string) *int64 {
	for _, k := range keys {
		v := doc.Get(k)
		switch v.Type {
		case gjson.Number:
			n := int64(v.Float())
			return &n
		case gjson.String:
			digits := reNonDigit.ReplaceAllString(v.Str, "")
			if digits == "" {
				continue
			}
			n, err := strconv.ParseInt(digits, 10, 64)
			if err != nil {
				continue
			}
			return &n
		}
	}
	return nil
}

func firstString(doc gjson.Result, keys ...string) string {
	for _, k := range keys {
		v := doc.Get(k)
		if v.Type == gjson.Null || v.IsObject() || v.IsArray() {
			continue
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return ""
}
