// Package platform resolves raw post links into canonical content references.
package platform

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/breakdown-cli/internal/model"
)

// Normalization notes recorded on ContentRef.NormalizeNote.
const (
	NoteModalToVideo = "converted_user_modal_to_video"
	NoteShortLink    = "short_link_detected"
)

var hostSuffixes = []struct {
	suffix   string
	platform model.Platform
}{
	{"iesdouyin.com", model.PlatformDouyin},
	{"douyin.com", model.PlatformDouyin},
	{"xiaohongshu.com", model.PlatformXiaohongshu},
	{"xhslink.com", model.PlatformXiaohongshu},
	{"mp.weixin.qq.com", model.PlatformWechatMP},
}

// Detect maps a URL to its platform by host suffix.
func Detect(raw string) model.Platform {
	u, err := parse(raw)
	if err != nil {
		return model.PlatformUnknown
	}
	return detectHost(u.Hostname())
}

func detectHost(host string) model.Platform {
	host = strings.ToLower(host)
	for _, hs := range hostSuffixes {
		if host == hs.suffix || strings.HasSuffix(host, "."+hs.suffix) {
			return hs.platform
		}
	}
	return model.PlatformUnknown
}

// Normalize canonicalises a post link. It is idempotent on the returned URL.
// The note names the rewrite rule that fired, or is empty.
func Normalize(raw string) (string, string) {
	u, err := parse(raw)
	if err != nil {
		return strings.TrimSpace(raw), ""
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	note := ""
	switch detectHost(u.Hostname()) {
	case model.PlatformDouyin:
		if id := u.Query().Get("modal_id"); id != "" && strings.HasPrefix(u.Path, "/user/") {
			return "https://www.douyin.com/video/" + id, NoteModalToVideo
		}
	case model.PlatformXiaohongshu:
		if strings.HasSuffix(u.Hostname(), "xhslink.com") {
			note = NoteShortLink
		}
	}

	u.Path = trimPath(u.Path)
	u.RawPath = ""
	return u.String(), note
}

// strippedSuffixes are repository-style endings dropped from link paths.
var strippedSuffixes = []string{".git"}

// trimPath removes trailing slashes and stripped suffixes until neither is
// left, so "/a.git/" and "/a/.git" both become "/a".
func trimPath(p string) string {
	for {
		trimmed := strings.TrimRight(p, "/")
		for _, suffix := range strippedSuffixes {
			trimmed = strings.TrimSuffix(trimmed, suffix)
		}
		if trimmed == p {
			return p
		}
		p = trimmed
	}
}

// Resolve normalizes raw and assigns the platform and provisional content
// type. The final content type is decided after asset classification.
func Resolve(raw string) model.ContentRef {
	normalized, note := Normalize(raw)
	p := Detect(normalized)
	return model.ContentRef{
		RawURL:        raw,
		NormalizedURL: normalized,
		Platform:      p,
		ContentType:   provisionalType(p),
		NormalizeNote: note,
	}
}

func provisionalType(p model.Platform) model.ContentType {
	switch p {
	case model.PlatformDouyin:
		return model.ContentTypeVideo
	case model.PlatformWechatMP:
		return model.ContentTypeArticle
	default:
		return model.ContentTypeUnknown
	}
}

func parse(raw string) (*url.URL, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, eris.New("platform: empty url")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	return url.Parse(s)
}

var slugRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Slug builds a filesystem-safe run directory name from a link and a time.
func Slug(raw string, now time.Time) string {
	base := ""
	if u, err := parse(raw); err == nil {
		base = u.Host + u.Path
	}
	base = strings.ToLower(strings.Trim(slugRe.ReplaceAllString(strings.Trim(base, "/"), "-"), "-"))
	if base == "" {
		base = "content"
	}
	if len(base) > 80 {
		base = base[:80]
	}
	return base + "-" + now.Format("20060102-150405")
}
