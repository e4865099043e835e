package model

// Platform identifies a supported content platform.
type Platform string

const (
	PlatformDouyin      Platform = "douyin"
	PlatformXiaohongshu Platform = "xiaohongshu"
	PlatformWechatMP    Platform = "wechat_mp"
	PlatformUnknown     Platform = "unknown"
)

// AllPlatforms returns the supported platforms in detection order.
func AllPlatforms() []Platform {
	return []Platform{
		PlatformDouyin,
		PlatformXiaohongshu,
		PlatformWechatMP,
	}
}

// ImageCentric reports whether posts on the platform may legitimately produce
// only a metadata document and no binary media.
func (p Platform) ImageCentric() bool {
	return p == PlatformXiaohongshu || p == PlatformWechatMP
}

// ContentType is the inferred kind of an acquired post.
type ContentType string

const (
	ContentTypeVideo     ContentType = "video"
	ContentTypeImagePost ContentType = "image_post"
	ContentTypeArticle   ContentType = "article"
	ContentTypeUnknown   ContentType = "unknown"
)

// ContentRef is a resolved reference to one piece of content. It is created
// once at pipeline start and never modified afterwards.
type ContentRef struct {
	RawURL        string      `json:"raw_url"`
	NormalizedURL string      `json:"normalized_url"`
	Platform      Platform    `json:"platform"`
	ContentType   ContentType `json:"content_type"`
	NormalizeNote string      `json:"normalize_note,omitempty"`
}

// PostContent is the textual body of a post as published.
type PostContent struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

// EngagementMetrics holds public counters when the platform exposes them.
type EngagementMetrics struct {
	Likes    *int64 `json:"likes"`
	Comments *int64 `json:"comments"`
	Plays    *int64 `json:"plays"`
}
