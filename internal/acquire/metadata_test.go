package acquire

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/sells-group/breakdown-cli/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIsSidecar(t *testing.T) {
	assert.True(t, IsSidecar("/x/abc.info.json"))
	assert.True(t, IsSidecar("/x/wechat_article.info.json"))
	assert.True(t, IsSidecar("/x/ARTICLE.INFO.v2.json"))
	assert.False(t, IsSidecar("/x/abc.json"))
	assert.False(t, IsSidecar("/x/abc.info.txt"))
}

func TestExtractMetadata_FirstValueWins(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.info.json", `{"title":"First","description":"desc A","tags":["x"," ","y"],"like_count":12.7,"view_count":"1.2万","upload_date":"20240102"}`)
	b := writeFile(t, dir, "b.info.json", `{"title":"Second","comment_count":5,"like_count":99}`)
	c := writeFile(t, dir, "video.mp4", "bin")

	md := ExtractMetadata([]string{a, b, c}, model.PlatformDouyin)

	assert.Equal(t, "First", md.Post.Title)
	assert.Equal(t, "desc A", md.Post.Body)
	assert.Equal(t, []string{"x", "y"}, md.Post.Tags)
	require.NotNil(t, md.Metrics.Likes)
	assert.Equal(t, int64(12), *md.Metrics.Likes)
	require.NotNil(t, md.Metrics.Comments)
	assert.Equal(t, int64(5), *md.Metrics.Comments)
	require.NotNil(t, md.Metrics.Plays)
	assert.Equal(t, int64(12), *md.Metrics.Plays)
	assert.Equal(t, "20240102", md.PublishedAt)
}

func TestExtractMetadata_SkipsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.info.json", `{not json`)
	good := writeFile(t, dir, "good.info.json", `{"fulltitle":"Fallback title"}`)

	md := ExtractMetadata([]string{bad, good}, model.PlatformXiaohongshu)
	assert.Equal(t, "Fallback title", md.Post.Title)
	assert.Nil(t, md.Metrics.Likes)
}

func TestExtractMetadata_HashtagFallback(t *testing.T) {
	dir := t.TempDir()
	f := writeFile(t, dir, "n.info.json", `{"title":"今天 #旅行 日记","description":"#美食分享 and #ok_go"}`)

	md := ExtractMetadata([]string{f}, model.PlatformXiaohongshu)
	assert.Equal(t, []string{"旅行", "美食分享", "ok_go"}, md.Post.Tags)
}

func TestExtractMetadata_WechatBodyFallback(t *testing.T) {
	dir := t.TempDir()
	body := writeFile(t, dir, ArticleBodyFile, "\n文章标题\n\n正文内容\n")

	md := ExtractMetadata([]string{body}, model.PlatformWechatMP)
	assert.Equal(t, "文章标题", md.Post.Title)
	assert.Equal(t, "文章标题\n\n正文内容", md.Post.Body)
}

func TestExtractMetadata_NoSidecars(t *testing.T) {
	md := ExtractMetadata(nil, model.PlatformDouyin)
	assert.Empty(t, md.Post.Title)
	assert.NotNil(t, md.Post.Tags)
	assert.Empty(t, md.Post.Tags)
}

func TestPickInt(t *testing.T) {
	doc := gjson.Parse(`{"a":true,"b":null,"c":"","d":"3,400","e":7}`)

	n := PickInt(doc, "a", "b", "c", "d")
	require.NotNil(t, n)
	assert.Equal(t, int64(3400), *n)

	n = PickInt(doc, "missing", "e")
	require.NotNil(t, n)
	assert.Equal(t, int64(7), *n)

	assert.Nil(t, PickInt(doc, "a", "b"))
}

func TestTagList_Categories(t *testing.T) {
	doc := gjson.Parse(`{"categories":["one","two","three"]}`)
	assert.Equal(t, []string{"one", "two"}, TagList(doc, 2))
}
