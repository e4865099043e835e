package acquire

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/breakdown-cli/internal/model"
)

// fakeDownloader writes files and reports outcomes from a script, one entry
// per variant.
type fakeDownloader struct {
	name      string
	available bool
	variants  []string
	outcomes  map[string]fakeOutcome
	calls     []string
}

type fakeOutcome struct {
	exit   int
	stderr string
	files  []string
}

func (f *fakeDownloader) Name() string    { return f.name }
func (f *fakeDownloader) Available() bool { return f.available }

func (f *fakeDownloader) Variants(model.ContentRef, Session) []Variant {
	out := make([]Variant, len(f.variants))
	for i, l := range f.variants {
		out[i] = Variant{Label: l}
	}
	return out
}

func (f *fakeDownloader) Download(_ context.Context, _ model.ContentRef, v Variant, dir string) model.AdapterAttempt {
	f.calls = append(f.calls, v.Label)
	o := f.outcomes[v.Label]
	a := model.AdapterAttempt{AdapterName: f.name, VariantLabel: v.Label, ExitCode: o.exit, StderrTail: o.stderr, NewFiles: []string{}}
	for _, name := range o.files {
		p := filepath.Join(dir, name)
		_ = os.MkdirAll(filepath.Dir(p), 0o755)
		_ = os.WriteFile(p, []byte("x"), 0o644)
		a.NewFiles = append(a.NewFiles, p)
	}
	return a
}

type fakePlanner struct{ plan Plan }

func (p fakePlanner) Plan(model.Platform) Plan { return p.plan }

func douyinRef() model.ContentRef {
	return model.ContentRef{
		RawURL:        "https://www.douyin.com/video/123",
		NormalizedURL: "https://www.douyin.com/video/123",
		Platform:      model.PlatformDouyin,
	}
}

func TestEngineFetch_FallsBackToBrowserCookies(t *testing.T) {
	generic := &fakeDownloader{
		name: YtDlpName, available: true,
		variants: []string{"session", "browser:chrome", "no-cookies"},
		outcomes: map[string]fakeOutcome{
			"session":        {exit: 1, stderr: "HTTP Error 403: Forbidden"},
			"browser:chrome": {files: []string{"123/video.mp4", "123/video.info.json"}},
		},
	}
	specialised := &fakeDownloader{name: "douyin-downloader", available: false}
	out := t.TempDir()

	eng := NewEngine(fakePlanner{Plan{Specialized: []Downloader{specialised}, Generic: generic}})
	res := eng.Fetch(context.Background(), Request{Ref: douyinRef(), OutputDir: out})

	require.True(t, res.OK, "%+v", res.Error)
	assert.Nil(t, res.Error)
	assert.Empty(t, specialised.calls)
	assert.Equal(t, []string{"session", "browser:chrome"}, generic.calls)
	require.Len(t, res.AdapterAttempts, 2)
	assert.Equal(t, model.ContentTypeVideo, res.Meta.ContentType)
	assert.Equal(t, model.PlatformDouyin, res.Meta.Platform)
	require.Len(t, res.AssetIndex.Video, 1)
	assert.True(t, filepath.IsAbs(res.AssetIndex.Video[0]))
	assert.Equal(t, filepath.Join(out, DownloadDirName), res.Artifacts.DownloadDir)
	assert.NotEmpty(t, res.Meta.FetchedAt)
}

func TestEngineFetch_VideoWithSubtitle(t *testing.T) {
	specialised := &fakeDownloader{
		name: "douyin-downloader", available: true, variants: []string{"default"},
		outcomes: map[string]fakeOutcome{"default": {files: []string{"123/video.mp4", "123/video.zh.srt"}}},
	}
	generic := &fakeDownloader{name: YtDlpName, available: true, variants: []string{"no-cookies"}}

	eng := NewEngine(fakePlanner{Plan{Specialized: []Downloader{specialised}, Generic: generic}})
	res := eng.Fetch(context.Background(), Request{Ref: douyinRef(), OutputDir: t.TempDir()})

	require.True(t, res.OK, "%+v", res.Error)
	assert.Empty(t, generic.calls)
	assert.Len(t, res.AssetIndex.Video, 1)
	assert.Len(t, res.AssetIndex.Transcript, 1)
	require.Len(t, res.AdapterAttempts, 1)
	assert.Len(t, res.AdapterAttempts[0].NewFiles, 2)
}

func TestEngineFetch_CleanExitWithoutFiles(t *testing.T) {
	specialised := &fakeDownloader{
		name: "douyin-downloader", available: true, variants: []string{"default"},
		outcomes: map[string]fakeOutcome{"default": {}},
	}
	generic := &fakeDownloader{
		name: YtDlpName, available: true,
		variants: []string{"browser:chrome", "no-cookies"},
		outcomes: map[string]fakeOutcome{},
	}

	eng := NewEngine(fakePlanner{Plan{Specialized: []Downloader{specialised}, Generic: generic}})
	res := eng.Fetch(context.Background(), Request{Ref: douyinRef(), OutputDir: t.TempDir()})

	require.False(t, res.OK)
	require.NotNil(t, res.Error)
	assert.Equal(t, model.ErrUnknownDownloadFailure, res.Error.Code)
	assert.Equal(t, []string{"browser:chrome", "no-cookies"}, generic.calls)
	for _, a := range res.AdapterAttempts {
		assert.Equal(t, 0, a.ExitCode)
		assert.Empty(t, a.NewFiles)
	}
}

func TestEngineFetch_AllFail(t *testing.T) {
	generic := &fakeDownloader{
		name: YtDlpName, available: true,
		variants: []string{"browser:chrome", "no-cookies"},
		outcomes: map[string]fakeOutcome{
			"browser:chrome": {exit: 1, stderr: "ERROR: Fresh cookies are needed"},
			"no-cookies":     {exit: 1, stderr: "ERROR: HTTP Error 403"},
		},
	}
	eng := NewEngine(fakePlanner{Plan{Generic: generic}})
	res := eng.Fetch(context.Background(), Request{Ref: douyinRef(), OutputDir: t.TempDir()})

	require.False(t, res.OK)
	require.NotNil(t, res.Error)
	assert.Equal(t, model.ErrAuthStale, res.Error.Code)
	assert.Equal(t, model.ErrAuthStale.NextAction(), res.Error.NextAction)
	attempts, ok := res.Error.Extra["attempts"].([]model.AdapterAttempt)
	require.True(t, ok)
	assert.Len(t, attempts, 2)
}

func TestEngineFetch_SpecialisedToolWins(t *testing.T) {
	specialised := &fakeDownloader{
		name: "xhs-downloader", available: true, variants: []string{"default"},
		outcomes: map[string]fakeOutcome{"default": {files: []string{"1.jpg", "2.webp"}}},
	}
	generic := &fakeDownloader{name: YtDlpName, available: true, variants: []string{"no-cookies"}}

	ref := model.ContentRef{RawURL: "https://www.xiaohongshu.com/explore/1", NormalizedURL: "https://www.xiaohongshu.com/explore/1", Platform: model.PlatformXiaohongshu}
	eng := NewEngine(fakePlanner{Plan{Specialized: []Downloader{specialised}, Generic: generic}})
	res := eng.Fetch(context.Background(), Request{Ref: ref, OutputDir: t.TempDir()})

	require.True(t, res.OK)
	assert.Empty(t, generic.calls)
	assert.Equal(t, model.ContentTypeImagePost, res.Meta.ContentType)
	assert.Len(t, res.AssetIndex.Images, 2)
}

func TestEngineFetch_SidecarOnlyImagePost(t *testing.T) {
	generic := &fakeDownloader{
		name: YtDlpName, available: true, variants: []string{"no-cookies"},
		outcomes: map[string]fakeOutcome{"no-cookies": {exit: 1, stderr: "ERROR: Unsupported URL", files: []string{"note.info.json"}}},
	}
	ref := model.ContentRef{RawURL: "u", NormalizedURL: "u", Platform: model.PlatformXiaohongshu}
	out := t.TempDir()
	manualImg := writeFileAt(t, filepath.Join(t.TempDir(), "manual.png"), "png")

	eng := NewEngine(fakePlanner{Plan{Generic: generic}})
	res := eng.Fetch(context.Background(), Request{
		Ref:       ref,
		OutputDir: out,
		Manual:    model.ManualAssets{Images: []string{manualImg, "/does/not/exist.png"}},
	})

	require.True(t, res.OK)
	assert.Equal(t, []string{manualImg}, res.AssetIndex.Images)
	assert.Equal(t, []string{manualImg}, res.Artifacts.ManualAssets.Images)
	assert.Len(t, res.Artifacts.AllFiles, 2)
}

func TestEngineFetch_GenericNotInstalled(t *testing.T) {
	generic := &fakeDownloader{name: YtDlpName, available: false}
	eng := NewEngine(fakePlanner{Plan{Generic: generic}})
	res := eng.Fetch(context.Background(), Request{Ref: douyinRef(), OutputDir: t.TempDir()})

	require.False(t, res.OK)
	assert.Equal(t, model.ErrToolMissing, res.Error.Code)
}

func TestEngineFetch_UnsupportedPlatform(t *testing.T) {
	eng := NewEngine(fakePlanner{})
	res := eng.Fetch(context.Background(), Request{Ref: model.ContentRef{RawURL: "https://example.com", Platform: model.PlatformUnknown}})

	require.False(t, res.OK)
	assert.Equal(t, model.ErrUnsupportedPlatform, res.Error.Code)
	assert.Equal(t, "https://example.com", res.Error.Extra["url"])
}

func TestEngineFetch_InvalidCookieFile(t *testing.T) {
	eng := NewEngine(fakePlanner{})
	res := eng.Fetch(context.Background(), Request{Ref: douyinRef(), OutputDir: t.TempDir(), CookiesFile: "/nope/cookies.txt"})

	require.False(t, res.OK)
	assert.Equal(t, model.ErrInvalidCookieFile, res.Error.Code)
}

func TestEngineFetch_ManualAssetsRescueFailure(t *testing.T) {
	generic := &fakeDownloader{
		name: YtDlpName, available: true, variants: []string{"no-cookies"},
		outcomes: map[string]fakeOutcome{"no-cookies": {exit: 1, stderr: "HTTP Error 404"}},
	}
	video := writeFileAt(t, filepath.Join(t.TempDir(), "local.mp4"), "mp4")

	eng := NewEngine(fakePlanner{Plan{Generic: generic}})
	res := eng.Fetch(context.Background(), Request{
		Ref:       douyinRef(),
		OutputDir: t.TempDir(),
		Manual:    model.ManualAssets{Video: []string{video}},
	})

	require.True(t, res.OK)
	assert.Equal(t, model.ContentTypeVideo, res.Meta.ContentType)
	assert.Len(t, res.AdapterAttempts, 1)
}

func writeFileAt(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
