// Package assets sorts downloaded and manually supplied files into the
// categories later stages consume.
package assets

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sells-group/breakdown-cli/internal/model"
)

var extensions = map[string]model.AssetCategory{
	".mp4": model.AssetVideo, ".mov": model.AssetVideo, ".mkv": model.AssetVideo,
	".webm": model.AssetVideo, ".m4v": model.AssetVideo, ".flv": model.AssetVideo,

	".jpg": model.AssetImage, ".jpeg": model.AssetImage, ".png": model.AssetImage,
	".webp": model.AssetImage, ".gif": model.AssetImage, ".bmp": model.AssetImage,

	".mp3": model.AssetAudio, ".wav": model.AssetAudio, ".m4a": model.AssetAudio,
	".aac": model.AssetAudio, ".flac": model.AssetAudio, ".ogg": model.AssetAudio,

	".srt": model.AssetTranscript, ".vtt": model.AssetTranscript, ".ass": model.AssetTranscript,
	".lrc": model.AssetTranscript, ".txt": model.AssetTranscript,
}

// Categorize maps a path to its category by lowercase extension.
func Categorize(path string) model.AssetCategory {
	if c, ok := extensions[strings.ToLower(filepath.Ext(path))]; ok {
		return c
	}
	return model.AssetOther
}

// Build classifies produced files by extension and merges manual files into
// their declared categories. Paths are made absolute, de-duplicated and
// dropped when they are not regular files on disk.
func Build(produced []string, manual model.ManualAssets) model.AssetIndex {
	seen := map[string]bool{}
	buckets := map[model.AssetCategory][]string{}

	add := func(path string, cat model.AssetCategory) {
		abs, ok := existing(path)
		if !ok || seen[abs] {
			return
		}
		seen[abs] = true
		buckets[cat] = append(buckets[cat], abs)
	}

	// Manual files win their declared category over extension sniffing.
	for _, p := range manual.Video {
		add(p, model.AssetVideo)
	}
	for _, p := range manual.Images {
		add(p, model.AssetImage)
	}
	for _, p := range manual.Audio {
		add(p, model.AssetAudio)
	}
	for _, p := range manual.Transcript {
		add(p, model.AssetTranscript)
	}
	for _, p := range produced {
		add(p, Categorize(p))
	}

	return model.AssetIndex{
		Video:      sorted(buckets[model.AssetVideo]),
		Images:     sorted(buckets[model.AssetImage]),
		Audio:      sorted(buckets[model.AssetAudio]),
		Transcript: sorted(buckets[model.AssetTranscript]),
		CoverText:  []string{},
	}
}

// InferContentType picks the content type by precedence
// video > images > transcript > unknown.
func InferContentType(idx model.AssetIndex) model.ContentType {
	switch {
	case len(idx.Video) > 0:
		return model.ContentTypeVideo
	case len(idx.Images) > 0:
		return model.ContentTypeImagePost
	case len(idx.Transcript) > 0:
		return model.ContentTypeArticle
	default:
		return model.ContentTypeUnknown
	}
}

// ExistingFiles resolves paths to absolute regular files, dropping the rest.
func ExistingFiles(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if abs, ok := existing(p); ok {
			out = append(out, abs)
		}
	}
	return out
}

func existing(path string) (string, bool) {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return abs, true
}

func sorted(in []string) []string {
	if in == nil {
		return []string{}
	}
	sort.Strings(in)
	return in
}
