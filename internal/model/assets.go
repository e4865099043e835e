package model

// AssetCategory is the bucket a file is sorted into by extension.
type AssetCategory string

const (
	AssetVideo      AssetCategory = "video"
	AssetImage      AssetCategory = "images"
	AssetAudio      AssetCategory = "audio"
	AssetTranscript AssetCategory = "transcript"
	AssetOther      AssetCategory = "other"
)

// AssetIndex lists the usable local files of a run by category.
type AssetIndex struct {
	Video      []string `json:"video"`
	Images     []string `json:"images"`
	Audio      []string `json:"audio"`
	Transcript []string `json:"transcript"`
	CoverText  []string `json:"cover_text"`
}

// Empty reports whether no media or transcript file was indexed.
func (a AssetIndex) Empty() bool {
	return len(a.Video) == 0 && len(a.Images) == 0 && len(a.Audio) == 0 && len(a.Transcript) == 0
}

// ManualAssets are caller-supplied local files merged into the index
// regardless of what acquisition produced.
type ManualAssets struct {
	Video      []string `json:"video"`
	Images     []string `json:"images"`
	Audio      []string `json:"audio"`
	Transcript []string `json:"transcript"`
}

// All returns every manual path in category order.
func (m ManualAssets) All() []string {
	out := make([]string, 0, len(m.Video)+len(m.Images)+len(m.Audio)+len(m.Transcript))
	out = append(out, m.Video...)
	out = append(out, m.Images...)
	out = append(out, m.Audio...)
	out = append(out, m.Transcript...)
	return out
}
