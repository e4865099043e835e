package extract

import (
	"os"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sells-group/breakdown-cli/internal/acquire"
	"github.com/sells-group/breakdown-cli/internal/evidence"
	"github.com/sells-group/breakdown-cli/internal/model"
)

const (
	maxTitleChunk   = 300
	maxDescChunk    = 500
	maxTagChunk     = 500
	maxCoverTitle   = 80
	maxChunkTags    = 12
	maxEvidenceText = 120
)

// Confidence assigned to evidence derived from post metadata fields.
const (
	titleConfidence = 0.62
	descConfidence  = 0.55
	tagsConfidence  = 0.5
)

// MetadataSignals is what the sidecar documents contribute to a signals
// document.
type MetadataSignals struct {
	Chunks     []model.SignalChunk
	Evidence   []model.EvidenceItem
	CoverTexts []string
	Post       model.PostContent
}

// FromSidecars reads every sidecar metadata document in files. Each
// document contributes up to three chunks (title, description, tags) and a
// matching evidence item; the first non-empty title, body and tags form the
// post content.
func FromSidecars(files []string) MetadataSignals {
	ms := MetadataSignals{Post: model.PostContent{Tags: []string{}}}

	for _, path := range acquire.Sidecars(files) {
		data, err := os.ReadFile(path)
		if err != nil || !gjson.ValidBytes(data) {
			continue
		}
		doc := gjson.ParseBytes(data)
		if !doc.IsObject() {
			continue
		}

		title := strings.TrimSpace(doc.Get("title").String())
		desc := strings.TrimSpace(doc.Get("description").String())
		var tags []string
		if t := doc.Get("tags"); t.IsArray() {
			for _, v := range t.Array() {
				tags = append(tags, v.String())
			}
		}

		if ms.Post.Title == "" && title != "" {
			ms.Post.Title = title
		}
		if ms.Post.Body == "" && desc != "" {
			ms.Post.Body = desc
		}
		if len(ms.Post.Tags) == 0 && len(tags) > 0 {
			ms.Post.Tags = tags
		}

		if title != "" {
			ms.CoverTexts = append(ms.CoverTexts, evidence.Truncate(title, maxCoverTitle))
			ms.Chunks = append(ms.Chunks, model.SignalChunk{
				Text: evidence.Truncate(title, maxTitleChunk), Source: path, Sequence: 1,
			})
			ms.Evidence = append(ms.Evidence, model.EvidenceItem{
				Type:       model.EvidenceCoverOCR,
				Source:     path,
				Locator:    "field:title",
				Snippet:    evidence.Truncate(title, maxEvidenceText),
				Confidence: titleConfidence,
			})
		}
		if desc != "" {
			ms.Chunks = append(ms.Chunks, model.SignalChunk{
				Text: evidence.Truncate(desc, maxDescChunk), Source: path, Sequence: 2,
			})
			ms.Evidence = append(ms.Evidence, model.EvidenceItem{
				Type:       model.EvidenceTranscriptSpan,
				Source:     path,
				Locator:    "field:description",
				Snippet:    evidence.Truncate(desc, maxEvidenceText),
				Confidence: descConfidence,
			})
		}
		if len(tags) > 0 {
			tagText := strings.TrimSpace(strings.Join(tags[:min(len(tags), maxChunkTags)], " "))
			if tagText != "" {
				ms.Chunks = append(ms.Chunks, model.SignalChunk{
					Text: evidence.Truncate("tags: "+tagText, maxTagChunk), Source: path, Sequence: 3,
				})
				ms.Evidence = append(ms.Evidence, model.EvidenceItem{
					Type:       model.EvidenceVisualPattern,
					Source:     path,
					Locator:    "field:tags",
					Snippet:    evidence.Truncate(tagText, maxEvidenceText),
					Confidence: tagsConfidence,
				})
			}
		}
	}
	return ms
}
