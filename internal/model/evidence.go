package model

// EvidenceType classifies where an evidence snippet came from.
type EvidenceType string

const (
	EvidenceTimestamp      EvidenceType = "timestamp"
	EvidenceFrameOCR       EvidenceType = "frame_ocr"
	EvidenceTranscriptSpan EvidenceType = "transcript_span"
	EvidenceCoverOCR       EvidenceType = "cover_ocr"
	EvidenceVisualPattern  EvidenceType = "visual_pattern"
)

// AllEvidenceTypes returns the closed set of evidence types.
func AllEvidenceTypes() []EvidenceType {
	return []EvidenceType{
		EvidenceTimestamp,
		EvidenceFrameOCR,
		EvidenceTranscriptSpan,
		EvidenceCoverOCR,
		EvidenceVisualPattern,
	}
}

// Valid reports whether t is one of the known evidence types.
func (t EvidenceType) Valid() bool {
	for _, v := range AllEvidenceTypes() {
		if t == v {
			return true
		}
	}
	return false
}

// EvidenceItem is a source-attributed snippet supporting later analysis.
type EvidenceItem struct {
	Type       EvidenceType `json:"type"`
	Source     string       `json:"source"`
	Locator    string       `json:"locator"`
	Snippet    string       `json:"snippet"`
	Confidence float64      `json:"confidence"`
}
