// Package evidence validates evidence items against the fixed schema.
package evidence

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sells-group/breakdown-cli/internal/model"
)

// Field limits in runes.
const (
	MaxSource  = 300
	MaxLocator = 120
	MaxSnippet = 200
)

// DefaultConfidence replaces a missing or unusable confidence.
const DefaultConfidence = 0.5

// Normalize coerces arbitrary decoded JSON into valid evidence items. It is
// total: anything that is not a list yields an empty list, and items that are
// not objects are dropped.
func Normalize(v any) []model.EvidenceItem {
	out := []model.EvidenceItem{}
	list, ok := v.([]any)
	if !ok {
		return out
	}
	for _, raw := range list {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, normalizeItem(model.EvidenceItem{
			Type:       model.EvidenceType(stringify(obj["type"])),
			Source:     stringify(obj["source"]),
			Locator:    stringify(obj["locator"]),
			Snippet:    stringify(obj["snippet"]),
			Confidence: confidence(obj["confidence"]),
		}))
	}
	return out
}

// NormalizeItems applies the same rules to typed items.
func NormalizeItems(items []model.EvidenceItem) []model.EvidenceItem {
	out := make([]model.EvidenceItem, 0, len(items))
	for _, it := range items {
		c := it.Confidence
		if math.IsNaN(c) {
			c = DefaultConfidence
		}
		it.Confidence = c
		out = append(out, normalizeItem(it))
	}
	return out
}

// NormalizeJSON decodes raw and normalizes the result. Undecodable input
// yields an empty list.
func NormalizeJSON(raw []byte) []model.EvidenceItem {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return []model.EvidenceItem{}
	}
	return Normalize(v)
}

func normalizeItem(it model.EvidenceItem) model.EvidenceItem {
	if !it.Type.Valid() {
		it.Type = model.EvidenceTranscriptSpan
	}
	it.Source = Truncate(it.Source, MaxSource)
	it.Locator = Truncate(it.Locator, MaxLocator)
	it.Snippet = Truncate(it.Snippet, MaxSnippet)
	it.Confidence = clamp(it.Confidence)
	return it
}

// Truncate keeps at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func confidence(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return DefaultConfidence
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return DefaultConfidence
		}
		f = parsed
	default:
		return DefaultConfidence
	}
	if math.IsNaN(f) {
		return DefaultConfidence
	}
	return f
}

func clamp(f float64) float64 {
	switch {
	case math.IsNaN(f):
		return DefaultConfidence
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
