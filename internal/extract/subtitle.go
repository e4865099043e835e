package extract

import (
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/breakdown-cli/internal/fetcher"
	"github.com/sells-group/breakdown-cli/internal/model"
)

var (
	reMarkupTag  = regexp.MustCompile(`<[^>]+>`)
	reStyleBlock = regexp.MustCompile(`\{[^}]+\}`)
	reSeqNumber  = regexp.MustCompile(`^\d+$`)
)

// ParseSubtitleFile reads a subtitle or plain text transcript in any of the
// supported encodings and returns one untimed chunk per text line.
func ParseSubtitleFile(path string) ([]model.SignalChunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read subtitle %s", path)
	}
	return ParseSubtitle(fetcher.DecodeText(data, ""), path), nil
}

// ParseSubtitle strips markup and styling, drops cue numbers and timing
// lines, and keeps the remaining lines. Sequence is the 1-based line number
// in the file.
func ParseSubtitle(text, source string) []model.SignalChunk {
	var chunks []model.SignalChunk
	if strings.TrimSpace(text) == "" {
		return chunks
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	for i, line := range strings.Split(text, "\n") {
		line = reMarkupTag.ReplaceAllString(line, "")
		line = strings.TrimSpace(reStyleBlock.ReplaceAllString(line, ""))
		if line == "" || reSeqNumber.MatchString(line) || strings.Contains(line, "-->") {
			continue
		}
		chunks = append(chunks, model.SignalChunk{Text: line, Source: source, Sequence: i + 1})
	}
	return chunks
}
