package analyze

import (
	"fmt"
	"strings"

	"github.com/sells-group/breakdown-cli/internal/model"
)

// Markdown renders a human-readable breakdown of rep.
func Markdown(rep Report) string {
	var b strings.Builder
	if !rep.OK {
		b.WriteString("# Breakdown failed\n\n")
		if rep.Error != nil {
			fmt.Fprintf(&b, "- code: `%s`\n- reason: %s\n- next action: %s\n", rep.Error.Code, rep.Error.Reason, rep.Error.NextAction)
		}
		return b.String()
	}

	title := rep.PostContent.Title
	if title == "" {
		title = rep.Meta.URL
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- url: %s\n- platform: %s\n- content type: %s\n- fetched at: %s\n- analysis mode: %s\n",
		rep.Meta.URL, rep.Meta.Platform, rep.Meta.ContentType, rep.Meta.FetchedAt, rep.Meta.AnalysisMode)
	if m := engagement(rep.EngagementMetrics); m != "" {
		fmt.Fprintf(&b, "- engagement: %s\n", m)
	}

	if rep.Summary != "" {
		fmt.Fprintf(&b, "\n## Summary\n\n%s\n", rep.Summary)
	}

	b.WriteString("\n## Hook\n\n")
	writeCited(&b, rep.Hook)

	b.WriteString("\n## Script structure\n\n")
	for _, s := range rep.ScriptStructure {
		fmt.Fprintf(&b, "### %s\n\n", s.Section)
		writeCited(&b, CitedText{Text: s.Text, Evidence: s.Evidence})
	}

	b.WriteString("\n## Cover title\n\n")
	writeCited(&b, rep.CoverTitle)

	b.WriteString("\n## Voiceover copy\n\n")
	writeCited(&b, rep.VoiceoverCopy)

	if len(rep.Limitations) > 0 {
		b.WriteString("\n## Limitations\n\n")
		for _, l := range rep.Limitations {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}
	return b.String()
}

func writeCited(b *strings.Builder, c CitedText) {
	fmt.Fprintf(b, "%s\n", c.Text)
	if len(c.Evidence) == 0 {
		return
	}
	b.WriteString("\n")
	for _, e := range c.Evidence {
		fmt.Fprintf(b, "> [%s] %s %s (%.2f)\n", e.Type, e.Source, e.Locator, e.Confidence)
	}
}

func engagement(m model.EngagementMetrics) string {
	var parts []string
	for _, kv := range []struct {
		name string
		v    *int64
	}{{"likes", m.Likes}, {"comments", m.Comments}, {"plays", m.Plays}} {
		if kv.v != nil {
			parts = append(parts, fmt.Sprintf("%s %d", kv.name, *kv.v))
		}
	}
	return strings.Join(parts, ", ")
}
