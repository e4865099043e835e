package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/breakdown-cli/internal/model"
)

func TestMarkdown_Report(t *testing.T) {
	sr := signals()
	likes := int64(1200)
	sr.EngagementMetrics.Likes = &likes
	rep := Heuristic(sr, fixedNow)
	rep.Summary = "总结"

	md := Markdown(rep)
	assert.Contains(t, md, "# 如何剪辑\n")
	assert.Contains(t, md, "- engagement: likes 1200\n")
	assert.Contains(t, md, "## Summary\n\n总结\n")
	assert.Contains(t, md, "### opening hook\n")
	assert.Contains(t, md, "> [frame_ocr] frame_001.jpg frame_001.jpg (0.90)")
	assert.Contains(t, md, "- "+LimitationInferred)
}

func TestMarkdown_Failure(t *testing.T) {
	md := Markdown(Report{Error: model.NewStructuredError(model.ErrUpstreamStageFailed, "", nil)})
	assert.Contains(t, md, "# Breakdown failed")
	assert.Contains(t, md, "`UpstreamStageFailed`")
}

func TestMarkdown_TitleFallsBackToURL(t *testing.T) {
	md := Markdown(Report{OK: true, Meta: ReportMeta{URL: "https://x"}})
	assert.Contains(t, md, "# https://x\n")
}
