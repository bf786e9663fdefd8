package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markwbennett/PDRbot/internal/pipeline"
)

func sampleRows() []pipeline.AnalyzedOpinion {
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	analyzed := date.Add(12 * time.Hour)
	return []pipeline.AnalyzedOpinion{
		{
			Opinion: pipeline.Opinion{
				SourceID:        "coa01",
				CaseNumber:      "01-23-00751-CR",
				OpinionType:     "dis",
				JusticeName:     "goodman",
				PublicationDate: date,
			},
			Analysis: pipeline.Analysis{
				EngineModel: "claude-3-5-sonnet-20250107",
				RawText:     "▪ Issue Description: suppression ruling conflict",
				IssueCount:  1,
				Interesting: true,
				AnalyzedAt:  analyzed,
			},
		},
		{
			Opinion: pipeline.Opinion{
				SourceID:        "coa05",
				CaseNumber:      "05-23-00100-CR",
				OpinionType:     "mem",
				PublicationDate: date,
			},
			Analysis: pipeline.Analysis{
				EngineModel: "claude-3-5-sonnet-20250107",
				RawText:     "This opinion presents no interesting issues.",
				AnalyzedAt:  analyzed,
			},
		},
	}
}

func TestWriteTextReport(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	err := Write(&b, sampleRows(), Options{Format: FormatText, Date: &date})
	require.NoError(t, err)

	out := b.String()
	require.Contains(t, out, "Criminal opinions for March 14, 2025")
	require.Contains(t, out, "* 01-23-00751-CR dissenting opinion (coa01) by Justice Goodman")
	require.Contains(t, out, "05-23-00100-CR memorandum opinion (coa05)")
	require.Contains(t, out, "issues: 1")
	require.Contains(t, out, "suppression ruling conflict")
}

func TestWriteMarkdownReport(t *testing.T) {
	t.Parallel()
	var b strings.Builder

	err := Write(&b, sampleRows(), Options{Format: FormatMarkdown})
	require.NoError(t, err)

	out := b.String()
	require.Contains(t, out, "# Criminal opinions, all analyzed")
	require.Contains(t, out, "## 01-23-00751-CR dissenting opinion (coa01) by Justice Goodman ⚑")
	require.Contains(t, out, "- Issues: 1")
	require.NotContains(t, out, "05-23-00100-CR ⚑", "non-interesting opinions carry no flag")
}

func TestWriteInterestingOnlyNotedInTitle(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	err := Write(&b, sampleRows()[:1], Options{
		Format:          FormatMarkdown,
		Date:            &date,
		InterestingOnly: true,
	})
	require.NoError(t, err)
	require.Contains(t, b.String(), "# Criminal opinions for March 14, 2025 (interesting only)")
}

func TestWriteEmptyReport(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	require.NoError(t, Write(&b, nil, Options{Format: FormatText}))
	require.Contains(t, b.String(), "No analyzed opinions.")

	b.Reset()
	require.NoError(t, Write(&b, nil, Options{Format: FormatMarkdown}))
	require.Contains(t, b.String(), "_No analyzed opinions._")
}

func TestWriteUnknownFormat(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	require.Error(t, Write(&b, nil, Options{Format: "pdf"}))
}
