// Package report renders analysis results for human review.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/markwbennett/PDRbot/internal/pipeline"
)

// Format selects the report rendering.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
)

// Options control report content.
type Options struct {
	Format Format
	// Date restricts the report to opinions published that day; nil means
	// everything analyzed.
	Date *time.Time
	// InterestingOnly notes in the title that rows were restricted to
	// opinions whose analysis flagged issues. The ledger query does the
	// actual filtering.
	InterestingOnly bool
}

// Write renders the analyzed opinions to w. Rows arrive from the ledger
// already ordered interesting-first.
func Write(w io.Writer, rows []pipeline.AnalyzedOpinion, opts Options) error {
	switch opts.Format {
	case FormatMarkdown:
		return writeMarkdown(w, rows, opts)
	case FormatText, "":
		return writeText(w, rows, opts)
	default:
		return fmt.Errorf("unknown report format %q", opts.Format)
	}
}

func title(opts Options) string {
	head := "Criminal opinions, all analyzed"
	if opts.Date != nil {
		head = fmt.Sprintf("Criminal opinions for %s", opts.Date.Format("January 2, 2006"))
	}
	if opts.InterestingOnly {
		head += " (interesting only)"
	}
	return head
}

func caseLabel(op pipeline.Opinion) string {
	label := fmt.Sprintf("%s %s (%s)", op.CaseNumber, opinionTypeName(op.OpinionType), op.SourceID)
	if op.JusticeName != "" {
		label += " by Justice " + capitalize(op.JusticeName)
	}
	return label
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func opinionTypeName(t string) string {
	switch t {
	case "mem":
		return "memorandum opinion"
	case "con":
		return "concurring opinion"
	case "dis":
		return "dissenting opinion"
	default:
		return "opinion"
	}
}

func writeText(w io.Writer, rows []pipeline.AnalyzedOpinion, opts Options) error {
	head := title(opts)
	if _, err := fmt.Fprintf(w, "%s\n%s\n\n", head, strings.Repeat("=", len(head))); err != nil {
		return err
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No analyzed opinions.")
		return err
	}
	for _, row := range rows {
		marker := " "
		if row.Analysis.Interesting {
			marker = "*"
		}
		if _, err := fmt.Fprintf(w, "%s %s\n  issues: %d  analyzed: %s  model: %s\n\n%s\n\n",
			marker,
			caseLabel(row.Opinion),
			row.Analysis.IssueCount,
			row.Analysis.AnalyzedAt.Format("2006-01-02 15:04"),
			row.Analysis.EngineModel,
			indent(strings.TrimSpace(row.Analysis.RawText), "  "),
		); err != nil {
			return err
		}
	}
	return nil
}

func writeMarkdown(w io.Writer, rows []pipeline.AnalyzedOpinion, opts Options) error {
	if _, err := fmt.Fprintf(w, "# %s\n\n", title(opts)); err != nil {
		return err
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "_No analyzed opinions._")
		return err
	}
	for _, row := range rows {
		flag := ""
		if row.Analysis.Interesting {
			flag = " ⚑"
		}
		if _, err := fmt.Fprintf(w, "## %s%s\n\n- Issues: %d\n- Analyzed: %s\n- Model: %s\n\n%s\n\n",
			caseLabel(row.Opinion),
			flag,
			row.Analysis.IssueCount,
			row.Analysis.AnalyzedAt.Format("2006-01-02 15:04"),
			row.Analysis.EngineModel,
			strings.TrimSpace(row.Analysis.RawText),
		); err != nil {
			return err
		}
	}
	return nil
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}
