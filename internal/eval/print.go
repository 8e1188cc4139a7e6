package eval

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

const durationPrecision = 100 * time.Millisecond

// WriteSummary renders the run as a table followed by the pass rate.
// Diffs for non-equivalent cases are printed after the table so the
// table itself stays scannable.
func WriteSummary(w io.Writer, summary *Summary) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetRowLine(true)
	table.SetHeader([]string{"Case", "Question", "Outcome", "Attempts", "Detail"})

	for _, r := range summary.Reports {
		table.Append([]string{
			r.Case.ID,
			truncateCell(r.Case.Question, 60),
			string(r.Outcome),
			fmt.Sprintf("%d", r.Attempts),
			truncateCell(r.Detail, 60),
		})
	}
	table.Render()

	fmt.Fprintf(w, "Passed %d/%d (%.0f%%), %d errors, took %s\n",
		summary.Passed, summary.Total(), summary.PassRate()*100,
		summary.Errors, summary.Duration.Round(durationPrecision))

	for _, r := range summary.Reports {
		if r.Diff == "" {
			continue
		}
		fmt.Fprintf(w, "\n%s: expected vs. generated\n%s", r.Case.ID, r.Diff)
	}
}

func truncateCell(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
