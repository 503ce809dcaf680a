package collector

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

const maxErrorWidth = 60

// WriteSummary renders the report as an aligned table. Widths are measured
// in terminal cells so non-ASCII keyword-set names line up.
func (r *Report) WriteSummary(w io.Writer) error {
	header := []string{"KEYWORD SET", "WINDOW", "STAGE", "FETCHED", "KEPT", "STORED", "ERROR"}
	rows := [][]string{header}

	for i := range r.Outcomes {
		o := &r.Outcomes[i]
		stage := string(o.Stage)
		if o.Failed() && o.FailedAt != "" {
			stage = fmt.Sprintf("%s@%s", StageFailed, o.FailedAt)
		} else if o.Partial {
			stage += " (partial)"
		}
		rows = append(rows, []string{
			o.KeywordSet,
			o.Window,
			stage,
			strconv.Itoa(o.Fetched),
			strconv.Itoa(o.Kept),
			strconv.Itoa(o.Stored),
			runewidth.Truncate(o.ErrorText(), maxErrorWidth, "..."),
		})
	}

	widths := make([]int, len(header))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	var sb strings.Builder
	for _, row := range rows {
		for i, cell := range row {
			if i == len(row)-1 {
				sb.WriteString(cell)
				break
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
			sb.WriteString("  ")
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "\n%d keyword set run(s), %d failed, %d article(s) stored in %s\n",
		len(r.Outcomes), r.Failures(), r.Stored(), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.Cancelled {
		sb.WriteString("Run was cancelled before every keyword set was processed.\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
