// Package tui renders validation runs and profiles for the terminal.
package tui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/logflow/dqengine/pkg/result"
	"github.com/logflow/dqengine/pkg/suite"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	failStyle    = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true).Foreground(white)
)

const rule = "─────────────────────────────────────"

// PrintRun writes a summary of run. With verbose, sample unexpected values
// are listed under failed expectations.
func PrintRun(w io.Writer, run *suite.Run, verbose bool) {
	fmt.Fprintln(w)
	status := successStyle.Render("✓ PASSED")
	if !run.Success {
		status = failStyle.Render("✗ FAILED")
	}
	fmt.Fprintf(w, "  %s %s  %s\n", titleStyle.Render(run.Suite), status, mutedStyle.Render(shortID(run.BatchID)))
	fmt.Fprintln(w, mutedStyle.Render("  "+rule))

	for _, res := range run.Results {
		mark := successStyle.Render("✓")
		if !res.Success {
			mark = failStyle.Render("✗")
		}
		fmt.Fprintf(w, "  %s %s %s\n", mark, expectationLabel(res), mutedStyle.Render(detail(res)))
		if verbose && !res.Success {
			if sample := sampleValues(res); sample != "" {
				fmt.Fprintf(w, "      %s %s\n", mutedStyle.Render("unexpected:"), sample)
			}
		}
	}

	st := run.Statistics
	fmt.Fprintln(w, mutedStyle.Render("  "+rule))
	percent := "n/a"
	if st.SuccessPercent != nil {
		percent = fmt.Sprintf("%.1f%%", *st.SuccessPercent)
	}
	fmt.Fprintf(w, "  %s %d/%d passed %s %s\n",
		mutedStyle.Render("Expectations:"), st.Successful, st.Evaluated,
		mutedStyle.Render("("+percent+")"),
		mutedStyle.Render(formatDuration(time.Duration(run.DurationMs)*time.Millisecond)))
	fmt.Fprintln(w)
}

func shortID(id string) string {
	if len(id) > 12 {
		return "batch " + id[:12]
	}
	return "batch " + id
}

func expectationLabel(res *result.Result) string {
	if res.ExpectationConfig == nil {
		return "expectation"
	}
	cfg := res.ExpectationConfig
	var cols []string
	for _, k := range []string{"column", "column_A", "column_B"} {
		if v, ok := cfg.Kwargs[k]; ok {
			cols = append(cols, fmt.Sprint(v))
		}
	}
	if v, ok := cfg.Kwargs["column_list"]; ok {
		cols = append(cols, fmt.Sprint(v))
	}
	label := strings.TrimPrefix(cfg.ExpectationType, "expect_")
	if len(cols) > 0 {
		label += " (" + strings.Join(cols, ", ") + ")"
	}
	return label
}

func detail(res *result.Result) string {
	if res.ExceptionInfo != nil && res.ExceptionInfo.RaisedException {
		return "raised: " + firstLine(res.ExceptionInfo.ExceptionMessage)
	}
	switch r := res.Result.(type) {
	case *result.StandardMapReport:
		return fmt.Sprintf("%s of %s unexpected%s", formatNumber(r.UnexpectedCount), formatNumber(r.ElementCount), pct(r.UnexpectedPercent))
	case *result.MissingnessReport:
		return fmt.Sprintf("%s of %s unexpected%s", formatNumber(r.UnexpectedCount), formatNumber(r.ElementCount), pct(r.UnexpectedPercent))
	case *result.ObservedValueReport:
		return fmt.Sprintf("observed %v", r.ObservedValue)
	}
	return ""
}

func pct(p *float64) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf(" (%.2f%%)", *p)
}

func sampleValues(res *result.Result) string {
	var values []interface{}
	switch r := res.Result.(type) {
	case *result.StandardMapReport:
		values = r.PartialUnexpectedList
	case *result.MissingnessReport:
		values = r.PartialUnexpectedList
	}
	if len(values) == 0 {
		return ""
	}
	const max = 5
	parts := make([]string, 0, max+1)
	for i, v := range values {
		if i == max {
			parts = append(parts, fmt.Sprintf("+%d more", len(values)-max))
			break
		}
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	return strings.Join(parts, ", ")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// PrintTable writes rows under bold headers with padded columns.
func PrintTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := range headers {
			if i < len(row) && lipgloss.Width(row[i]) > widths[i] {
				widths[i] = lipgloss.Width(row[i])
			}
		}
	}

	cells := make([]string, len(headers))
	for i, h := range headers {
		cells[i] = pad(h, widths[i])
	}
	fmt.Fprintln(w, "  "+headerStyle.Render(strings.Join(cells, "  ")))
	for _, row := range rows {
		for i := range headers {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			cells[i] = pad(v, widths[i])
		}
		fmt.Fprintln(w, "  "+strings.Join(cells, "  "))
	}
}

func pad(s string, width int) string {
	if n := width - lipgloss.Width(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}

// PrintCounts writes a value count listing, largest first.
func PrintCounts(w io.Writer, title string, counts map[string]int64) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	fmt.Fprintln(w, "  "+titleStyle.Render(title))
	for _, k := range keys {
		fmt.Fprintf(w, "    %s %s\n", pad(k, 20), mutedStyle.Render(formatNumber(counts[k])))
	}
}

// ShowProgress creates a progress bar over total expectations.
func ShowProgress(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}
