package tui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/logflow/dqengine/pkg/result"
	"github.com/logflow/dqengine/pkg/suite"
)

func TestPrintRun(t *testing.T) {
	pct := 40.0
	half := 50.0
	run := &suite.Run{
		Suite:      "orders",
		BatchID:    "0123456789abcdef",
		DurationMs: 1500,
		Statistics: suite.Statistics{Evaluated: 2, Successful: 1, Unsuccessful: 1, SuccessPercent: &half},
		Results: []*result.Result{
			{
				Success:           true,
				ExpectationConfig: &result.ExpectationConfig{ExpectationType: "expect_column_values_to_be_unique", Kwargs: map[string]interface{}{"column": "id"}},
				Result:            &result.StandardMapReport{ElementCount: 5},
			},
			{
				ExpectationConfig: &result.ExpectationConfig{ExpectationType: "expect_column_values_to_be_in_set", Kwargs: map[string]interface{}{"column": "status"}},
				Result: &result.StandardMapReport{
					ElementCount:          5,
					UnexpectedCount:       2,
					UnexpectedPercent:     &pct,
					PartialUnexpectedList: []interface{}{"lost", "void"},
				},
			},
		},
	}

	var buf bytes.Buffer
	PrintRun(&buf, run, true)
	out := buf.String()
	for _, want := range []string{
		"orders",
		"FAILED",
		"batch 0123456789ab",
		"column_values_to_be_unique (id)",
		"2 of 5 unexpected (40.00%)",
		"unexpected: lost, void",
		"1/2 passed",
		"(50.0%)",
		"1.5s",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestDetailOfRaisedExpectation(t *testing.T) {
	res := &result.Result{ExceptionInfo: &result.ExceptionInfo{RaisedException: true, ExceptionMessage: "boom\nstack"}}
	if got := detail(res); got != "raised: boom" {
		t.Errorf("detail() = %q", got)
	}
}

func TestPrintTableAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	PrintTable(&buf, []string{"column", "type"}, [][]string{{"id", "INTEGER"}, {"status_code", "VARCHAR"}})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	last := lines[len(lines)-1]
	if !strings.HasPrefix(last, "  status_code  VARCHAR") {
		t.Errorf("last row = %q", last)
	}
	if !strings.Contains(buf.String(), "  id           INTEGER") {
		t.Errorf("rows not padded:\n%s", buf.String())
	}
}

func TestFormatting(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{formatNumber(999), "999"},
		{formatNumber(1500), "1.5K"},
		{formatNumber(2500000), "2.5M"},
		{formatDuration(250 * time.Millisecond), "250ms"},
		{formatDuration(90 * time.Second), "1m30s"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
