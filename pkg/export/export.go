// Package export writes validation runs for BI tools and spreadsheets.
package export

import (
	"fmt"
	"time"

	"github.com/logflow/dqengine/pkg/result"
	"github.com/logflow/dqengine/pkg/suite"
)

// ResultRow is one expectation result of one run, flattened.
type ResultRow struct {
	RunID             string
	Suite             string
	BatchID           string
	RunTime           time.Time
	Position          int
	ExpectationType   string
	Column            string
	Success           bool
	Raised            bool
	ElementCount      *int64
	UnexpectedCount   *int64
	UnexpectedPercent *float64
	Observed          *string
}

var resultColumns = []string{
	"run_id", "suite_name", "batch_id", "run_time", "position", "expectation_type",
	"column", "success", "raised_exception", "element_count", "unexpected_count",
	"unexpected_percent", "observed_value",
}

// Rows flattens runs in order.
func Rows(runs []*suite.Run) []ResultRow {
	var out []ResultRow
	for _, run := range runs {
		for i, res := range run.Results {
			row := ResultRow{
				RunID:    run.ID,
				Suite:    run.Suite,
				BatchID:  run.BatchID,
				RunTime:  run.StartedAt,
				Position: i,
				Success:  res.Success,
				Raised:   res.ExceptionInfo != nil && res.ExceptionInfo.RaisedException,
			}
			if cfg := res.ExpectationConfig; cfg != nil {
				row.ExpectationType = cfg.ExpectationType
				if c, ok := cfg.Kwargs["column"]; ok {
					row.Column = fmt.Sprint(c)
				} else if a, ok := cfg.Kwargs["column_A"]; ok {
					row.Column = fmt.Sprintf("%v,%v", a, cfg.Kwargs["column_B"])
				} else if l, ok := cfg.Kwargs["column_list"]; ok {
					row.Column = fmt.Sprint(l)
				}
			}
			switch r := res.Result.(type) {
			case *result.StandardMapReport:
				row.ElementCount, row.UnexpectedCount = &r.ElementCount, &r.UnexpectedCount
				row.UnexpectedPercent = r.UnexpectedPercent
			case *result.MissingnessReport:
				row.ElementCount, row.UnexpectedCount = &r.ElementCount, &r.UnexpectedCount
				row.UnexpectedPercent = r.UnexpectedPercent
			case *result.ObservedValueReport:
				s := fmt.Sprint(r.ObservedValue)
				row.Observed = &s
			}
			out = append(out, row)
		}
	}
	return out
}

func (r ResultRow) values() []interface{} {
	return []interface{}{
		r.RunID, r.Suite, r.BatchID, r.RunTime, r.Position, r.ExpectationType,
		r.Column, r.Success, r.Raised, r.ElementCount, r.UnexpectedCount,
		r.UnexpectedPercent, r.Observed,
	}
}
