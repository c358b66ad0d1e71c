package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/result"
	"github.com/logflow/dqengine/pkg/suite"
)

func sampleRuns() []*suite.Run {
	pct := 25.0
	half := 50.0
	return []*suite.Run{{
		ID:         "run-1",
		Suite:      "orders",
		BatchID:    "b1",
		StartedAt:  time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		Statistics: suite.Statistics{Evaluated: 2, Successful: 1, Unsuccessful: 1, SuccessPercent: &half},
		Results: []*result.Result{
			{
				ExpectationConfig: &result.ExpectationConfig{ExpectationType: "expect_column_values_to_be_in_set", Kwargs: map[string]interface{}{"column": "status"}},
				Result:            &result.StandardMapReport{ElementCount: 4, UnexpectedCount: 1, UnexpectedPercent: &pct},
			},
			{
				Success:           true,
				ExpectationConfig: &result.ExpectationConfig{ExpectationType: "expect_column_values_to_be_of_type", Kwargs: map[string]interface{}{"column": "id"}},
				Result:            &result.ObservedValueReport{ObservedValue: "INTEGER"},
			},
		},
	}}
}

func TestRows(t *testing.T) {
	rows := Rows(sampleRuns())
	if len(rows) != 2 {
		t.Fatalf("len(Rows()) = %d, want 2", len(rows))
	}
	if rows[0].Column != "status" || *rows[0].UnexpectedCount != 1 || rows[0].Observed != nil {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].Position != 1 || rows[1].ElementCount != nil || *rows[1].Observed != "INTEGER" {
		t.Errorf("row 1 = %+v", rows[1])
	}
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.xlsx")
	if err := WriteXLSX(path, sampleRuns()); err != nil {
		t.Fatalf("WriteXLSX() error = %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := f.GetRows(resultsSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[0][0] != "run_id" || rows[1][5] != "expect_column_values_to_be_in_set" {
		t.Errorf("results sheet = %v", rows)
	}
	runs, _ := f.GetRows(runsSheet)
	if len(runs) != 2 || runs[1][1] != "orders" {
		t.Errorf("runs sheet = %v", runs)
	}
}

func TestWriteTable(t *testing.T) {
	rt, err := engine.New(engine.Options{Threads: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "results.parquet")
	if err := WriteTable(ctx, rt, sampleRuns(), path); err != nil {
		t.Fatalf("WriteTable() error = %v", err)
	}

	var n, failed int64
	err = rt.QueryRow(ctx, "SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT success) FROM read_parquet("+engine.Literal(path)+")", &n, &failed)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || failed != 1 {
		t.Errorf("exported %d rows with %d failures, want 2 and 1", n, failed)
	}

	var leftover int64
	if err := rt.QueryRow(ctx, "SELECT COUNT(*) FROM duckdb_tables() WHERE starts_with(table_name, '__dq_export_')", &leftover); err != nil {
		t.Fatal(err)
	}
	if leftover != 0 {
		t.Errorf("%d export tables left behind", leftover)
	}

	if err := WriteTable(ctx, rt, sampleRuns(), "out.xml"); !dqerrors.IsCode(err, dqerrors.CodeConfiguration) {
		t.Errorf("WriteTable(xml) error = %v", err)
	}
}
