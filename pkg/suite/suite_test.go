package suite

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/logflow/dqengine/pkg/batch"
	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/metrics"
	"github.com/logflow/dqengine/pkg/result"
)

const ordersSuite = `
name: orders
batch:
  query: SELECT * FROM (VALUES (1, 'new', 10.5), (2, 'paid', 3.0), (3, 'paid', NULL), (4, 'lost', 7.25)) AS t(id, status, amount)
expectations:
  - expectation_type: expect_column_values_to_be_unique
    kwargs:
      column: id
  - expectation_type: expect_column_values_to_be_in_set
    kwargs:
      column: status
      value_set: [new, paid]
    meta:
      owner: billing
  - expectation_type: expect_column_values_to_be_between
    kwargs:
      column: amount
      min_value: 0
      max_value: 20
  - expectation_type: expect_column_values_to_be_increasing
    kwargs:
      column: id
  - expectation_type: expect_column_values_to_not_be_null
    kwargs:
      column: amount
      mostly: 0.7
  - expectation_type: expect_column_values_to_be_of_type
    kwargs:
      column: id
      type_: INTEGER
`

func newRunner(t *testing.T, opts Options) *Runner {
	t.Helper()
	rt, err := engine.New(engine.Options{Threads: 1})
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	l := batch.NewLoader(rt, batch.LoaderOptions{Persist: true, TempDir: t.TempDir()})
	return NewRunner(rt, l, metrics.Defaults(), opts)
}

func mustParse(t *testing.T, doc string) *Suite {
	t.Helper()
	s, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return s
}

func TestParseRejectsInvalidSuites(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing name", "expectations:\n  - expectation_type: expect_column_values_to_be_unique\n"},
		{"no expectations", "name: x\nexpectations: []\n"},
		{"missing type", "name: x\nexpectations:\n  - kwargs: {column: a}\n"},
		{"unknown type", "name: x\nexpectations:\n  - expectation_type: expect_the_unexpected\n"},
		{"two sources", "name: x\nbatch: {path: a.csv, query: SELECT 1}\nexpectations:\n  - expectation_type: expect_column_values_to_be_unique\n"},
		{"bad s3 url", "name: x\nbatch: {s3: 'http://bucket/key'}\nexpectations:\n  - expectation_type: expect_column_values_to_be_unique\n"},
		{"malformed", "name: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if !dqerrors.IsCode(err, dqerrors.CodeConfiguration) {
				t.Errorf("Parse() error = %v, want configuration error", err)
			}
		})
	}
}

func TestSourceSpec(t *testing.T) {
	spec, err := Source{S3: "s3://lake/raw/orders.parquet", Limit: 10}.Spec()
	if err != nil {
		t.Fatal(err)
	}
	s3, ok := spec.(batch.S3Spec)
	if !ok || s3.Bucket != "lake" || s3.Key != "raw/orders.parquet" || s3.Limit != 10 {
		t.Errorf("Spec() = %#v", spec)
	}

	spec, err = Source{Path: "orders.csv", ReaderMethod: "read_csv"}.Spec()
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := spec.(batch.PathSpec); !ok || p.Path != "orders.csv" {
		t.Errorf("Spec() = %#v", spec)
	}

	if _, err := (Source{S3: "s3://bucket-only"}).Spec(); !dqerrors.IsCode(err, dqerrors.CodeConfiguration) {
		t.Errorf("Spec() error = %v, want configuration error", err)
	}
}

func TestRunMixesGraphAndDirectExpectations(t *testing.T) {
	s := mustParse(t, ordersSuite)
	spec, err := s.Batch.Spec()
	if err != nil {
		t.Fatal(err)
	}

	var ticks int
	r := newRunner(t, Options{Progress: func() { ticks++ }})
	run, err := r.Run(context.Background(), s, spec)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []bool{true, false, true, true, true, true}
	for i, res := range run.Results {
		if res.Success != want[i] {
			t.Errorf("result %d (%s) success = %v, want %v", i, s.Expectations[i].Type, res.Success, want[i])
		}
		if res.ExpectationConfig == nil || res.ExpectationConfig.ExpectationType != s.Expectations[i].Type {
			t.Errorf("result %d missing expectation config", i)
		}
	}
	if ticks != len(s.Expectations) {
		t.Errorf("progress called %d times, want %d", ticks, len(s.Expectations))
	}
	if run.Results[1].Meta["owner"] != "billing" {
		t.Errorf("meta = %v", run.Results[1].Meta)
	}
	report := run.Results[1].Result.(*result.StandardMapReport)
	if report.UnexpectedCount != 1 || len(report.PartialUnexpectedList) != 1 || report.PartialUnexpectedList[0] != "lost" {
		t.Errorf("in set report = %+v", report)
	}

	st := run.Statistics
	if st.Evaluated != 6 || st.Successful != 5 || st.Unsuccessful != 1 || run.Success {
		t.Errorf("statistics = %+v, success = %v", st, run.Success)
	}
	if st.SuccessPercent == nil || *st.SuccessPercent < 83.3 || *st.SuccessPercent > 83.4 {
		t.Errorf("success percent = %v", st.SuccessPercent)
	}
	if run.ID == "" || run.BatchID == "" || run.Markers.RowCount != 4 {
		t.Errorf("run = %+v", run)
	}
}

func TestGraphAndDirectRunsAgree(t *testing.T) {
	s := mustParse(t, ordersSuite)
	spec, _ := s.Batch.Spec()

	graph, err := newRunner(t, Options{}).Run(context.Background(), s, spec)
	if err != nil {
		t.Fatal(err)
	}
	direct, err := newRunner(t, Options{DirectOnly: true}).Run(context.Background(), s, spec)
	if err != nil {
		t.Fatal(err)
	}
	for i := range s.Expectations {
		g, _ := json.Marshal(graph.Results[i].Result)
		d, _ := json.Marshal(direct.Results[i].Result)
		if string(g) != string(d) {
			t.Errorf("%s: graph = %s, direct = %s", s.Expectations[i].Type, g, d)
		}
	}
}

func TestRunErrorHandling(t *testing.T) {
	doc := `
name: broken
expectations:
  - expectation_type: expect_column_values_to_be_in_set
    kwargs:
      column: status
  - expectation_type: expect_column_values_to_match_regex
    kwargs:
      column: status
      regex: "^p"
      output_strftime_format: "%Y"
`
	s := mustParse(t, doc)
	spec := batch.QuerySpec{Query: "SELECT * FROM (VALUES ('paid'), ('new')) AS t(status)"}

	_, err := newRunner(t, Options{}).Run(context.Background(), s, spec)
	if !dqerrors.IsCode(err, dqerrors.CodeMissingParameter) {
		t.Fatalf("Run() error = %v, want missing parameter", err)
	}

	run, err := newRunner(t, Options{Defaults: Defaults{CatchExceptions: true}}).Run(context.Background(), s, spec)
	if err != nil {
		t.Fatalf("Run() with caught exceptions error = %v", err)
	}
	info := run.Results[0].ExceptionInfo
	if info == nil || !info.RaisedException || info.ExceptionMessage == "" {
		t.Errorf("exception info = %+v", info)
	}
	if run.Results[1].ExceptionInfo != nil || run.Results[1].Success {
		t.Errorf("regex result = %+v, want an evaluated failure", run.Results[1])
	}
	if run.Statistics.Unsuccessful != 2 {
		t.Errorf("statistics = %+v", run.Statistics)
	}
}

func TestRunAllKeepsOrder(t *testing.T) {
	s := mustParse(t, `
name: counts
expectations:
  - expectation_type: expect_column_values_to_be_between
    kwargs: {column: n, min_value: 0, max_value: 2}
`)
	specs := []batch.Spec{
		batch.QuerySpec{Query: "SELECT * FROM range(3) AS t(n)"},
		batch.QuerySpec{Query: "SELECT * FROM range(5) AS t(n)"},
		batch.QuerySpec{Query: "SELECT * FROM range(2) AS t(n)"},
	}

	runs, err := newRunner(t, Options{Concurrency: 2}).RunAll(context.Background(), s, specs)
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	want := []bool{true, false, true}
	for i, run := range runs {
		if run.Success != want[i] {
			t.Errorf("run %d success = %v, want %v", i, run.Success, want[i])
		}
		if run.BatchID != batch.ID(specs[i]) {
			t.Errorf("run %d batch = %s, want %s", i, run.BatchID, batch.ID(specs[i]))
		}
	}
	if runs[0].ID == runs[1].ID {
		t.Error("run ids should be unique")
	}
}

func TestTypesAreSorted(t *testing.T) {
	types := Types()
	for i := 1; i < len(types); i++ {
		if types[i-1] >= types[i] {
			t.Fatalf("Types() not sorted at %d: %v", i, types)
		}
	}
	if !Known("expect_multicolumn_values_to_be_unique") || Known("expect_nothing") {
		t.Error("Known() mismatch")
	}
}
