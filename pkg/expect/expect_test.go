package expect

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/logflow/dqengine/pkg/batch"
	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/result"
)

const scenario = `SELECT * FROM (VALUES (1), (2), (3), (NULL), (5)) AS t(x)`

func newEvaluator(t *testing.T, query string) *Evaluator {
	t.Helper()
	rt, err := engine.New(engine.Options{Threads: 1})
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	t.Cleanup(func() { rt.Close() })

	l := batch.NewLoader(rt, batch.LoaderOptions{Persist: true, TempDir: t.TempDir()})
	if _, err := l.Load(context.Background(), batch.QuerySpec{Query: query}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return New(rt, l.Batches(), nil)
}

func mapReport(t *testing.T, res *result.Result) *result.StandardMapReport {
	t.Helper()
	r, ok := res.Result.(*result.StandardMapReport)
	if !ok {
		t.Fatalf("report is %T, want *result.StandardMapReport", res.Result)
	}
	return r
}

func pinnedTables(t *testing.T, e *Evaluator) int64 {
	t.Helper()
	var n int64
	err := e.Runtime().QueryRow(context.Background(),
		"SELECT COUNT(*) FROM duckdb_tables() WHERE starts_with(table_name, '__dq_pin_')", &n)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestBetweenRequiresAllByDefault(t *testing.T) {
	e := newEvaluator(t, scenario)
	res, err := e.ExpectColumnValuesToBeBetween(context.Background(), "x", 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("success should be false without mostly")
	}
	r := mapReport(t, res)
	if r.ElementCount != 5 || r.MissingCount != 1 || r.UnexpectedCount != 2 {
		t.Errorf("counts = %d/%d/%d, want 5/1/2", r.ElementCount, r.MissingCount, r.UnexpectedCount)
	}
	if !reflect.DeepEqual(r.PartialUnexpectedList, []interface{}{int64(1), int64(5)}) {
		t.Errorf("partial_unexpected_list = %v, want [1 5]", r.PartialUnexpectedList)
	}
	if r.UnexpectedPercentNonmissing == nil || *r.UnexpectedPercentNonmissing != 50 {
		t.Errorf("unexpected_percent_nonmissing = %v, want 50", r.UnexpectedPercentNonmissing)
	}
	if r.PartialUnexpectedCounts != nil || r.PartialUnexpectedIndexList != nil {
		t.Error("BASIC should not carry SUMMARY fields")
	}
}

func TestMostlyThreshold(t *testing.T) {
	e := newEvaluator(t, scenario)
	tests := []struct {
		mostly float64
		want   bool
	}{
		{0.5, true},
		{0.49, true},
		{0.51, false},
	}
	for _, tt := range tests {
		res, err := e.ExpectColumnValuesToBeBetween(context.Background(), "x", 2, 4, Mostly(tt.mostly))
		if err != nil {
			t.Fatal(err)
		}
		if res.Success != tt.want {
			t.Errorf("mostly=%v: success = %v, want %v", tt.mostly, res.Success, tt.want)
		}
	}

	if _, err := e.ExpectColumnValuesToBeBetween(context.Background(), "x", 2, 4, Mostly(1.5)); !dqerrors.IsCode(err, dqerrors.CodeConfiguration) {
		t.Errorf("mostly=1.5 error = %v, want configuration error", err)
	}
}

func TestNullInValueSetFailsBeforeQuerying(t *testing.T) {
	e := newEvaluator(t, scenario)
	before := e.Runtime().QueryCount()
	_, err := e.ExpectColumnValuesToBeInSet(context.Background(), "x", []interface{}{1, 2, nil})
	if !dqerrors.IsCode(err, dqerrors.CodeUnsupportedValue) {
		t.Fatalf("error = %v, want unsupported value", err)
	}
	if got := e.Runtime().QueryCount(); got != before {
		t.Errorf("%d queries ran before the error", got-before)
	}
}

func TestMissingValueSet(t *testing.T) {
	e := newEvaluator(t, scenario)
	ctx := context.Background()
	if _, err := e.ExpectColumnValuesToBeInSet(ctx, "x", nil); !dqerrors.IsCode(err, dqerrors.CodeMissingParameter) {
		t.Errorf("in set error = %v, want missing parameter", err)
	}
	if _, err := e.ExpectColumnValuesToNotBeInSet(ctx, "x", nil); !dqerrors.IsCode(err, dqerrors.CodeMissingParameter) {
		t.Errorf("not in set error = %v, want missing parameter", err)
	}
}

func TestCompleteIsUncapped(t *testing.T) {
	e := newEvaluator(t, `SELECT range AS n FROM range(500)`)
	res, err := e.ExpectColumnValuesToBeBetween(context.Background(), "n", nil, -1, WithResultFormat("COMPLETE"))
	if err != nil {
		t.Fatal(err)
	}
	r := mapReport(t, res)
	if r.UnexpectedCount != 500 {
		t.Fatalf("unexpected_count = %d, want 500", r.UnexpectedCount)
	}
	if r.UnexpectedList == nil || len(*r.UnexpectedList) != 500 {
		t.Fatal("COMPLETE must return every unexpected value")
	}
	if r.UnexpectedIndexList.Len() != 500 {
		t.Errorf("unexpected_index_list has %d positions", r.UnexpectedIndexList.Len())
	}
	if len(r.PartialUnexpectedList) != result.DefaultPartialUnexpectedCount {
		t.Errorf("partial list = %d, want %d", len(r.PartialUnexpectedList), result.DefaultPartialUnexpectedCount)
	}
	if (*r.UnexpectedList)[499] != int64(499) {
		t.Errorf("last value = %v, evidence should follow row order", (*r.UnexpectedList)[499])
	}
}

func TestTruncationAndCountInvariant(t *testing.T) {
	e := newEvaluator(t, `SELECT CASE WHEN "range" % 7 = 0 THEN NULL ELSE "range" END AS n FROM range(100)`)

	tests := []struct {
		format interface{}
		count  int
	}{
		{"BASIC", 20},
		{map[string]interface{}{"result_format": "SUMMARY", "partial_unexpected_count": 5}, 5},
		{result.Format{ResultFormat: result.Basic, PartialUnexpectedCount: 200}, 200},
	}
	for _, tt := range tests {
		res, err := e.ExpectColumnValuesToBeBetween(context.Background(), "n", 0, 40, WithResultFormat(tt.format))
		if err != nil {
			t.Fatal(err)
		}
		r := mapReport(t, res)
		nonnull := r.ElementCount - r.MissingCount
		// 15 nulls; values 41..99 fail except multiples of 7.
		if r.ElementCount != 100 || nonnull != 85 {
			t.Fatalf("element/nonnull = %d/%d, want 100/85", r.ElementCount, nonnull)
		}
		want := tt.count
		if int64(want) > r.UnexpectedCount {
			want = int(r.UnexpectedCount)
		}
		if len(r.PartialUnexpectedList) != want {
			t.Errorf("format %v: len(partial) = %d, want %d", tt.format, len(r.PartialUnexpectedList), want)
		}
	}
}

func TestShortCircuitsEvidence(t *testing.T) {
	e := newEvaluator(t, scenario)
	ctx := context.Background()

	queries := func(fn func() (*result.Result, error)) int64 {
		before := e.Runtime().QueryCount()
		if _, err := fn(); err != nil {
			t.Fatal(err)
		}
		return e.Runtime().QueryCount() - before
	}

	failing := queries(func() (*result.Result, error) { return e.ExpectColumnValuesToBeBetween(ctx, "x", 2, 4) })
	passing := queries(func() (*result.Result, error) { return e.ExpectColumnValuesToBeBetween(ctx, "x", 0, 9) })
	boolean := queries(func() (*result.Result, error) {
		return e.ExpectColumnValuesToBeBetween(ctx, "x", 2, 4, WithResultFormat(result.BooleanOnly))
	})
	if passing != failing-1 || boolean != failing-1 {
		t.Errorf("queries failing/passing/boolean = %d/%d/%d, evidence should be skipped", failing, passing, boolean)
	}

	res, _ := e.ExpectColumnValuesToBeBetween(ctx, "x", 0, 9)
	if r := mapReport(t, res); len(r.PartialUnexpectedList) != 0 || r.PartialUnexpectedList == nil {
		t.Error("passing expectation should report an empty evidence list")
	}
}

func TestMissingnessReportOmitsFields(t *testing.T) {
	e := newEvaluator(t, scenario)
	for _, format := range []string{"BASIC", "SUMMARY", "COMPLETE"} {
		res, err := e.ExpectColumnValuesToNotBeNull(context.Background(), "x", WithResultFormat(format))
		if err != nil {
			t.Fatal(err)
		}
		r, ok := res.Result.(*result.MissingnessReport)
		if !ok {
			t.Fatalf("report is %T", res.Result)
		}
		if r.ElementCount != 5 || r.UnexpectedCount != 1 || res.Success {
			t.Errorf("%s: element/unexpected/success = %d/%d/%v", format, r.ElementCount, r.UnexpectedCount, res.Success)
		}
		data, _ := json.Marshal(res)
		for _, key := range []string{"missing_count", "missing_percent", "unexpected_percent_nonmissing", "partial_unexpected_counts"} {
			if strings.Contains(string(data), key) {
				t.Errorf("%s: report contains %s: %s", format, key, data)
			}
		}
	}

	res, err := e.ExpectColumnValuesToBeNull(context.Background(), "x", WithResultFormat("SUMMARY"))
	if err != nil {
		t.Fatal(err)
	}
	r := res.Result.(*result.MissingnessReport)
	if r.UnexpectedCount != 4 || !reflect.DeepEqual(r.PartialUnexpectedIndexList.Positions(), []uint64{0, 1, 2, 4}) {
		t.Errorf("to_be_null: unexpected = %d, index = %v", r.UnexpectedCount, r.PartialUnexpectedIndexList.Positions())
	}
}

func TestPinnedViewAlwaysReleased(t *testing.T) {
	e := newEvaluator(t, `SELECT * FROM (VALUES ('a'), ('b')) AS t(s)`)
	ctx := context.Background()

	if _, err := e.ExpectColumnValuesToMatchRegex(ctx, "s", "^a$"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ExpectColumnValuesToMatchRegex(ctx, "s", "("); err == nil {
		t.Fatal("an invalid pattern should fail in DuckDB")
	}
	if n := pinnedTables(t, e); n != 0 {
		t.Errorf("%d pinned tables left behind", n)
	}
}

func TestCatchExceptionsAndIncludeConfig(t *testing.T) {
	e := newEvaluator(t, scenario)
	res, err := e.ExpectColumnValuesToBeBetween(context.Background(), "missing", 1, 2,
		CatchExceptions(), IncludeConfig(), WithMeta(map[string]interface{}{"owner": "qa"}))
	if err != nil {
		t.Fatalf("error should be caught, got %v", err)
	}
	if res.Success || res.ExceptionInfo == nil || !res.ExceptionInfo.RaisedException {
		t.Fatalf("result = %+v, want a raised exception", res)
	}
	if !strings.Contains(res.ExceptionInfo.ExceptionMessage, "column not found") {
		t.Errorf("exception message = %q", res.ExceptionInfo.ExceptionMessage)
	}
	if res.ExpectationConfig == nil || res.ExpectationConfig.Kwargs["column"] != "missing" {
		t.Errorf("expectation config = %+v", res.ExpectationConfig)
	}
	if res.Meta["owner"] != "qa" {
		t.Errorf("meta = %v", res.Meta)
	}

	_, err = e.ExpectColumnValuesToBeBetween(context.Background(), "missing", 1, 2)
	if !dqerrors.IsCode(err, dqerrors.CodeDomainResolution) {
		t.Errorf("error = %v, want domain resolution", err)
	}
}

func TestRowCondition(t *testing.T) {
	e := newEvaluator(t, scenario)
	res, err := e.ExpectColumnValuesToBeBetween(context.Background(), "x", 2, 4, WithRowCondition("x < 5"))
	if err != nil {
		t.Fatal(err)
	}
	r := mapReport(t, res)
	if r.ElementCount != 3 || r.UnexpectedCount != 1 {
		t.Errorf("element/unexpected = %d/%d, want 3/1", r.ElementCount, r.UnexpectedCount)
	}

	_, err = e.ExpectColumnValuesToBeBetween(context.Background(), "x", 2, 4,
		WithRowCondition("x < 5"), WithConditionParser("pandas"))
	if !dqerrors.IsCode(err, dqerrors.CodeInvalidConditionParser) {
		t.Errorf("error = %v, want invalid condition parser", err)
	}
}

func TestSummaryCountsAndIndex(t *testing.T) {
	e := newEvaluator(t, `SELECT * FROM (VALUES ('a'), ('x'), ('y'), ('x'), ('b')) AS t(s)`)
	res, err := e.ExpectColumnValuesToBeInSet(context.Background(), "s", []interface{}{"a", "b"}, WithResultFormat("SUMMARY"))
	if err != nil {
		t.Fatal(err)
	}
	r := mapReport(t, res)
	want := []result.ValueCount{{Value: "x", Count: 2}, {Value: "y", Count: 1}}
	if !reflect.DeepEqual(*r.PartialUnexpectedCounts, want) {
		t.Errorf("partial_unexpected_counts = %+v", *r.PartialUnexpectedCounts)
	}
	if !reflect.DeepEqual(r.PartialUnexpectedIndexList.Positions(), []uint64{1, 2, 3}) {
		t.Errorf("index = %v", r.PartialUnexpectedIndexList.Positions())
	}
}
