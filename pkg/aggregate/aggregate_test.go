package aggregate

import (
	"context"
	"math"
	"reflect"
	"testing"

	"github.com/logflow/dqengine/pkg/condition"
	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/result"
)

func setup(t *testing.T) (*Helper, engine.Relation) {
	t.Helper()
	rt, err := engine.New(engine.Options{Threads: 1})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rt.Close() })

	_, err = rt.Exec(context.Background(), `CREATE TABLE t AS SELECT * FROM (VALUES
		(1, 'a', '2024-01-03'),
		(2, 'b', '2024-01-01'),
		(2, 'b', NULL),
		(4, 'c', '2024-02-10'),
		(NULL, 'a', '2023-12-31'),
		(9, NULL, '2024-01-15')) AS v(n, s, d)`)
	if err != nil {
		t.Fatal(err)
	}
	return New(rt, nil), engine.TableRelation("t")
}

func TestCounts(t *testing.T) {
	h, rel := setup(t)
	ctx := context.Background()

	if n, err := h.RowCount(ctx, rel); err != nil || n != 6 {
		t.Errorf("RowCount() = %d, %v", n, err)
	}
	if n, err := h.ColumnCount(ctx, rel); err != nil || n != 3 {
		t.Errorf("ColumnCount() = %d, %v", n, err)
	}
	if n, err := h.NonnullCount(ctx, rel, "n"); err != nil || n != 5 {
		t.Errorf("NonnullCount() = %d, %v", n, err)
	}
	if n, err := h.UniqueCount(ctx, rel, "s"); err != nil || n != 3 {
		t.Errorf("UniqueCount() = %d, %v", n, err)
	}
	if n, err := h.CountInRange(ctx, rel, "n", condition.Bounds{Min: 2, Max: 4, StrictMax: true}); err != nil || n != 2 {
		t.Errorf("CountInRange() = %d, %v", n, err)
	}
	if _, err := h.CountInRange(ctx, rel, "n", condition.Bounds{}); !dqerrors.IsCode(err, dqerrors.CodeMissingParameter) {
		t.Errorf("CountInRange() without bounds error = %v", err)
	}
}

func TestNumericStatistics(t *testing.T) {
	h, rel := setup(t)
	ctx := context.Background()

	mean, err := h.Mean(ctx, rel, "n")
	if err != nil || mean == nil || *mean != 3.6 {
		t.Errorf("Mean() = %v, %v", mean, err)
	}
	sum, err := h.Sum(ctx, rel, "n")
	if err != nil || sum == nil || *sum != 18 {
		t.Errorf("Sum() = %v, %v", sum, err)
	}
	stdev, err := h.Stdev(ctx, rel, "n")
	if err != nil || stdev == nil || math.Abs(*stdev-3.2094) > 1e-3 {
		t.Errorf("Stdev() = %v, %v", stdev, err)
	}

	if _, err := h.Mean(ctx, rel, "s"); !dqerrors.IsCode(err, dqerrors.CodeTypeMismatch) {
		t.Errorf("Mean() of text error = %v, want type mismatch", err)
	}
}

func TestMinMax(t *testing.T) {
	h, rel := setup(t)
	ctx := context.Background()

	if v, err := h.Max(ctx, rel, "n", false); err != nil || v != int64(9) {
		t.Errorf("Max() = %v, %v", v, err)
	}
	if v, err := h.Min(ctx, rel, "s", false); err != nil || v != "a" {
		t.Errorf("Min() = %v, %v", v, err)
	}
	v, err := h.Min(ctx, rel, "d", true)
	if err != nil {
		t.Fatal(err)
	}
	if ts, ok := v.(interface{ Year() int }); !ok || ts.Year() != 2023 {
		t.Errorf("Min(parse dates) = %v (%T)", v, v)
	}
}

func TestValueCountsAndModes(t *testing.T) {
	h, rel := setup(t)
	ctx := context.Background()

	got, err := h.ValueCounts(ctx, rel, "s", SortValue, "")
	if err != nil {
		t.Fatal(err)
	}
	want := []result.ValueCount{{Value: "a", Count: 2}, {Value: "b", Count: 2}, {Value: "c", Count: 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ValueCounts(value) = %v", got)
	}

	got, err = h.ValueCounts(ctx, rel, "n", SortCount, "")
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Value != int64(2) || got[0].Count != 2 {
		t.Errorf("ValueCounts(count) head = %v", got[0])
	}

	if _, err := h.ValueCounts(ctx, rel, "s", "random", ""); !dqerrors.IsCode(err, dqerrors.CodeConfiguration) {
		t.Errorf("bad sort error = %v", err)
	}
	if _, err := h.ValueCounts(ctx, rel, "s", SortValue, "nocase"); !dqerrors.IsCode(err, dqerrors.CodeConfiguration) {
		t.Errorf("collate error = %v", err)
	}

	modes, err := h.Modes(ctx, rel, "s")
	if err != nil || !reflect.DeepEqual(modes, []interface{}{"a", "b"}) {
		t.Errorf("Modes() = %v, %v", modes, err)
	}
}

func TestMedianAndQuantiles(t *testing.T) {
	h, rel := setup(t)
	ctx := context.Background()
	odd := rel.Where(`"n" IS NOT NULL`)

	m, err := h.Median(ctx, odd, "n")
	if err != nil || m == nil || *m != 2 {
		t.Errorf("Median() = %v, %v", m, err)
	}

	qs, err := h.Quantiles(ctx, odd, "n", []float64{0, 1}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if *qs[0] != 1 || *qs[1] != 9 {
		t.Errorf("Quantiles() = %v, %v", *qs[0], *qs[1])
	}
	if _, err := h.Quantiles(ctx, odd, "n", []float64{0.5}, 0.1); err != nil {
		t.Errorf("approximate Quantiles() error = %v", err)
	}
	if _, err := h.Quantiles(ctx, odd, "n", []float64{0.5}, 2); !dqerrors.IsCode(err, dqerrors.CodeConfiguration) {
		t.Errorf("relative error 2: error = %v", err)
	}
}

func TestMedianCounts(t *testing.T) {
	h, _ := setup(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		values string
		want   float64
	}{
		{"odd", "(3), (1), (2)", 2},
		{"even", "(4), (1), (3), (2)", 2.5},
		{"even with nulls", "(1), (NULL), (2), (3), (NULL), (4)", 2.5},
		{"two values", "(10), (20)", 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel := engine.RawRelation("SELECT * FROM (VALUES " + tt.values + ") AS v(n)")
			m, err := h.Median(ctx, rel, "n")
			if err != nil {
				t.Fatalf("Median() error = %v", err)
			}
			if m == nil || *m != tt.want {
				t.Errorf("Median() = %v, want %v", m, tt.want)
			}
		})
	}
}

func TestApproximateQuantilesOnDoubles(t *testing.T) {
	h, _ := setup(t)
	rel := engine.RawRelation("SELECT CAST(n AS DOUBLE) AS n FROM range(1, 102) AS r(n)")

	qs, err := h.Quantiles(context.Background(), rel, "n", []float64{0.25, 0.5}, 0.01)
	if err != nil {
		t.Fatalf("Quantiles() error = %v", err)
	}
	for i, want := range []float64{26, 51} {
		if qs[i] == nil || math.Abs(*qs[i]-want) > 3 {
			t.Errorf("quantile %d = %v, want about %v", i, qs[i], want)
		}
	}
}

func TestHistogram(t *testing.T) {
	h, rel := setup(t)
	ctx := context.Background()

	hist, err := h.Histogram(ctx, rel, "n", []float64{1, 2, 4})
	if err != nil {
		t.Fatal(err)
	}
	// 9 is above the last edge and discarded; 4 lands in the closed top bin.
	if !reflect.DeepEqual(hist, []int64{1, 3}) {
		t.Errorf("Histogram() = %v, want [1 3]", hist)
	}

	hist, err = h.Histogram(ctx, rel, "n", []float64{math.Inf(-1), 3, math.Inf(1)})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(hist, []int64{3, 2}) {
		t.Errorf("Histogram(inf) = %v, want [3 2]", hist)
	}

	if _, err := h.Histogram(ctx, rel, "n", []float64{3, 1}); !dqerrors.IsCode(err, dqerrors.CodeConfiguration) {
		t.Errorf("decreasing bins error = %v", err)
	}
}
