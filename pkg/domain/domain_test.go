package domain

import (
	"context"
	"testing"

	"github.com/logflow/dqengine/pkg/batch"
	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

func loadBatches(t *testing.T) (*engine.Runtime, *batch.Loader, *batch.Batch, *batch.Batch) {
	t.Helper()
	rt, err := engine.New(engine.Options{Threads: 1})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rt.Close() })

	l := batch.NewLoader(rt, batch.LoaderOptions{Persist: true, TempDir: t.TempDir()})
	ctx := context.Background()
	a, err := l.Load(ctx, batch.QuerySpec{Query: "SELECT * FROM (VALUES (1, 'x'), (2, NULL), (3, 'z')) AS t(n, s)"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := l.Load(ctx, batch.QuerySpec{Query: "SELECT 9 AS n, 'q' AS s"})
	if err != nil {
		t.Fatal(err)
	}
	return rt, l, a, b
}

func count(t *testing.T, rt *engine.Runtime, rel engine.Relation) int64 {
	t.Helper()
	var n int64
	if err := rt.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+rel.From(), &n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestResolveSelectsBatch(t *testing.T) {
	rt, l, a, _ := loadBatches(t)

	rel, err := Resolve(Kwargs{BatchID: a.ID}, l.Batches(), false)
	if err != nil {
		t.Fatal(err)
	}
	if got := count(t, rt, rel); got != 3 {
		t.Errorf("explicit batch rows = %d, want 3", got)
	}

	rel, err = Resolve(Kwargs{}, l.Batches(), false)
	if err != nil {
		t.Fatal(err)
	}
	if got := count(t, rt, rel); got != 1 {
		t.Errorf("loaded batch rows = %d, want 1", got)
	}
}

func TestResolveFilters(t *testing.T) {
	rt, l, a, _ := loadBatches(t)

	tests := []struct {
		name   string
		kwargs Kwargs
		filter bool
		want   int64
	}{
		{"null filter", Kwargs{BatchID: a.ID, Column: "s"}, true, 2},
		{"no null filter", Kwargs{BatchID: a.ID, Column: "s"}, false, 3},
		{"row condition", Kwargs{BatchID: a.ID, RowCondition: "n >= 2", ConditionParser: "duckdb"}, false, 2},
		{"both", Kwargs{BatchID: a.ID, Column: "s", RowCondition: "n >= 2", ConditionParser: "duckdb"}, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel, err := Resolve(tt.kwargs, l.Batches(), tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if got := count(t, rt, rel); got != tt.want {
				t.Errorf("rows = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResolveErrors(t *testing.T) {
	_, l, _, _ := loadBatches(t)

	tests := []struct {
		name   string
		kwargs Kwargs
		code   dqerrors.Code
	}{
		{"unknown batch", Kwargs{BatchID: "nope"}, dqerrors.CodeDomainResolution},
		{"table key", Kwargs{Table: "t"}, dqerrors.CodeUnsupportedDomain},
		{"foreign parser", Kwargs{RowCondition: "n > 1", ConditionParser: "pandas"}, dqerrors.CodeInvalidConditionParser},
		{"missing parser", Kwargs{RowCondition: "n > 1"}, dqerrors.CodeInvalidConditionParser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.kwargs, l.Batches(), false)
			if !dqerrors.IsCode(err, tt.code) {
				t.Errorf("error = %v, want code %s", err, tt.code)
			}
		})
	}

	if _, err := Resolve(Kwargs{}, batch.NewSet(), false); !dqerrors.IsCode(err, dqerrors.CodeDomainResolution) {
		t.Errorf("empty set error = %v", err)
	}
}

func TestKwargsIdentity(t *testing.T) {
	a := Kwargs{BatchID: "b", Column: "x", RowCondition: "n > 1", ConditionParser: "duckdb"}
	b := Kwargs{ConditionParser: "duckdb", RowCondition: "n > 1", Column: "x", BatchID: "b"}
	if a.ID() != b.ID() {
		t.Error("identical kwargs should share an id")
	}
	if a.ID() == a.RowDomain().ID() {
		t.Error("row domain should differ from the column domain")
	}
	if a.RowDomain().ID() != (Kwargs{BatchID: "b", Column: "y", RowCondition: "n > 1", ConditionParser: "duckdb"}).RowDomain().ID() {
		t.Error("row domains of different columns should match")
	}
}

func TestEvalColumnName(t *testing.T) {
	tests := map[string]string{
		"age":     "__eval_col_age",
		"a.b":     "__eval_col_a__b",
		"`weird`": "__eval_col__weird_",
	}
	for in, want := range tests {
		if got := EvalColumnName(in); got != want {
			t.Errorf("EvalColumnName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveProjectsEvalColumn(t *testing.T) {
	rt, l, a, _ := loadBatches(t)
	rel, err := Resolve(Kwargs{BatchID: a.ID, Column: "n"}, l.Batches(), false)
	if err != nil {
		t.Fatal(err)
	}
	var sum int64
	if err := rt.QueryRow(context.Background(), "SELECT CAST(SUM("+engine.QuoteIdent(EvalColumnName("n"))+") AS BIGINT) FROM "+rel.From(), &sum); err != nil {
		t.Fatal(err)
	}
	if sum != 6 {
		t.Errorf("sum of eval column = %d, want 6", sum)
	}
}
