package expect

import (
	"context"
	"reflect"
	"testing"

	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/result"
)

const pairs = `SELECT * FROM (VALUES (1, 1), (2, 3), (NULL, NULL), (4, NULL)) AS t(a, b)`

func TestPairIgnorePolicies(t *testing.T) {
	e := newEvaluator(t, pairs)
	tests := []struct {
		policy      string
		nonnull     int64
		unexpected  int64
		partialList []interface{}
	}{
		{"", 3, 2, []interface{}{[]interface{}{int64(2), int64(3)}, []interface{}{int64(4), nil}}},
		{EitherValueIsMissing, 2, 1, []interface{}{[]interface{}{int64(2), int64(3)}}},
		{NeverIgnore, 4, 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			res, err := e.ExpectColumnPairValuesToBeEqual(context.Background(), "a", "b", IgnoreRowIf(tt.policy))
			if err != nil {
				t.Fatal(err)
			}
			r := mapReport(t, res)
			if got := r.ElementCount - r.MissingCount; got != tt.nonnull {
				t.Errorf("nonnull = %d, want %d", got, tt.nonnull)
			}
			if r.UnexpectedCount != tt.unexpected {
				t.Errorf("unexpected = %d, want %d", r.UnexpectedCount, tt.unexpected)
			}
			if tt.partialList != nil && !reflect.DeepEqual(r.PartialUnexpectedList, tt.partialList) {
				t.Errorf("partial list = %v, want %v", r.PartialUnexpectedList, tt.partialList)
			}
		})
	}

	_, err := e.ExpectColumnPairValuesToBeEqual(context.Background(), "a", "b", IgnoreRowIf(AnyValueIsMissing))
	if !dqerrors.IsCode(err, dqerrors.CodeConfiguration) {
		t.Errorf("multicolumn policy on a pair: error = %v, want configuration error", err)
	}
}

func TestPairComparisons(t *testing.T) {
	e := newEvaluator(t, `SELECT * FROM (VALUES (3, 1), (2, 2), (1, 5)) AS t(a, b)`)
	ctx := context.Background()

	res, err := e.ExpectColumnPairValuesAToBeGreaterThanB(ctx, "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if got := mapReport(t, res).UnexpectedCount; got != 2 {
		t.Errorf("A > B unexpected = %d, want 2", got)
	}
	res, err = e.ExpectColumnPairValuesAToBeGreaterThanB(ctx, "a", "b", OrEqual())
	if err != nil {
		t.Fatal(err)
	}
	if got := mapReport(t, res).UnexpectedCount; got != 1 {
		t.Errorf("A >= B unexpected = %d, want 1", got)
	}

	res, err = e.ExpectColumnPairValuesToBeInSet(ctx, "a", "b", [][2]interface{}{{3, 1}, {1, 5}})
	if err != nil {
		t.Fatal(err)
	}
	r := mapReport(t, res)
	if !reflect.DeepEqual(r.PartialUnexpectedList, []interface{}{[]interface{}{int64(2), int64(2)}}) {
		t.Errorf("pair set evidence = %v", r.PartialUnexpectedList)
	}

	// The same column on both sides is allowed.
	res, err = e.ExpectColumnPairValuesToBeEqual(ctx, "a", "a")
	if err != nil || !res.Success {
		t.Errorf("a == a: success = %v, err = %v", res != nil && res.Success, err)
	}

	_, err = e.ExpectColumnPairValuesAToBeGreaterThanB(ctx, "a", "b", AllowCrossTypeComparisons())
	if !dqerrors.IsCode(err, dqerrors.CodeUnsupportedComparison) {
		t.Errorf("error = %v, want unsupported comparison", err)
	}
}

func TestMulticolumnUnique(t *testing.T) {
	e := newEvaluator(t, `SELECT * FROM (VALUES (1, 'a'), (1, 'b'), (1, 'a'), (NULL, NULL), (NULL, NULL)) AS t(n, s)`)
	ctx := context.Background()

	res, err := e.ExpectMulticolumnValuesToBeUnique(ctx, []string{"n", "s"})
	if err != nil {
		t.Fatal(err)
	}
	r := mapReport(t, res)
	if r.MissingCount != 2 || r.UnexpectedCount != 2 {
		t.Errorf("missing/unexpected = %d/%d, want 2/2", r.MissingCount, r.UnexpectedCount)
	}
	first, ok := r.PartialUnexpectedList[0].(result.Row)
	if !ok {
		t.Fatalf("evidence is %T, want result.Row", r.PartialUnexpectedList[0])
	}
	if v, _ := first.Get("s"); v != "a" {
		t.Errorf("first duplicate s = %v", v)
	}

	res, err = e.ExpectMulticolumnValuesToBeUnique(ctx, []string{"n", "s"}, IgnoreRowIf(NeverIgnore))
	if err != nil {
		t.Fatal(err)
	}
	if got := mapReport(t, res).UnexpectedCount; got != 4 {
		t.Errorf("never policy unexpected = %d, want 4", got)
	}

	if _, err := e.ExpectMulticolumnValuesToBeUnique(ctx, []string{"n", "n"}); !dqerrors.IsCode(err, dqerrors.CodeConfiguration) {
		t.Errorf("repeated column error = %v", err)
	}
}

func TestUniqueAndMonotonic(t *testing.T) {
	e := newEvaluator(t, `SELECT * FROM (VALUES (1), (2), (2), (NULL), (5)) AS t(x)`)
	ctx := context.Background()

	res, err := e.ExpectColumnValuesToBeUnique(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	r := mapReport(t, res)
	if r.UnexpectedCount != 2 || !reflect.DeepEqual(r.PartialUnexpectedList, []interface{}{int64(2), int64(2)}) {
		t.Errorf("unique: unexpected = %d, list = %v", r.UnexpectedCount, r.PartialUnexpectedList)
	}

	res, err = e.ExpectColumnValuesToBeIncreasing(ctx, "x")
	if err != nil || !res.Success {
		t.Errorf("increasing: success = %v, err = %v", res != nil && res.Success, err)
	}
	res, err = e.ExpectColumnValuesToBeIncreasing(ctx, "x", Strictly(), WithResultFormat("SUMMARY"))
	if err != nil {
		t.Fatal(err)
	}
	r = mapReport(t, res)
	if r.UnexpectedCount != 1 || !reflect.DeepEqual(r.PartialUnexpectedIndexList.Positions(), []uint64{2}) {
		t.Errorf("strictly increasing: unexpected = %d, index = %v", r.UnexpectedCount, r.PartialUnexpectedIndexList.Positions())
	}
	res, err = e.ExpectColumnValuesToBeDecreasing(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if got := mapReport(t, res).UnexpectedCount; got != 2 {
		t.Errorf("decreasing unexpected = %d, want 2", got)
	}
}

func TestValueLengthsAndRegexList(t *testing.T) {
	e := newEvaluator(t, `SELECT * FROM (VALUES ('ab'), ('abcd'), ('xyz'), (NULL)) AS t(s)`)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() (*result.Result, error)
		want int64
	}{
		{"lengths between", func() (*result.Result, error) { return e.ExpectColumnValueLengthsToBeBetween(ctx, "s", 2, 3) }, 1},
		{"lengths equal", func() (*result.Result, error) { return e.ExpectColumnValueLengthsToEqual(ctx, "s", 3) }, 2},
		{"regex", func() (*result.Result, error) { return e.ExpectColumnValuesToMatchRegex(ctx, "s", "^ab") }, 1},
		{"not regex", func() (*result.Result, error) { return e.ExpectColumnValuesToNotMatchRegex(ctx, "s", "^ab") }, 2},
		{"regex list any", func() (*result.Result, error) {
			return e.ExpectColumnValuesToMatchRegexList(ctx, "s", []string{"^ab", "z$"})
		}, 0},
		{"regex list all", func() (*result.Result, error) {
			return e.ExpectColumnValuesToMatchRegexList(ctx, "s", []string{"^a", "d$"}, MatchOn("all"))
		}, 2},
		{"not regex list", func() (*result.Result, error) {
			return e.ExpectColumnValuesToNotMatchRegexList(ctx, "s", []string{"c", "y"})
		}, 2},
		{"not in set", func() (*result.Result, error) {
			return e.ExpectColumnValuesToNotBeInSet(ctx, "s", []interface{}{"ab"})
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.run()
			if err != nil {
				t.Fatal(err)
			}
			if got := mapReport(t, res).UnexpectedCount; got != tt.want {
				t.Errorf("unexpected = %d, want %d", got, tt.want)
			}
		})
	}

	if _, err := e.ExpectColumnValuesToMatchRegexList(ctx, "s", []string{"a"}, MatchOn("some")); !dqerrors.IsCode(err, dqerrors.CodeConfiguration) {
		t.Errorf("bad match_on error = %v", err)
	}
	if _, err := e.ExpectColumnValueLengthsToBeBetween(ctx, "s", 5, 2); !dqerrors.IsCode(err, dqerrors.CodeInvalidRange) {
		t.Errorf("inverted range error = %v", err)
	}
}

func TestHostPredicates(t *testing.T) {
	e := newEvaluator(t, `SELECT * FROM (VALUES
		('2024-01-05', '{"a": 1}'),
		('05/01/2024', '{"a": "x"}'),
		('2024-13-01', 'not json'),
		(NULL, NULL)) AS t(d, doc)`)
	ctx := context.Background()

	res, err := e.ExpectColumnValuesToMatchStrftimeFormat(ctx, "d", "%Y-%m-%d", WithResultFormat("SUMMARY"))
	if err != nil {
		t.Fatal(err)
	}
	r := mapReport(t, res)
	if r.UnexpectedCount != 2 || r.MissingCount != 1 {
		t.Errorf("strftime: unexpected/missing = %d/%d, want 2/1", r.UnexpectedCount, r.MissingCount)
	}
	if !reflect.DeepEqual(r.PartialUnexpectedIndexList.Positions(), []uint64{1, 2}) {
		t.Errorf("strftime index = %v", r.PartialUnexpectedIndexList.Positions())
	}

	schema := `{"type": "object", "properties": {"a": {"type": "integer"}}, "required": ["a"]}`
	res, err = e.ExpectColumnValuesToMatchJSONSchema(ctx, "doc", schema)
	if err != nil {
		t.Fatal(err)
	}
	r = mapReport(t, res)
	if r.UnexpectedCount != 2 || !reflect.DeepEqual(r.PartialUnexpectedList, []interface{}{`{"a": "x"}`, "not json"}) {
		t.Errorf("json schema: unexpected = %d, list = %v", r.UnexpectedCount, r.PartialUnexpectedList)
	}

	res, err = e.ExpectColumnValuesToMatchJSONSchema(ctx, "doc", map[string]interface{}{"type": "object"}, Mostly(0.3))
	if err != nil || !res.Success {
		t.Errorf("go schema with mostly: success = %v, err = %v", res != nil && res.Success, err)
	}

	_, err = e.ExpectColumnValuesToMatchJSONSchema(ctx, "doc", `{"type": 12}`)
	if !dqerrors.IsCode(err, dqerrors.CodeConfiguration) {
		t.Errorf("invalid schema error = %v, want configuration error", err)
	}
}

func TestOutputStrftimeFormat(t *testing.T) {
	e := newEvaluator(t, `SELECT * FROM (VALUES ('2024-01-05', '2024-02-01'), ('2024-03-09', NULL)) AS t(d, e)`)
	ctx := context.Background()

	res, err := e.ExpectColumnValuesToBeInSet(ctx, "d", []interface{}{"1999-01-01"}, OutputStrftimeFormat("%d/%m/%Y"))
	if err != nil {
		t.Fatal(err)
	}
	if got := mapReport(t, res).PartialUnexpectedList; !reflect.DeepEqual(got, []interface{}{"05/01/2024", "09/03/2024"}) {
		t.Errorf("reformatted = %v", got)
	}

	res, err = e.ExpectColumnPairValuesToBeEqual(ctx, "d", "e", OutputStrftimeFormat("%Y"))
	if err != nil {
		t.Fatal(err)
	}
	want := []interface{}{
		[]interface{}{"2024", "2024"},
		[]interface{}{"2024-03-09", nil},
	}
	if got := mapReport(t, res).PartialUnexpectedList; !reflect.DeepEqual(got, want) {
		t.Errorf("pair reformatted = %v, want %v", got, want)
	}
}

func TestTypeExpectations(t *testing.T) {
	e := newEvaluator(t, `SELECT 1::INTEGER AS i, 'a'::VARCHAR AS s, 1.5::DECIMAL(4,2) AS d`)
	ctx := context.Background()

	tests := []struct {
		column string
		types  []string
		want   bool
	}{
		{"i", []string{"INTEGER"}, true},
		{"i", []string{"int"}, true},
		{"i", []string{"VARCHAR"}, false},
		{"s", []string{"INTEGER", "STRING"}, true},
		{"d", []string{"DECIMAL"}, true},
	}
	for _, tt := range tests {
		var res *result.Result
		var err error
		if len(tt.types) == 1 {
			res, err = e.ExpectColumnValuesToBeOfType(ctx, tt.column, tt.types[0])
		} else {
			res, err = e.ExpectColumnValuesToBeInTypeList(ctx, tt.column, tt.types)
		}
		if err != nil {
			t.Fatal(err)
		}
		if res.Success != tt.want {
			t.Errorf("%s %v: success = %v, want %v", tt.column, tt.types, res.Success, tt.want)
		}
		if _, ok := res.Result.(*result.ObservedValueReport); !ok {
			t.Errorf("report is %T", res.Result)
		}
	}

	if _, err := e.ExpectColumnValuesToBeOfType(ctx, "i", "FOO"); !dqerrors.IsCode(err, dqerrors.CodeConfiguration) {
		t.Errorf("unknown type error = %v", err)
	}
	if _, err := e.ExpectColumnValuesToBeOfType(ctx, "i", "INTEGER", Mostly(0.5)); !dqerrors.IsCode(err, dqerrors.CodeConfiguration) {
		t.Errorf("mostly error = %v", err)
	}
}
