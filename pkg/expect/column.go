package expect

import (
	"context"
	"fmt"

	"github.com/logflow/dqengine/pkg/condition"
	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/result"
)

type columnCondition func(col string, s *settings) (string, error)

func (e *Evaluator) column(ctx context.Context, name, column string, kwargs map[string]interface{}, opts []Option, cond columnCondition) (*result.Result, error) {
	s := newSettings(opts)
	p := &mapPlan{
		expectationType: name,
		kwargs:          withColumn(kwargs, column),
		columns:         []string{column},
		shape:           shapeColumn,
		condition: func(cols []string) (string, error) {
			return cond(cols[0], s)
		},
	}
	if column == "" {
		return e.finish(name, p.kwargs, s, nil, dqerrors.MissingParameter("column"))
	}
	return e.run(ctx, p, s)
}

func (e *Evaluator) hostColumn(ctx context.Context, name, column string, kwargs map[string]interface{}, opts []Option, pred func([]interface{}) bool, err error) (*result.Result, error) {
	s := newSettings(opts)
	p := &mapPlan{
		expectationType: name,
		kwargs:          withColumn(kwargs, column),
		columns:         []string{column},
		shape:           shapeColumn,
		predicate:       pred,
	}
	if err == nil && column == "" {
		err = dqerrors.MissingParameter("column")
	}
	if err != nil {
		return e.finish(name, p.kwargs, s, nil, err)
	}
	return e.run(ctx, p, s)
}

func withColumn(kwargs map[string]interface{}, column string) map[string]interface{} {
	out := map[string]interface{}{"column": column}
	for k, v := range kwargs {
		out[k] = v
	}
	return out
}

// ExpectColumnValuesToBeInSet expects every nonnull value to be a member of
// valueSet. A null member is refused before any query runs.
func (e *Evaluator) ExpectColumnValuesToBeInSet(ctx context.Context, column string, valueSet []interface{}, opts ...Option) (*result.Result, error) {
	return e.column(ctx, "expect_column_values_to_be_in_set", column,
		map[string]interface{}{"value_set": valueSet}, opts,
		func(col string, s *settings) (string, error) {
			return condition.InSet(col, valueSet, s.parseDates)
		})
}

// ExpectColumnValuesToNotBeInSet expects no nonnull value to be a member of valueSet.
func (e *Evaluator) ExpectColumnValuesToNotBeInSet(ctx context.Context, column string, valueSet []interface{}, opts ...Option) (*result.Result, error) {
	return e.column(ctx, "expect_column_values_to_not_be_in_set", column,
		map[string]interface{}{"value_set": valueSet}, opts,
		func(col string, s *settings) (string, error) {
			return condition.NotInSet(col, valueSet, s.parseDates)
		})
}

// ExpectColumnValuesToBeBetween expects values within [min, max]. Either bound
// may be nil; StrictMin and StrictMax exclude the bounds.
func (e *Evaluator) ExpectColumnValuesToBeBetween(ctx context.Context, column string, min, max interface{}, opts ...Option) (*result.Result, error) {
	return e.column(ctx, "expect_column_values_to_be_between", column,
		map[string]interface{}{"min_value": min, "max_value": max}, opts,
		func(col string, s *settings) (string, error) {
			if s.allowCross {
				return "", dqerrors.New(dqerrors.CodeUnsupportedComparison, "allow_cross_type_comparisons is not supported")
			}
			return condition.Between(col, condition.Bounds{
				Min:       min,
				Max:       max,
				StrictMin: s.strictMin,
				StrictMax: s.strictMax,
			}, s.parseDates)
		})
}

// ExpectColumnValueLengthsToBeBetween expects value lengths within [min, max].
func (e *Evaluator) ExpectColumnValueLengthsToBeBetween(ctx context.Context, column string, min, max interface{}, opts ...Option) (*result.Result, error) {
	return e.column(ctx, "expect_column_value_lengths_to_be_between", column,
		map[string]interface{}{"min_value": min, "max_value": max}, opts,
		func(col string, _ *settings) (string, error) {
			return condition.ValueLengthBetween(col, min, max)
		})
}

// ExpectColumnValueLengthsToEqual expects every value to have length n.
func (e *Evaluator) ExpectColumnValueLengthsToEqual(ctx context.Context, column string, n int, opts ...Option) (*result.Result, error) {
	return e.column(ctx, "expect_column_value_lengths_to_equal", column,
		map[string]interface{}{"value": n}, opts,
		func(col string, _ *settings) (string, error) {
			return condition.ValueLengthEquals(col, n), nil
		})
}

// ExpectColumnValuesToBeUnique expects no nonnull value to occur twice.
func (e *Evaluator) ExpectColumnValuesToBeUnique(ctx context.Context, column string, opts ...Option) (*result.Result, error) {
	return e.column(ctx, "expect_column_values_to_be_unique", column, nil, opts,
		func(col string, _ *settings) (string, error) {
			return fmt.Sprintf("count(*) OVER (PARTITION BY %s) = 1", col), nil
		})
}

// ExpectColumnValuesToMatchRegex expects every value to contain a match of regex.
func (e *Evaluator) ExpectColumnValuesToMatchRegex(ctx context.Context, column, regex string, opts ...Option) (*result.Result, error) {
	return e.column(ctx, "expect_column_values_to_match_regex", column,
		map[string]interface{}{"regex": regex}, opts,
		func(col string, _ *settings) (string, error) {
			return condition.MatchRegex(col, regex), nil
		})
}

// ExpectColumnValuesToNotMatchRegex expects no value to contain a match of regex.
func (e *Evaluator) ExpectColumnValuesToNotMatchRegex(ctx context.Context, column, regex string, opts ...Option) (*result.Result, error) {
	return e.column(ctx, "expect_column_values_to_not_match_regex", column,
		map[string]interface{}{"regex": regex}, opts,
		func(col string, _ *settings) (string, error) {
			return condition.NotMatchRegex(col, regex), nil
		})
}

// ExpectColumnValuesToMatchRegexList expects values to match any (default)
// or all of the patterns, see MatchOn.
func (e *Evaluator) ExpectColumnValuesToMatchRegexList(ctx context.Context, column string, patterns []string, opts ...Option) (*result.Result, error) {
	return e.column(ctx, "expect_column_values_to_match_regex_list", column,
		map[string]interface{}{"regex_list": patterns}, opts,
		func(col string, s *settings) (string, error) {
			return condition.MatchRegexList(col, patterns, s.matchOn)
		})
}

// ExpectColumnValuesToNotMatchRegexList expects no value to match any pattern.
func (e *Evaluator) ExpectColumnValuesToNotMatchRegexList(ctx context.Context, column string, patterns []string, opts ...Option) (*result.Result, error) {
	return e.column(ctx, "expect_column_values_to_not_match_regex_list", column,
		map[string]interface{}{"regex_list": patterns}, opts,
		func(col string, _ *settings) (string, error) {
			return condition.NotMatchRegexList(col, patterns)
		})
}

// ExpectColumnValuesToBeIncreasing expects each nonnull value to be at least
// the previous one in row order, or greater with Strictly.
func (e *Evaluator) ExpectColumnValuesToBeIncreasing(ctx context.Context, column string, opts ...Option) (*result.Result, error) {
	return e.column(ctx, "expect_column_values_to_be_increasing", column, nil, opts,
		func(col string, s *settings) (string, error) {
			return monotonic(col, s, ">"), nil
		})
}

// ExpectColumnValuesToBeDecreasing expects each nonnull value to be at most
// the previous one in row order, or less with Strictly.
func (e *Evaluator) ExpectColumnValuesToBeDecreasing(ctx context.Context, column string, opts ...Option) (*result.Result, error) {
	return e.column(ctx, "expect_column_values_to_be_decreasing", column, nil, opts,
		func(col string, s *settings) (string, error) {
			return monotonic(col, s, "<"), nil
		})
}

func monotonic(col string, s *settings, op string) string {
	if s.parseDates {
		col = condition.Datetime(col)
	}
	if !s.strictly {
		op += "="
	}
	prev := fmt.Sprintf("lag(%s) OVER (ORDER BY %s)", col, engine.QuoteIdent(engine.RowColumn))
	return fmt.Sprintf("%s IS NULL OR %s %s %s", prev, col, op, prev)
}

// ExpectColumnValuesToNotBeNull expects no null values. Every row is in scope.
func (e *Evaluator) ExpectColumnValuesToNotBeNull(ctx context.Context, column string, opts ...Option) (*result.Result, error) {
	return e.missingness(ctx, "expect_column_values_to_not_be_null", column, opts, condition.NotNull)
}

// ExpectColumnValuesToBeNull expects only null values. Every row is in scope.
func (e *Evaluator) ExpectColumnValuesToBeNull(ctx context.Context, column string, opts ...Option) (*result.Result, error) {
	return e.missingness(ctx, "expect_column_values_to_be_null", column, opts, condition.IsNull)
}

func (e *Evaluator) missingness(ctx context.Context, name, column string, opts []Option, cond func(string) string) (*result.Result, error) {
	s := newSettings(opts)
	p := &mapPlan{
		expectationType: name,
		kwargs:          withColumn(nil, column),
		columns:         []string{column},
		shape:           shapeColumn,
		missingness:     true,
		condition: func(cols []string) (string, error) {
			return cond(cols[0]), nil
		},
	}
	if column == "" {
		return e.finish(name, p.kwargs, s, nil, dqerrors.MissingParameter("column"))
	}
	return e.run(ctx, p, s)
}

// ExpectColumnValuesToMatchStrftimeFormat expects string values that parse
// with the strftime pattern.
func (e *Evaluator) ExpectColumnValuesToMatchStrftimeFormat(ctx context.Context, column, format string, opts ...Option) (*result.Result, error) {
	var err error
	if format == "" {
		err = dqerrors.MissingParameter("strftime_format")
	}
	return e.hostColumn(ctx, "expect_column_values_to_match_strftime_format", column,
		map[string]interface{}{"strftime_format": format}, opts, strftimePredicate(format), err)
}

// ExpectColumnValuesToMatchJSONSchema expects values that are JSON documents
// valid against schema, given as JSON text or a Go value.
func (e *Evaluator) ExpectColumnValuesToMatchJSONSchema(ctx context.Context, column string, schema interface{}, opts ...Option) (*result.Result, error) {
	pred, err := jsonSchemaPredicate(schema)
	return e.hostColumn(ctx, "expect_column_values_to_match_json_schema", column,
		map[string]interface{}{"json_schema": schema}, opts, pred, err)
}
