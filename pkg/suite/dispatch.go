package suite

import (
	"context"
	"sort"

	"github.com/spf13/cast"

	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/expect"
	"github.com/logflow/dqengine/pkg/result"
)

// args wraps the kwargs of one suite entry. Values come from YAML, so every
// accessor coerces with cast.
type args map[string]interface{}

func (a args) has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

func (a args) str(key string) (string, error) {
	if !a.has(key) {
		return "", dqerrors.MissingParameter(key)
	}
	s, err := cast.ToStringE(a[key])
	if err != nil {
		return "", dqerrors.Configuration("%s must be a string: %v", key, err)
	}
	return s, nil
}

func (a args) strings(key string) ([]string, error) {
	if !a.has(key) {
		return nil, dqerrors.MissingParameter(key)
	}
	out, err := cast.ToStringSliceE(a[key])
	if err != nil {
		return nil, dqerrors.Configuration("%s must be a list of strings: %v", key, err)
	}
	return out, nil
}

func (a args) list(key string) ([]interface{}, error) {
	if !a.has(key) {
		return nil, dqerrors.MissingParameter(key)
	}
	out, err := cast.ToSliceE(a[key])
	if err != nil {
		return nil, dqerrors.Configuration("%s must be a list: %v", key, err)
	}
	return out, nil
}

func (a args) integer(key string) (int, error) {
	if !a.has(key) {
		return 0, dqerrors.MissingParameter(key)
	}
	n, err := cast.ToIntE(a[key])
	if err != nil {
		return 0, dqerrors.Configuration("%s must be an integer: %v", key, err)
	}
	return n, nil
}

func (a args) flag(key string) bool {
	return a.has(key) && cast.ToBool(a[key])
}

func (a args) pairs(key string) ([][2]interface{}, error) {
	items, err := a.list(key)
	if err != nil {
		return nil, err
	}
	out := make([][2]interface{}, len(items))
	for i, item := range items {
		pair, err := cast.ToSliceE(item)
		if err != nil || len(pair) != 2 {
			return nil, dqerrors.Configuration("%s[%d] must be a pair", key, i)
		}
		out[i] = [2]interface{}{pair[0], pair[1]}
	}
	return out, nil
}

// options translates the shared kwargs into evaluator options.
func (a args) options(defaults Defaults) ([]expect.Option, error) {
	var opts []expect.Option
	if a.has("mostly") {
		m, err := cast.ToFloat64E(a["mostly"])
		if err != nil {
			return nil, dqerrors.Configuration("mostly must be a number: %v", err)
		}
		opts = append(opts, expect.Mostly(m))
	}
	if a.has("result_format") {
		opts = append(opts, expect.WithResultFormat(a["result_format"]))
	} else {
		opts = append(opts, expect.WithResultFormat(defaults.Format))
	}
	if a.flag("include_config") {
		opts = append(opts, expect.IncludeConfig())
	}
	if catch, ok := a["catch_exceptions"]; ok {
		if cast.ToBool(catch) {
			opts = append(opts, expect.CatchExceptions())
		}
	} else if defaults.CatchExceptions {
		opts = append(opts, expect.CatchExceptions())
	}
	if a.has("batch_id") {
		opts = append(opts, expect.WithBatch(cast.ToString(a["batch_id"])))
	}
	if a.has("row_condition") {
		opts = append(opts, expect.WithRowCondition(cast.ToString(a["row_condition"])))
	}
	if a.has("condition_parser") {
		opts = append(opts, expect.WithConditionParser(cast.ToString(a["condition_parser"])))
	}
	if a.has("ignore_row_if") {
		opts = append(opts, expect.IgnoreRowIf(cast.ToString(a["ignore_row_if"])))
	}
	if a.has("output_strftime_format") {
		opts = append(opts, expect.OutputStrftimeFormat(cast.ToString(a["output_strftime_format"])))
	}
	if a.has("match_on") {
		opts = append(opts, expect.MatchOn(cast.ToString(a["match_on"])))
	}
	for key, opt := range map[string]expect.Option{
		"parse_strings_as_datetimes":   expect.ParseStringsAsDatetimes(),
		"strict_min":                   expect.StrictMin(),
		"strict_max":                   expect.StrictMax(),
		"allow_cross_type_comparisons": expect.AllowCrossTypeComparisons(),
		"strictly":                     expect.Strictly(),
		"or_equal":                     expect.OrEqual(),
	} {
		if a.flag(key) {
			opts = append(opts, opt)
		}
	}
	return opts, nil
}

type handler func(ctx context.Context, e *expect.Evaluator, a args, opts []expect.Option) (*result.Result, error)

func withColumn(fn func(ctx context.Context, e *expect.Evaluator, column string, a args, opts []expect.Option) (*result.Result, error)) handler {
	return func(ctx context.Context, e *expect.Evaluator, a args, opts []expect.Option) (*result.Result, error) {
		column, err := a.str("column")
		if err != nil {
			return nil, err
		}
		return fn(ctx, e, column, a, opts)
	}
}

func withPair(fn func(ctx context.Context, e *expect.Evaluator, colA, colB string, a args, opts []expect.Option) (*result.Result, error)) handler {
	return func(ctx context.Context, e *expect.Evaluator, a args, opts []expect.Option) (*result.Result, error) {
		colA, err := a.str("column_A")
		if err != nil {
			return nil, err
		}
		colB, err := a.str("column_B")
		if err != nil {
			return nil, err
		}
		return fn(ctx, e, colA, colB, a, opts)
	}
}

var handlers = map[string]handler{
	"expect_column_values_to_be_in_set": withColumn(func(ctx context.Context, e *expect.Evaluator, col string, a args, opts []expect.Option) (*result.Result, error) {
		set, err := a.list("value_set")
		if err != nil {
			return nil, err
		}
		return e.ExpectColumnValuesToBeInSet(ctx, col, set, opts...)
	}),
	"expect_column_values_to_not_be_in_set": withColumn(func(ctx context.Context, e *expect.Evaluator, col string, a args, opts []expect.Option) (*result.Result, error) {
		set, err := a.list("value_set")
		if err != nil {
			return nil, err
		}
		return e.ExpectColumnValuesToNotBeInSet(ctx, col, set, opts...)
	}),
	"expect_column_values_to_be_between": withColumn(func(ctx context.Context, e *expect.Evaluator, col string, a args, opts []expect.Option) (*result.Result, error) {
		return e.ExpectColumnValuesToBeBetween(ctx, col, a["min_value"], a["max_value"], opts...)
	}),
	"expect_column_value_lengths_to_be_between": withColumn(func(ctx context.Context, e *expect.Evaluator, col string, a args, opts []expect.Option) (*result.Result, error) {
		return e.ExpectColumnValueLengthsToBeBetween(ctx, col, a["min_value"], a["max_value"], opts...)
	}),
	"expect_column_value_lengths_to_equal": withColumn(func(ctx context.Context, e *expect.Evaluator, col string, a args, opts []expect.Option) (*result.Result, error) {
		n, err := a.integer("value")
		if err != nil {
			return nil, err
		}
		return e.ExpectColumnValueLengthsToEqual(ctx, col, n, opts...)
	}),
	"expect_column_values_to_be_unique": withColumn(func(ctx context.Context, e *expect.Evaluator, col string, _ args, opts []expect.Option) (*result.Result, error) {
		return e.ExpectColumnValuesToBeUnique(ctx, col, opts...)
	}),
	"expect_column_values_to_match_regex": withColumn(func(ctx context.Context, e *expect.Evaluator, col string, a args, opts []expect.Option) (*result.Result, error) {
		regex, err := a.str("regex")
		if err != nil {
			return nil, err
		}
		return e.ExpectColumnValuesToMatchRegex(ctx, col, regex, opts...)
	}),
	"expect_column_values_to_not_match_regex": withColumn(func(ctx context.Context, e *expect.Evaluator, col string, a args, opts []expect.Option) (*result.Result, error) {
		regex, err := a.str("regex")
		if err != nil {
			return nil, err
		}
		return e.ExpectColumnValuesToNotMatchRegex(ctx, col, regex, opts...)
	}),
	"expect_column_values_to_match_regex_list": withColumn(func(ctx context.Context, e *expect.Evaluator, col string, a args, opts []expect.Option) (*result.Result, error) {
		list, err := a.strings("regex_list")
		if err != nil {
			return nil, err
		}
		return e.ExpectColumnValuesToMatchRegexList(ctx, col, list, opts...)
	}),
	"expect_column_values_to_not_match_regex_list": withColumn(func(ctx context.Context, e *expect.Evaluator, col string, a args, opts []expect.Option) (*result.Result, error) {
		list, err := a.strings("regex_list")
		if err != nil {
			return nil, err
		}
		return e.ExpectColumnValuesToNotMatchRegexList(ctx, col, list, opts...)
	}),
	"expect_column_values_to_be_increasing": withColumn(func(ctx context.Context, e *expect.Evaluator, col string, _ args, opts []expect.Option) (*result.Result, error) {
		return e.ExpectColumnValuesToBeIncreasing(ctx, col, opts...)
	}),
	"expect_column_values_to_be_decreasing": withColumn(func(ctx context.Context, e *expect.Evaluator, col string, _ args, opts []expect.Option) (*result.Result, error) {
		return e.ExpectColumnValuesToBeDecreasing(ctx, col, opts...)
	}),
	"expect_column_values_to_not_be_null": withColumn(func(ctx context.Context, e *expect.Evaluator, col string, _ args, opts []expect.Option) (*result.Result, error) {
		return e.ExpectColumnValuesToNotBeNull(ctx, col, opts...)
	}),
	"expect_column_values_to_be_null": withColumn(func(ctx context.Context, e *expect.Evaluator, col string, _ args, opts []expect.Option) (*result.Result, error) {
		return e.ExpectColumnValuesToBeNull(ctx, col, opts...)
	}),
	"expect_column_values_to_match_strftime_format": withColumn(func(ctx context.Context, e *expect.Evaluator, col string, a args, opts []expect.Option) (*result.Result, error) {
		format, err := a.str("strftime_format")
		if err != nil {
			return nil, err
		}
		return e.ExpectColumnValuesToMatchStrftimeFormat(ctx, col, format, opts...)
	}),
	"expect_column_values_to_match_json_schema": withColumn(func(ctx context.Context, e *expect.Evaluator, col string, a args, opts []expect.Option) (*result.Result, error) {
		return e.ExpectColumnValuesToMatchJSONSchema(ctx, col, a["json_schema"], opts...)
	}),
	"expect_column_values_to_be_of_type": withColumn(func(ctx context.Context, e *expect.Evaluator, col string, a args, opts []expect.Option) (*result.Result, error) {
		typ, err := a.str("type_")
		if err != nil {
			return nil, err
		}
		return e.ExpectColumnValuesToBeOfType(ctx, col, typ, opts...)
	}),
	"expect_column_values_to_be_in_type_list": withColumn(func(ctx context.Context, e *expect.Evaluator, col string, a args, opts []expect.Option) (*result.Result, error) {
		types, err := a.strings("type_list")
		if err != nil {
			return nil, err
		}
		return e.ExpectColumnValuesToBeInTypeList(ctx, col, types, opts...)
	}),
	"expect_column_pair_values_to_be_equal": withPair(func(ctx context.Context, e *expect.Evaluator, colA, colB string, _ args, opts []expect.Option) (*result.Result, error) {
		return e.ExpectColumnPairValuesToBeEqual(ctx, colA, colB, opts...)
	}),
	"expect_column_pair_values_A_to_be_greater_than_B": withPair(func(ctx context.Context, e *expect.Evaluator, colA, colB string, _ args, opts []expect.Option) (*result.Result, error) {
		return e.ExpectColumnPairValuesAToBeGreaterThanB(ctx, colA, colB, opts...)
	}),
	"expect_column_pair_values_to_be_in_set": withPair(func(ctx context.Context, e *expect.Evaluator, colA, colB string, a args, opts []expect.Option) (*result.Result, error) {
		pairs, err := a.pairs("value_pairs_set")
		if err != nil {
			return nil, err
		}
		return e.ExpectColumnPairValuesToBeInSet(ctx, colA, colB, pairs, opts...)
	}),
	"expect_multicolumn_values_to_be_unique": func(ctx context.Context, e *expect.Evaluator, a args, opts []expect.Option) (*result.Result, error) {
		columns, err := a.strings("column_list")
		if err != nil {
			return nil, err
		}
		return e.ExpectMulticolumnValuesToBeUnique(ctx, columns, opts...)
	},
}

// Known reports whether a suite may name the expectation type.
func Known(expectationType string) bool {
	_, ok := handlers[expectationType]
	return ok
}

// Types returns the supported expectation types in sorted order.
func Types() []string {
	out := make([]string, 0, len(handlers))
	for name := range handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Evaluate runs one suite entry through the direct evaluator.
func Evaluate(ctx context.Context, e *expect.Evaluator, exp Expectation, defaults Defaults) (*result.Result, error) {
	h, ok := handlers[exp.Type]
	if !ok {
		return nil, dqerrors.Configuration("unknown expectation type %q", exp.Type)
	}
	a := args(exp.Kwargs)
	opts, err := a.options(defaults)
	if err != nil {
		return nil, err
	}
	if exp.Meta != nil {
		opts = append(opts, expect.WithMeta(exp.Meta))
	}
	return h(ctx, e, a, opts)
}
