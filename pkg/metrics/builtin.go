package metrics

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/logflow/dqengine/pkg/condition"
	"github.com/logflow/dqengine/pkg/domain"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

// Built-in metric names.
const (
	TableRowCount            = "table.row_count"
	ColumnValuesNonNull      = "column_values.nonnull"
	ColumnValuesNull         = "column_values.null"
	ColumnValuesInSet        = "column_values.in_set"
	ColumnValuesNotInSet     = "column_values.not_in_set"
	ColumnValuesBetween      = "column_values.between"
	ColumnValuesLengthRange  = "column_values.value_length.between"
	ColumnValuesLengthEquals = "column_values.value_length.equals"
	ColumnValuesMatchRegex   = "column_values.match_regex"
	ColumnValuesNotMatch     = "column_values.not_match_regex"
	ColumnValuesMatchList    = "column_values.match_regex_list"
	ColumnValuesNotMatchList = "column_values.not_match_regex_list"
	ColumnValuesUnique       = "column_values.unique"
)

// RowDomainKeys are the domain keys of table metrics.
var RowDomainKeys = []string{"batch_id", "table", "row_condition", "condition_parser"}

// Defaults returns a registry holding every built-in metric.
func Defaults() *Registry {
	b := NewBuilder()
	if err := RegisterBuiltins(b); err != nil {
		panic(err)
	}
	return b.Build()
}

// RegisterBuiltins adds the built-in metrics to b.
func RegisterBuiltins(b *Builder) error {
	err := b.Register(Entry{
		Name:       TableRowCount,
		DomainKeys: RowDomainKeys,
		Bundle: func(_ *Scope, id Identity) (string, domain.Kwargs, error) {
			return "TRUE", id.Domain.RowDomain(), nil
		},
	})
	if err != nil {
		return err
	}

	for _, m := range builtinColumnMaps {
		if err := b.RegisterColumnMap(m); err != nil {
			return err
		}
	}
	return nil
}

var builtinColumnMaps = []ColumnMap{
	{
		Name: ColumnValuesNonNull,
		Condition: func(col string, _ ValueKwargs, _ Dictionary) (string, error) {
			return condition.NotNull(col), nil
		},
	},
	{
		Name: ColumnValuesNull,
		Condition: func(col string, _ ValueKwargs, _ Dictionary) (string, error) {
			return condition.IsNull(col), nil
		},
	},
	{
		Name:               ColumnValuesInSet,
		ValueKeys:          []string{"value_set", "parse_strings_as_datetimes"},
		FilterColumnIsNull: true,
		Condition:          setCondition(condition.InSet),
	},
	{
		Name:               ColumnValuesNotInSet,
		ValueKeys:          []string{"value_set", "parse_strings_as_datetimes"},
		FilterColumnIsNull: true,
		Condition:          setCondition(condition.NotInSet),
	},
	{
		Name: ColumnValuesBetween,
		ValueKeys: []string{"min_value", "max_value", "strict_min", "strict_max",
			"parse_strings_as_datetimes", "allow_cross_type_comparisons"},
		FilterColumnIsNull: true,
		Condition:          betweenCondition,
	},
	{
		Name:               ColumnValuesLengthRange,
		ValueKeys:          []string{"min_value", "max_value"},
		FilterColumnIsNull: true,
		Condition: func(col string, v ValueKwargs, _ Dictionary) (string, error) {
			return condition.ValueLengthBetween(col, v["min_value"], v["max_value"])
		},
	},
	{
		Name:               ColumnValuesLengthEquals,
		ValueKeys:          []string{"value"},
		FilterColumnIsNull: true,
		Condition: func(col string, v ValueKwargs, _ Dictionary) (string, error) {
			raw, ok := v["value"]
			if !ok || raw == nil {
				return "", dqerrors.MissingParameter("value")
			}
			n, err := cast.ToIntE(raw)
			if err != nil {
				return "", dqerrors.Configuration("value must be an integer, got %v", raw)
			}
			return condition.ValueLengthEquals(col, n), nil
		},
	},
	{
		Name:               ColumnValuesMatchRegex,
		ValueKeys:          []string{"regex"},
		FilterColumnIsNull: true,
		Condition: func(col string, v ValueKwargs, _ Dictionary) (string, error) {
			re, err := v.RequiredString("regex")
			if err != nil {
				return "", err
			}
			return condition.MatchRegex(col, re), nil
		},
	},
	{
		Name:               ColumnValuesNotMatch,
		ValueKeys:          []string{"regex"},
		FilterColumnIsNull: true,
		Condition: func(col string, v ValueKwargs, _ Dictionary) (string, error) {
			re, err := v.RequiredString("regex")
			if err != nil {
				return "", err
			}
			return condition.NotMatchRegex(col, re), nil
		},
	},
	{
		Name:               ColumnValuesMatchList,
		ValueKeys:          []string{"regex_list", "match_on"},
		FilterColumnIsNull: true,
		Condition: func(col string, v ValueKwargs, _ Dictionary) (string, error) {
			patterns, err := v.Strings("regex_list")
			if err != nil {
				return "", err
			}
			matchOn, err := v.String("match_on")
			if err != nil {
				return "", err
			}
			return condition.MatchRegexList(col, patterns, matchOn)
		},
	},
	{
		Name:               ColumnValuesNotMatchList,
		ValueKeys:          []string{"regex_list"},
		FilterColumnIsNull: true,
		Condition: func(col string, v ValueKwargs, _ Dictionary) (string, error) {
			patterns, err := v.Strings("regex_list")
			if err != nil {
				return "", err
			}
			return condition.NotMatchRegexList(col, patterns)
		},
	},
	{
		Name:               ColumnValuesUnique,
		FilterColumnIsNull: true,
		Condition: func(col string, _ ValueKwargs, _ Dictionary) (string, error) {
			return fmt.Sprintf("count(*) OVER (PARTITION BY %s) = 1", col), nil
		},
	},
}

func setCondition(build func(string, []interface{}, bool) (string, error)) ConditionFunc {
	return func(col string, v ValueKwargs, _ Dictionary) (string, error) {
		set, err := v.Slice("value_set")
		if err != nil {
			return "", err
		}
		parse, err := v.Bool("parse_strings_as_datetimes")
		if err != nil {
			return "", err
		}
		return build(col, set, parse)
	}
}

func betweenCondition(col string, v ValueKwargs, _ Dictionary) (string, error) {
	cross, err := v.Bool("allow_cross_type_comparisons")
	if err != nil {
		return "", err
	}
	if cross {
		return "", dqerrors.New(dqerrors.CodeUnsupportedComparison, "allow_cross_type_comparisons is not supported")
	}
	var b condition.Bounds
	b.Min, b.Max = v["min_value"], v["max_value"]
	if b.StrictMin, err = v.Bool("strict_min"); err != nil {
		return "", err
	}
	if b.StrictMax, err = v.Bool("strict_max"); err != nil {
		return "", err
	}
	parse, err := v.Bool("parse_strings_as_datetimes")
	if err != nil {
		return "", err
	}
	return condition.Between(col, b, parse)
}
