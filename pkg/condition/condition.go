// Package condition builds the per-row SQL predicates that map metrics and
// expectations evaluate. Every builder takes a column expression, not a name,
// so the same predicate serves both raw and projected columns.
package condition

import (
	"fmt"
	"strings"

	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

// NotNullWrapped guards cond so that null rows never satisfy it.
func NotNullWrapped(column, cond string) string {
	return fmt.Sprintf("(%s IS NOT NULL AND (%s))", column, cond)
}

// Datetime parses a column as a timestamp; unparsable values become null.
func Datetime(column string) string {
	return fmt.Sprintf("TRY_CAST(%s AS TIMESTAMP)", column)
}

// DatetimeLiteral renders v as a timestamp, for comparisons against parsed columns.
func DatetimeLiteral(v interface{}) (string, error) {
	lit, err := engine.ValueLiteral(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("TRY_CAST(%s AS TIMESTAMP)", lit), nil
}

func checkSet(values []interface{}) error {
	if values == nil {
		return dqerrors.MissingParameter("value_set")
	}
	for _, v := range values {
		if v == nil {
			return dqerrors.New(dqerrors.CodeUnsupportedValue, "value_set must not contain null").
				WithContext("value_set", values)
		}
	}
	return nil
}

func setLiteral(values []interface{}, parseDates bool) (string, error) {
	parts := make([]string, len(values))
	for i, v := range values {
		var lit string
		var err error
		if parseDates {
			lit, err = DatetimeLiteral(v)
		} else {
			lit, err = engine.ValueLiteral(v)
		}
		if err != nil {
			return "", err
		}
		parts[i] = lit
	}
	return strings.Join(parts, ", "), nil
}

// InSet is true when the column value is a member of values. A nil set or a
// null member is refused; an empty set matches nothing.
func InSet(column string, values []interface{}, parseDates bool) (string, error) {
	if err := checkSet(values); err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "FALSE", nil
	}
	lit, err := setLiteral(values, parseDates)
	if err != nil {
		return "", err
	}
	if parseDates {
		column = Datetime(column)
	}
	return fmt.Sprintf("%s IN (%s)", column, lit), nil
}

// NotInSet is true when the column value is not a member of values.
func NotInSet(column string, values []interface{}, parseDates bool) (string, error) {
	if err := checkSet(values); err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "TRUE", nil
	}
	lit, err := setLiteral(values, parseDates)
	if err != nil {
		return "", err
	}
	if parseDates {
		column = Datetime(column)
	}
	return fmt.Sprintf("%s NOT IN (%s)", column, lit), nil
}

// Bounds is an optional range.
type Bounds struct {
	Min, Max             interface{}
	StrictMin, StrictMax bool
}

// Between is true when the column value lies within b. At least one bound
// is required.
func Between(column string, b Bounds, parseDates bool) (string, error) {
	if b.Min == nil && b.Max == nil {
		return "", dqerrors.MissingParameter("min_value or max_value")
	}
	if err := checkRange(b.Min, b.Max); err != nil {
		return "", err
	}

	lit := engine.ValueLiteral
	if parseDates {
		column = Datetime(column)
		lit = DatetimeLiteral
	}

	var parts []string
	if b.Min != nil {
		l, err := lit(b.Min)
		if err != nil {
			return "", err
		}
		op := ">="
		if b.StrictMin {
			op = ">"
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", column, op, l))
	}
	if b.Max != nil {
		l, err := lit(b.Max)
		if err != nil {
			return "", err
		}
		op := "<="
		if b.StrictMax {
			op = "<"
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", column, op, l))
	}
	return strings.Join(parts, " AND "), nil
}

// checkRange rejects min > max for comparable bounds.
func checkRange(min, max interface{}) error {
	if min == nil || max == nil {
		return nil
	}
	lo, okLo := engine.AsFloat64(min)
	hi, okHi := engine.AsFloat64(max)
	if okLo && okHi {
		if lo > hi {
			return dqerrors.InvalidRange(min, max)
		}
		return nil
	}
	ls, okLs := min.(string)
	hs, okHs := max.(string)
	if okLs && okHs && ls > hs {
		return dqerrors.InvalidRange(min, max)
	}
	return nil
}

// ValueLength returns the character length of the column rendered as text.
func ValueLength(column string) string {
	return fmt.Sprintf("length(CAST(%s AS VARCHAR))", column)
}

// ValueLengthBetween bounds the value length. With no bounds every value passes.
func ValueLengthBetween(column string, min, max interface{}) (string, error) {
	if min == nil && max == nil {
		return "TRUE", nil
	}
	if err := checkRange(min, max); err != nil {
		return "", err
	}
	for _, v := range []interface{}{min, max} {
		if v == nil {
			continue
		}
		if f, ok := engine.AsFloat64(v); !ok || f != float64(int64(f)) {
			return "", dqerrors.Configuration("length bounds must be integers, got %v", v)
		}
	}
	return Between(ValueLength(column), Bounds{Min: min, Max: max}, false)
}

// ValueLengthEquals is true when the value length equals n.
func ValueLengthEquals(column string, n int) string {
	return fmt.Sprintf("%s = %d", ValueLength(column), n)
}

// MatchRegex is true when the value contains a match of pattern.
func MatchRegex(column, pattern string) string {
	return fmt.Sprintf("regexp_matches(CAST(%s AS VARCHAR), %s)", column, engine.Literal(pattern))
}

// NotMatchRegex is true when the value contains no match of pattern.
func NotMatchRegex(column, pattern string) string {
	return "NOT " + MatchRegex(column, pattern)
}

// MatchRegexList combines patterns; matchOn is "any" or "all".
func MatchRegexList(column string, patterns []string, matchOn string) (string, error) {
	if len(patterns) == 0 {
		return "", dqerrors.MissingParameter("regex_list")
	}
	sep := " OR "
	switch matchOn {
	case "", "any":
	case "all":
		sep = " AND "
	default:
		return "", dqerrors.Configuration("match_on must be \"any\" or \"all\", got %q", matchOn)
	}
	parts := make([]string, len(patterns))
	for i, p := range patterns {
		parts[i] = MatchRegex(column, p)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

// NotMatchRegexList is true when no pattern matches.
func NotMatchRegexList(column string, patterns []string) (string, error) {
	cond, err := MatchRegexList(column, patterns, "any")
	if err != nil {
		return "", err
	}
	return "NOT " + cond, nil
}

// IsNull and NotNull test missingness itself.
func IsNull(column string) string  { return column + " IS NULL" }
func NotNull(column string) string { return column + " IS NOT NULL" }

// PairEqual is true when both values are equal.
func PairEqual(a, b string) string {
	return fmt.Sprintf("%s = %s", a, b)
}

// AGreaterThanB compares a pair; orEqual allows equality.
func AGreaterThanB(a, b string, orEqual bool) string {
	op := ">"
	if orEqual {
		op = ">="
	}
	return fmt.Sprintf("%s %s %s", a, op, b)
}

// PairInSet is true when (a, b) equals one of the pairs. Members may be null
// and match null values.
func PairInSet(a, b string, pairs [][2]interface{}) (string, error) {
	if len(pairs) == 0 {
		return "FALSE", nil
	}
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		la, err := engine.ValueLiteral(p[0])
		if err != nil {
			return "", err
		}
		lb, err := engine.ValueLiteral(p[1])
		if err != nil {
			return "", err
		}
		parts[i] = fmt.Sprintf("(%s IS NOT DISTINCT FROM %s AND %s IS NOT DISTINCT FROM %s)", a, la, b, lb)
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}
