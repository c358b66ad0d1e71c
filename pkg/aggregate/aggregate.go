// Package aggregate computes single-query column statistics over a relation.
package aggregate

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/logflow/dqengine/internal/logging"
	"github.com/logflow/dqengine/pkg/condition"
	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/result"
)

// Value count orderings.
const (
	SortValue = "value"
	SortCount = "count"
	SortNone  = "none"
)

var numericTypes = map[string]bool{
	"TINYINT": true, "SMALLINT": true, "INTEGER": true, "BIGINT": true, "HUGEINT": true,
	"UTINYINT": true, "USMALLINT": true, "UINTEGER": true, "UBIGINT": true, "UHUGEINT": true,
	"FLOAT": true, "DOUBLE": true, "DECIMAL": true,
}

// Helper runs aggregate queries.
type Helper struct {
	rt     *engine.Runtime
	logger logrus.FieldLogger
}

// New creates a helper bound to rt.
func New(rt *engine.Runtime, logger logrus.FieldLogger) *Helper {
	return &Helper{rt: rt, logger: logging.OrDiscard(logger)}
}

func (h *Helper) int64Value(ctx context.Context, query string) (int64, error) {
	vals, err := h.rt.Values(ctx, query)
	if err != nil {
		return 0, err
	}
	return engine.AsInt64(vals[0])
}

func (h *Helper) floatValue(ctx context.Context, query string) (*float64, error) {
	vals, err := h.rt.Values(ctx, query)
	if err != nil {
		return nil, err
	}
	f, ok := engine.AsFloat64(vals[0])
	if !ok {
		return nil, nil
	}
	return &f, nil
}

// RowCount returns the number of rows.
func (h *Helper) RowCount(ctx context.Context, rel engine.Relation) (int64, error) {
	return h.int64Value(ctx, "SELECT COUNT(*) FROM "+rel.From())
}

// Columns returns the column names, without the row position column.
func (h *Helper) Columns(ctx context.Context, rel engine.Relation) ([]string, error) {
	schema, err := h.rt.Describe(ctx, rel)
	if err != nil {
		return nil, err
	}
	cols := make([]string, 0, len(schema))
	for _, c := range schema {
		if c.Name != engine.RowColumn {
			cols = append(cols, c.Name)
		}
	}
	return cols, nil
}

// ColumnCount returns the number of columns.
func (h *Helper) ColumnCount(ctx context.Context, rel engine.Relation) (int, error) {
	cols, err := h.Columns(ctx, rel)
	return len(cols), err
}

// NonnullCount returns the number of nonnull values of column.
func (h *Helper) NonnullCount(ctx context.Context, rel engine.Relation, column string) (int64, error) {
	return h.int64Value(ctx, fmt.Sprintf("SELECT COUNT(%s) FROM %s", engine.QuoteIdent(column), rel.From()))
}

// UniqueCount returns the number of distinct nonnull values.
func (h *Helper) UniqueCount(ctx context.Context, rel engine.Relation, column string) (int64, error) {
	return h.int64Value(ctx, fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s", engine.QuoteIdent(column), rel.From()))
}

func (h *Helper) requireNumeric(ctx context.Context, rel engine.Relation, column, fn string) error {
	schema, err := h.rt.Describe(ctx, rel)
	if err != nil {
		return err
	}
	for _, c := range schema {
		if c.Name != column {
			continue
		}
		t := strings.ToUpper(c.Type)
		if i := strings.IndexByte(t, '('); i > 0 {
			t = t[:i]
		}
		if !numericTypes[t] {
			return dqerrors.Newf(dqerrors.CodeTypeMismatch, "expected numeric column type for %s()", fn).
				WithContext("column", column).
				WithContext("type", c.Type)
		}
		return nil
	}
	return dqerrors.DomainResolution("column not found").WithContext("column", column)
}

func (h *Helper) numeric(ctx context.Context, rel engine.Relation, column, fn string) (*float64, error) {
	if err := h.requireNumeric(ctx, rel, column, fn); err != nil {
		return nil, err
	}
	return h.floatValue(ctx, fmt.Sprintf("SELECT CAST(%s(%s) AS DOUBLE) FROM %s", fn, engine.QuoteIdent(column), rel.From()))
}

// Mean returns the mean of a numeric column, nil when it has no values.
func (h *Helper) Mean(ctx context.Context, rel engine.Relation, column string) (*float64, error) {
	return h.numeric(ctx, rel, column, "avg")
}

// Sum returns the sum of a numeric column.
func (h *Helper) Sum(ctx context.Context, rel engine.Relation, column string) (*float64, error) {
	return h.numeric(ctx, rel, column, "sum")
}

// Stdev returns the sample standard deviation of a numeric column.
func (h *Helper) Stdev(ctx context.Context, rel engine.Relation, column string) (*float64, error) {
	return h.numeric(ctx, rel, column, "stddev_samp")
}

func (h *Helper) extreme(ctx context.Context, rel engine.Relation, column, fn string, parseDates bool) (interface{}, error) {
	expr := engine.QuoteIdent(column)
	if parseDates {
		expr = condition.Datetime(expr)
	}
	vals, err := h.rt.Values(ctx, fmt.Sprintf("SELECT %s(%s) FROM %s", fn, expr, rel.From()))
	if err != nil {
		return nil, err
	}
	return engine.Normalize(vals[0]), nil
}

// Min returns the smallest nonnull value, parsing strings as timestamps if asked.
func (h *Helper) Min(ctx context.Context, rel engine.Relation, column string, parseDates bool) (interface{}, error) {
	return h.extreme(ctx, rel, column, "min", parseDates)
}

// Max returns the largest nonnull value, parsing strings as timestamps if asked.
func (h *Helper) Max(ctx context.Context, rel engine.Relation, column string, parseDates bool) (interface{}, error) {
	return h.extreme(ctx, rel, column, "max", parseDates)
}

// ValueCounts returns the nonnull distinct values with their counts.
func (h *Helper) ValueCounts(ctx context.Context, rel engine.Relation, column, sort, collate string) ([]result.ValueCount, error) {
	if collate != "" {
		return nil, dqerrors.Configuration("collate is not supported")
	}
	col := engine.QuoteIdent(column)
	q := fmt.Sprintf("SELECT %s, COUNT(*) AS n FROM %s WHERE %s IS NOT NULL GROUP BY %s", col, rel.From(), col, col)
	switch sort {
	case "", SortValue:
		q += " ORDER BY " + col
	case SortCount:
		q += " ORDER BY n DESC, " + col
	case SortNone:
	default:
		return nil, dqerrors.Configuration("sort must be one of value, count or none, got %q", sort)
	}

	res, err := h.rt.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	counts := []result.ValueCount{}
	for res.Next() {
		vals, err := res.Values()
		if err != nil {
			return nil, err
		}
		n, err := engine.AsInt64(vals[1])
		if err != nil {
			return nil, err
		}
		counts = append(counts, result.ValueCount{Value: engine.Normalize(vals[0]), Count: n})
	}
	return counts, res.Err()
}

// Modes returns the most frequent values in value order.
func (h *Helper) Modes(ctx context.Context, rel engine.Relation, column string) ([]interface{}, error) {
	counts, err := h.ValueCounts(ctx, rel, column, SortValue, "")
	if err != nil {
		return nil, err
	}
	var max int64
	for _, c := range counts {
		if c.Count > max {
			max = c.Count
		}
	}
	modes := []interface{}{}
	for _, c := range counts {
		if c.Count == max {
			modes = append(modes, c.Value)
		}
	}
	return modes, nil
}

// Median averages the exact quantiles at 0.5 and just above it. The offset
// 1/(2+2n) stays below half an element, so both quantiles land on the middle
// element for odd counts and on the two middle elements for even counts.
func (h *Helper) Median(ctx context.Context, rel engine.Relation, column string) (*float64, error) {
	n, err := h.RowCount(ctx, rel)
	if err != nil {
		return nil, err
	}
	upper := 0.5 + 1/(2+2*float64(n))
	col := engine.QuoteIdent(column)
	vals, err := h.rt.Values(ctx, fmt.Sprintf(
		"SELECT CAST(quantile_disc(%s, 0.5) AS DOUBLE), CAST(quantile_disc(%s, %s) AS DOUBLE) FROM %s",
		col, col, floatArg(upper), rel.From()))
	if err != nil {
		return nil, err
	}
	lo, okLo := engine.AsFloat64(vals[0])
	hi, okHi := engine.AsFloat64(vals[1])
	if !okLo || !okHi {
		return nil, nil
	}
	m := (lo + hi) / 2
	return &m, nil
}

// Quantiles returns the requested quantiles. A relative error of zero is
// exact; a positive one uses the approximate sketch.
func (h *Helper) Quantiles(ctx context.Context, rel engine.Relation, column string, quantiles []float64, relativeError float64) ([]*float64, error) {
	if relativeError < 0 || relativeError > 1 || math.IsNaN(relativeError) {
		return nil, dqerrors.Configuration("allow_relative_error must be between 0 and 1, got %v", relativeError)
	}
	if len(quantiles) == 0 {
		return nil, dqerrors.MissingParameter("quantiles")
	}

	col := engine.QuoteIdent(column)
	exprs := make([]string, len(quantiles))
	for i, q := range quantiles {
		if q < 0 || q > 1 {
			return nil, dqerrors.Configuration("quantile %v is outside [0, 1]", q)
		}
		if relativeError > 0 {
			// approx_quantile binds FLOAT quantile arguments only.
			exprs[i] = fmt.Sprintf("CAST(approx_quantile(%s, CAST(%s AS FLOAT)) AS DOUBLE)", col, floatArg(q))
			continue
		}
		exprs[i] = fmt.Sprintf("CAST(quantile_disc(%s, %s) AS DOUBLE)", col, floatArg(q))
	}

	vals, err := h.rt.Values(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), rel.From()))
	if err != nil {
		return nil, err
	}
	out := make([]*float64, len(vals))
	for i, v := range vals {
		if f, ok := engine.AsFloat64(v); ok {
			out[i] = &f
		}
	}
	return out, nil
}

// Histogram counts nonnull values per bin. Bins are half open except the
// last, which includes its upper edge. Values outside the bins are
// discarded with a warning.
func (h *Helper) Histogram(ctx context.Context, rel engine.Relation, column string, bins []float64) ([]int64, error) {
	if len(bins) < 2 {
		return nil, dqerrors.Configuration("histogram needs at least two bin edges")
	}
	for i := 1; i < len(bins); i++ {
		if !(bins[i] > bins[i-1]) {
			return nil, dqerrors.Configuration("bin edges must be strictly increasing")
		}
	}

	col := fmt.Sprintf("CAST(%s AS DOUBLE)", engine.QuoteIdent(column))
	last := len(bins) - 2
	exprs := make([]string, 0, len(bins)+1)
	for i := 0; i <= last; i++ {
		upper := "<"
		if i == last {
			upper = "<="
		}
		exprs = append(exprs, fmt.Sprintf("CAST(SUM(CASE WHEN %s >= %s AND %s %s %s THEN 1 ELSE 0 END) AS BIGINT)",
			col, floatArg(bins[i]), col, upper, floatArg(bins[i+1])))
	}
	exprs = append(exprs,
		fmt.Sprintf("CAST(SUM(CASE WHEN %s < %s THEN 1 ELSE 0 END) AS BIGINT)", col, floatArg(bins[0])),
		fmt.Sprintf("CAST(SUM(CASE WHEN %s > %s THEN 1 ELSE 0 END) AS BIGINT)", col, floatArg(bins[len(bins)-1])),
	)

	vals, err := h.rt.Values(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL",
		strings.Join(exprs, ", "), rel.From(), engine.QuoteIdent(column)))
	if err != nil {
		return nil, err
	}

	hist := make([]int64, last+1)
	for i := range hist {
		if hist[i], err = engine.AsInt64(vals[i]); err != nil {
			return nil, err
		}
	}
	below, _ := engine.AsInt64(vals[last+1])
	above, _ := engine.AsInt64(vals[last+2])
	if below > 0 {
		h.logger.WithFields(logrus.Fields{"column": column, "count": below}).Warn("discarding histogram values below lowest bin")
	}
	if above > 0 {
		h.logger.WithFields(logrus.Fields{"column": column, "count": above}).Warn("discarding histogram values above highest bin")
	}
	return hist, nil
}

// CountInRange counts values within the bounds. At least one bound is required.
func (h *Helper) CountInRange(ctx context.Context, rel engine.Relation, column string, b condition.Bounds) (int64, error) {
	cond, err := condition.Between(engine.QuoteIdent(column), b, false)
	if err != nil {
		return 0, err
	}
	return h.int64Value(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", rel.From(), cond))
}

func floatArg(f float64) string {
	lit, _ := engine.ValueLiteral(f)
	return lit
}
