package expect

import (
	"context"
	"strings"

	"github.com/logflow/dqengine/pkg/domain"
	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/result"
)

// typeAliases maps accepted type names to DuckDB base types.
var typeAliases = map[string]string{
	"BOOLEAN": "BOOLEAN",
	"BOOL":    "BOOLEAN",

	"TINYINT":   "TINYINT",
	"SMALLINT":  "SMALLINT",
	"INTEGER":   "INTEGER",
	"INT":       "INTEGER",
	"INT32":     "INTEGER",
	"BIGINT":    "BIGINT",
	"LONG":      "BIGINT",
	"INT64":     "BIGINT",
	"HUGEINT":   "HUGEINT",
	"UTINYINT":  "UTINYINT",
	"USMALLINT": "USMALLINT",
	"UINTEGER":  "UINTEGER",
	"UBIGINT":   "UBIGINT",

	"FLOAT":   "FLOAT",
	"REAL":    "FLOAT",
	"DOUBLE":  "DOUBLE",
	"FLOAT64": "DOUBLE",
	"DECIMAL": "DECIMAL",
	"NUMERIC": "DECIMAL",

	"VARCHAR": "VARCHAR",
	"STRING":  "VARCHAR",
	"TEXT":    "VARCHAR",
	"BLOB":    "BLOB",
	"BINARY":  "BLOB",
	"UUID":    "UUID",

	"DATE":                     "DATE",
	"TIME":                     "TIME",
	"TIMESTAMP":                "TIMESTAMP",
	"TIMESTAMP WITH TIME ZONE": "TIMESTAMP WITH TIME ZONE",
	"TIMESTAMPTZ":              "TIMESTAMP WITH TIME ZONE",
	"INTERVAL":                 "INTERVAL",

	"LIST":   "LIST",
	"STRUCT": "STRUCT",
	"MAP":    "MAP",
}

// baseType strips type parameters, so DECIMAL(18,3) becomes DECIMAL and
// INTEGER[] becomes LIST.
func baseType(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	switch {
	case strings.HasSuffix(t, "[]"):
		return "LIST"
	case strings.HasPrefix(t, "STRUCT("):
		return "STRUCT"
	case strings.HasPrefix(t, "MAP("):
		return "MAP"
	}
	if i := strings.IndexByte(t, '('); i > 0 {
		t = t[:i]
	}
	return t
}

func canonicalType(name string) (string, error) {
	t, ok := typeAliases[baseType(name)]
	if !ok {
		return "", dqerrors.Configuration("unknown type %q", name)
	}
	return t, nil
}

// ExpectColumnValuesToBeOfType expects the column to have the given type.
func (e *Evaluator) ExpectColumnValuesToBeOfType(ctx context.Context, column, typ string, opts ...Option) (*result.Result, error) {
	return e.typeCheck(ctx, "expect_column_values_to_be_of_type", column,
		map[string]interface{}{"type_": typ}, []string{typ}, opts)
}

// ExpectColumnValuesToBeInTypeList expects the column type to be one of types.
func (e *Evaluator) ExpectColumnValuesToBeInTypeList(ctx context.Context, column string, types []string, opts ...Option) (*result.Result, error) {
	return e.typeCheck(ctx, "expect_column_values_to_be_in_type_list", column,
		map[string]interface{}{"type_list": types}, types, opts)
}

func (e *Evaluator) typeCheck(ctx context.Context, name, column string, kwargs map[string]interface{}, types []string, opts []Option) (*result.Result, error) {
	s := newSettings(opts)
	kwargs = withColumn(kwargs, column)
	res, err := e.observeType(ctx, column, types, s)
	return e.finish(name, kwargs, s, res, err)
}

func (e *Evaluator) observeType(ctx context.Context, column string, types []string, s *settings) (*result.Result, error) {
	format, err := s.resultFormat()
	if err != nil {
		return nil, err
	}
	if s.mostly != nil {
		return nil, dqerrors.Configuration("mostly is not supported by type expectations")
	}
	if column == "" {
		return nil, dqerrors.MissingParameter("column")
	}
	if len(types) == 0 {
		return nil, dqerrors.MissingParameter("type_list")
	}
	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		c, err := canonicalType(t)
		if err != nil {
			return nil, err
		}
		wanted[c] = true
	}

	rel, err := domain.Resolve(s.rowDomain(), e.batches, false)
	if err != nil {
		return nil, err
	}
	schema, err := e.rt.Describe(ctx, rel)
	if err != nil {
		return nil, err
	}

	var observed string
	for _, c := range schema {
		if c.Name == column {
			observed = c.Type
			break
		}
	}
	if observed == "" || column == engine.RowColumn {
		return nil, dqerrors.DomainResolution("column not found").WithContext("column", column)
	}

	actual, ok := typeAliases[baseType(observed)]
	success := ok && wanted[actual]
	return &result.Result{Success: success, Result: result.FormatObserved(format, observed)}, nil
}
