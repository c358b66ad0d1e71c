package engine

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

// QuoteIdent quotes a column or table name.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Literal renders s as a SQL string literal.
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ValueLiteral renders a Go value as a DuckDB literal.
func ValueLiteral(v interface{}) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return Literal(x), nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.Itoa(x), nil
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x), nil
	case float32:
		return floatLiteral(float64(x)), nil
	case float64:
		return floatLiteral(x), nil
	case *big.Int:
		return x.String(), nil
	case time.Time:
		return "TIMESTAMP " + Literal(x.UTC().Format("2006-01-02 15:04:05.999999")), nil
	default:
		return "", dqerrors.Newf(dqerrors.CodeUnsupportedValue, "cannot render %T as a literal", v)
	}
}

func floatLiteral(f float64) string {
	switch {
	case math.IsNaN(f):
		return "'nan'::DOUBLE"
	case math.IsInf(f, 1):
		return "'infinity'::DOUBLE"
	case math.IsInf(f, -1):
		return "'-infinity'::DOUBLE"
	}
	return strconv.FormatFloat(f, 'g', -1, 64) + "::DOUBLE"
}

// ListLiteral renders values as a comma separated literal list.
func ListLiteral(values []interface{}) (string, error) {
	parts := make([]string, len(values))
	for i, v := range values {
		lit, err := ValueLiteral(v)
		if err != nil {
			return "", err
		}
		parts[i] = lit
	}
	return strings.Join(parts, ", "), nil
}

type floater interface{ Float64() float64 }

// AsInt64 converts a scanned DuckDB value to int64. NULL converts to 0.
// SUM over integers returns HUGEINT, which arrives as *big.Int.
func AsInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case *big.Int:
		if !x.IsInt64() {
			return 0, dqerrors.Newf(dqerrors.CodeDuckDBQuery, "value %s overflows int64", x)
		}
		return x.Int64(), nil
	case floater:
		return int64(x.Float64()), nil
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, dqerrors.Wrap(err, dqerrors.CodeDuckDBQuery, "not an integer")
	}
	return n, nil
}

// AsFloat64 converts a scanned numeric value to float64.
func AsFloat64(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f, true
	case floater:
		return x.Float64(), true
	case string, bool:
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Normalize converts driver specific values into plain Go values suitable
// for reports: HUGEINT to int64 or float64, narrow ints to int64, BLOB to string.
func Normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case floater:
		return x.Float64()
	case []byte:
		return string(x)
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}
