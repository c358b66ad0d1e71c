package batch

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

// Reader methods.
const (
	ReaderCSV     = "csv"
	ReaderParquet = "parquet"
	ReaderJSON    = "json"
	ReaderExcel   = "excel"
)

// GuessReaderMethod infers the reader from a file extension.
func GuessReaderMethod(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv":
		return ReaderCSV, nil
	case ".parquet":
		return ReaderParquet, nil
	}
	return "", dqerrors.New(dqerrors.CodeReaderMethod, "unable to determine reader method from path").
		WithContext("path", path)
}

var readerArgs = map[string]map[string]bool{
	ReaderCSV: {
		"header": true, "delim": true, "quote": true, "escape": true, "nullstr": true,
		"skip": true, "dateformat": true, "timestampformat": true, "all_varchar": true,
		"sample_size": true,
	},
	ReaderParquet: {"binary_as_string": true, "filename": true, "hive_partitioning": true},
	ReaderJSON:    {"format": true, "records": true, "sample_size": true, "maximum_depth": true},
	ReaderExcel:   {"sheet": true},
}

// resolveReader returns the effective reader method for path.
func resolveReader(method, path string) (string, error) {
	if method == "" {
		return GuessReaderMethod(path)
	}
	method = strings.ToLower(method)
	if _, ok := readerArgs[method]; !ok {
		return "", dqerrors.New(dqerrors.CodeReaderMethod, "unknown reader method").
			WithContext("reader_method", method)
	}
	return method, nil
}

// sourceSQL renders the DuckDB table function reading path.
func sourceSQL(method, path string, opts ReaderOptions) (string, error) {
	allowed := readerArgs[method]
	args := []string{engine.Literal(path)}

	if method == ReaderCSV && strings.EqualFold(filepath.Ext(path), ".tsv") {
		if _, ok := opts["delim"]; !ok {
			args = append(args, "delim='\\t'")
		}
	}

	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !allowed[k] {
			return "", dqerrors.Configuration("unsupported reader option %q for %s", k, method)
		}
		lit, err := optionLiteral(opts[k])
		if err != nil {
			return "", err
		}
		args = append(args, fmt.Sprintf("%s=%s", k, lit))
	}

	fn := map[string]string{
		ReaderCSV:     "read_csv_auto",
		ReaderParquet: "read_parquet",
		ReaderJSON:    "read_json_auto",
	}[method]
	return fmt.Sprintf("%s(%s)", fn, strings.Join(args, ", ")), nil
}

func optionLiteral(v interface{}) (string, error) {
	switch x := v.(type) {
	case bool, int, int64, float64:
		return engine.ValueLiteral(x)
	case string:
		if b, err := cast.ToBoolE(x); err == nil && (x == "true" || x == "false") {
			return engine.ValueLiteral(b)
		}
		return engine.ValueLiteral(x)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", dqerrors.Configuration("unsupported reader option value %v", v)
	}
	return engine.Literal(s), nil
}
