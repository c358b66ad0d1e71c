package expect

import (
	"encoding/json"

	"github.com/araddon/dateparse"
	"github.com/ncruces/go-strftime"
	"github.com/xeipuuv/gojsonschema"

	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

// reformatDates rewrites date strings with a strftime pattern. Other values
// pass through, and a pair is rewritten only when both members are strings.
func reformatDates(values []interface{}, format string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case string:
			out[i] = reformatDate(x, format)
		case []interface{}:
			out[i] = v
			if len(x) != 2 {
				continue
			}
			a, okA := x[0].(string)
			b, okB := x[1].(string)
			if okA && okB {
				out[i] = []interface{}{reformatDate(a, format), reformatDate(b, format)}
			}
		default:
			out[i] = v
		}
	}
	return out
}

func reformatDate(s, format string) string {
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return s
	}
	return strftime.Format(format, t)
}

// strftimePredicate passes string values that parse with the pattern.
func strftimePredicate(format string) func([]interface{}) bool {
	return func(row []interface{}) bool {
		s, ok := row[0].(string)
		if !ok {
			return false
		}
		_, err := strftime.Parse(format, s)
		return err == nil
	}
}

// jsonSchemaPredicate passes values that are JSON documents valid against
// the schema. The schema is compiled once, before any query runs.
func jsonSchemaPredicate(schema interface{}) (func([]interface{}) bool, error) {
	var loader gojsonschema.JSONLoader
	switch s := schema.(type) {
	case nil:
		return nil, dqerrors.MissingParameter("json_schema")
	case string:
		loader = gojsonschema.NewStringLoader(s)
	case []byte:
		loader = gojsonschema.NewBytesLoader(s)
	default:
		loader = gojsonschema.NewGoLoader(s)
	}
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, dqerrors.Wrap(err, dqerrors.CodeConfiguration, "invalid json_schema")
	}

	return func(row []interface{}) bool {
		var doc gojsonschema.JSONLoader
		switch v := row[0].(type) {
		case string:
			if !json.Valid([]byte(v)) {
				return false
			}
			doc = gojsonschema.NewStringLoader(v)
		default:
			doc = gojsonschema.NewGoLoader(v)
		}
		res, err := compiled.Validate(doc)
		return err == nil && res.Valid()
	}, nil
}
