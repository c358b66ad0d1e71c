// Package result defines result formats and the typed reports returned by
// expectation evaluation.
package result

import (
	"strings"

	"github.com/spf13/cast"

	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

// Verbosity is the result format tier.
type Verbosity string

const (
	BooleanOnly Verbosity = "BOOLEAN_ONLY"
	Basic       Verbosity = "BASIC"
	Summary     Verbosity = "SUMMARY"
	Complete    Verbosity = "COMPLETE"
)

// DefaultPartialUnexpectedCount caps evidence for BASIC and SUMMARY.
const DefaultPartialUnexpectedCount = 20

// Format configures how much unexpected evidence a report retains.
type Format struct {
	ResultFormat           Verbosity `json:"result_format" yaml:"result_format"`
	PartialUnexpectedCount int       `json:"partial_unexpected_count" yaml:"partial_unexpected_count"`
}

// DefaultFormat is BASIC with the default evidence cap.
func DefaultFormat() Format {
	return Format{ResultFormat: Basic, PartialUnexpectedCount: DefaultPartialUnexpectedCount}
}

// ParseFormat accepts nil, a tier name, a Format or a map with the keys
// result_format and partial_unexpected_count.
func ParseFormat(v interface{}) (Format, error) {
	var f Format
	switch x := v.(type) {
	case nil:
		return DefaultFormat(), nil
	case Format:
		f = x
	case *Format:
		if x == nil {
			return DefaultFormat(), nil
		}
		f = *x
	case string:
		f = Format{ResultFormat: Verbosity(x), PartialUnexpectedCount: DefaultPartialUnexpectedCount}
	case Verbosity:
		f = Format{ResultFormat: x, PartialUnexpectedCount: DefaultPartialUnexpectedCount}
	case map[string]interface{}:
		name, err := cast.ToStringE(x["result_format"])
		if err != nil {
			return Format{}, dqerrors.Configuration("result_format must be a string, got %T", x["result_format"])
		}
		f = Format{ResultFormat: Verbosity(name), PartialUnexpectedCount: DefaultPartialUnexpectedCount}
		if n, ok := x["partial_unexpected_count"]; ok {
			count, err := cast.ToIntE(n)
			if err != nil {
				return Format{}, dqerrors.Configuration("partial_unexpected_count must be an integer")
			}
			f.PartialUnexpectedCount = count
		}
	default:
		return Format{}, dqerrors.Configuration("unsupported result_format %T", v)
	}

	f.ResultFormat = Verbosity(strings.ToUpper(string(f.ResultFormat)))
	if f.ResultFormat == "" {
		f.ResultFormat = Basic
	}
	switch f.ResultFormat {
	case BooleanOnly, Basic, Summary, Complete:
	default:
		return Format{}, dqerrors.Configuration("unknown result_format %q", f.ResultFormat)
	}
	if f.PartialUnexpectedCount < 0 {
		return Format{}, dqerrors.Configuration("partial_unexpected_count must not be negative")
	}
	return f, nil
}

// Limit returns the evidence cap. COMPLETE is uncapped.
func (f Format) Limit() (int, bool) {
	if f.ResultFormat == Complete {
		return 0, false
	}
	return f.PartialUnexpectedCount, true
}

// NeedsEvidence reports whether unexpected values must be materialized.
func (f Format) NeedsEvidence() bool {
	return f.ResultFormat != BooleanOnly
}
