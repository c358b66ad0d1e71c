package expect

import (
	"github.com/logflow/dqengine/pkg/domain"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/result"
)

// Missing value policies of pair and multicolumn expectations.
const (
	BothValuesAreMissing = "both_values_are_missing"
	EitherValueIsMissing = "either_value_is_missing"
	AllValuesAreMissing  = "all_values_are_missing"
	AnyValueIsMissing    = "any_value_is_missing"
	NeverIgnore          = "never"
)

// Option configures a single expectation call.
type Option func(*settings)

type settings struct {
	mostly          *float64
	format          interface{}
	includeConfig   bool
	catchExceptions bool
	meta            map[string]interface{}

	batchID         string
	rowCondition    string
	conditionParser string
	ignoreRowIf     string

	parseDates     bool
	outputStrftime string
	strictMin      bool
	strictMax      bool
	allowCross     bool
	strictly       bool
	orEqual        bool
	matchOn        string
}

func newSettings(opts []Option) *settings {
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mostly lets the expectation succeed when at least the given fraction of
// nonnull rows pass.
func Mostly(fraction float64) Option {
	return func(s *settings) { s.mostly = &fraction }
}

// WithResultFormat sets the result format: a tier name, a result.Format or a
// map with result_format and partial_unexpected_count.
func WithResultFormat(format interface{}) Option {
	return func(s *settings) { s.format = format }
}

// IncludeConfig attaches the call configuration to the result.
func IncludeConfig() Option {
	return func(s *settings) { s.includeConfig = true }
}

// CatchExceptions reports evaluation errors in the result instead of
// returning them.
func CatchExceptions() Option {
	return func(s *settings) { s.catchExceptions = true }
}

// WithMeta attaches user metadata to the result.
func WithMeta(meta map[string]interface{}) Option {
	return func(s *settings) { s.meta = meta }
}

// WithBatch selects the batch to evaluate.
func WithBatch(id string) Option {
	return func(s *settings) { s.batchID = id }
}

// WithRowCondition restricts evaluation to rows matching a DuckDB predicate.
func WithRowCondition(cond string) Option {
	return func(s *settings) {
		s.rowCondition = cond
		if s.conditionParser == "" {
			s.conditionParser = domain.ConditionParserDuckDB
		}
	}
}

// WithConditionParser overrides the row condition dialect.
func WithConditionParser(parser string) Option {
	return func(s *settings) { s.conditionParser = parser }
}

// IgnoreRowIf sets the missing value policy of pair and multicolumn
// expectations.
func IgnoreRowIf(policy string) Option {
	return func(s *settings) { s.ignoreRowIf = policy }
}

// ParseStringsAsDatetimes compares values as timestamps.
func ParseStringsAsDatetimes() Option {
	return func(s *settings) { s.parseDates = true }
}

// OutputStrftimeFormat reformats unexpected date strings with a strftime pattern.
func OutputStrftimeFormat(format string) Option {
	return func(s *settings) { s.outputStrftime = format }
}

// StrictMin excludes the lower bound.
func StrictMin() Option {
	return func(s *settings) { s.strictMin = true }
}

// StrictMax excludes the upper bound.
func StrictMax() Option {
	return func(s *settings) { s.strictMax = true }
}

// AllowCrossTypeComparisons requests comparisons across types, which the
// engine refuses.
func AllowCrossTypeComparisons() Option {
	return func(s *settings) { s.allowCross = true }
}

// Strictly requires strict monotonicity.
func Strictly() Option {
	return func(s *settings) { s.strictly = true }
}

// OrEqual lets A equal B in A greater than B comparisons.
func OrEqual() Option {
	return func(s *settings) { s.orEqual = true }
}

// MatchOn sets how a regex list combines: "any" or "all".
func MatchOn(mode string) Option {
	return func(s *settings) { s.matchOn = mode }
}

func (s *settings) resultFormat() (result.Format, error) {
	return result.ParseFormat(s.format)
}

func (s *settings) checkMostly() error {
	if s.mostly == nil {
		return nil
	}
	if *s.mostly < 0 || *s.mostly > 1 {
		return dqerrors.Configuration("mostly must be between 0 and 1, got %v", *s.mostly)
	}
	return nil
}

func (s *settings) rowDomain() domain.Kwargs {
	return domain.Kwargs{
		BatchID:         s.batchID,
		RowCondition:    s.rowCondition,
		ConditionParser: s.conditionParser,
	}
}

// kwargs renders the settings for the echoed expectation config.
func (s *settings) kwargs(base map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+8)
	for k, v := range base {
		out[k] = v
	}
	if s.mostly != nil {
		out["mostly"] = *s.mostly
	}
	if s.format != nil {
		out["result_format"] = s.format
	}
	if s.batchID != "" {
		out["batch_id"] = s.batchID
	}
	if s.rowCondition != "" {
		out["row_condition"] = s.rowCondition
		out["condition_parser"] = s.conditionParser
	}
	if s.ignoreRowIf != "" {
		out["ignore_row_if"] = s.ignoreRowIf
	}
	if s.parseDates {
		out["parse_strings_as_datetimes"] = true
	}
	if s.outputStrftime != "" {
		out["output_strftime_format"] = s.outputStrftime
	}
	return out
}
