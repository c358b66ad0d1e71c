package result

import (
	"errors"
	"fmt"
	"sort"

	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

// Report is the tier-shaped payload of a Result.
type Report interface {
	isReport()
}

// StandardMapReport is produced by map expectations.
type StandardMapReport struct {
	ElementCount                int64         `json:"element_count"`
	MissingCount                int64         `json:"missing_count"`
	MissingPercent              *float64      `json:"missing_percent"`
	UnexpectedCount             int64         `json:"unexpected_count"`
	UnexpectedPercent           *float64      `json:"unexpected_percent"`
	UnexpectedPercentNonmissing *float64      `json:"unexpected_percent_nonmissing"`
	PartialUnexpectedList       []interface{} `json:"partial_unexpected_list"`

	// SUMMARY and COMPLETE
	PartialUnexpectedIndexList *IndexList    `json:"partial_unexpected_index_list,omitempty"`
	PartialUnexpectedCounts    *[]ValueCount `json:"partial_unexpected_counts,omitempty"`

	// COMPLETE
	UnexpectedList      *[]interface{} `json:"unexpected_list,omitempty"`
	UnexpectedIndexList *IndexList     `json:"unexpected_index_list,omitempty"`
}

// MissingnessReport is produced by null and not-null expectations. Every row
// is in scope, so the missing and nonmissing fields do not exist.
type MissingnessReport struct {
	ElementCount          int64         `json:"element_count"`
	UnexpectedCount       int64         `json:"unexpected_count"`
	UnexpectedPercent     *float64      `json:"unexpected_percent"`
	PartialUnexpectedList []interface{} `json:"partial_unexpected_list"`

	PartialUnexpectedIndexList *IndexList `json:"partial_unexpected_index_list,omitempty"`

	UnexpectedList      *[]interface{} `json:"unexpected_list,omitempty"`
	UnexpectedIndexList *IndexList     `json:"unexpected_index_list,omitempty"`
}

// ObservedValueReport is produced by aggregate expectations.
type ObservedValueReport struct {
	ObservedValue interface{} `json:"observed_value"`
}

func (*StandardMapReport) isReport()   {}
func (*MissingnessReport) isReport()   {}
func (*ObservedValueReport) isReport() {}

// ExpectationConfig echoes the call that produced a result.
type ExpectationConfig struct {
	ExpectationType string                 `json:"expectation_type"`
	Kwargs          map[string]interface{} `json:"kwargs"`
	Meta            map[string]interface{} `json:"meta,omitempty"`
}

// ExceptionInfo captures an error raised while evaluating with catch_exceptions.
type ExceptionInfo struct {
	RaisedException    bool   `json:"raised_exception"`
	ExceptionMessage   string `json:"exception_message,omitempty"`
	ExceptionTraceback string `json:"exception_traceback,omitempty"`
}

// NewExceptionInfo records err, with its stack when the engine raised it.
func NewExceptionInfo(err error) *ExceptionInfo {
	info := &ExceptionInfo{RaisedException: true, ExceptionMessage: err.Error()}
	var ee *dqerrors.EngineError
	if errors.As(err, &ee) {
		info.ExceptionTraceback = ee.FormatStack()
	}
	return info
}

// Result is the outcome of one expectation.
type Result struct {
	Success           bool                   `json:"success"`
	Result            Report                 `json:"result,omitempty"`
	ExpectationConfig *ExpectationConfig     `json:"expectation_config,omitempty"`
	ExceptionInfo     *ExceptionInfo         `json:"exception_info,omitempty"`
	Meta              map[string]interface{} `json:"meta,omitempty"`
}

// MapOutput carries the counts and evidence a map expectation produced.
type MapOutput struct {
	Success         bool
	ElementCount    int64
	NonnullCount    int64
	UnexpectedCount int64
	// UnexpectedList holds at most the format limit of values, in row order.
	UnexpectedList []interface{}
	// UnexpectedIndex holds the row positions of UnexpectedList, if known.
	UnexpectedIndex []uint64
}

func percent(n, d int64) *float64 {
	if d <= 0 {
		return nil
	}
	p := float64(n) / float64(d) * 100
	return &p
}

// FormatMap shapes a map expectation output for the given tier. BOOLEAN_ONLY
// returns a nil report.
func FormatMap(f Format, out MapOutput) Report {
	if f.ResultFormat == BooleanOnly {
		return nil
	}

	limit := clamp(f.PartialUnexpectedCount, len(out.UnexpectedList))

	missing := out.ElementCount - out.NonnullCount
	r := &StandardMapReport{
		ElementCount:          out.ElementCount,
		MissingCount:          missing,
		MissingPercent:        percent(missing, out.ElementCount),
		UnexpectedCount:       out.UnexpectedCount,
		PartialUnexpectedList: ensureList(out.UnexpectedList[:limit]),
	}
	if out.NonnullCount > 0 {
		r.UnexpectedPercent = percent(out.UnexpectedCount, out.ElementCount)
		r.UnexpectedPercentNonmissing = percent(out.UnexpectedCount, out.NonnullCount)
	}

	if f.ResultFormat == Basic {
		return r
	}

	counts := PartialUnexpectedCounts(out.UnexpectedList, f.PartialUnexpectedCount)
	r.PartialUnexpectedCounts = &counts
	r.PartialUnexpectedIndexList = indexHead(out.UnexpectedIndex, f.PartialUnexpectedCount)

	if f.ResultFormat == Summary {
		return r
	}

	all := ensureList(out.UnexpectedList)
	r.UnexpectedList = &all
	r.UnexpectedIndexList = NewIndexList(out.UnexpectedIndex...)
	return r
}

// FormatMissingness shapes output of null and not-null expectations.
func FormatMissingness(f Format, out MapOutput) Report {
	if f.ResultFormat == BooleanOnly {
		return nil
	}

	limit := clamp(f.PartialUnexpectedCount, len(out.UnexpectedList))

	r := &MissingnessReport{
		ElementCount:          out.ElementCount,
		UnexpectedCount:       out.UnexpectedCount,
		UnexpectedPercent:     percent(out.UnexpectedCount, out.ElementCount),
		PartialUnexpectedList: ensureList(out.UnexpectedList[:limit]),
	}
	if f.ResultFormat == Basic {
		return r
	}

	r.PartialUnexpectedIndexList = indexHead(out.UnexpectedIndex, f.PartialUnexpectedCount)
	if f.ResultFormat == Summary {
		return r
	}

	all := ensureList(out.UnexpectedList)
	r.UnexpectedList = &all
	r.UnexpectedIndexList = NewIndexList(out.UnexpectedIndex...)
	return r
}

// FormatObserved shapes output of aggregate expectations.
func FormatObserved(f Format, observed interface{}) Report {
	if f.ResultFormat == BooleanOnly {
		return nil
	}
	return &ObservedValueReport{ObservedValue: observed}
}

// clamp bounds an evidence cap to [0, n].
func clamp(limit, n int) int {
	if limit < 0 {
		return 0
	}
	if limit > n {
		return n
	}
	return limit
}

func indexHead(index []uint64, n int) *IndexList {
	return NewIndexList(index[:clamp(n, len(index))]...)
}

func ensureList(v []interface{}) []interface{} {
	if v == nil {
		return []interface{}{}
	}
	return v
}

// PartialUnexpectedCounts returns the n most common values, ordered by
// descending count and then by the string form of the value.
func PartialUnexpectedCounts(values []interface{}, n int) []ValueCount {
	index := make(map[string]int)
	var counts []ValueCount
	for _, v := range values {
		k := fmt.Sprintf("%T|%v", v, v)
		if i, ok := index[k]; ok {
			counts[i].Count++
			continue
		}
		index[k] = len(counts)
		counts = append(counts, ValueCount{Value: v, Count: 1})
	}

	sort.SliceStable(counts, func(i, j int) bool { return counts[i].Count > counts[j].Count })
	counts = counts[:clamp(n, len(counts))]
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return valueKey(counts[i].Value) < valueKey(counts[j].Value)
	})
	if counts == nil {
		counts = []ValueCount{}
	}
	return counts
}

func valueKey(v interface{}) string {
	return fmt.Sprintf("%v", v)
}
