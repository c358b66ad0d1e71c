// Package validator evaluates column map expectations through the metric
// graph. The counts of every expectation are requested in one resolution
// pass, so expectations sharing a row domain cost one scan together;
// evidence is fetched only for expectations that failed.
package validator

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/logflow/dqengine/internal/logging"
	"github.com/logflow/dqengine/pkg/batch"
	"github.com/logflow/dqengine/pkg/domain"
	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/metrics"
	"github.com/logflow/dqengine/pkg/result"
)

type binding struct {
	metric      string
	missingness bool
}

var bindings = map[string]binding{
	"expect_column_values_to_be_in_set":            {metric: metrics.ColumnValuesInSet},
	"expect_column_values_to_not_be_in_set":        {metric: metrics.ColumnValuesNotInSet},
	"expect_column_values_to_be_between":           {metric: metrics.ColumnValuesBetween},
	"expect_column_value_lengths_to_be_between":    {metric: metrics.ColumnValuesLengthRange},
	"expect_column_value_lengths_to_equal":         {metric: metrics.ColumnValuesLengthEquals},
	"expect_column_values_to_match_regex":          {metric: metrics.ColumnValuesMatchRegex},
	"expect_column_values_to_not_match_regex":      {metric: metrics.ColumnValuesNotMatch},
	"expect_column_values_to_match_regex_list":     {metric: metrics.ColumnValuesMatchList},
	"expect_column_values_to_not_match_regex_list": {metric: metrics.ColumnValuesNotMatchList},
	"expect_column_values_to_be_unique":            {metric: metrics.ColumnValuesUnique},
	"expect_column_values_to_not_be_null":          {metric: metrics.ColumnValuesNonNull, missingness: true},
	"expect_column_values_to_be_null":              {metric: metrics.ColumnValuesNull, missingness: true},
}

// Supports reports whether an expectation type can run through the metric graph.
func Supports(expectationType string) bool {
	_, ok := bindings[expectationType]
	return ok
}

// Expectation is one column map expectation.
type Expectation struct {
	Type            string
	Column          string
	Kwargs          map[string]interface{}
	Mostly          *float64
	Format          result.Format
	BatchID         string
	RowCondition    string
	ConditionParser string
}

// Outcome is the result of one expectation, or the error that aborted it.
type Outcome struct {
	Expectation Expectation
	Result      *result.Result
	Err         error
}

// Validator resolves expectations through a metric resolver.
type Validator struct {
	rt       *engine.Runtime
	resolver *metrics.Resolver
	registry *metrics.Registry
	logger   logrus.FieldLogger
}

// New creates a validator over registry.
func New(rt *engine.Runtime, registry *metrics.Registry, logger logrus.FieldLogger) *Validator {
	logger = logging.OrDiscard(logger)
	return &Validator{
		rt:       rt,
		resolver: metrics.NewResolver(rt, registry, logger),
		registry: registry,
		logger:   logger,
	}
}

type plan struct {
	binding binding
	exp     Expectation
	column  domain.Kwargs
	values  metrics.ValueKwargs

	condition metrics.Identity
	element   metrics.Identity
	nonnull   metrics.Identity
	success   metrics.Identity
}

func (v *Validator) plan(exp Expectation) (*plan, error) {
	b, ok := bindings[exp.Type]
	if !ok {
		return nil, dqerrors.Configuration("expectation %q is not a column map expectation", exp.Type)
	}
	if exp.Column == "" {
		return nil, dqerrors.MissingParameter("column")
	}
	if exp.Mostly != nil && (*exp.Mostly < 0 || *exp.Mostly > 1) {
		return nil, dqerrors.Configuration("mostly must be between 0 and 1, got %v", *exp.Mostly)
	}

	if exp.Format == (result.Format{}) {
		exp.Format = result.DefaultFormat()
	}
	format, err := result.ParseFormat(exp.Format)
	if err != nil {
		return nil, err
	}
	exp.Format = format
	p := &plan{binding: b, exp: exp, values: metrics.ValueKwargs(exp.Kwargs)}
	parser := exp.ConditionParser
	if exp.RowCondition != "" && parser == "" {
		parser = domain.ConditionParserDuckDB
	}
	p.column = domain.Kwargs{
		BatchID:         exp.BatchID,
		RowCondition:    exp.RowCondition,
		ConditionParser: parser,
		Column:          exp.Column,
	}

	if p.condition, err = v.registry.Identity(b.metric, p.column, p.values); err != nil {
		return nil, err
	}
	if p.element, err = v.registry.Identity(metrics.TableRowCount, p.column.RowDomain(), nil); err != nil {
		return nil, err
	}
	if p.nonnull, err = v.registry.Identity(metrics.ColumnValuesNonNull+metrics.SuffixCount, p.column, nil); err != nil {
		return nil, err
	}
	if p.success, err = v.registry.Identity(b.metric+metrics.SuffixCount, p.column, p.values); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *plan) counts() []metrics.Identity {
	return []metrics.Identity{p.element, p.nonnull, p.success}
}

// Validate evaluates exps. The outcomes keep the order of exps.
func (v *Validator) Validate(ctx context.Context, batches *batch.Set, exps []Expectation) []Outcome {
	outcomes := make([]Outcome, len(exps))
	plans := make([]*plan, len(exps))
	dict := metrics.Dictionary{}

	// Phase 0: plans and conditions, which fail without touching data.
	var requests []metrics.Identity
	for i, exp := range exps {
		outcomes[i].Expectation = exp
		p, err := v.plan(exp)
		if err == nil {
			_, err = v.resolver.Resolve(ctx, batches, []metrics.Identity{p.condition}, dict)
		}
		if err != nil {
			outcomes[i].Err = err
			continue
		}
		plans[i] = p
		requests = append(requests, p.counts()...)
	}

	// Phase 1: every count in one pass, one query per row domain.
	before := v.rt.QueryCount()
	if _, err := v.resolver.Resolve(ctx, batches, requests, dict); err != nil {
		v.logger.WithError(err).Debug("bundled pass failed, resolving expectations one by one")
		for i, p := range plans {
			if p == nil {
				continue
			}
			if _, err := v.resolver.Resolve(ctx, batches, p.counts(), dict); err != nil {
				outcomes[i].Err = err
				plans[i] = nil
			}
		}
	}
	v.logger.WithFields(logrus.Fields{
		"expectations": len(exps),
		"queries":      v.rt.QueryCount() - before,
	}).Debug("counts resolved")

	// Phase 2: evidence for failed expectations only.
	for i, p := range plans {
		if p == nil {
			continue
		}
		res, err := v.finish(ctx, batches, p, dict)
		outcomes[i].Result, outcomes[i].Err = res, err
	}
	return outcomes
}

func (v *Validator) finish(ctx context.Context, batches *batch.Set, p *plan, dict metrics.Dictionary) (*result.Result, error) {
	element, err := count(dict, p.element)
	if err != nil {
		return nil, err
	}
	nonnull, err := count(dict, p.nonnull)
	if err != nil {
		return nil, err
	}
	success, err := count(dict, p.success)
	if err != nil {
		return nil, err
	}
	if p.binding.missingness {
		nonnull = element
	}

	unexpected := nonnull - success
	var evidence metrics.Evidence
	if unexpected > 0 && p.exp.Format.NeedsEvidence() {
		values := metrics.ValueKwargs{}
		for k, val := range p.values {
			values[k] = val
		}
		values["result_format"] = p.exp.Format
		id, err := v.registry.Identity(p.binding.metric+metrics.SuffixUnexpectedValues, p.column, values)
		if err != nil {
			return nil, err
		}
		if _, err := v.resolver.Resolve(ctx, batches, []metrics.Identity{id}, dict); err != nil {
			return nil, err
		}
		raw, _ := dict.Get(id)
		evidence, _ = raw.(metrics.Evidence)
	}

	percent := 1.0
	if nonnull > 0 {
		percent = float64(success) / float64(nonnull)
	}
	ok := unexpected == 0
	if p.exp.Mostly != nil {
		ok = percent >= *p.exp.Mostly
	}

	out := result.MapOutput{
		Success:         ok,
		ElementCount:    element,
		NonnullCount:    nonnull,
		UnexpectedCount: unexpected,
		UnexpectedList:  evidence.Values,
		UnexpectedIndex: evidence.Index,
	}
	var report result.Report
	if p.binding.missingness {
		report = result.FormatMissingness(p.exp.Format, out)
	} else {
		report = result.FormatMap(p.exp.Format, out)
	}
	return &result.Result{Success: ok, Result: report}, nil
}

func count(dict metrics.Dictionary, id metrics.Identity) (int64, error) {
	raw, ok := dict.Get(id)
	if !ok {
		return 0, dqerrors.BundleResolution("metric %q was not resolved", id.Name)
	}
	n, ok := raw.(int64)
	if !ok {
		return 0, dqerrors.BundleResolution("metric %q is not a count", id.Name)
	}
	return n, nil
}
