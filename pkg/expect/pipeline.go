package expect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/logflow/dqengine/pkg/domain"
	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/result"
)

type shape int

const (
	shapeColumn shape = iota
	shapePair
	shapeMulti
)

// mapPlan is one map expectation ready for evaluation.
type mapPlan struct {
	expectationType string
	kwargs          map[string]interface{}
	columns         []string
	shape           shape

	// missingness expectations keep null rows in scope.
	missingness bool

	// condition is the success predicate over the evaluation columns.
	condition func(cols []string) (string, error)
	// predicate replaces condition with a host-side check of the
	// evaluation values of one row.
	predicate func(values []interface{}) bool
}

// evalNames returns the evaluation column names of the plan.
func (p *mapPlan) evalNames() []string {
	names := make([]string, len(p.columns))
	for i, c := range p.columns {
		name := domain.EvalColumnName(c)
		if p.shape == shapePair {
			suffix := strings.TrimPrefix(name, "__eval_col_")
			name = "__eval_col_" + string(rune('A'+i)) + "_" + suffix
		}
		names[i] = name
	}
	return names
}

// exclusion returns the predicate of rows removed from the nonnull count.
func (p *mapPlan) exclusion(policy string, cols []string) (string, error) {
	if p.missingness {
		return "FALSE", nil
	}
	isNull := make([]string, len(cols))
	for i, c := range cols {
		isNull[i] = c + " IS NULL"
	}

	switch p.shape {
	case shapeColumn:
		return isNull[0], nil
	case shapePair:
		switch policy {
		case "", BothValuesAreMissing:
			return strings.Join(isNull, " AND "), nil
		case EitherValueIsMissing:
			return strings.Join(isNull, " OR "), nil
		case NeverIgnore:
			return "FALSE", nil
		}
	case shapeMulti:
		switch policy {
		case "", AllValuesAreMissing:
			return strings.Join(isNull, " AND "), nil
		case AnyValueIsMissing:
			return strings.Join(isNull, " OR "), nil
		case NeverIgnore:
			return "FALSE", nil
		}
	}
	return "", dqerrors.Configuration("unknown ignore_row_if policy %q", policy)
}

// run evaluates the plan and applies the call options shared by every
// expectation.
func (e *Evaluator) run(ctx context.Context, p *mapPlan, s *settings) (*result.Result, error) {
	res, err := e.evaluate(ctx, p, s)
	return e.finish(p.expectationType, p.kwargs, s, res, err)
}

func (e *Evaluator) finish(expectationType string, kwargs map[string]interface{}, s *settings, res *result.Result, err error) (*result.Result, error) {
	if err != nil {
		if !s.catchExceptions {
			return nil, err
		}
		e.logger.WithError(err).WithField("expectation", expectationType).Warn("expectation raised")
		res = &result.Result{Success: false, ExceptionInfo: result.NewExceptionInfo(err)}
	}
	res.Meta = s.meta
	if s.includeConfig {
		res.ExpectationConfig = &result.ExpectationConfig{
			ExpectationType: expectationType,
			Kwargs:          s.kwargs(kwargs),
			Meta:            s.meta,
		}
	}
	return res, nil
}

type mapCounts struct {
	element    int64
	nonnull    int64
	success    int64
	unexpected []interface{}
	index      []uint64
}

func (e *Evaluator) evaluate(ctx context.Context, p *mapPlan, s *settings) (*result.Result, error) {
	format, err := s.resultFormat()
	if err != nil {
		return nil, err
	}
	if err := s.checkMostly(); err != nil {
		return nil, err
	}

	names := p.evalNames()
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = engine.QuoteIdent(n)
	}
	exclude, err := p.exclusion(s.ignoreRowIf, quoted)
	if err != nil {
		return nil, err
	}
	var cond string
	if p.predicate == nil {
		if cond, err = p.condition(quoted); err != nil {
			return nil, err
		}
	}

	view, err := e.view(ctx, p, s, names)
	if err != nil {
		return nil, err
	}

	pin, release, err := e.pin(ctx, view)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	var counts mapCounts
	if p.predicate == nil {
		counts, err = e.countSQL(ctx, pin, cond, exclude, quoted, format)
	} else {
		counts, err = e.countHost(ctx, pin, p.predicate, exclude, quoted, format)
	}
	if err != nil {
		return nil, err
	}

	unexpectedCount := counts.nonnull - counts.success
	values := make([]interface{}, len(counts.unexpected))
	for i, row := range counts.unexpected {
		values[i] = evidenceValue(p, row.([]interface{}))
	}
	if s.outputStrftime != "" {
		values = reformatDates(values, s.outputStrftime)
	}

	percent := 1.0
	if counts.nonnull > 0 {
		percent = float64(counts.success) / float64(counts.nonnull)
	}
	success := unexpectedCount == 0
	if s.mostly != nil {
		success = percent >= *s.mostly
	}

	e.logger.WithFields(logrus.Fields{
		"expectation":      p.expectationType,
		"element_count":    counts.element,
		"unexpected_count": unexpectedCount,
		"success":          success,
		"duration_ms":      time.Since(start).Milliseconds(),
	}).Debug("expectation evaluated")

	out := result.MapOutput{
		Success:         success,
		ElementCount:    counts.element,
		NonnullCount:    counts.nonnull,
		UnexpectedCount: unexpectedCount,
		UnexpectedList:  values,
		UnexpectedIndex: counts.index,
	}
	var report result.Report
	if p.missingness {
		report = result.FormatMissingness(format, out)
	} else {
		report = result.FormatMap(format, out)
	}
	return &result.Result{Success: success, Result: report}, nil
}

// view builds the relation of row positions and evaluation columns.
func (e *Evaluator) view(ctx context.Context, p *mapPlan, s *settings, names []string) (engine.Relation, error) {
	rows := s.rowDomain()
	base, err := domain.Resolve(rows, e.batches, false)
	if err != nil {
		return engine.Relation{}, err
	}
	if err := e.checkColumns(ctx, base, p.columns); err != nil {
		return engine.Relation{}, err
	}

	exprs := []string{engine.QuoteIdent(engine.RowColumn)}
	if p.shape == shapeColumn {
		rows.Column = p.columns[0]
		rel, err := domain.Resolve(rows, e.batches, false)
		if err != nil {
			return engine.Relation{}, err
		}
		return rel.Select(append(exprs, engine.QuoteIdent(names[0]))...), nil
	}
	for i, c := range p.columns {
		exprs = append(exprs, engine.QuoteIdent(c)+" AS "+engine.QuoteIdent(names[i]))
	}
	return base.Select(exprs...), nil
}

func (e *Evaluator) checkColumns(ctx context.Context, rel engine.Relation, columns []string) error {
	schema, err := e.rt.Describe(ctx, rel)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(schema))
	for _, c := range schema {
		known[c.Name] = true
	}
	for _, c := range columns {
		if !known[c] {
			return dqerrors.DomainResolution("column not found").WithContext("column", c)
		}
	}
	return nil
}

// pin materializes rel for the duration of one evaluation. The release func
// drops it and must run on every exit path.
func (e *Evaluator) pin(ctx context.Context, rel engine.Relation) (string, func(), error) {
	name := engine.QuoteIdent("__dq_pin_" + strings.ReplaceAll(uuid.NewString(), "-", ""))
	if _, err := e.rt.Exec(ctx, "CREATE TABLE "+name+" AS "+rel.SQL()); err != nil {
		return "", func() {}, err
	}
	release := func() {
		if _, err := e.rt.Exec(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+name); err != nil {
			e.logger.WithError(err).WithField("table", name).Warn("failed to drop pinned view")
		}
	}
	return name, release, nil
}

func (e *Evaluator) countSQL(ctx context.Context, pin, cond, exclude string, cols []string, f result.Format) (mapCounts, error) {
	var c mapCounts
	scored := fmt.Sprintf("SELECT *, COALESCE((%s), FALSE) AS __success FROM %s WHERE NOT (%s)", cond, pin, exclude)

	vals, err := e.rt.Values(ctx, fmt.Sprintf(
		"SELECT (SELECT COUNT(*) FROM %s), COUNT(*), CAST(SUM(CASE WHEN __success THEN 1 ELSE 0 END) AS BIGINT) FROM (%s) AS __dq_stats",
		pin, scored))
	if err != nil {
		return c, err
	}
	if c.element, err = engine.AsInt64(vals[0]); err != nil {
		return c, err
	}
	if c.nonnull, err = engine.AsInt64(vals[1]); err != nil {
		return c, err
	}
	if c.success, err = engine.AsInt64(vals[2]); err != nil {
		return c, err
	}

	if c.nonnull == c.success || !f.NeedsEvidence() {
		return c, nil
	}

	row := engine.QuoteIdent(engine.RowColumn)
	q := fmt.Sprintf("SELECT %s, %s FROM (%s) AS __dq_eval WHERE NOT __success ORDER BY %s",
		row, strings.Join(cols, ", "), scored, row)
	if n, ok := f.Limit(); ok {
		q += fmt.Sprintf(" LIMIT %d", n)
	}

	res, err := e.rt.Query(ctx, q)
	if err != nil {
		return c, err
	}
	defer res.Close()
	for res.Next() {
		vals, err := res.Values()
		if err != nil {
			return c, err
		}
		if err := c.collect(vals); err != nil {
			return c, err
		}
	}
	return c, res.Err()
}

func (e *Evaluator) countHost(ctx context.Context, pin string, pred func([]interface{}) bool, exclude string, cols []string, f result.Format) (mapCounts, error) {
	var c mapCounts
	vals, err := e.rt.Values(ctx, fmt.Sprintf(
		"SELECT COUNT(*), CAST(SUM(CASE WHEN %s THEN 0 ELSE 1 END) AS BIGINT) FROM %s", exclude, pin))
	if err != nil {
		return c, err
	}
	if c.element, err = engine.AsInt64(vals[0]); err != nil {
		return c, err
	}
	if c.nonnull, err = engine.AsInt64(vals[1]); err != nil {
		return c, err
	}
	if c.nonnull == 0 {
		return c, nil
	}

	limit, capped := f.Limit()
	row := engine.QuoteIdent(engine.RowColumn)
	res, err := e.rt.Query(ctx, fmt.Sprintf("SELECT %s, %s FROM %s WHERE NOT (%s) ORDER BY %s",
		row, strings.Join(cols, ", "), pin, exclude, row))
	if err != nil {
		return c, err
	}
	defer res.Close()

	for res.Next() {
		if err := ctx.Err(); err != nil {
			return c, dqerrors.ContextCanceled("evaluate expectation")
		}
		vals, err := res.Values()
		if err != nil {
			return c, err
		}
		for i := 1; i < len(vals); i++ {
			vals[i] = engine.Normalize(vals[i])
		}
		if pred(vals[1:]) {
			c.success++
			continue
		}
		if !f.NeedsEvidence() || (capped && len(c.unexpected) >= limit) {
			continue
		}
		if err := c.collect(vals); err != nil {
			return c, err
		}
	}
	return c, res.Err()
}

// collect records one failing row: its position then its evaluation values.
func (c *mapCounts) collect(vals []interface{}) error {
	pos, err := engine.AsInt64(vals[0])
	if err != nil {
		return err
	}
	row := make([]interface{}, len(vals)-1)
	for i, v := range vals[1:] {
		row[i] = engine.Normalize(v)
	}
	c.index = append(c.index, uint64(pos))
	c.unexpected = append(c.unexpected, row)
	return nil
}

func evidenceValue(p *mapPlan, row []interface{}) interface{} {
	switch p.shape {
	case shapePair:
		return []interface{}{row[0], row[1]}
	case shapeMulti:
		r := make(result.Row, len(row))
		for i, v := range row {
			r[i] = result.Field{Name: p.columns[i], Value: v}
		}
		return r
	}
	return row[0]
}
