package metrics

import (
	"fmt"

	"github.com/logflow/dqengine/pkg/condition"
	"github.com/logflow/dqengine/pkg/domain"
	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/result"
)

// Derived metric suffixes registered for every column map metric.
const (
	SuffixCount                 = ".count"
	SuffixUnexpectedValues      = ".unexpected_values"
	SuffixUnexpectedValueCounts = ".unexpected_value_counts"
	SuffixUnexpectedRows        = ".unexpected_rows"
)

// ColumnDomainKeys are the domain keys of column map metrics.
var ColumnDomainKeys = []string{"batch_id", "table", "row_condition", "condition_parser", "column"}

// ConditionFunc returns the per-row predicate of a column map metric for a
// column expression. It must not handle nulls itself.
type ConditionFunc func(column string, values ValueKwargs, metrics Dictionary) (string, error)

// ColumnMap declares a column map metric.
type ColumnMap struct {
	Name      string
	ValueKeys []string
	Condition ConditionFunc
	// FilterColumnIsNull makes null rows never satisfy the metric. Metrics
	// about missingness itself turn it off.
	FilterColumnIsNull bool
}

// Evidence is the materialized unexpected values with their row positions.
type Evidence struct {
	Values []interface{}
	Index  []uint64
}

// RegisterColumnMap registers the base condition metric and its four derived
// metrics.
func (b *Builder) RegisterColumnMap(m ColumnMap) error {
	evidenceKeys := append(append([]string{}, m.ValueKeys...), "result_format")
	base := m.Name

	entries := []Entry{
		{
			Name:               base,
			DomainKeys:         ColumnDomainKeys,
			ValueKeys:          m.ValueKeys,
			FilterColumnIsNull: m.FilterColumnIsNull,
			Resolve:            conditionProvider(m),
		},
		{
			Name:               base + SuffixCount,
			DomainKeys:         ColumnDomainKeys,
			ValueKeys:          m.ValueKeys,
			Dependencies:       []string{base},
			FilterColumnIsNull: m.FilterColumnIsNull,
			Bundle:             countProvider(base),
		},
		{
			Name:               base + SuffixUnexpectedValues,
			DomainKeys:         ColumnDomainKeys,
			ValueKeys:          evidenceKeys,
			Dependencies:       []string{base},
			FilterColumnIsNull: m.FilterColumnIsNull,
			Resolve:            unexpectedValuesProvider(base),
		},
		{
			Name:               base + SuffixUnexpectedValueCounts,
			DomainKeys:         ColumnDomainKeys,
			ValueKeys:          evidenceKeys,
			Dependencies:       []string{base},
			FilterColumnIsNull: m.FilterColumnIsNull,
			Resolve:            unexpectedValueCountsProvider(base),
		},
		{
			Name:               base + SuffixUnexpectedRows,
			DomainKeys:         ColumnDomainKeys,
			ValueKeys:          evidenceKeys,
			Dependencies:       []string{base},
			FilterColumnIsNull: m.FilterColumnIsNull,
			Resolve:            unexpectedRowsProvider(base),
		},
	}

	for _, e := range entries {
		if err := b.Register(e); err != nil {
			return err
		}
	}
	return nil
}

func conditionProvider(m ColumnMap) ValueFunc {
	return func(s *Scope, id Identity) (interface{}, error) {
		if id.Domain.Column == "" {
			return nil, dqerrors.MissingParameter("column")
		}
		col := engine.QuoteIdent(id.Domain.Column)
		cond, err := m.Condition(col, id.Values, s.Metrics)
		if err != nil {
			return nil, err
		}
		if id.FilterColumnIsNull {
			cond = condition.NotNullWrapped(col, cond)
		}
		return "(" + cond + ")", nil
	}
}

// baseCondition fetches the resolved condition of the base metric.
func baseCondition(s *Scope, base string, id Identity) (string, error) {
	baseID, err := s.Registry.Identity(base, id.Domain, id.Values)
	if err != nil {
		return "", err
	}
	v, ok := s.Metrics.Get(baseID)
	if !ok {
		return "", dqerrors.Newf(dqerrors.CodeBundleResolution, "dependency %q not resolved", base)
	}
	cond, ok := v.(string)
	if !ok {
		return "", dqerrors.Newf(dqerrors.CodeBundleResolution, "dependency %q is not a condition", base)
	}
	return cond, nil
}

func countProvider(base string) BundleFunc {
	return func(s *Scope, id Identity) (string, domain.Kwargs, error) {
		cond, err := baseCondition(s, base, id)
		if err != nil {
			return "", domain.Kwargs{}, err
		}
		return cond, id.Domain.RowDomain(), nil
	}
}

func evidenceFormat(id Identity) (result.Format, error) {
	raw, ok := id.Values["result_format"]
	if !ok {
		return result.Format{}, dqerrors.MissingParameter("result_format")
	}
	return result.ParseFormat(raw)
}

// failing returns the rows of rel where cond is not true, with the
// condition computed in an inner select so window predicates work.
func failing(rel engine.Relation, cond, projection string) string {
	return fmt.Sprintf(
		"SELECT %s FROM (SELECT *, (%s) AS __dq_m FROM %s) AS __dq_eval WHERE NOT COALESCE(__dq_m, FALSE)",
		projection, cond, rel.From())
}

func limitClause(f result.Format) string {
	if n, ok := f.Limit(); ok {
		return fmt.Sprintf(" LIMIT %d", n)
	}
	return ""
}

func unexpectedValuesProvider(base string) ValueFunc {
	return func(s *Scope, id Identity) (interface{}, error) {
		f, err := evidenceFormat(id)
		if err != nil {
			return nil, err
		}
		cond, err := baseCondition(s, base, id)
		if err != nil {
			return nil, err
		}
		rel, err := domain.Resolve(id.Domain, s.Batches, id.FilterColumnIsNull)
		if err != nil {
			return nil, err
		}

		row := engine.QuoteIdent(engine.RowColumn)
		q := failing(rel, cond, row+", "+engine.QuoteIdent(id.Domain.Column)) +
			" ORDER BY " + row + limitClause(f)

		res, err := s.Runtime.Query(s.Ctx, q)
		if err != nil {
			return nil, err
		}
		defer res.Close()

		ev := Evidence{Values: []interface{}{}, Index: []uint64{}}
		for res.Next() {
			vals, err := res.Values()
			if err != nil {
				return nil, err
			}
			pos, err := engine.AsInt64(vals[0])
			if err != nil {
				return nil, err
			}
			ev.Index = append(ev.Index, uint64(pos))
			ev.Values = append(ev.Values, engine.Normalize(vals[1]))
		}
		return ev, res.Err()
	}
}

func unexpectedValueCountsProvider(base string) ValueFunc {
	return func(s *Scope, id Identity) (interface{}, error) {
		f, err := evidenceFormat(id)
		if err != nil {
			return nil, err
		}
		cond, err := baseCondition(s, base, id)
		if err != nil {
			return nil, err
		}
		rel, err := domain.Resolve(id.Domain, s.Batches, id.FilterColumnIsNull)
		if err != nil {
			return nil, err
		}

		col := engine.QuoteIdent(id.Domain.Column)
		q := fmt.Sprintf("SELECT %s, COUNT(*) AS n FROM (%s) AS __dq_fail GROUP BY %s ORDER BY n DESC, %s%s",
			col, failing(rel, cond, col), col, col, limitClause(f))

		res, err := s.Runtime.Query(s.Ctx, q)
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
}

func unexpectedRowsProvider(base string) ValueFunc {
	return func(s *Scope, id Identity) (interface{}, error) {
		f, err := evidenceFormat(id)
		if err != nil {
			return nil, err
		}
		cond, err := baseCondition(s, base, id)
		if err != nil {
			return nil, err
		}
		rel, err := domain.Resolve(id.Domain.RowDomain(), s.Batches, false)
		if err != nil {
			return nil, err
		}
		if id.FilterColumnIsNull && id.Domain.Column != "" {
			rel = rel.Where(engine.QuoteIdent(id.Domain.Column) + " IS NOT NULL")
		}

		row := engine.QuoteIdent(engine.RowColumn)
		q := failing(rel, cond, "* EXCLUDE (__dq_m)") + " ORDER BY " + row + limitClause(f)

		res, err := s.Runtime.Query(s.Ctx, q)
		if err != nil {
			return nil, err
		}
		defer res.Close()

		cols := res.Columns()
		rows := []result.Row{}
		for res.Next() {
			vals, err := res.Values()
			if err != nil {
				return nil, err
			}
			r := make(result.Row, 0, len(cols))
			for i, c := range cols {
				if c == engine.RowColumn {
					continue
				}
				r = append(r, result.Field{Name: c, Value: engine.Normalize(vals[i])})
			}
			rows = append(rows, r)
		}
		return rows, res.Err()
	}
}
