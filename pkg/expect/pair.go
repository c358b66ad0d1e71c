package expect

import (
	"context"

	"github.com/logflow/dqengine/pkg/condition"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/result"
)

func (e *Evaluator) pair(ctx context.Context, name, a, b string, kwargs map[string]interface{}, opts []Option, cond func(a, b string, s *settings) (string, error)) (*result.Result, error) {
	s := newSettings(opts)
	all := map[string]interface{}{"column_A": a, "column_B": b}
	for k, v := range kwargs {
		all[k] = v
	}
	p := &mapPlan{
		expectationType: name,
		kwargs:          all,
		columns:         []string{a, b},
		shape:           shapePair,
		condition: func(cols []string) (string, error) {
			return cond(cols[0], cols[1], s)
		},
	}
	if a == "" || b == "" {
		return e.finish(name, all, s, nil, dqerrors.MissingParameter("column_A/column_B"))
	}
	return e.run(ctx, p, s)
}

// ExpectColumnPairValuesToBeEqual expects A and B to be equal on every row
// the missing value policy keeps.
func (e *Evaluator) ExpectColumnPairValuesToBeEqual(ctx context.Context, a, b string, opts ...Option) (*result.Result, error) {
	return e.pair(ctx, "expect_column_pair_values_to_be_equal", a, b, nil, opts,
		func(a, b string, _ *settings) (string, error) {
			return condition.PairEqual(a, b), nil
		})
}

// ExpectColumnPairValuesAToBeGreaterThanB expects A > B, or A >= B with OrEqual.
func (e *Evaluator) ExpectColumnPairValuesAToBeGreaterThanB(ctx context.Context, a, b string, opts ...Option) (*result.Result, error) {
	return e.pair(ctx, "expect_column_pair_values_A_to_be_greater_than_B", a, b, nil, opts,
		func(a, b string, s *settings) (string, error) {
			if s.allowCross {
				return "", dqerrors.New(dqerrors.CodeUnsupportedComparison, "allow_cross_type_comparisons is not supported")
			}
			if s.parseDates {
				a, b = condition.Datetime(a), condition.Datetime(b)
			}
			return condition.AGreaterThanB(a, b, s.orEqual), nil
		})
}

// ExpectColumnPairValuesToBeInSet expects every (A, B) to be one of pairs.
func (e *Evaluator) ExpectColumnPairValuesToBeInSet(ctx context.Context, a, b string, pairs [][2]interface{}, opts ...Option) (*result.Result, error) {
	return e.pair(ctx, "expect_column_pair_values_to_be_in_set", a, b,
		map[string]interface{}{"value_pairs_set": pairs}, opts,
		func(a, b string, _ *settings) (string, error) {
			return condition.PairInSet(a, b, pairs)
		})
}
