package expect

import (
	"context"
	"fmt"
	"strings"

	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/result"
)

// ExpectMulticolumnValuesToBeUnique expects every combination of the column
// values to occur once among the rows the missing value policy keeps.
func (e *Evaluator) ExpectMulticolumnValuesToBeUnique(ctx context.Context, columns []string, opts ...Option) (*result.Result, error) {
	s := newSettings(opts)
	name := "expect_multicolumn_values_to_be_unique"
	p := &mapPlan{
		expectationType: name,
		kwargs:          map[string]interface{}{"column_list": columns},
		columns:         columns,
		shape:           shapeMulti,
		condition: func(cols []string) (string, error) {
			return fmt.Sprintf("count(*) OVER (PARTITION BY %s) = 1", strings.Join(cols, ", ")), nil
		},
	}

	if len(columns) < 2 {
		return e.finish(name, p.kwargs, s, nil, dqerrors.Configuration("column_list needs at least two columns"))
	}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if c == "" || seen[c] {
			return e.finish(name, p.kwargs, s, nil, dqerrors.Configuration("column_list has an empty or repeated column %q", c))
		}
		seen[c] = true
	}
	return e.run(ctx, p, s)
}
