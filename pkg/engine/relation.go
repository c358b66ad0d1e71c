package engine

import (
	"fmt"
	"strings"
)

// RowColumn is the hidden column carrying the batch row position. Every
// relation built from a batch exposes it so row order stays deterministic.
const RowColumn = "__dq_row"

// Relation is a lazy SQL view. Nothing runs until a query is issued over it.
type Relation struct {
	sql string
}

// TableRelation selects every column of a stored table.
func TableRelation(table string) Relation {
	return Relation{sql: "SELECT * FROM " + QuoteIdent(table)}
}

// RawRelation wraps a SELECT statement.
func RawRelation(query string) Relation {
	return Relation{sql: query}
}

// SQL returns the SELECT statement of the relation.
func (r Relation) SQL() string {
	return r.sql
}

// From renders the relation as a FROM clause item.
func (r Relation) From() string {
	return "(" + r.sql + ") AS __dq_rel"
}

// IsZero reports whether the relation was never set.
func (r Relation) IsZero() bool {
	return r.sql == ""
}

// Where filters the relation by a boolean SQL expression.
func (r Relation) Where(condition string) Relation {
	return Relation{sql: fmt.Sprintf("SELECT * FROM %s WHERE %s", r.From(), condition)}
}

// Select projects expressions over the relation.
func (r Relation) Select(exprs ...string) Relation {
	return Relation{sql: fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), r.From())}
}

// OrderedByRow appends an ORDER BY on the row position.
func (r Relation) OrderedByRow() Relation {
	return Relation{sql: fmt.Sprintf("SELECT * FROM %s ORDER BY %s", r.From(), QuoteIdent(RowColumn))}
}

// Limit bounds the relation to n rows.
func (r Relation) Limit(n int) Relation {
	return Relation{sql: fmt.Sprintf("%s LIMIT %d", r.sql, n)}
}
