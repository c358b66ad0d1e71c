// Package domain turns domain kwargs into a bounded relation over one batch.
package domain

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/logflow/dqengine/pkg/batch"
	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

// ConditionParserDuckDB is the native row_condition dialect.
const ConditionParserDuckDB = "duckdb"

// Kwargs describe the rows and column a metric applies to.
type Kwargs struct {
	BatchID         string `json:"batch_id,omitempty"`
	Table           string `json:"table,omitempty"`
	RowCondition    string `json:"row_condition,omitempty"`
	ConditionParser string `json:"condition_parser,omitempty"`
	Column          string `json:"column,omitempty"`
}

// RowDomain returns the kwargs without the column, which identifies the set
// of rows independent of the column examined.
func (k Kwargs) RowDomain() Kwargs {
	k.Column = ""
	return k
}

// ID returns a stable identity for the kwargs.
func (k Kwargs) ID() string {
	data, _ := json.Marshal(k)
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Select picks the batch a domain addresses: the explicit id, else the only
// batch, else the most recently loaded one.
func Select(k Kwargs, batches *batch.Set) (*batch.Batch, error) {
	if batches == nil {
		return nil, dqerrors.DomainResolution("no batches available")
	}
	if k.BatchID != "" {
		b, ok := batches.Get(k.BatchID)
		if !ok {
			return nil, dqerrors.DomainResolution("batch not found").WithContext("batch_id", k.BatchID)
		}
		return b, nil
	}
	if b, ok := batches.Only(); ok {
		return b, nil
	}
	if b, ok := batches.Loaded(); ok {
		return b, nil
	}
	return nil, dqerrors.DomainResolution("no batch_id given and no batch loaded").
		WithContext("available", batches.Len())
}

// Resolve returns the relation of rows the kwargs address. A column is also
// exposed under its evaluation name; with filterColumnIsNull, rows where the
// column is null are removed.
func Resolve(k Kwargs, batches *batch.Set, filterColumnIsNull bool) (engine.Relation, error) {
	if k.Table != "" {
		return engine.Relation{}, dqerrors.UnsupportedDomain("table")
	}

	b, err := Select(k, batches)
	if err != nil {
		return engine.Relation{}, err
	}
	rel := b.Relation()

	if k.RowCondition != "" {
		if k.ConditionParser != ConditionParserDuckDB {
			return engine.Relation{}, dqerrors.InvalidConditionParser(k.ConditionParser)
		}
		rel = rel.Where("(" + k.RowCondition + ")")
	}

	if k.Column != "" {
		col := engine.QuoteIdent(k.Column)
		rel = rel.Select("*", col+" AS "+engine.QuoteIdent(EvalColumnName(k.Column)))
		if filterColumnIsNull {
			rel = rel.Where(col + " IS NOT NULL")
		}
	}
	return rel, nil
}

// EvalColumnName returns the name a column is projected under during
// expectation evaluation.
func EvalColumnName(column string) string {
	r := strings.NewReplacer(".", "__", "`", "_")
	return "__eval_col_" + r.Replace(column)
}
