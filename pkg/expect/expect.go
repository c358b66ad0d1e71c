// Package expect evaluates expectations against loaded batches. Every map
// expectation runs through one pipeline: build the evaluation view, apply the
// missing value policy, count successes, bound the unexpected evidence and
// shape the report for the requested result format.
package expect

import (
	"github.com/sirupsen/logrus"

	"github.com/logflow/dqengine/internal/logging"
	"github.com/logflow/dqengine/pkg/batch"
	"github.com/logflow/dqengine/pkg/engine"
)

// Evaluator runs expectations over a set of batches.
type Evaluator struct {
	rt      *engine.Runtime
	batches *batch.Set
	logger  logrus.FieldLogger
}

// New creates an evaluator.
func New(rt *engine.Runtime, batches *batch.Set, logger logrus.FieldLogger) *Evaluator {
	return &Evaluator{rt: rt, batches: batches, logger: logging.OrDiscard(logger)}
}

// Runtime returns the DuckDB runtime the evaluator queries.
func (e *Evaluator) Runtime() *engine.Runtime {
	return e.rt
}

// Batches returns the batches the evaluator addresses.
func (e *Evaluator) Batches() *batch.Set {
	return e.batches
}
