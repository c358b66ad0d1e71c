package suite

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/logflow/dqengine/internal/logging"
	"github.com/logflow/dqengine/pkg/batch"
	"github.com/logflow/dqengine/pkg/config"
	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/expect"
	"github.com/logflow/dqengine/pkg/metrics"
	"github.com/logflow/dqengine/pkg/result"
	"github.com/logflow/dqengine/pkg/validator"
)

const tracerName = "github.com/logflow/dqengine/pkg/suite"

// Defaults apply to every expectation that does not set them itself.
type Defaults struct {
	Format          result.Format
	CatchExceptions bool
}

// DefaultsFrom reads the validation section of the configuration.
func DefaultsFrom(cfg config.ValidationConfig) (Defaults, error) {
	format, err := result.ParseFormat(map[string]interface{}{
		"result_format":            cfg.ResultFormat,
		"partial_unexpected_count": cfg.PartialUnexpectedCount,
	})
	if err != nil {
		return Defaults{}, err
	}
	return Defaults{Format: format, CatchExceptions: cfg.CatchExceptions}, nil
}

// Options configures a Runner.
type Options struct {
	Defaults Defaults
	// Concurrency bounds the batches validated at once by RunAll.
	Concurrency int
	// DirectOnly evaluates every expectation on its own, bypassing the
	// metric graph.
	DirectOnly bool
	// Progress is called once per evaluated expectation.
	Progress func()
	Logger   logrus.FieldLogger
}

// Statistics summarize a run.
type Statistics struct {
	Evaluated      int      `json:"evaluated_expectations"`
	Successful     int      `json:"successful_expectations"`
	Unsuccessful   int      `json:"unsuccessful_expectations"`
	SuccessPercent *float64 `json:"success_percent"`
}

// Run is the outcome of one suite against one batch.
type Run struct {
	ID         string                 `json:"run_id"`
	Suite      string                 `json:"suite_name"`
	BatchID    string                 `json:"batch_id"`
	Markers    batch.Markers          `json:"batch_markers"`
	StartedAt  time.Time              `json:"run_time"`
	DurationMs int64                  `json:"duration_ms"`
	Success    bool                   `json:"success"`
	Results    []*result.Result       `json:"results"`
	Statistics Statistics             `json:"statistics"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// Runner loads batches and evaluates suites against them.
type Runner struct {
	rt        *engine.Runtime
	loader    *batch.Loader
	evaluator *expect.Evaluator
	validator *validator.Validator
	opts      Options
	logger    logrus.FieldLogger
}

// NewRunner creates a runner. Batches are loaded through loader.
func NewRunner(rt *engine.Runtime, loader *batch.Loader, registry *metrics.Registry, opts Options) *Runner {
	logger := logging.OrDiscard(opts.Logger)
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Defaults.Format.ResultFormat == "" {
		opts.Defaults.Format = result.DefaultFormat()
	}
	return &Runner{
		rt:        rt,
		loader:    loader,
		evaluator: expect.New(rt, loader.Batches(), logger),
		validator: validator.New(rt, registry, logger),
		opts:      opts,
		logger:    logger,
	}
}

// RunAll validates s against every spec, running up to Concurrency batches
// at once. Runs keep the order of specs.
func (r *Runner) RunAll(ctx context.Context, s *Suite, specs []batch.Spec) ([]*Run, error) {
	runs := make([]*Run, len(specs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			run, err := r.Run(ctx, s, spec)
			if err != nil {
				return err
			}
			runs[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return runs, nil
}

// Run loads spec and validates s against it.
func (r *Runner) Run(ctx context.Context, s *Suite, spec batch.Spec) (run *Run, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "suite.run")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Int("expectations.evaluated", run.Statistics.Evaluated),
				attribute.Int("expectations.successful", run.Statistics.Successful),
				attribute.Bool("success", run.Success),
			)
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("suite", s.Name))

	start := time.Now()
	b, err := r.loader.Load(ctx, spec)
	if err != nil {
		return nil, err
	}

	run = &Run{
		ID:        uuid.New().String(),
		Suite:     s.Name,
		BatchID:   b.ID,
		Markers:   b.Markers,
		StartedAt: start.UTC(),
		Results:   make([]*result.Result, len(s.Expectations)),
		Meta:      s.Meta,
	}
	logger := r.logger.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"suite":    s.Name,
		"batch_id": b.ID,
	})

	graph, direct := r.partition(s)
	if err := r.runGraph(ctx, s, b.ID, graph, run); err != nil {
		return nil, err
	}
	for _, i := range direct {
		exp := s.Expectations[i]
		bound := exp
		bound.Kwargs = withBatch(exp.Kwargs, b.ID)
		res, err := Evaluate(ctx, r.evaluator, bound, r.opts.Defaults)
		if res, err = r.settle(exp, res, err); err != nil {
			return nil, dqerrors.Wrapf(err, dqerrors.GetCode(err), "expectation %d (%s) failed", i, exp.Type)
		}
		run.Results[i] = res
		r.progress()
	}

	run.finish(time.Since(start))
	logger.WithFields(logrus.Fields{
		"evaluated":   run.Statistics.Evaluated,
		"successful":  run.Statistics.Successful,
		"success":     run.Success,
		"duration_ms": run.DurationMs,
	}).Info("suite validated")
	return run, nil
}

// graphUnsupported lists kwargs the metric graph cannot honor.
var graphUnsupported = []string{"output_strftime_format", "ignore_row_if"}

func (r *Runner) partition(s *Suite) (graph, direct []int) {
	for i, exp := range s.Expectations {
		if r.opts.DirectOnly || !validator.Supports(exp.Type) || hasAny(exp.Kwargs, graphUnsupported) {
			direct = append(direct, i)
			continue
		}
		graph = append(graph, i)
	}
	return graph, direct
}

func hasAny(kwargs map[string]interface{}, keys []string) bool {
	for _, k := range keys {
		if _, ok := kwargs[k]; ok {
			return true
		}
	}
	return false
}

func withBatch(kwargs map[string]interface{}, batchID string) map[string]interface{} {
	out := make(map[string]interface{}, len(kwargs)+1)
	for k, v := range kwargs {
		out[k] = v
	}
	out["batch_id"] = batchID
	return out
}

func (r *Runner) runGraph(ctx context.Context, s *Suite, batchID string, indexes []int, run *Run) error {
	if len(indexes) == 0 {
		return nil
	}

	exps := make([]validator.Expectation, 0, len(indexes))
	pending := make([]int, 0, len(indexes))
	for _, i := range indexes {
		exp, err := r.graphExpectation(s.Expectations[i], batchID)
		if err != nil {
			res, err := r.settle(s.Expectations[i], nil, err)
			if err != nil {
				return dqerrors.Wrapf(err, dqerrors.GetCode(err), "expectation %d (%s) failed", i, s.Expectations[i].Type)
			}
			run.Results[i] = res
			r.progress()
			continue
		}
		exps = append(exps, exp)
		pending = append(pending, i)
	}

	outcomes := r.validator.Validate(ctx, r.loader.Batches(), exps)
	for j, out := range outcomes {
		i := pending[j]
		res, err := r.settle(s.Expectations[i], out.Result, out.Err)
		if err != nil {
			return dqerrors.Wrapf(err, dqerrors.GetCode(err), "expectation %d (%s) failed", i, s.Expectations[i].Type)
		}
		run.Results[i] = res
		r.progress()
	}
	return nil
}

func (r *Runner) graphExpectation(e Expectation, batchID string) (validator.Expectation, error) {
	a := args(e.Kwargs)
	column, err := a.str("column")
	if err != nil {
		return validator.Expectation{}, err
	}
	format := r.opts.Defaults.Format
	if a.has("result_format") {
		if format, err = result.ParseFormat(a["result_format"]); err != nil {
			return validator.Expectation{}, err
		}
	}
	exp := validator.Expectation{
		Type:    e.Type,
		Column:  column,
		Kwargs:  e.Kwargs,
		Format:  format,
		BatchID: batchID,
	}
	if a.has("mostly") {
		m, err := cast.ToFloat64E(a["mostly"])
		if err != nil {
			return validator.Expectation{}, dqerrors.Configuration("mostly must be a number: %v", err)
		}
		exp.Mostly = &m
	}
	if a.has("row_condition") {
		exp.RowCondition = cast.ToString(a["row_condition"])
	}
	if a.has("condition_parser") {
		exp.ConditionParser = cast.ToString(a["condition_parser"])
	}
	return exp, nil
}

// settle attaches the suite entry to a result, or turns err into an
// exception result when exceptions are caught.
func (r *Runner) settle(e Expectation, res *result.Result, err error) (*result.Result, error) {
	if err != nil {
		catch := r.opts.Defaults.CatchExceptions
		if v, ok := e.Kwargs["catch_exceptions"]; ok {
			catch = cast.ToBool(v)
		}
		if !catch {
			return nil, err
		}
		r.logger.WithError(err).WithField("expectation", e.Type).Warn("expectation raised")
		res = &result.Result{Success: false, ExceptionInfo: result.NewExceptionInfo(err)}
	}
	if res.ExpectationConfig == nil {
		res.ExpectationConfig = &result.ExpectationConfig{
			ExpectationType: e.Type,
			Kwargs:          e.Kwargs,
			Meta:            e.Meta,
		}
	}
	if res.Meta == nil {
		res.Meta = e.Meta
	}
	return res, nil
}

func (r *Runner) progress() {
	if r.opts.Progress != nil {
		r.opts.Progress()
	}
}

func (run *Run) finish(d time.Duration) {
	run.DurationMs = d.Milliseconds()
	st := Statistics{Evaluated: len(run.Results)}
	for _, res := range run.Results {
		if res.Success {
			st.Successful++
		}
	}
	st.Unsuccessful = st.Evaluated - st.Successful
	if st.Evaluated > 0 {
		p := float64(st.Successful) / float64(st.Evaluated) * 100
		st.SuccessPercent = &p
	}
	run.Statistics = st
	run.Success = st.Unsuccessful == 0
}
