// Package engine wraps the embedded DuckDB runtime that every metric and
// expectation is evaluated against.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/logflow/dqengine/internal/logging"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

const tracerName = "github.com/logflow/dqengine/pkg/engine"

// Options configures a Runtime.
type Options struct {
	Threads     int    // 0 = runtime.NumCPU()
	MemoryLimit string // e.g., "4GB"; empty keeps the DuckDB default
	TempDir     string
	Logger      logrus.FieldLogger
}

// Runtime executes SQL against DuckDB and counts every physical query.
type Runtime struct {
	db      *sql.DB
	threads int
	queries atomic.Int64
	logger  logrus.FieldLogger
	tracer  trace.Tracer
}

// New opens an in-memory DuckDB database.
func New(opts Options) (*Runtime, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, dqerrors.Wrap(err, dqerrors.CodeDuckDBInit, "failed to initialize DuckDB")
	}

	r := NewWithDB(db, opts.Logger)
	if opts.Threads > 0 {
		r.threads = opts.Threads
	}

	settings := []string{fmt.Sprintf("SET threads=%d", r.threads)}
	if opts.MemoryLimit != "" {
		settings = append(settings, fmt.Sprintf("SET memory_limit=%s", Literal(opts.MemoryLimit)))
	}
	if opts.TempDir != "" {
		settings = append(settings, fmt.Sprintf("SET temp_directory=%s", Literal(opts.TempDir)))
	}
	for _, s := range settings {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, dqerrors.Wrapf(err, dqerrors.CodeDuckDBInit, "apply setting %q", s)
		}
	}

	return r, nil
}

// NewWithDB creates a runtime around an existing connection pool.
func NewWithDB(db *sql.DB, logger logrus.FieldLogger) *Runtime {
	return &Runtime{
		db:      db,
		threads: runtime.NumCPU(),
		logger:  logging.OrDiscard(logger),
		tracer:  otel.Tracer(tracerName),
	}
}

// Close closes the runtime.
func (r *Runtime) Close() error {
	return r.db.Close()
}

// DB exposes the underlying pool.
func (r *Runtime) DB() *sql.DB {
	return r.db
}

// Logger returns the runtime logger.
func (r *Runtime) Logger() logrus.FieldLogger {
	return r.logger
}

// QueryCount returns the number of statements executed so far.
func (r *Runtime) QueryCount() int64 {
	return r.queries.Load()
}

func (r *Runtime) begin(ctx context.Context, kind, query string) (context.Context, func(error)) {
	r.queries.Add(1)
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "duckdb."+kind,
		trace.WithAttributes(attribute.String("db.system", "duckdb"), attribute.String("db.statement", abbreviate(query))))

	return ctx, func(err error) {
		elapsed := time.Since(start)
		queriesTotal.WithLabelValues(kind).Inc()
		queryDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
		if err != nil {
			queryErrors.WithLabelValues(kind).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		r.logger.WithFields(logrus.Fields{"kind": kind, "duration": elapsed}).Trace(abbreviate(query))
	}
}

func abbreviate(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	if len(query) > 512 {
		return query[:512] + "..."
	}
	return query
}

func queryError(err error, query string) error {
	if err == nil {
		return nil
	}
	if ctxErr := contextError(err); ctxErr != nil {
		return ctxErr
	}
	return dqerrors.Wrap(err, dqerrors.CodeDuckDBQuery, "query failed").WithContext("sql", abbreviate(query))
}

func contextError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return dqerrors.Wrap(err, dqerrors.CodeContextCanceled, "query canceled")
	}
	return nil
}

// Exec executes a SQL statement.
func (r *Runtime) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, done := r.begin(ctx, "exec", query)
	res, err := r.db.ExecContext(ctx, query, args...)
	done(err)
	if err != nil {
		return nil, queryError(err, query)
	}
	return res, nil
}

// QueryRow executes a query expected to return exactly one row and scans it.
func (r *Runtime) QueryRow(ctx context.Context, query string, dest ...interface{}) error {
	ctx, done := r.begin(ctx, "query_row", query)
	err := r.db.QueryRowContext(ctx, query).Scan(dest...)
	done(err)
	return queryError(err, query)
}

// Values executes a query and returns the values of its single row.
func (r *Runtime) Values(ctx context.Context, query string) ([]interface{}, error) {
	res, err := r.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	rows, err := res.All()
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, dqerrors.Newf(dqerrors.CodeDuckDBQuery, "expected one row, got %d", len(rows)).
			WithContext("sql", abbreviate(query))
	}
	return rows[0], nil
}

// Query executes a SQL query and returns a streaming result.
func (r *Runtime) Query(ctx context.Context, query string, args ...interface{}) (*Result, error) {
	qctx, done := r.begin(ctx, "query", query)

	start := time.Now()
	rows, err := r.db.QueryContext(qctx, query, args...)
	done(err)
	if err != nil {
		return nil, queryError(err, query)
	}

	result := &Result{
		rows:     rows,
		duration: time.Since(start),
	}

	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, dqerrors.Wrap(err, dqerrors.CodeDuckDBQuery, "failed to get columns")
	}
	result.columns = cols

	return result, nil
}

// Describe returns the schema of a relation.
func (r *Runtime) Describe(ctx context.Context, rel Relation) ([]ColumnInfo, error) {
	res, err := r.Query(ctx, "DESCRIBE "+rel.SQL())
	if err != nil {
		return nil, err
	}
	defer res.Close()

	var columns []ColumnInfo
	for res.Next() {
		vals, err := res.Values()
		if err != nil {
			return nil, err
		}
		if len(vals) < 2 {
			return nil, dqerrors.New(dqerrors.CodeDuckDBQuery, "unexpected DESCRIBE output")
		}
		col := ColumnInfo{
			Name: fmt.Sprint(vals[0]),
			Type: fmt.Sprint(vals[1]),
		}
		if len(vals) > 2 {
			col.Nullable = fmt.Sprint(vals[2]) == "YES"
		}
		columns = append(columns, col)
	}
	return columns, res.Err()
}

// ColumnInfo describes a column.
type ColumnInfo struct {
	Name     string
	Type     string
	Nullable bool
}

// Result represents query results.
type Result struct {
	rows     *sql.Rows
	columns  []string
	duration time.Duration
	rowCount int64
}

// Columns returns column names.
func (r *Result) Columns() []string {
	return r.columns
}

// Duration returns the time taken until the first row was available.
func (r *Result) Duration() time.Duration {
	return r.duration
}

// Next advances to the next row.
func (r *Result) Next() bool {
	if r.rows.Next() {
		r.rowCount++
		return true
	}
	return false
}

// Scan scans the current row.
func (r *Result) Scan(dest ...interface{}) error {
	return r.rows.Scan(dest...)
}

// Values scans the current row into a fresh slice.
func (r *Result) Values() ([]interface{}, error) {
	values := make([]interface{}, len(r.columns))
	ptrs := make([]interface{}, len(r.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, dqerrors.Wrap(err, dqerrors.CodeDuckDBQuery, "scan failed")
	}
	return values, nil
}

// Err reports an error encountered during iteration.
func (r *Result) Err() error {
	if err := r.rows.Err(); err != nil {
		return queryError(err, "")
	}
	return nil
}

// Close closes the result set.
func (r *Result) Close() error {
	return r.rows.Close()
}

// RowCount returns rows scanned so far.
func (r *Result) RowCount() int64 {
	return r.rowCount
}

// All reads every remaining row.
func (r *Result) All() ([][]interface{}, error) {
	var out [][]interface{}
	for r.Next() {
		vals, err := r.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, r.Err()
}

// ToMaps reads all rows as maps.
func (r *Result) ToMaps() ([]map[string]interface{}, error) {
	defer r.Close()

	var results []map[string]interface{}
	for r.Next() {
		values, err := r.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(r.columns))
		for i, col := range r.columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return results, r.Err()
}
