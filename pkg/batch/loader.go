package batch

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/logflow/dqengine/internal/logging"
	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// Persist stores batches as tables. Views re-read the source on every query.
	Persist  bool
	TempDir  string
	Fetcher  ObjectFetcher
	MaxCache int
	MaxAge   time.Duration
	Logger   logrus.FieldLogger
}

// Loader materializes batch specs into DuckDB and keeps them in a Set.
type Loader struct {
	rt     *engine.Runtime
	opts   LoaderOptions
	set    *Set
	cache  *Cache
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewLoader creates a loader bound to rt.
func NewLoader(rt *engine.Runtime, opts LoaderOptions) *Loader {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	l := &Loader{
		rt:     rt,
		opts:   opts,
		set:    NewSet(),
		logger: logging.OrDiscard(opts.Logger),
		now:    time.Now,
	}
	l.cache = NewCache(opts.MaxCache, opts.MaxAge, l.drop)
	return l
}

// Batches returns the set of loaded batches.
func (l *Loader) Batches() *Set {
	return l.set
}

// CacheStats returns statistics of the batch cache.
func (l *Loader) CacheStats() CacheStats {
	return l.cache.Stats()
}

// Load materializes spec, or returns the cached batch with the same id.
func (l *Loader) Load(ctx context.Context, spec Spec) (*Batch, error) {
	id := ID(spec)
	if b, ok := l.cache.Get(id); ok {
		l.set.Add(b)
		return b, nil
	}

	source, staged, err := l.source(ctx, spec)
	if err != nil {
		return nil, err
	}

	b := &Batch{
		ID:        id,
		Spec:      spec,
		Table:     "batch_" + id,
		persisted: l.opts.Persist,
		loadedAt:  l.now().UTC(),
	}
	b.Markers.LoadTime = b.loadedAt.Format(LoadTimeLayout)

	limit := ""
	if n := spec.RowLimit(); n > 0 {
		limit = fmt.Sprintf(" LIMIT %d", n)
	}

	var stmt string
	if l.opts.Persist {
		stmt = fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM %s%s", engine.QuoteIdent(b.Table), source, limit)
	} else {
		stmt = fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT row_number() OVER () - 1 AS %s, * FROM (SELECT * FROM %s%s) AS __dq_src",
			engine.QuoteIdent(b.Table), engine.QuoteIdent(engine.RowColumn), source, limit)
	}
	if _, err := l.rt.Exec(ctx, stmt); err != nil {
		removeStaged(staged)
		return nil, err
	}

	if l.opts.Persist {
		removeStaged(staged)
	} else {
		b.staged = staged
	}

	if err := l.rt.QueryRow(ctx, "SELECT COUNT(*) FROM "+engine.QuoteIdent(b.Table), &b.Markers.RowCount); err != nil {
		l.drop(b)
		return nil, err
	}

	l.cache.Put(b)
	l.set.Add(b)
	l.logger.WithFields(logrus.Fields{
		"batch_id": b.ID,
		"rows":     b.Markers.RowCount,
		"persist":  l.opts.Persist,
	}).Info("batch loaded")
	return b, nil
}

// Unload drops a batch.
func (l *Loader) Unload(id string) {
	l.cache.Invalidate(id)
}

// Close drops every loaded batch.
func (l *Loader) Close() {
	l.cache.InvalidateAll()
}

func (l *Loader) drop(b *Batch) {
	l.set.Remove(b.ID)
	kind := "VIEW"
	if b.persisted {
		kind = "TABLE"
	}
	if _, err := l.rt.Exec(context.Background(), fmt.Sprintf("DROP %s IF EXISTS %s", kind, engine.QuoteIdent(b.Table))); err != nil {
		l.logger.WithError(err).WithField("batch_id", b.ID).Warn("failed to drop batch")
	}
	removeStaged(b.staged)
}

// source returns a FROM item reading the spec and an optional staging file.
func (l *Loader) source(ctx context.Context, spec Spec) (string, string, error) {
	switch s := spec.(type) {
	case PathSpec:
		if s.Path == "" {
			return "", "", dqerrors.MissingParameter("path")
		}
		return l.fileSource(s.Path, s.ReaderMethod, s.ReaderOptions)

	case S3Spec:
		return l.s3Source(ctx, s)

	case RecordSpec:
		if s.DataAssetName == "" {
			return "", "", dqerrors.MissingParameter("data_asset_name")
		}
		if s.PartitionName == "" {
			return "", "", dqerrors.MissingParameter("partition_name")
		}
		if s.Record == nil {
			return "", "", dqerrors.MissingParameter("record")
		}
		staged := l.stagingPath(".parquet")
		if err := writeParquet(staged, s.Record); err != nil {
			return "", "", err
		}
		return fmt.Sprintf("read_parquet(%s)", engine.Literal(staged)), staged, nil

	case QuerySpec:
		if s.Query == "" {
			return "", "", dqerrors.MissingParameter("query")
		}
		return "(" + s.Query + ") AS __dq_query", "", nil
	}
	return "", "", dqerrors.Configuration("unsupported batch spec %T", spec)
}

func (l *Loader) fileSource(p, method string, opts ReaderOptions) (string, string, error) {
	method, err := resolveReader(method, p)
	if err != nil {
		return "", "", err
	}

	if method == ReaderExcel {
		sheet, _ := opts["sheet"].(string)
		rec, err := excelRecord(p, sheet)
		if err != nil {
			return "", "", err
		}
		defer rec.Release()

		staged := l.stagingPath(".parquet")
		if err := writeParquet(staged, rec); err != nil {
			return "", "", err
		}
		return fmt.Sprintf("read_parquet(%s)", engine.Literal(staged)), staged, nil
	}

	src, err := sourceSQL(method, p, opts)
	return src, "", err
}

func (l *Loader) s3Source(ctx context.Context, s S3Spec) (string, string, error) {
	if s.Bucket == "" || s.Key == "" {
		return "", "", dqerrors.MissingParameter("bucket/key")
	}
	if l.opts.Fetcher == nil {
		return "", "", dqerrors.Configuration("no object fetcher configured for s3 batches")
	}
	method, err := resolveReader(s.ReaderMethod, s.Key)
	if err != nil {
		return "", "", err
	}

	staged := l.stagingPath(path.Ext(s.Key))
	f, err := os.Create(staged)
	if err != nil {
		return "", "", dqerrors.Wrap(err, dqerrors.CodeStorage, "create staging file")
	}
	n, err := l.opts.Fetcher.Fetch(ctx, s.Bucket, s.Key, f)
	f.Close()
	if err != nil {
		removeStaged(staged)
		return "", "", err
	}
	l.logger.WithFields(logrus.Fields{"bucket": s.Bucket, "key": s.Key, "bytes": n}).Debug("object downloaded")

	src, stagedOut, err := l.fileSource(staged, method, s.ReaderOptions)
	if err != nil {
		removeStaged(staged)
		return "", "", err
	}
	if stagedOut != "" {
		removeStaged(staged)
		return src, stagedOut, nil
	}
	return src, staged, nil
}

func (l *Loader) stagingPath(ext string) string {
	return filepath.Join(l.opts.TempDir, "dqengine-"+uuid.NewString()+ext)
}

func removeStaged(p string) {
	if p != "" {
		os.Remove(p)
	}
}
