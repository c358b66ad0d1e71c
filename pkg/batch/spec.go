// Package batch loads data sources into DuckDB and tracks the batches an
// evaluation may address.
package batch

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/apache/arrow/go/v14/arrow"

	"github.com/logflow/dqengine/pkg/engine"
)

// Spec describes where a batch comes from.
type Spec interface {
	// Fingerprint returns the fields that identify the batch.
	Fingerprint() map[string]interface{}
	// RowLimit returns the maximum number of rows to load, 0 means all.
	RowLimit() int
}

// ReaderOptions are passed through to the DuckDB reader.
type ReaderOptions map[string]interface{}

// PathSpec loads a local file.
type PathSpec struct {
	Path          string        `json:"path" yaml:"path"`
	ReaderMethod  string        `json:"reader_method,omitempty" yaml:"reader_method"`
	ReaderOptions ReaderOptions `json:"reader_options,omitempty" yaml:"reader_options"`
	Limit         int           `json:"limit,omitempty" yaml:"limit"`
}

func (s PathSpec) Fingerprint() map[string]interface{} {
	return map[string]interface{}{
		"path":           s.Path,
		"reader_method":  s.ReaderMethod,
		"reader_options": s.ReaderOptions,
		"limit":          s.Limit,
	}
}

func (s PathSpec) RowLimit() int { return s.Limit }

// S3Spec loads an object from S3 or an S3 compatible store.
type S3Spec struct {
	Bucket        string        `json:"bucket" yaml:"bucket"`
	Key           string        `json:"key" yaml:"key"`
	ReaderMethod  string        `json:"reader_method,omitempty" yaml:"reader_method"`
	ReaderOptions ReaderOptions `json:"reader_options,omitempty" yaml:"reader_options"`
	Limit         int           `json:"limit,omitempty" yaml:"limit"`
}

func (s S3Spec) Fingerprint() map[string]interface{} {
	return map[string]interface{}{
		"s3":             "s3://" + s.Bucket + "/" + s.Key,
		"reader_method":  s.ReaderMethod,
		"reader_options": s.ReaderOptions,
		"limit":          s.Limit,
	}
}

func (s S3Spec) RowLimit() int { return s.Limit }

// RecordSpec loads an in-memory Arrow record. Both names are required and
// identify the batch.
type RecordSpec struct {
	DataAssetName string
	PartitionName string
	Record        arrow.Record
	Limit         int
}

func (s RecordSpec) Fingerprint() map[string]interface{} {
	return map[string]interface{}{
		"data_asset_name": s.DataAssetName,
		"partition_name":  s.PartitionName,
		"limit":           s.Limit,
	}
}

func (s RecordSpec) RowLimit() int { return s.Limit }

// QuerySpec loads the result of a DuckDB SELECT.
type QuerySpec struct {
	Query string `json:"query" yaml:"query"`
	Limit int    `json:"limit,omitempty" yaml:"limit"`
}

func (s QuerySpec) Fingerprint() map[string]interface{} {
	return map[string]interface{}{"query": s.Query, "limit": s.Limit}
}

func (s QuerySpec) RowLimit() int { return s.Limit }

// ID derives the batch id from the spec fingerprint. encoding/json sorts map
// keys, so the id does not depend on construction order.
func ID(spec Spec) string {
	data, _ := json.Marshal(spec.Fingerprint())
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// LoadTimeLayout renders ge_load_time markers.
const LoadTimeLayout = "20060102T150405.000000Z"

// Markers carry load metadata.
type Markers struct {
	LoadTime string `json:"ge_load_time"`
	RowCount int64  `json:"row_count"`
}

// Batch is a loaded dataset stored in DuckDB.
type Batch struct {
	ID      string
	Spec    Spec
	Markers Markers
	Table   string

	persisted bool
	staged    string
	loadedAt  time.Time
}

// Relation returns the full batch with its row position column.
func (b *Batch) Relation() engine.Relation {
	if b.persisted {
		return engine.RawRelation("SELECT rowid AS " + engine.QuoteIdent(engine.RowColumn) + ", * FROM " + engine.QuoteIdent(b.Table))
	}
	return engine.TableRelation(b.Table)
}

// Persisted reports whether the batch is a table rather than a view.
func (b *Batch) Persisted() bool {
	return b.persisted
}
