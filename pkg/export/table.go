package export

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/suite"
)

const resultsDDL = `(
	run_id VARCHAR,
	suite_name VARCHAR,
	batch_id VARCHAR,
	run_time TIMESTAMPTZ,
	position INTEGER,
	expectation_type VARCHAR,
	"column" VARCHAR,
	success BOOLEAN,
	raised_exception BOOLEAN,
	element_count BIGINT,
	unexpected_count BIGINT,
	unexpected_percent DOUBLE,
	observed_value VARCHAR
)`

// copyFormat maps an output extension to a DuckDB COPY format.
func copyFormat(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return "FORMAT PARQUET, COMPRESSION ZSTD", nil
	case ".csv":
		return "FORMAT CSV, HEADER", nil
	case ".json", ".jsonl", ".ndjson":
		return "FORMAT JSON", nil
	}
	return "", dqerrors.Configuration("unsupported export format %q", filepath.Ext(path))
}

// WriteTable writes the flattened results through DuckDB. The format follows
// the extension of path: parquet, csv or json.
func WriteTable(ctx context.Context, rt *engine.Runtime, runs []*suite.Run, path string) error {
	format, err := copyFormat(path)
	if err != nil {
		return err
	}

	table := engine.QuoteIdent("__dq_export_" + strings.ReplaceAll(uuid.NewString(), "-", ""))
	if _, err := rt.Exec(ctx, "CREATE TABLE "+table+" "+resultsDDL); err != nil {
		return err
	}
	defer rt.Exec(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+table)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(resultColumns)), ", ")
	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, placeholders)
	for _, row := range Rows(runs) {
		values := row.values()
		for i, v := range values {
			values[i] = deref(v)
		}
		if _, err := rt.Exec(ctx, insert, values...); err != nil {
			return err
		}
	}

	stmt := fmt.Sprintf("COPY (SELECT * FROM %s ORDER BY run_time, run_id, position) TO %s (%s)",
		table, engine.Literal(path), format)
	if _, err := rt.Exec(ctx, stmt); err != nil {
		return err
	}
	return nil
}
