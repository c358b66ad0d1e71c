package batch

import (
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/xuri/excelize/v2"

	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

// writeParquet stages an Arrow record as a snappy parquet file.
func writeParquet(path string, rec arrow.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "create staging file")
	}
	defer f.Close()

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithDictionaryDefault(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	w, err := pqarrow.NewFileWriter(rec.Schema(), f, writerProps, arrowProps)
	if err != nil {
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to create parquet writer")
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to write record batch")
	}
	if err := w.Close(); err != nil {
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to close parquet writer")
	}
	return nil
}

// excelRecord reads a worksheet into a string-typed Arrow record. The first
// row is the header; empty cells become nulls.
func excelRecord(path, sheet string) (arrow.Record, error) {
	xl, err := excelize.OpenFile(path)
	if err != nil {
		return nil, dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to open xlsx")
	}
	defer xl.Close()

	if sheet == "" {
		sheet = xl.GetSheetName(0)
	}
	if sheet == "" {
		return nil, dqerrors.New(dqerrors.CodeStorage, "no sheets found in xlsx file")
	}

	rows, err := xl.Rows(sheet)
	if err != nil {
		return nil, dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to read rows")
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, dqerrors.New(dqerrors.CodeStorage, "xlsx sheet is empty").WithContext("sheet", sheet)
	}
	header, err := rows.Columns()
	if err != nil {
		return nil, dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to read header")
	}

	fields := make([]arrow.Field, len(header))
	for i, name := range header {
		if name == "" {
			name = fmt.Sprintf("column%d", i)
		}
		fields[i] = arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()

	for rows.Next() {
		cells, err := rows.Columns()
		if err != nil {
			return nil, dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to read row")
		}
		for i := range fields {
			sb := b.Field(i).(*array.StringBuilder)
			if i < len(cells) && cells[i] != "" {
				sb.Append(cells[i])
			} else {
				sb.AppendNull()
			}
		}
	}

	return b.NewRecord(), nil
}
