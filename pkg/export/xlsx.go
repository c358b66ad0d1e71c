package export

import (
	"github.com/xuri/excelize/v2"

	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/suite"
)

const (
	runsSheet    = "Runs"
	resultsSheet = "Results"
)

// WriteXLSX writes a workbook with a run summary sheet and a result sheet.
func WriteXLSX(path string, runs []*suite.Run) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", runsSheet); err != nil {
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to create sheet")
	}
	if _, err := f.NewSheet(resultsSheet); err != nil {
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to create sheet")
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to create style")
	}

	runHeader := []interface{}{"run_id", "suite_name", "batch_id", "run_time", "success", "evaluated", "successful", "unsuccessful", "success_percent"}
	if err := writeRow(f, runsSheet, 1, runHeader); err != nil {
		return err
	}
	for i, run := range runs {
		st := run.Statistics
		var percent interface{}
		if st.SuccessPercent != nil {
			percent = *st.SuccessPercent
		}
		row := []interface{}{run.ID, run.Suite, run.BatchID, run.StartedAt, run.Success, st.Evaluated, st.Successful, st.Unsuccessful, percent}
		if err := writeRow(f, runsSheet, i+2, row); err != nil {
			return err
		}
	}

	header := make([]interface{}, len(resultColumns))
	for i, c := range resultColumns {
		header[i] = c
	}
	if err := writeRow(f, resultsSheet, 1, header); err != nil {
		return err
	}
	for i, r := range Rows(runs) {
		values := r.values()
		for j, v := range values {
			values[j] = deref(v)
		}
		if err := writeRow(f, resultsSheet, i+2, values); err != nil {
			return err
		}
	}

	for _, sheet := range []string{runsSheet, resultsSheet} {
		if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
			return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to style header")
		}
	}
	if err := f.SaveAs(path); err != nil {
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to save workbook").WithContext("path", path)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "invalid cell")
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to write row").WithContext("sheet", sheet)
	}
	return nil
}

// deref turns typed nil pointers into empty cells.
func deref(v interface{}) interface{} {
	switch p := v.(type) {
	case *int64:
		if p == nil {
			return nil
		}
		return *p
	case *float64:
		if p == nil {
			return nil
		}
		return *p
	case *string:
		if p == nil {
			return nil
		}
		return *p
	}
	return v
}
