package eval

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// WriteXLSX exports the report as a spreadsheet: one row per question plus
// an aggregate row, replacing any previous file at path.
func (r *Report) WriteXLSX(path string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)

	header := []interface{}{"question", "answer", "error"}
	for _, metric := range Metrics {
		header = append(header, metric)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, e := range r.Results {
		row := []interface{}{e.Question, e.Answer, e.Error}
		for _, metric := range Metrics {
			row = append(row, e.Scores[metric].Value)
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}

	aggRow := []interface{}{"AGGREGATE", "", ""}
	for _, metric := range Metrics {
		aggRow = append(aggRow, r.Aggregate[metric])
	}
	cell := fmt.Sprintf("A%d", len(r.Results)+2)
	if err := f.SetSheetRow(sheet, cell, &aggRow); err != nil {
		return fmt.Errorf("writing aggregate row: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	return nil
}
