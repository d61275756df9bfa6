package csvcodec

import (
	"fmt"
	"io"
	"strings"

	"shenbaosift/internal/domain"

	"github.com/xuri/excelize/v2"
)

// ParseXLSX reads the first sheet of a workbook with the same header and
// column rules as Parse.
func ParseXLSX(r io.Reader) ([]domain.Record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmptyInput, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, domain.ErrEmptyInput
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmptyInput, err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrEmptyInput
	}
	if isHeader(strings.Join(rows[0], ",")) {
		rows = rows[1:]
	}

	var records []domain.Record
	for _, row := range rows {
		rec := recordFromFields(row)
		if strings.TrimSpace(rec.Title) == "" {
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, domain.ErrNoRecordsFound
	}
	return records, nil
}

// WriteXLSX writes records to a single-sheet workbook with the export header.
func WriteXLSX(w io.Writer, records []domain.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	header := make([]interface{}, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{r.Title, r.Author, r.Date}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}
	return f.Write(w)
}
