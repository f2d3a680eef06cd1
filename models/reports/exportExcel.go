package reports

import (
	"fmt"
	"io"

	"github.com/mmdatafocus/packing_backend/models"
	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/mmdatafocus/packing_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	XLSXContentType = utils.XlsxContentType

	LedgerSheet  = "Ledger"
	SummarySheet = "Summary"
)

var ledgerHeadings = []string{"Date", "Opening", "Inward", "Outward", "Closing", "Unit"}

// LedgerExportFilename names the workbook for a material and [start, end) range.
func LedgerExportFilename(report *workflow.RangeReport) string {
	return fmt.Sprintf("ledger_%d_%s_%s.xlsx", report.MaterialId, utils.FormatDay(report.Start), utils.FormatDay(report.End))
}

// ExportLedger builds a workbook with the daily rows on one sheet and the
// range summary on another.
func ExportLedger(report *workflow.RangeReport, entries []*models.LedgerEntry) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", LedgerSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return nil, err
	}

	for i, h := range ledgerHeadings {
		if err := setCell(f, LedgerSheet, i+1, 1, h); err != nil {
			return nil, err
		}
	}
	for i, entry := range entries {
		row := i + 2
		values := []interface{}{
			utils.FormatDay(entry.EntryDate),
			quantity(entry.OpeningStock),
			quantity(entry.InwardQty),
			quantity(entry.OutwardQty),
			quantity(entry.ClosingStock),
			entry.Unit,
		}
		for col, v := range values {
			if err := setCell(f, LedgerSheet, col+1, row, v); err != nil {
				return nil, err
			}
		}
	}

	summary := [][2]interface{}{
		{"Material", report.MaterialName},
		{"Unit", report.Unit},
		{"From", utils.FormatDay(report.Start)},
		{"To (exclusive)", utils.FormatDay(report.End)},
		{"Opening", quantity(report.Opening)},
		{"Opening source", report.OpeningSource},
		{"Inward", quantity(report.Inward)},
		{"Outward", quantity(report.Outward)},
		{"Closing (live)", quantity(report.Closing)},
	}
	for i, kv := range summary {
		if err := setCell(f, SummarySheet, 1, i+1, kv[0]); err != nil {
			return nil, err
		}
		if err := setCell(f, SummarySheet, 2, i+1, kv[1]); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// WriteLedger streams the workbook to w.
func WriteLedger(w io.Writer, report *workflow.RangeReport, entries []*models.LedgerEntry) error {
	f, err := ExportLedger(report, entries)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func setCell(f *excelize.File, sheet string, col int, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}

func quantity(d decimal.Decimal) float64 {
	return d.Round(4).InexactFloat64()
}
