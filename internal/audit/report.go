package audit

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

// ReportHeader describes the wake-history report scope.
type ReportHeader struct {
	AlarmID     int
	From        time.Time
	To          time.Time
	GeneratedAt time.Time
}

// BuildWakeHistoryPDF renders a minimal PDF of one alarm's wake history.
func BuildWakeHistoryPDF(header ReportHeader, entries []Entry) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Wake History Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Alarm: %d", header.AlarmID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("From: %s", header.From.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("To: %s", header.To.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", header.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(60, 6, "Action", "1", 0, "C", false, 0, "")
	pdf.CellFormat(70, 6, "Detail", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, entry := range entries {
		pdf.CellFormat(50, 6, entry.CreatedAt.Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(60, 6, entry.Action, "1", 0, "L", false, 0, "")
		pdf.CellFormat(70, 6, entry.Detail, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	err := pdf.Output(&buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildWakeHistoryXLSX renders a minimal XLSX of one alarm's wake history.
func BuildWakeHistoryXLSX(header ReportHeader, entries []Entry) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	entriesSheet := "entries"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(entriesSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Wake History Report")
	_ = f.SetCellValue(summarySheet, "A3", "Alarm")
	_ = f.SetCellValue(summarySheet, "B3", header.AlarmID)
	_ = f.SetCellValue(summarySheet, "A4", "From")
	_ = f.SetCellValue(summarySheet, "B4", header.From.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "To")
	_ = f.SetCellValue(summarySheet, "B5", header.To.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Entries")
	_ = f.SetCellValue(summarySheet, "B6", len(entries))

	_ = f.SetCellValue(entriesSheet, "A1", "Time")
	_ = f.SetCellValue(entriesSheet, "B1", "Action")
	_ = f.SetCellValue(entriesSheet, "C1", "Detail")
	for i, entry := range entries {
		row := i + 2
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("A%d", row), entry.CreatedAt.Format("2006-01-02 15:04:05"))
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("B%d", row), entry.Action)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("C%d", row), entry.Detail)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
