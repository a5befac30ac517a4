package export

import (
	"fmt"
	"io"
	"time"

	"github.com/ZanzyTHEbar/disposal-triage/internal/store"
	"github.com/xuri/excelize/v2"
)

// SheetName is the only sheet of the review export
const SheetName = "Reviews"

var reviewHeaders = []string{
	"Submission ID",
	"Form",
	"Submitted At",
	"AI Recommendation",
	"Confidence",
	"Status",
	"Admin Decision",
	"Final Decision",
	"Reviewed By",
	"Reviewed At",
	"Admin Notes",
	"AI Reasoning",
}

// WriteReviewsXLSX writes one header row and one row per recommendation
func WriteReviewsXLSX(w io.Writer, rows []store.ReviewRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	for i, h := range reviewHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return err
		}
	}

	for r, row := range rows {
		rowIdx := r + 2
		for c, v := range reviewValues(row) {
			cell, _ := excelize.CoordinatesToCellName(c+1, rowIdx)
			if err := f.SetCellValue(SheetName, cell, v); err != nil {
				return err
			}
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func reviewValues(row store.ReviewRow) []interface{} {
	return []interface{}{
		row.SubmissionID,
		row.FormTitle,
		formatTime(&row.SubmittedAt),
		row.AIDecision.Label(),
		row.Confidence,
		string(row.Status),
		categoryLabel(row),
		row.FinalDecision().Label(),
		deref(row.ReviewedBy),
		formatTime(row.ReviewedAt),
		deref(row.AdminNotes),
		row.Reasoning,
	}
}

func categoryLabel(row store.ReviewRow) string {
	if row.AdminDecision == nil {
		return ""
	}
	return row.AdminDecision.Label()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
