package render

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/tbourn/go-budget-backend/internal/domain"
)

// SheetName is the worksheet holding exported budgets.
const SheetName = "Budgets"

var xlsxHeader = []string{"Identifier", "Title", "Client", "Description", "Amount", "Status", "Created", "Attachment"}

// XLSX writes budgets as one header row plus one row per budget. Identifier
// and Amount are numeric cells; the rest are text.
func XLSX(budgets []domain.Budget) ([]byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), SheetName); err != nil {
		return nil, err
	}
	if err := xl.SetSheetRow(SheetName, "A1", &xlsxHeader); err != nil {
		return nil, err
	}
	bold, err := xl.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := xl.SetCellStyle(SheetName, "A1", "H1", bold); err != nil {
		return nil, err
	}
	_ = xl.SetColWidth(SheetName, "B", "D", 30)

	for i := range budgets {
		b := &budgets[i]
		row := []any{
			b.Identifier,
			b.Title,
			b.Client,
			b.Description,
			b.Amount,
			string(b.Status),
			b.CreatedAt.UTC().Format("2006-01-02 15:04"),
			b.Attachment.OriginalName,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := xl.SetSheetRow(SheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
