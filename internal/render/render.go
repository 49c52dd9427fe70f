// Package render turns budgets into documents: a PDF sheet, an HTML e-mail
// body and an XLSX export. Every renderer consumes domain.Budget.Fields so
// the three outputs always agree on labels, order and formatting.
package render

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/go-pdf/fpdf"

	"github.com/tbourn/go-budget-backend/internal/domain"
)

// Title is the heading used by the PDF and HTML renderers.
func Title(b *domain.Budget) string {
	return fmt.Sprintf("Budget #%d", b.Identifier)
}

// PDF renders b as a single A4 page: a heading and a two-column field table.
func PDF(b *domain.Budget) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetTitle(Title(b), true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, tr(Title(b)), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	const labelW, valueW, lineH = 45.0, 145.0, 8.0
	for _, f := range b.Fields() {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.SetFillColor(240, 240, 240)
		x, y := pdf.GetXY()
		pdf.CellFormat(labelW, lineH, tr(f.Label), "1", 0, "L", true, 0, "")

		// Long values (descriptions) wrap inside their cell.
		pdf.SetFont("Helvetica", "", 11)
		pdf.SetXY(x+labelW, y)
		pdf.MultiCell(valueW, lineH, tr(f.Value), "1", "L", false)
		if _, ny := pdf.GetXY(); ny-y > lineH {
			// Stretch the label cell to the wrapped height.
			pdf.Rect(x, y, labelW, ny-y, "D")
		}
		pdf.SetX(x)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

var htmlTmpl = template.Must(template.New("budget").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Helvetica, Arial, sans-serif; color: #222;">
<h2>{{.Title}}</h2>
<table cellpadding="6" cellspacing="0" style="border-collapse: collapse;">
{{- range .Fields}}
<tr><th align="left" style="border: 1px solid #ccc; background: #f0f0f0;">{{.Label}}</th><td style="border: 1px solid #ccc;">{{.Value}}</td></tr>
{{- end}}
</table>
<p>The full budget is attached as a PDF.</p>
</body>
</html>
`))

// HTML renders b as the e-mail body. Values are escaped.
func HTML(b *domain.Budget) (string, error) {
	var buf bytes.Buffer
	err := htmlTmpl.Execute(&buf, struct {
		Title  string
		Fields []domain.Field
	}{Title(b), b.Fields()})
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}
