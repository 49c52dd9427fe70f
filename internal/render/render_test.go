package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/tbourn/go-budget-backend/internal/domain"
)

func sample() *domain.Budget {
	return &domain.Budget{
		ID:          "b1",
		Identifier:  42,
		Title:       "Roof <repair>",
		Client:      "Acme & Sons",
		Description: strings.Repeat("Long description. ", 20),
		Amount:      1234.5,
		Status:      domain.StatusApproved,
		CreatedAt:   time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
		Attachment:  domain.Attachment{OriginalName: "plan.pdf", StoredName: "x.pdf"},
	}
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Budget #42", Title(sample()))
}

func TestPDF_ProducesDocument(t *testing.T) {
	out, err := PDF(sample())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")), "missing PDF header")
	assert.Greater(t, len(out), 500)
}

func TestHTML_EscapesAndListsFields(t *testing.T) {
	out, err := HTML(sample())
	require.NoError(t, err)
	assert.Contains(t, out, "Budget #42")
	assert.Contains(t, out, "Roof &lt;repair&gt;")
	assert.Contains(t, out, "Acme &amp; Sons")
	assert.Contains(t, out, "1234.50")
	assert.Contains(t, out, "plan.pdf")
	assert.NotContains(t, out, "<repair>")
}

func TestXLSX_HeaderAndRows(t *testing.T) {
	b2 := *sample()
	b2.Identifier = 7
	b2.Attachment = domain.Attachment{}
	out, err := XLSX([]domain.Budget{*sample(), b2})
	require.NoError(t, err)

	xl, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer func() { _ = xl.Close() }()

	rows, err := xl.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, xlsxHeader, rows[0])
	assert.Equal(t, "42", rows[1][0])
	assert.Equal(t, "Acme & Sons", rows[1][2])
	assert.Equal(t, "approved", rows[1][5])
	assert.Equal(t, "2025-03-01 09:30", rows[1][6])
	assert.Equal(t, "plan.pdf", rows[1][7])
	assert.Equal(t, "7", rows[2][0])
}

func TestXLSX_EmptyExportHasHeaderOnly(t *testing.T) {
	out, err := XLSX(nil)
	require.NoError(t, err)
	xl, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer func() { _ = xl.Close() }()
	rows, _ := xl.GetRows(SheetName)
	assert.Len(t, rows, 1)
}
