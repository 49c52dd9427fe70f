// Package services – DocumentService
//
// This file turns budgets into documents. A single budget renders to PDF and
// can be e-mailed with that PDF attached; a filtered listing exports to XLSX.
// Renderer and mailer failures surface as ErrUpstream.
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/tbourn/go-budget-backend/internal/domain"
	"github.com/tbourn/go-budget-backend/internal/mail"
	"github.com/tbourn/go-budget-backend/internal/query"
	"github.com/tbourn/go-budget-backend/internal/render"
)

// BudgetReader is the part of BudgetService that documents need.
type BudgetReader interface {
	Get(ctx context.Context, id string) (*domain.Budget, error)
	Export(ctx context.Context, c query.Criteria) ([]domain.Budget, error)
}

// Mailer delivers one message.
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) error
}

// DocumentService renders budgets as PDF and XLSX and e-mails them. Render
// and delivery failures are reported as ErrUpstream and never modify the
// budget.
type DocumentService struct {
	Budgets BudgetReader
	Mailer  Mailer
}

// NewDocumentService wires a DocumentService.
func NewDocumentService(budgets BudgetReader, mailer Mailer) *DocumentService {
	return &DocumentService{Budgets: budgets, Mailer: mailer}
}

// PDF returns budget id rendered as a PDF.
func (d *DocumentService) PDF(ctx context.Context, id string) (*domain.Budget, []byte, error) {
	b, err := d.Budgets.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	out, err := render.PDF(b)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return b, out, nil
}

// Email sends budget id to the given address with an HTML body and the PDF
// attached.
func (d *DocumentService) Email(ctx context.Context, id, to string) error {
	to = strings.TrimSpace(to)
	if !validEmail(to) {
		return &ValidationError{Fields: []FieldError{{Field: "to", Message: "must be a valid email address"}}}
	}
	b, pdf, err := d.PDF(ctx, id)
	if err != nil {
		return err
	}
	body, err := render.HTML(b)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	err = d.Mailer.Send(ctx, mail.Message{
		To:      to,
		Subject: render.Title(b),
		HTML:    body,
		Attachments: []mail.Attachment{{
			Name:        PDFFilename(b),
			ContentType: "application/pdf",
			Data:        pdf,
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return nil
}

// Export returns the budgets matching c as an XLSX workbook.
func (d *DocumentService) Export(ctx context.Context, c query.Criteria) ([]byte, error) {
	all, err := d.Budgets.Export(ctx, c)
	if err != nil {
		return nil, err
	}
	out, err := render.XLSX(all)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return out, nil
}

// PDFFilename is the download name of a budget's PDF.
func PDFFilename(b *domain.Budget) string {
	return fmt.Sprintf("budget-%d.pdf", b.Identifier)
}
