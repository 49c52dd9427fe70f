package services

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-budget-backend/internal/mail"
	"github.com/tbourn/go-budget-backend/internal/query"
)

type fakeMailer struct {
	sent []mail.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

func TestDocumentService_PDFAndExport(t *testing.T) {
	bs, _ := newBudgetSvc(t, newMemDB(t))
	b := mustCreate(t, bs, BudgetInput{Client: "Acme", Amount: amount(10)})
	d := NewDocumentService(bs, &fakeMailer{})
	ctx := context.Background()

	got, pdf, err := d.PDF(ctx, b.ID)
	if err != nil || got.ID != b.ID || !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Fatalf("PDF: err=%v prefix=%q", err, pdf[:min(5, len(pdf))])
	}
	if _, _, err := d.PDF(ctx, "missing"); !errors.Is(err, ErrBudgetNotFound) {
		t.Fatalf("expected ErrBudgetNotFound, got %v", err)
	}

	xlsx, err := d.Export(ctx, query.Criteria{})
	if err != nil || !bytes.HasPrefix(xlsx, []byte("PK")) {
		t.Fatalf("Export: err=%v", err)
	}
}

func TestDocumentService_Email(t *testing.T) {
	bs, _ := newBudgetSvc(t, newMemDB(t))
	b := mustCreate(t, bs, BudgetInput{Title: "Roof", Client: "Acme", Amount: amount(10)})
	m := &fakeMailer{}
	d := NewDocumentService(bs, m)
	ctx := context.Background()

	if err := d.Email(ctx, b.ID, "client@example.com"); err != nil {
		t.Fatalf("Email: %v", err)
	}
	if len(m.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(m.sent))
	}
	msg := m.sent[0]
	if msg.To != "client@example.com" || msg.Subject != "Budget #1" || len(msg.Attachments) != 1 || msg.Attachments[0].Name != "budget-1.pdf" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	var ve *ValidationError
	for _, bad := range []string{"nope", "a@", "a b@example.com"} {
		if err := d.Email(ctx, b.ID, bad); !errors.As(err, &ve) {
			t.Fatalf("Email(%q): expected ValidationError, got %v", bad, err)
		}
	}

	m.err = errors.New("connection refused")
	if err := d.Email(ctx, b.ID, "client@example.com"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	stored, _ := bs.Get(ctx, b.ID)
	if stored.Title != "Roof" {
		t.Fatalf("failed e-mail must not modify the budget: %+v", stored)
	}
}
