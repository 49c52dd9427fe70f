// Package services – BudgetService
//
// This file implements the BudgetService, which owns the budget lifecycle:
// identifier assignment on create, owner/admin checks on mutation, counter
// reconciliation on delete, and the filtered list, summary and export reads.
//
// Identifier assignment is an explicit two-step protocol run inside one
// transaction: reserve the next value from the "budgetId" counter, then
// insert the record carrying it. Either both happen or neither does.
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-budget-backend/internal/domain"
	"github.com/tbourn/go-budget-backend/internal/query"
	"github.com/tbourn/go-budget-backend/internal/repo"
)

var tracer = otel.Tracer("github.com/tbourn/go-budget-backend/internal/services")

// DefaultPageSize is used when List receives a non-positive page size.
const DefaultPageSize = 10

// CounterRepo defines the named-counter contract required by BudgetService.
type CounterRepo interface {
	// IncrementCounter atomically adds one and returns the new value.
	IncrementCounter(ctx context.Context, db *gorm.DB, name string) (int64, error)
	// SetCounter unconditionally sets the counter, creating it if absent.
	SetCounter(ctx context.Context, db *gorm.DB, name string, value int64) error
	// GetCounter returns the current value or repo.ErrNotFound.
	GetCounter(ctx context.Context, db *gorm.DB, name string) (int64, error)
	// DecrementCounterIf lowers the counter by one only while it equals expected.
	DecrementCounterIf(ctx context.Context, db *gorm.DB, name string, expected int64) (bool, error)
}

// BudgetRepo defines the persistence contract required by BudgetService.
type BudgetRepo interface {
	CreateBudget(ctx context.Context, db *gorm.DB, b *domain.Budget) error
	GetBudget(ctx context.Context, db *gorm.DB, id string) (*domain.Budget, error)
	SaveBudget(ctx context.Context, db *gorm.DB, b *domain.Budget) error
	DeleteBudget(ctx context.Context, db *gorm.DB, id string) error
	CountBudgets(ctx context.Context, db *gorm.DB, c query.Criteria) (int64, error)
	ListBudgetsPage(ctx context.Context, db *gorm.DB, c query.Criteria, offset, limit int) ([]domain.Budget, error)
	SummarizeBudgets(ctx context.Context, db *gorm.DB, c query.Criteria) ([]repo.StatusTotal, error)
	MaxIdentifier(ctx context.Context, db *gorm.DB) (int64, error)
	BudgetsStats(ctx context.Context, db *gorm.DB, c query.Criteria) (int64, *time.Time, error)
}

// IdempotencyRepo stores which budget a create request with a given
// Idempotency-Key produced.
type IdempotencyRepo interface {
	GetIdempotency(ctx context.Context, db *gorm.DB, userID, key string, now time.Time) (*domain.Idempotency, error)
	CreateIdempotency(ctx context.Context, db *gorm.DB, userID, key, budgetID string, status int, ttl time.Duration) (*domain.Idempotency, error)
}

// FileRemover deletes a stored attachment by its stored name.
type FileRemover interface {
	Remove(ctx context.Context, storedName string) error
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID string
	Role   domain.Role
}

// IsAdmin reports whether the actor holds administrator privilege.
func (a Actor) IsAdmin() bool { return a.Role == domain.RoleAdmin }

// CanModify reports whether the actor may update or delete b.
func (a Actor) CanModify(b *domain.Budget) bool {
	return a.IsAdmin() || (a.UserID != "" && a.UserID == b.OwnerID)
}

// BudgetInput carries the mutable fields of a budget. Identifier and owner
// are deliberately absent so callers cannot set them.
type BudgetInput struct {
	Title       string
	Client      string
	Description string
	// Amount is required; nil means it was not supplied.
	Amount *float64
	// Status defaults to pending on create and to the current status on
	// update when empty.
	Status domain.Status
	// Attachment, when non-nil, replaces the stored file.
	Attachment *domain.Attachment
	// RemoveAttachment drops the current file on update. Ignored when
	// Attachment is set.
	RemoveAttachment bool
}

// Page is one page of a filtered budget listing.
type Page struct {
	Items      []domain.Budget
	TotalCount int64
	TotalPages int
	Page       int
	PageSize   int
}

// StatusSummary is the aggregate for one status value.
type StatusSummary struct {
	Status      domain.Status `json:"status"`
	Count       int64         `json:"count"`
	TotalAmount float64       `json:"totalAmount"`
}

// BudgetService provides budget operations on top of the counter, budget
// and idempotency repositories.
type BudgetService struct {
	// DB is the GORM handle used for persistence.
	DB       *gorm.DB
	Counters CounterRepo
	Repo     BudgetRepo
	// Idem is optional; without it Idempotency-Key is ignored.
	Idem IdempotencyRepo
	// Files is optional; without it stored attachments are never removed.
	Files FileRemover

	// IdemTTL is how long an Idempotency-Key keeps replaying.
	IdemTTL time.Duration
	// Attempts and Backoff bound the retry of transient store contention.
	Attempts int
	Backoff  time.Duration

	now func() time.Time
}

// NewBudgetService constructs a BudgetService with default retry and
// idempotency settings.
func NewBudgetService(db *gorm.DB, counters CounterRepo, r BudgetRepo, idem IdempotencyRepo, files FileRemover) *BudgetService {
	return &BudgetService{
		DB:       db,
		Counters: counters,
		Repo:     r,
		Idem:     idem,
		Files:    files,
		IdemTTL:  24 * time.Hour,
		Attempts: defaultAttempts,
		Backoff:  defaultBackoff,
		now:      time.Now,
	}
}

// Create validates in and stores a new budget owned by actor with the next
// sequential identifier.
func (s *BudgetService) Create(ctx context.Context, actor Actor, in BudgetInput) (*domain.Budget, error) {
	b, _, err := s.CreateOnce(ctx, actor, "", in)
	return b, err
}

// CreateOnce is Create keyed by an idempotency key. When the same actor
// already created a budget with key, that budget is returned with
// replayed=true and nothing new is stored. An empty key behaves like Create.
func (s *BudgetService) CreateOnce(ctx context.Context, actor Actor, key string, in BudgetInput) (b *domain.Budget, replayed bool, err error) {
	ctx, span := tracer.Start(ctx, "BudgetService.Create")
	defer func() { endSpan(span, err) }()

	if actor.UserID == "" {
		return nil, false, ErrUnauthenticated
	}
	key = strings.TrimSpace(key)
	if s.Idem == nil {
		key = ""
	}
	if key != "" {
		if prev, ok, err := s.replay(ctx, actor.UserID, key); ok || err != nil {
			return prev, ok, err
		}
	}

	clean, err := validateInput(in, true)
	if err != nil {
		return nil, false, err
	}

	now := s.clock().UTC()
	b = &domain.Budget{
		ID:          uuid.NewString(),
		OwnerID:     actor.UserID,
		Title:       clean.Title,
		Client:      clean.Client,
		Description: clean.Description,
		Amount:      *clean.Amount,
		Status:      clean.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if clean.Attachment != nil {
		b.Attachment = *clean.Attachment
	}

	err = withRetry(ctx, s.Attempts, s.Backoff, func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			id, err := s.Counters.IncrementCounter(ctx, tx, domain.BudgetCounter)
			if err != nil {
				return fmt.Errorf("reserve identifier: %w", err)
			}
			b.Identifier = id
			if err := s.Repo.CreateBudget(ctx, tx, b); err != nil {
				return err
			}
			if key != "" {
				if _, err := s.Idem.CreateIdempotency(ctx, tx, actor.UserID, key, b.ID, http.StatusCreated, s.IdemTTL); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		// A concurrent request with the same key won the race.
		if key != "" && errors.Is(err, repo.ErrDuplicate) {
			if prev, ok, rerr := s.replay(ctx, actor.UserID, key); ok || rerr != nil {
				return prev, ok, rerr
			}
		}
		return nil, false, err
	}

	identifiersAssigned.Inc()
	span.SetAttributes(attribute.Int64("budget.identifier", b.Identifier))
	return b, false, nil
}

// replay returns the budget previously created under (userID, key).
func (s *BudgetService) replay(ctx context.Context, userID, key string) (*domain.Budget, bool, error) {
	rec, err := s.Idem.GetIdempotency(ctx, s.DB, userID, key, s.clock().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	b, err := s.Get(ctx, rec.BudgetID)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Get returns the budget with the given ID or ErrBudgetNotFound.
func (s *BudgetService) Get(ctx context.Context, id string) (*domain.Budget, error) {
	b, err := s.Repo.GetBudget(ctx, s.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBudgetNotFound
	}
	return b, err
}

// Update replaces the mutable fields of budget id. Only the owner or an
// administrator may update; identifier, owner and creation time never change.
func (s *BudgetService) Update(ctx context.Context, actor Actor, id string, in BudgetInput) (out *domain.Budget, err error) {
	ctx, span := tracer.Start(ctx, "BudgetService.Update")
	defer func() { endSpan(span, err) }()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanModify(cur) {
		return nil, ErrForbidden
	}
	clean, err := validateInput(in, false)
	if err != nil {
		return nil, err
	}

	next := *cur
	next.Title = clean.Title
	next.Client = clean.Client
	next.Description = clean.Description
	next.Amount = *clean.Amount
	if clean.Status != "" {
		next.Status = clean.Status
	}
	switch {
	case clean.Attachment != nil:
		next.Attachment = *clean.Attachment
	case clean.RemoveAttachment:
		next.Attachment = domain.Attachment{}
	}
	next.UpdatedAt = s.clock().UTC()

	err = withRetry(ctx, s.Attempts, s.Backoff, func() error {
		return s.Repo.SaveBudget(ctx, s.DB, &next)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBudgetNotFound
	}
	if err != nil {
		return nil, err
	}

	if old := cur.Attachment; !old.Empty() && old.StoredName != next.Attachment.StoredName {
		s.removeFile(ctx, old.StoredName)
	}
	return &next, nil
}

// Delete removes budget id, reconciles the identifier counter in the same
// transaction, then removes the attached file. Only the owner or an
// administrator may delete.
func (s *BudgetService) Delete(ctx context.Context, actor Actor, id string) (err error) {
	ctx, span := tracer.Start(ctx, "BudgetService.Delete")
	defer func() { endSpan(span, err) }()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !actor.CanModify(cur) {
		return ErrForbidden
	}

	var outcome string
	err = withRetry(ctx, s.Attempts, s.Backoff, func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.Repo.DeleteBudget(ctx, tx, id); err != nil {
				return err
			}
			var err error
			outcome, err = s.reconcile(ctx, tx, cur.Identifier)
			return err
		})
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrBudgetNotFound
	}
	if err != nil {
		return err
	}

	counterReconciliations.WithLabelValues(outcome).Inc()
	span.SetAttributes(
		attribute.Int64("budget.identifier", cur.Identifier),
		attribute.String("counter.outcome", outcome),
	)
	if !cur.Attachment.Empty() {
		s.removeFile(ctx, cur.Attachment.StoredName)
	}
	return nil
}

// reconcile shrinks the counter after deleting identifier deleted: reset to
// 0 when no budgets remain, decrement when deleted was the current maximum,
// otherwise leave it alone so the gap is permanent.
func (s *BudgetService) reconcile(ctx context.Context, tx *gorm.DB, deleted int64) (string, error) {
	remaining, err := s.Repo.CountBudgets(ctx, tx, query.Criteria{})
	if err != nil {
		return "", err
	}
	if remaining == 0 {
		return "reset", s.Counters.SetCounter(ctx, tx, domain.BudgetCounter, 0)
	}
	changed, err := s.Counters.DecrementCounterIf(ctx, tx, domain.BudgetCounter, deleted)
	if err != nil {
		return "", err
	}
	if changed {
		return "decremented", nil
	}
	return "unchanged", nil
}

// List returns one page of budgets matching c, highest identifier first.
// A page past the end yields no items but accurate totals.
func (s *BudgetService) List(ctx context.Context, c query.Criteria, page, pageSize int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	total, err := s.Repo.CountBudgets(ctx, s.DB, c)
	if err != nil {
		return nil, err
	}
	out := &Page{
		Items:      []domain.Budget{},
		TotalCount: total,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
		Page:       page,
		PageSize:   pageSize,
	}
	// Compare pages before multiplying so a huge page cannot wrap the offset.
	if total == 0 || page > out.TotalPages {
		return out, nil
	}

	items, err := s.Repo.ListBudgetsPage(ctx, s.DB, c, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}
	out.Items = items
	return out, nil
}

// Export returns every budget matching c in listing order.
func (s *BudgetService) Export(ctx context.Context, c query.Criteria) ([]domain.Budget, error) {
	return s.Repo.ListBudgetsPage(ctx, s.DB, c, 0, -1)
}

// Summarize aggregates the budgets matching c by status. The result always
// holds exactly one entry per status, in domain.Statuses order.
func (s *BudgetService) Summarize(ctx context.Context, c query.Criteria) ([]StatusSummary, error) {
	rows, err := s.Repo.SummarizeBudgets(ctx, s.DB, c)
	if err != nil {
		return nil, err
	}
	byStatus := make(map[domain.Status]repo.StatusTotal, len(rows))
	for _, r := range rows {
		byStatus[r.Status] = r
	}
	out := make([]StatusSummary, 0, len(domain.Statuses))
	for _, st := range domain.Statuses {
		r := byStatus[st]
		out = append(out, StatusSummary{Status: st, Count: r.Count, TotalAmount: r.TotalAmount})
	}
	return out, nil
}

// Stats returns the match count and latest update time for c, used to build
// list ETags.
func (s *BudgetService) Stats(ctx context.Context, c query.Criteria) (int64, *time.Time, error) {
	return s.Repo.BudgetsStats(ctx, s.DB, c)
}

// Resync sets the identifier counter to the highest identifier present (0
// when there are no budgets) and returns that value. It runs at startup to
// repair drift, e.g. after restoring a backup.
func (s *BudgetService) Resync(ctx context.Context) (int64, error) {
	top, err := s.Repo.MaxIdentifier(ctx, s.DB)
	if err != nil {
		return 0, err
	}
	if err := s.Counters.SetCounter(ctx, s.DB, domain.BudgetCounter, top); err != nil {
		return 0, err
	}
	return top, nil
}

func (s *BudgetService) removeFile(ctx context.Context, storedName string) {
	if s.Files == nil || storedName == "" {
		return
	}
	if err := s.Files.Remove(ctx, storedName); err != nil {
		log.Warn().Err(err).Str("file", storedName).Msg("attachment cleanup failed")
	}
}

func (s *BudgetService) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// validateInput trims the text fields and checks every constraint,
// collecting all violations. On create an empty status becomes pending.
func validateInput(in BudgetInput, creating bool) (BudgetInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Client = strings.TrimSpace(in.Client)
	in.Description = strings.TrimSpace(in.Description)
	in.Status = domain.Status(strings.ToLower(strings.TrimSpace(string(in.Status))))

	var ve ValidationError
	if n := utf8.RuneCountInString(in.Title); n > 0 && (n < 2 || n > 100) {
		ve.add("title", "must be between 2 and 100 characters")
	}
	switch n := utf8.RuneCountInString(in.Client); {
	case n == 0:
		ve.add("client", "is required")
	case n < 3 || n > 100:
		ve.add("client", "must be between 3 and 100 characters")
	}
	if utf8.RuneCountInString(in.Description) > 500 {
		ve.add("description", "must be at most 500 characters")
	}
	switch {
	case in.Amount == nil:
		ve.add("amount", "is required")
	case math.IsNaN(*in.Amount) || math.IsInf(*in.Amount, 0) || *in.Amount < 0:
		ve.add("amount", "must be a number greater than or equal to 0")
	}
	if in.Status == "" && creating {
		in.Status = domain.StatusPending
	}
	if in.Status != "" && !in.Status.Valid() {
		ve.add("status", "must be one of pending, approved, rejected")
	}
	return in, ve.orNil()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
