// Budget HTTP handlers.
//
// This file exposes REST endpoints for budget resources:
//   - GET    /budgets              (list, filtered + paginated, ETag support)
//   - GET    /budgets/summary      (per-status count and amount)
//   - GET    /budgets/export       (XLSX of the filtered set)
//   - GET    /budgets/{id}         (fetch)
//   - GET    /budgets/{id}/pdf     (render)
//   - POST   /budgets/{id}/email   (render and send)
//   - POST   /budgets              (create, JSON or multipart, idempotent)
//   - PUT    /budgets/{id}         (update, JSON or multipart)
//   - DELETE /budgets/{id}         (delete)
//
// Handlers are transport-thin: they decode input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-budget-backend/internal/domain"
	"github.com/tbourn/go-budget-backend/internal/http/middleware"
	"github.com/tbourn/go-budget-backend/internal/query"
	"github.com/tbourn/go-budget-backend/internal/services"
	"github.com/tbourn/go-budget-backend/internal/sysutil"
	"github.com/tbourn/go-budget-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// BudgetService defines the budget lifecycle consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type BudgetService interface {
	// CreateOnce stores a new budget, or replays the one created earlier by
	// the same actor under key (replayed=true).
	CreateOnce(ctx context.Context, actor services.Actor, key string, in services.BudgetInput) (*domain.Budget, bool, error)
	Get(ctx context.Context, id string) (*domain.Budget, error)
	Update(ctx context.Context, actor services.Actor, id string, in services.BudgetInput) (*domain.Budget, error)
	Delete(ctx context.Context, actor services.Actor, id string) error
	List(ctx context.Context, c query.Criteria, page, pageSize int) (*services.Page, error)
	Summarize(ctx context.Context, c query.Criteria) ([]services.StatusSummary, error)
	// Stats returns the matching count and latest update time (ETag input).
	Stats(ctx context.Context, c query.Criteria) (int64, *time.Time, error)
}

// DocumentService renders budgets as PDF, e-mail and spreadsheet.
type DocumentService interface {
	PDF(ctx context.Context, id string) (*domain.Budget, []byte, error)
	Email(ctx context.Context, id, to string) error
	Export(ctx context.Context, c query.Criteria) ([]byte, error)
}

// FileStore persists uploaded attachments.
type FileStore interface {
	Save(ctx context.Context, originalName string, r io.Reader) (domain.Attachment, error)
	Remove(ctx context.Context, storedName string) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for budgets, authentication and users.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	budgets BudgetService
	docs    DocumentService
	users   UserService
	files   FileStore
}

// New constructs and returns a Handlers instance bound to the given services.
func New(budgets BudgetService, docs DocumentService, users UserService, files FileStore) *Handlers {
	return &Handlers{budgets: budgets, docs: docs, users: users, files: files}
}

// actor builds the acting identity from what Authenticate stored.
func actor(c *gin.Context) services.Actor {
	return services.Actor{
		UserID: middleware.UserID(c),
		Role:   domain.Role(middleware.Role(c)),
	}
}

//
// DTOs
//

// BudgetRequest is the JSON payload for creating or updating a budget.
// Spanish field names from the legacy client are accepted as aliases.
type BudgetRequest struct {
	Title       string        `json:"title" example:"Kitchen remodel"`
	Client      string        `json:"client" example:"ACME Corp"`
	Description string        `json:"description" example:"Cabinets and countertop"`
	Amount      *float64      `json:"amount" example:"1250.5"`
	Status      domain.Status `json:"status" enums:"pending,approved,rejected" example:"pending"`
	RemoveFile  bool          `json:"removeFile" example:"false"`

	Titulo      string   `json:"titulo,omitempty" swaggerignore:"true"`
	Cliente     string   `json:"cliente,omitempty" swaggerignore:"true"`
	Descripcion string   `json:"descripcion,omitempty" swaggerignore:"true"`
	Monto       *float64 `json:"monto,omitempty" swaggerignore:"true"`
	Estado      string   `json:"estado,omitempty" swaggerignore:"true"`
}

func (r BudgetRequest) input() services.BudgetInput {
	amount := r.Amount
	if amount == nil {
		amount = r.Monto
	}
	return services.BudgetInput{
		Title:            sysutil.FirstNonEmpty(r.Title, r.Titulo),
		Client:           sysutil.FirstNonEmpty(r.Client, r.Cliente),
		Description:      sysutil.FirstNonEmpty(r.Description, r.Descripcion),
		Amount:           amount,
		Status:           domain.Status(sysutil.FirstNonEmpty(string(r.Status), r.Estado)),
		RemoveAttachment: r.RemoveFile,
	}
}

// EmailRequest is the JSON payload for mailing a budget.
type EmailRequest struct {
	To string `json:"to" binding:"required,email" example:"client@example.com"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	TotalDocs  int64 `json:"totalDocs"`
	TotalPages int   `json:"totalPages"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
}

// ListBudgetsResponse wraps a page of budgets and pagination information.
type ListBudgetsResponse struct {
	Data       []domain.Budget `json:"data"`
	Pagination Pagination      `json:"pagination"`
}

// SummaryResponse holds one row per status, always all three.
type SummaryResponse struct {
	Summary []services.StatusSummary `json:"summary"`
}

//
// Helpers
//

const (
	defaultPageSize = 10
	maxPageSize     = 100

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// budgetInput decodes a create/update request from JSON or multipart form
// data. A file in the "archivo" (or "file") part is stored and attached; the
// caller must release it with discard when the service rejects the input.
func (h *Handlers) budgetInput(c *gin.Context) (services.BudgetInput, bool) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		var req BudgetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return services.BudgetInput{}, false
		}
		return req.input(), true
	}

	in := services.BudgetInput{
		Title:            sysutil.FirstNonEmpty(c.PostForm("title"), c.PostForm("titulo")),
		Client:           sysutil.FirstNonEmpty(c.PostForm("client"), c.PostForm("cliente")),
		Description:      sysutil.FirstNonEmpty(c.PostForm("description"), c.PostForm("descripcion")),
		Status:           domain.Status(sysutil.FirstNonEmpty(c.PostForm("status"), c.PostForm("estado"))),
		RemoveAttachment: sysutil.IsTruthy(c.PostForm("removeFile")),
	}
	if raw := strings.TrimSpace(sysutil.FirstNonEmpty(c.PostForm("amount"), c.PostForm("monto"))); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			// Rejected by the service's range check.
			v = math.NaN()
		}
		in.Amount = &v
	}

	fh, err := formFile(c, "archivo", "file")
	if err != nil {
		var maxed *http.MaxBytesError
		if errors.As(err, &maxed) {
			writeError(c, err)
		} else {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid multipart body")
		}
		return services.BudgetInput{}, false
	}
	if fh != nil {
		att, err := h.saveUpload(c.Request.Context(), fh)
		if err != nil {
			writeError(c, err)
			return services.BudgetInput{}, false
		}
		in.Attachment = &att
	}
	return in, true
}

// formFile returns the first present file part among names, or nil.
func formFile(c *gin.Context, names ...string) (*multipart.FileHeader, error) {
	for _, n := range names {
		fh, err := c.FormFile(n)
		if err == nil {
			return fh, nil
		}
		if !errors.Is(err, http.ErrMissingFile) {
			return nil, err
		}
	}
	return nil, nil
}

func (h *Handlers) saveUpload(ctx context.Context, fh *multipart.FileHeader) (domain.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return domain.Attachment{}, err
	}
	defer f.Close()
	return h.files.Save(ctx, fh.Filename, f)
}

// discard removes a freshly stored upload that ended up unused.
func (h *Handlers) discard(c *gin.Context, in services.BudgetInput) {
	if in.Attachment == nil || in.Attachment.Empty() {
		return
	}
	if err := h.files.Remove(context.WithoutCancel(c.Request.Context()), in.Attachment.StoredName); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("file", in.Attachment.StoredName).Msg("discard upload failed")
	}
}

func listETag(count int64, maxTS *time.Time) string {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	return fmt.Sprintf(`W/"budgets:%d:%d"`, count, ts)
}

//
// Handlers
//

// ListBudgets godoc
// @ID          listBudgets
// @Summary     List budgets (filtered, paginated)
// @Description Returns a page of budgets matching the filters, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Budgets
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       q          query  string  false "Free text over title, client, description and identifier"
// @Param       status     query  string  false "pending|approved|rejected"
// @Param       client     query  string  false "Client substring"
// @Param       minAmount  query  number  false "Minimum amount"
// @Param       maxAmount  query  number  false "Maximum amount"
// @Param       fromDate   query  string  false "Created on or after (YYYY-MM-DD or RFC 3339)"
// @Param       toDate     query  string  false "Created on or before (YYYY-MM-DD or RFC 3339)"
// @Param       page           query   int     false "Page number"    minimum(1) default(1)
// @Param       limit          query   int     false "Items per page" minimum(1) maximum(100) default(10)
//
// @Success     200  {object} handlers.ListBudgetsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /budgets [get]
func (h *Handlers) ListBudgets(c *gin.Context) {
	ctx := c.Request.Context()
	crit := query.Parse(c.Request.URL.Query())
	page, limit := utils.ClampPage(c.Query("page"), c.Query("limit"), defaultPageSize, maxPageSize)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.budgets.Stats(ctx, crit); err == nil {
		etag := listETag(count, maxTS)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	p, err := h.budgets.List(ctx, crit, page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	items := p.Items
	if items == nil {
		items = []domain.Budget{}
	}
	ok(c, http.StatusOK, ListBudgetsResponse{
		Data: items,
		Pagination: Pagination{
			TotalDocs:  p.TotalCount,
			TotalPages: p.TotalPages,
			Page:       p.Page,
			Limit:      p.PageSize,
		},
	})
}

// SummarizeBudgets godoc
// @ID          summarizeBudgets
// @Summary     Summarize budgets by status
// @Description Count and total amount per status over the filtered set. Always three rows.
// @Tags        Budgets
// @Produce     json
// @Security    BearerAuth
// @Param       q          query  string  false "Free text over title, client, description and identifier"
// @Param       status     query  string  false "pending|approved|rejected"
// @Param       client     query  string  false "Client substring"
// @Param       minAmount  query  number  false "Minimum amount"
// @Param       maxAmount  query  number  false "Maximum amount"
// @Param       fromDate   query  string  false "Created on or after (YYYY-MM-DD or RFC 3339)"
// @Param       toDate     query  string  false "Created on or before (YYYY-MM-DD or RFC 3339)"
// @Success     200  {object} handlers.SummaryResponse
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /budgets/summary [get]
func (h *Handlers) SummarizeBudgets(c *gin.Context) {
	rows, err := h.budgets.Summarize(c.Request.Context(), query.Parse(c.Request.URL.Query()))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, SummaryResponse{Summary: rows})
}

// ExportBudgets godoc
// @ID          exportBudgets
// @Summary     Export budgets as XLSX
// @Description Spreadsheet of every budget matching the same filters as the list endpoint.
// @Tags        Budgets
// @Produce     application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security    BearerAuth
// @Param       q          query  string  false "Free text over title, client, description and identifier"
// @Param       status     query  string  false "pending|approved|rejected"
// @Param       client     query  string  false "Client substring"
// @Param       minAmount  query  number  false "Minimum amount"
// @Param       maxAmount  query  number  false "Maximum amount"
// @Param       fromDate   query  string  false "Created on or after (YYYY-MM-DD or RFC 3339)"
// @Param       toDate     query  string  false "Created on or before (YYYY-MM-DD or RFC 3339)"
// @Success     200  {file}   binary
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     502  {object} handlers.ErrorResponse "Render failed"
// @Router      /budgets/export [get]
func (h *Handlers) ExportBudgets(c *gin.Context) {
	data, err := h.docs.Export(c.Request.Context(), query.Parse(c.Request.URL.Query()))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="budgets.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, data)
}

// GetBudget godoc
// @ID          getBudget
// @Summary     Get a budget
// @Tags        Budgets
// @Produce     json
// @Security    BearerAuth
// @Param       id   path  string  true  "Budget ID (UUID)"  format(uuid)
// @Success     200  {object} domain.Budget
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "Budget not found"
// @Router      /budgets/{id} [get]
func (h *Handlers) GetBudget(c *gin.Context) {
	b, err := h.budgets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, b)
}

// BudgetPDF godoc
// @ID          budgetPDF
// @Summary     Render a budget as PDF
// @Tags        Budgets
// @Produce     application/pdf
// @Security    BearerAuth
// @Param       id   path  string  true  "Budget ID (UUID)"  format(uuid)
// @Success     200  {file}   binary
// @Failure     404  {object} handlers.ErrorResponse "Budget not found"
// @Failure     502  {object} handlers.ErrorResponse "Render failed"
// @Router      /budgets/{id}/pdf [get]
func (h *Handlers) BudgetPDF(c *gin.Context) {
	b, data, err := h.docs.PDF(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, services.PDFFilename(b)))
	c.Data(http.StatusOK, "application/pdf", data)
}

// EmailBudget godoc
// @ID          emailBudget
// @Summary     E-mail a budget
// @Description Sends an HTML summary of the budget with the PDF attached.
// @Tags        Budgets
// @Accept      json
// @Security    BearerAuth
// @Param       id    path  string                   true  "Budget ID (UUID)"  format(uuid)
// @Param       body  body  handlers.EmailRequest    true  "Recipient"
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Invalid recipient"
// @Failure     404  {object} handlers.ErrorResponse "Budget not found"
// @Failure     502  {object} handlers.ErrorResponse "Mail relay failed"
// @Router      /budgets/{id}/email [post]
func (h *Handlers) EmailBudget(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if err := h.docs.Email(c.Request.Context(), c.Param("id"), req.To); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}

// CreateBudget godoc
// @ID          createBudget
// @Summary     Create a budget
// @Description Creates a budget owned by the caller with the next sequential identifier. Accepts JSON or multipart/form-data with an optional "archivo" file (PDF, JPEG, PNG). With Idempotency-Key, a repeated request returns the original budget with 200.
// @Tags        Budgets
// @Accept      json
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string                  false "Idempotency key"
// @Param       body             body    handlers.BudgetRequest  true  "Budget"
// @Success     201  {object} domain.Budget
// @Success     200  {object} domain.Budget "Replayed"
// @Header      200  {string} Idempotency-Replayed "true on replays"
// @Failure     400  {object} handlers.ErrorResponse "Validation failed"
// @Failure     413  {object} handlers.ErrorResponse "File too large"
// @Failure     415  {object} handlers.ErrorResponse "Unsupported file type"
// @Router      /budgets [post]
func (h *Handlers) CreateBudget(c *gin.Context) {
	in, okIn := h.budgetInput(c)
	if !okIn {
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	b, replayed, err := h.budgets.CreateOnce(c.Request.Context(), actor(c), key, in)
	if err != nil {
		h.discard(c, in)
		writeError(c, err)
		return
	}
	if replayed {
		h.discard(c, in)
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
		ok(c, http.StatusOK, b)
		return
	}
	ok(c, http.StatusCreated, b)
}

// UpdateBudget godoc
// @ID          updateBudget
// @Summary     Update a budget
// @Description Replaces the mutable fields. Only the owner or an admin may update. A new file replaces the old one; removeFile=true drops it.
// @Tags        Budgets
// @Accept      json
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                  true  "Budget ID (UUID)"  format(uuid)
// @Param       body  body  handlers.BudgetRequest  true  "Budget"
// @Success     200  {object} domain.Budget
// @Failure     400  {object} handlers.ErrorResponse "Validation failed"
// @Failure     403  {object} handlers.ErrorResponse "Not owner"
// @Failure     404  {object} handlers.ErrorResponse "Budget not found"
// @Router      /budgets/{id} [put]
func (h *Handlers) UpdateBudget(c *gin.Context) {
	in, okIn := h.budgetInput(c)
	if !okIn {
		return
	}
	b, err := h.budgets.Update(c.Request.Context(), actor(c), c.Param("id"), in)
	if err != nil {
		h.discard(c, in)
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, b)
}

// DeleteBudget godoc
// @ID          deleteBudget
// @Summary     Delete a budget
// @Description Only the owner or an admin may delete. Deleting the highest identifier lets it be reused.
// @Tags        Budgets
// @Security    BearerAuth
// @Param       id   path  string  true  "Budget ID (UUID)"  format(uuid)
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not owner"
// @Failure     404  {object} handlers.ErrorResponse "Budget not found"
// @Router      /budgets/{id} [delete]
func (h *Handlers) DeleteBudget(c *gin.Context) {
	if err := h.budgets.Delete(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	noContent(c)
}
