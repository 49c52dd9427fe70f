package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-budget-backend/internal/domain"
	"github.com/tbourn/go-budget-backend/internal/http/middleware"
	"github.com/tbourn/go-budget-backend/internal/query"
	"github.com/tbourn/go-budget-backend/internal/services"
)

// ---------- fakes for the service contracts ----------

type fakeBudgets struct {
	createFn func(actor services.Actor, key string, in services.BudgetInput) (*domain.Budget, bool, error)
	getFn    func(id string) (*domain.Budget, error)
	updateFn func(actor services.Actor, id string, in services.BudgetInput) (*domain.Budget, error)
	deleteFn func(actor services.Actor, id string) error
	listFn   func(c query.Criteria, page, size int) (*services.Page, error)
	summary  []services.StatusSummary
	count    int64
	maxTS    *time.Time
	statsErr error
}

func (f *fakeBudgets) CreateOnce(_ context.Context, a services.Actor, key string, in services.BudgetInput) (*domain.Budget, bool, error) {
	return f.createFn(a, key, in)
}

func (f *fakeBudgets) Get(_ context.Context, id string) (*domain.Budget, error) { return f.getFn(id) }

func (f *fakeBudgets) Update(_ context.Context, a services.Actor, id string, in services.BudgetInput) (*domain.Budget, error) {
	return f.updateFn(a, id, in)
}

func (f *fakeBudgets) Delete(_ context.Context, a services.Actor, id string) error {
	return f.deleteFn(a, id)
}

func (f *fakeBudgets) List(_ context.Context, c query.Criteria, page, size int) (*services.Page, error) {
	return f.listFn(c, page, size)
}

func (f *fakeBudgets) Summarize(context.Context, query.Criteria) ([]services.StatusSummary, error) {
	return f.summary, nil
}

func (f *fakeBudgets) Stats(context.Context, query.Criteria) (int64, *time.Time, error) {
	return f.count, f.maxTS, f.statsErr
}

type fakeDocs struct {
	pdf     []byte
	err     error
	mailed  []string
	exports int
}

func (f *fakeDocs) PDF(_ context.Context, id string) (*domain.Budget, []byte, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return &domain.Budget{ID: id, Identifier: 7}, f.pdf, nil
}

func (f *fakeDocs) Email(_ context.Context, _ string, to string) error {
	if f.err != nil {
		return f.err
	}
	f.mailed = append(f.mailed, to)
	return nil
}

func (f *fakeDocs) Export(context.Context, query.Criteria) ([]byte, error) {
	f.exports++
	return []byte("PK"), f.err
}

type fakeUsers struct {
	users    map[string]*domain.User
	register func(in services.RegisterInput) (*services.Session, error)
	login    func(email, pw string) (*services.Session, error)
}

func (f *fakeUsers) Register(_ context.Context, in services.RegisterInput) (*services.Session, error) {
	return f.register(in)
}

func (f *fakeUsers) Login(_ context.Context, email, pw string) (*services.Session, error) {
	return f.login(email, pw)
}

func (f *fakeUsers) Me(_ context.Context, id string) (*domain.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, services.ErrUserNotFound
}

func (f *fakeUsers) List(context.Context) ([]domain.User, error) {
	out := make([]domain.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, *u)
	}
	return out, nil
}

func (f *fakeUsers) UpdateRole(_ context.Context, id string, role domain.Role) (*domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, services.ErrUserNotFound
	}
	u.Role = role
	return u, nil
}

func (f *fakeUsers) Delete(_ context.Context, id string) error {
	if _, ok := f.users[id]; !ok {
		return services.ErrUserNotFound
	}
	delete(f.users, id)
	return nil
}

type fakeFiles struct {
	mu      sync.Mutex
	saved   []string
	removed []string
	err     error
}

func (f *fakeFiles) Save(_ context.Context, name string, r io.Reader) (domain.Attachment, error) {
	if f.err != nil {
		return domain.Attachment{}, f.err
	}
	data, _ := io.ReadAll(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := "stored-" + name
	f.saved = append(f.saved, stored)
	return domain.Attachment{OriginalName: name, StoredName: stored, MimeType: "application/pdf", Size: int64(len(data)), URL: "/uploads/" + stored}, nil
}

func (f *fakeFiles) Remove(_ context.Context, stored string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, stored)
	return nil
}

// ---------- harness ----------

// newTestRouter mounts every handler on a bare engine. uid/role simulate
// what Authenticate stores; an empty uid leaves the request anonymous.
func newTestRouter(h *Handlers, uid, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-test")
		if uid != "" {
			c.Set("userID", uid)
			c.Set("userRole", role)
		}
		c.Next()
	})
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))

	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.GET("/auth/me", h.Me)

	r.GET("/budgets", h.ListBudgets)
	r.GET("/budgets/summary", h.SummarizeBudgets)
	r.GET("/budgets/export", h.ExportBudgets)
	r.GET("/budgets/:id", h.GetBudget)
	r.GET("/budgets/:id/pdf", h.BudgetPDF)
	r.POST("/budgets/:id/email", h.EmailBudget)
	r.POST("/budgets", h.CreateBudget)
	r.PUT("/budgets/:id", h.UpdateBudget)
	r.DELETE("/budgets/:id", h.DeleteBudget)

	r.GET("/users", h.ListUsers)
	r.PUT("/users/:id/role", h.UpdateUserRole)
	r.DELETE("/users/:id", h.DeleteUser)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, w.Body.String())
	}
	return er
}
