package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-budget-backend/internal/config"
	"github.com/tbourn/go-budget-backend/internal/domain"
	"github.com/tbourn/go-budget-backend/internal/files"
	"github.com/tbourn/go-budget-backend/internal/http/middleware"
	"github.com/tbourn/go-budget-backend/internal/mail"
	"github.com/tbourn/go-budget-backend/internal/repo"
	"github.com/tbourn/go-budget-backend/internal/services"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:routerdb_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type nopMailer struct{ sent []mail.Message }

func (m *nopMailer) Send(_ context.Context, msg mail.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

func testConfig(t *testing.T) config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     1000,
		RateBurst:   100,
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		Auth:        config.AuthConfig{JWTSecret: "test-secret", JWTTTL: time.Hour, UserCacheSize: 16, UserCacheTTL: time.Minute},
		Upload:      config.UploadConfig{Dir: t.TempDir(), MaxBytes: 1 << 20, PublicBaseURL: "/uploads"},
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB, *Services) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)

	tokens, err := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	store, err := files.NewLocalStore(cfg.Upload.Dir, cfg.Upload.PublicBaseURL, cfg.Upload.MaxBytes)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	svcs := RegisterRoutes(r, db, cfg, Deps{Tokens: tokens, Files: store, Mailer: &nopMailer{}})
	return r, db, svcs
}

func call(t *testing.T, r http.Handler, method, path, token string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func register(t *testing.T, r http.Handler, email string) (token, id string) {
	t.Helper()
	w := call(t, r, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email": email, "password": "secret1", "name": "Tester",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: %d %s", email, w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("register json: %v", err)
	}
	return resp.Token, resp.User.ID
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _, _ := newTestServer(t, testConfig(t))

	w := call(t, r, http.MethodGet, "/health", "", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	w = call(t, r, http.MethodGet, "/metrics", "", nil, nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	if w := call(t, r, http.MethodGet, "/nope", "", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	if w := call(t, r, http.MethodPost, "/health", "", nil, nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
	if w := call(t, r, http.MethodGet, "/swagger/index.html", "", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger must be off by default, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig(t)
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _, _ := newTestServer(t, cfg)

	w := call(t, r, http.MethodGet, "/health", "", nil, map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_ProtectedRoutesRequireToken(t *testing.T) {
	r, _, _ := newTestServer(t, testConfig(t))

	for _, p := range []string{"/api/v1/budgets", "/api/v1/auth/me", "/api/v1/users"} {
		w := call(t, r, http.MethodGet, p, "", nil, nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("GET %s without token = %d", p, w.Code)
		}
	}
	if w := call(t, r, http.MethodGet, "/api/v1/budgets", "garbage", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d", w.Code)
	}
}

func TestRegisterRoutes_AuthResponsesAreNotCached(t *testing.T) {
	r, _, _ := newTestServer(t, testConfig(t))

	w := call(t, r, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": "x@example.com", "password": "whatever"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("login unknown user = %d", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control=%q", got)
	}
}

func TestRegisterRoutes_BudgetLifecycle(t *testing.T) {
	r, _, _ := newTestServer(t, testConfig(t))
	token, _ := register(t, r, "owner@example.com")
	other, _ := register(t, r, "other@example.com")

	create := map[string]any{"client": "ACME Corp", "amount": 150.5, "title": "Roof"}
	hdr := map[string]string{middleware.HeaderIdempotencyKey: "create-roof"}

	w := call(t, r, http.MethodPost, "/api/v1/budgets", token, create, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var first domain.Budget
	_ = json.Unmarshal(w.Body.Bytes(), &first)
	if first.Identifier != 1 || first.Status != domain.StatusPending {
		t.Fatalf("unexpected budget: %+v", first)
	}

	// Same key replays the original instead of creating a second record.
	w = call(t, r, http.MethodPost, "/api/v1/budgets", token, create, hdr)
	if w.Code != http.StatusOK || w.Header().Get(middleware.HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("replay: %d %v", w.Code, w.Header())
	}
	var replay domain.Budget
	_ = json.Unmarshal(w.Body.Bytes(), &replay)
	if replay.ID != first.ID {
		t.Fatalf("replay returned a different budget")
	}

	// List with conditional GET.
	w = call(t, r, http.MethodGet, "/api/v1/budgets?q=acme", token, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	var list struct {
		Data       []domain.Budget `json:"data"`
		Pagination struct {
			TotalDocs int64 `json:"totalDocs"`
		} `json:"pagination"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Data) != 1 || list.Pagination.TotalDocs != 1 {
		t.Fatalf("list body: %s", w.Body.String())
	}
	etag := w.Header().Get("ETag")
	if w := call(t, r, http.MethodGet, "/api/v1/budgets?q=acme", token, nil, map[string]string{"If-None-Match": etag}); w.Code != http.StatusNotModified {
		t.Fatalf("conditional list: %d", w.Code)
	}

	// Another user may read but not modify.
	if w := call(t, r, http.MethodGet, "/api/v1/budgets/"+first.ID, other, nil, nil); w.Code != http.StatusOK {
		t.Fatalf("read by other: %d", w.Code)
	}
	if w := call(t, r, http.MethodDelete, "/api/v1/budgets/"+first.ID, other, nil, nil); w.Code != http.StatusForbidden {
		t.Fatalf("delete by other: %d", w.Code)
	}

	if w := call(t, r, http.MethodGet, "/api/v1/budgets/summary", token, nil, nil); w.Code != http.StatusOK {
		t.Fatalf("summary: %d", w.Code)
	}

	if w := call(t, r, http.MethodDelete, "/api/v1/budgets/"+first.ID, token, nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete by owner: %d", w.Code)
	}
	if w := call(t, r, http.MethodGet, "/api/v1/budgets/"+first.ID, token, nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", w.Code)
	}

	// The freed top identifier is handed out again.
	w = call(t, r, http.MethodPost, "/api/v1/budgets", token, create, nil)
	var again domain.Budget
	_ = json.Unmarshal(w.Body.Bytes(), &again)
	if w.Code != http.StatusCreated || again.Identifier != 1 {
		t.Fatalf("recreate: %d identifier=%d", w.Code, again.Identifier)
	}
}

func TestRegisterRoutes_AdminOnlyUserRoutes(t *testing.T) {
	r, db, _ := newTestServer(t, testConfig(t))
	userTok, userID := register(t, r, "user@example.com")
	adminTok, adminID := register(t, r, "admin@example.com")
	if err := db.Model(&domain.User{}).Where("id = ?", adminID).Update("role", domain.RoleAdmin).Error; err != nil {
		t.Fatalf("promote: %v", err)
	}

	if w := call(t, r, http.MethodGet, "/api/v1/users", userTok, nil, nil); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin list users: %d", w.Code)
	}
	if w := call(t, r, http.MethodGet, "/api/v1/users", adminTok, nil, nil); w.Code != http.StatusOK {
		t.Fatalf("admin list users: %d %s", w.Code, w.Body.String())
	}
	if w := call(t, r, http.MethodPut, "/api/v1/users/"+userID+"/role", adminTok, map[string]any{"role": "admin"}, nil); w.Code != http.StatusOK {
		t.Fatalf("promote via API: %d %s", w.Code, w.Body.String())
	}
	if w := call(t, r, http.MethodDelete, "/api/v1/users/"+userID, adminTok, nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete user: %d", w.Code)
	}
	if w := call(t, r, http.MethodGet, "/api/v1/auth/me", userTok, nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("deleted user's token must stop working, got %d", w.Code)
	}
}

func TestRegisterRoutes_ServesUploads(t *testing.T) {
	cfg := testConfig(t)
	r, _, _ := newTestServer(t, cfg)
	if err := os.WriteFile(filepath.Join(cfg.Upload.Dir, "a.txt"), []byte("hi"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	w := call(t, r, http.MethodGet, "/uploads/a.txt", "", nil, nil)
	if w.Code != http.StatusOK || w.Body.String() != "hi" {
		t.Fatalf("static: %d %q", w.Code, w.Body.String())
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

func Test_counterRepoShim_Proxies(t *testing.T) {
	db := newTestDB(t)
	shim := counterRepoShim{}
	ctx := context.Background()

	if err := shim.SetCounter(ctx, db, "c", 5); err != nil {
		t.Fatalf("SetCounter: %v", err)
	}
	n, err := shim.IncrementCounter(ctx, db, "c")
	if err != nil || n != 6 {
		t.Fatalf("IncrementCounter = %d, %v", n, err)
	}
	ok, err := shim.DecrementCounterIf(ctx, db, "c", 6)
	if err != nil || !ok {
		t.Fatalf("DecrementCounterIf = %v, %v", ok, err)
	}
	if n, _ := shim.GetCounter(ctx, db, "c"); n != 5 {
		t.Fatalf("GetCounter = %d", n)
	}
}
