// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-budget-backend/internal/config"
	"github.com/tbourn/go-budget-backend/internal/domain"
	"github.com/tbourn/go-budget-backend/internal/http/handlers"
	"github.com/tbourn/go-budget-backend/internal/http/middleware"
	"github.com/tbourn/go-budget-backend/internal/observability"
	"github.com/tbourn/go-budget-backend/internal/query"
	"github.com/tbourn/go-budget-backend/internal/repo"
	"github.com/tbourn/go-budget-backend/internal/services"
)

// counterRepoShim adapts the repository free functions to services.CounterRepo.
type counterRepoShim struct{}

func (counterRepoShim) IncrementCounter(ctx context.Context, db *gorm.DB, name string) (int64, error) {
	return repo.IncrementCounter(ctx, db, name)
}

func (counterRepoShim) SetCounter(ctx context.Context, db *gorm.DB, name string, value int64) error {
	return repo.SetCounter(ctx, db, name, value)
}

func (counterRepoShim) GetCounter(ctx context.Context, db *gorm.DB, name string) (int64, error) {
	return repo.GetCounter(ctx, db, name)
}

func (counterRepoShim) DecrementCounterIf(ctx context.Context, db *gorm.DB, name string, expected int64) (bool, error) {
	return repo.DecrementCounterIf(ctx, db, name, expected)
}

// budgetRepoShim adapts the repository free functions to services.BudgetRepo.
type budgetRepoShim struct{}

func (budgetRepoShim) CreateBudget(ctx context.Context, db *gorm.DB, b *domain.Budget) error {
	return repo.CreateBudget(ctx, db, b)
}

func (budgetRepoShim) GetBudget(ctx context.Context, db *gorm.DB, id string) (*domain.Budget, error) {
	return repo.GetBudget(ctx, db, id)
}

func (budgetRepoShim) SaveBudget(ctx context.Context, db *gorm.DB, b *domain.Budget) error {
	return repo.SaveBudget(ctx, db, b)
}

func (budgetRepoShim) DeleteBudget(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteBudget(ctx, db, id)
}

func (budgetRepoShim) CountBudgets(ctx context.Context, db *gorm.DB, c query.Criteria) (int64, error) {
	return repo.CountBudgets(ctx, db, c)
}

func (budgetRepoShim) ListBudgetsPage(ctx context.Context, db *gorm.DB, c query.Criteria, offset, limit int) ([]domain.Budget, error) {
	return repo.ListBudgetsPage(ctx, db, c, offset, limit)
}

func (budgetRepoShim) SummarizeBudgets(ctx context.Context, db *gorm.DB, c query.Criteria) ([]repo.StatusTotal, error) {
	return repo.SummarizeBudgets(ctx, db, c)
}

func (budgetRepoShim) MaxIdentifier(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.MaxIdentifier(ctx, db)
}

func (budgetRepoShim) BudgetsStats(ctx context.Context, db *gorm.DB, c query.Criteria) (int64, *time.Time, error) {
	return repo.BudgetsStats(ctx, db, c)
}

// idempotencyRepoShim adapts the repository free functions to
// services.IdempotencyRepo.
type idempotencyRepoShim struct{}

func (idempotencyRepoShim) GetIdempotency(ctx context.Context, db *gorm.DB, userID, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, db, userID, key, now)
}

func (idempotencyRepoShim) CreateIdempotency(ctx context.Context, db *gorm.DB, userID, key, budgetID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	return repo.CreateIdempotency(ctx, db, userID, key, budgetID, status, ttl)
}

// userRepoShim adapts the repository free functions to services.UserRepo.
type userRepoShim struct{}

func (userRepoShim) CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	return repo.CreateUser(ctx, db, u)
}

func (userRepoShim) GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	return repo.GetUser(ctx, db, id)
}

func (userRepoShim) GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	return repo.GetUserByEmail(ctx, db, email)
}

func (userRepoShim) ListUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	return repo.ListUsers(ctx, db)
}

func (userRepoShim) UpdateUserRole(ctx context.Context, db *gorm.DB, id string, role domain.Role) error {
	return repo.UpdateUserRole(ctx, db, id, role)
}

func (userRepoShim) DeleteUser(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteUser(ctx, db, id)
}

// Deps are the collaborators built by the caller because their construction
// can fail or touches the outside world.
type Deps struct {
	Tokens *services.TokenService
	// Files stores uploads; *files.LocalStore in production.
	Files handlers.FileStore
	// Mailer sends budget e-mails; *mail.SMTPMailer in production.
	Mailer services.Mailer
}

// Services is what RegisterRoutes built, returned so the caller can run
// startup tasks such as counter resync.
type Services struct {
	Budgets *services.BudgetService
	Users   *services.UserService
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the versioned API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything but probes and static files
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter (upload cap plus form overhead)
//  6. Metrics
//  7. CORS and Security headers
//  8. Gzip
//
// Per group: public auth routes are rate limited by IP; protected routes run
// Authenticate, then the idempotency validator (so replays bypass the
// limiter), then the rate limiter keyed by user.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config, deps Deps) *Services {
	r.HandleMethodNotAllowed = true

	// 1) Trace HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName, otelgin.WithFilter(observability.TraceRequest)))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.Logger(middleware.LogOptions{
		MaskHeaders: []string{"X-API-Key", middleware.HeaderIdempotencyKey},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(cfg.Upload.MaxBytes + 1<<20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	corsHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey, "If-None-Match"}
	exposed := []string{"X-Request-ID", "Content-Length", "Content-Disposition", "ETag", middleware.HeaderIdempotencyReplayed}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    exposed,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    exposed,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	apiBase := cfg.APIBasePath // e.g. "/api/v1"

	// Security headers (HSTS only when enabled and request is HTTPS).
	// Auth responses carry bearer tokens and are never cached.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
		NoStorePaths: []string{strings.TrimRight(apiBase, "/") + "/auth/"},
	}))

	// 8) Compress JSON; PDFs, spreadsheets and uploads are already compressed.
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{"/metrics", "/uploads"}),
		gzip.WithExcludedPathsRegexs([]string{`/budgets/[^/]+/pdf$`, `/budgets/export$`}),
	))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Uploaded files are public by URL, as the stored names are random.
	if base := cfg.Upload.PublicBaseURL; strings.HasPrefix(base, "/") && cfg.Upload.Dir != "" {
		r.Static(base, cfg.Upload.Dir)
	}

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db
	budgetSvc := services.NewBudgetService(db, counterRepoShim{}, budgetRepoShim{}, idempotencyRepoShim{}, deps.Files)
	if cfg.IdempotencyTTL > 0 {
		budgetSvc.IdemTTL = cfg.IdempotencyTTL
	}
	userSvc := services.NewUserService(db, userRepoShim{}, deps.Tokens, cfg.Auth.UserCacheSize, cfg.Auth.UserCacheTTL)
	docSvc := services.NewDocumentService(budgetSvc, deps.Mailer)
	h := handlers.New(budgetSvc, docSvc, userSvc, deps.Files)

	resolve := func(ctx context.Context, token string) (string, string, error) {
		a, err := userSvc.Resolve(ctx, token)
		return a.UserID, string(a.Role), err
	}
	idemLookup := func(ctx context.Context, userID, key string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, userID, key, now)
		if err != nil || rec == nil {
			return false, nil
		}
		return true, nil
	}

	// Token-bucket rate limiters: per IP before auth, per user after.
	publicRL := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	userRL := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	api := groupWithPrefix(r, apiBase)
	{
		auth := api.Group("/auth")
		auth.POST("/register", publicRL.Handler(), h.Register)
		auth.POST("/login", publicRL.Handler(), h.Login)

		protected := api.Group("")
		protected.Use(
			middleware.Authenticate(resolve),
			middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, idemLookup),
			userRL.Handler(),
		)

		protected.GET("/auth/me", h.Me)

		// Budgets
		protected.GET("/budgets", h.ListBudgets)
		protected.GET("/budgets/summary", h.SummarizeBudgets)
		protected.GET("/budgets/export", h.ExportBudgets)
		protected.GET("/budgets/:id", h.GetBudget)
		protected.GET("/budgets/:id/pdf", h.BudgetPDF)
		protected.POST("/budgets/:id/email", h.EmailBudget)
		protected.POST("/budgets", h.CreateBudget)
		protected.PUT("/budgets/:id", h.UpdateBudget)
		protected.DELETE("/budgets/:id", h.DeleteBudget)

		// Users (admin)
		admin := protected.Group("/users", middleware.RequireAdmin())
		admin.GET("", h.ListUsers)
		admin.PUT("/:id/role", h.UpdateUserRole)
		admin.DELETE("/:id", h.DeleteUser)
	}

	return &Services{Budgets: budgetSvc, Users: userSvc}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
