// Command server runs the budget API.
//
// @title                      Budget API
// @version                    1.0
// @description                Budgets with sequential identifiers, attachments, PDF/e-mail/XLSX output and user administration.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-budget-backend/docs"
	"github.com/tbourn/go-budget-backend/internal/config"
	"github.com/tbourn/go-budget-backend/internal/files"
	httpapi "github.com/tbourn/go-budget-backend/internal/http"
	"github.com/tbourn/go-budget-backend/internal/mail"
	"github.com/tbourn/go-budget-backend/internal/observability"
	"github.com/tbourn/go-budget-backend/internal/repo"
	"github.com/tbourn/go-budget-backend/internal/services"
	"github.com/tbourn/go-budget-backend/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	logCloser := sysutil.SetupLogger(sysutil.LogOptions{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		File:   cfg.LogFile,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	tokens, err := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("token service")
	}
	store, err := files.NewLocalStore(cfg.Upload.Dir, cfg.Upload.PublicBaseURL, cfg.Upload.MaxBytes)
	if err != nil {
		log.Fatal().Err(err).Msg("upload store")
	}
	mailer := &mail.SMTPMailer{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		Timeout:  cfg.SMTP.Timeout,
	}
	if cfg.SMTP.Host == "" {
		log.Warn().Msg("SMTP_HOST not set; budget e-mails will fail with upstream_failed")
	}

	docs.SwaggerInfo.BasePath = cfg.APIBasePath
	docs.SwaggerInfo.Version = version

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	svcs := httpapi.RegisterRoutes(r, db, cfg, httpapi.Deps{Tokens: tokens, Files: store, Mailer: mailer})

	// Bring the identifier counter in line with existing rows before serving.
	if n, err := svcs.Budgets.Resync(ctx); err != nil {
		log.Fatal().Err(err).Msg("resync budget counter")
	} else {
		log.Info().Int64("counter", n).Msg("budget counter resynced")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("db", cfg.DB.Driver).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server stopped gracefully")
}
