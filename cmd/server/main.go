// Command server runs the household assistant: the webhook HTTP API, the
// durable job worker, and the messaging gateway, all backed by one SQLite
// database.
//
// Provider credentials are optional. Without Twilio or Resend keys the server
// wires in-memory fake adapters, which keeps local development and tests free
// of network calls.
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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hearthkeep/hearth/internal/adapters/email"
	"github.com/hearthkeep/hearth/internal/adapters/sms"
	"github.com/hearthkeep/hearth/internal/adapters/voice"
	"github.com/hearthkeep/hearth/internal/config"
	httpapi "github.com/hearthkeep/hearth/internal/http"
	"github.com/hearthkeep/hearth/internal/http/handlers"
	"github.com/hearthkeep/hearth/internal/jobs"
	"github.com/hearthkeep/hearth/internal/observability"
	"github.com/hearthkeep/hearth/internal/repo"
	"github.com/hearthkeep/hearth/internal/services"
	"github.com/hearthkeep/hearth/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	// Outbound adapters; fakes when no credentials are configured.
	var smsAdapter sms.Adapter = sms.NewFake()
	var dialer voice.Dialer = voice.NewFake()
	if cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != "" {
		smsAdapter = sms.NewTwilioAdapter(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
		dialer = voice.NewTwilioDialer(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
	} else {
		log.Warn().Msg("no twilio credentials, using fake sms/voice adapters")
	}
	var emailAdapter email.Adapter = email.NewFake()
	if cfg.Email.ResendAPIKey != "" {
		emailAdapter = email.NewResendAdapter(cfg.Email.ResendAPIKey)
	} else {
		log.Warn().Msg("no resend api key, using fake email adapter")
	}

	queue := jobs.NewQueue(db)
	gateway := &services.Gateway{
		DB:           db,
		SMS:          smsAdapter,
		Email:        emailAdapter,
		Jobs:         queue,
		Log:          log.Logger,
		EmailFrom:    cfg.Email.From,
		EmailReplyTo: cfg.Email.ReplyTo,
	}

	smsSvc := services.NewSMSService(db, gateway)
	smsSvc.DefaultRegion = cfg.DefaultRegion
	smsSvc.PromptMinOptions = cfg.PromptMinOptions

	emailSvc := services.NewEmailService(db, gateway)
	emailSvc.PromptMinOptions = cfg.PromptMinOptions

	voiceResultSvc := services.NewVoiceResultService(db, gateway)
	voiceCtl := services.NewVoiceController(db, gateway, voiceResultSvc)
	dialSvc := services.NewVoiceDialService(db, gateway, dialer, cfg.Webhooks.PublicBaseURL, cfg.Webhooks.VoiceWebhookToken)

	sitterSvc := services.NewSitterJobService(db, gateway)
	retentionSvc := services.NewRetentionService(db)
	retentionSvc.RetentionDays = cfg.RetentionDays
	adminSvc := services.NewAdminService(db, cfg.DefaultRegion, cfg.DefaultTimezone)

	worker := jobs.NewWorker(db, log.Logger)
	jobHandlers := jobs.Handlers{
		Sitter:    sitterSvc,
		Dialer:    dialSvc,
		Retention: retentionSvc,
		Queue:     queue,
	}
	if err := jobHandlers.Register(ctx, worker); err != nil {
		log.Fatal().Err(err).Msg("job registration failed")
	}
	go worker.Run(ctx)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, handlers.New(smsSvc, emailSvc, voiceResultSvc, voiceCtl, adminSvc, cfg.Webhooks), cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

// setupLogging configures the global zerolog output and level.
func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
