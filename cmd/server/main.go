package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/receiptmatch/reconciler/internal/api"
	"github.com/receiptmatch/reconciler/internal/config"
	"github.com/receiptmatch/reconciler/internal/domain"
	"github.com/receiptmatch/reconciler/internal/ingestion"
	"github.com/receiptmatch/reconciler/internal/logger"
	"github.com/receiptmatch/reconciler/internal/mail"
	"github.com/receiptmatch/reconciler/internal/reconciliation"
	"github.com/receiptmatch/reconciler/internal/repository"
	"github.com/receiptmatch/reconciler/internal/stats"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("path", cfg.DBPath).Msg("initializing database")
	db, err := repository.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init db")
	}
	defer db.Close()

	// Create repositories.
	users := repository.NewUserRepo(db)
	receipts := repository.NewReceiptRepo(db)
	confirmations := repository.NewConfirmationRepo(db)

	// Seed users and confirmations if the DB is empty.
	count, err := users.Count(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to count users")
	}
	if count == 0 && cfg.SeedFile != "" {
		log.Info().Str("file", cfg.SeedFile).Msg("database is empty, seeding")
		if err := seed(ctx, cfg.SeedFile, users, confirmations, log); err != nil {
			log.Warn().Err(err).Msg("failed to seed database")
		}
	} else {
		log.Info().Int("users", count).Msg("skipping seed")
	}

	// Create services.
	reconSvc := reconciliation.NewService(receipts, confirmations, logger.Component(log, "reconciliation"))
	statsEngine := stats.NewEngine(receipts, nil)

	var poller *ingestion.Poller
	if src := mailSource(cfg, log); src != nil {
		poller = ingestion.NewPoller(src, cfg.Mail.Source, receipts, cfg.Poll, logger.Component(log, "ingestion"))

		if cfg.Poll.ExitOnUnauthenticated {
			if err := poller.CheckConnection(ctx); errors.Is(err, domain.ErrNotAuthenticated) {
				log.Fatal().Err(err).Msg("mail source is not authenticated; run gmail-auth first")
			} else if err != nil {
				log.Warn().Err(err).Msg("mail source check failed, continuing")
			}
		}

		go poller.Run(ctx)
	} else {
		log.Warn().Msg("no mail source configured, ingestion disabled")
	}

	// Create router.
	router := api.NewRouter(api.Deps{
		Users:          users,
		Reconciliation: reconSvc,
		Stats:          statsEngine,
		Poller:         poller,
	}, logger.Component(log, "api"))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().
		Str("addr", "http://localhost:"+cfg.Port).
		Str("api", "/api/v1").
		Str("mail_source", cfg.Mail.Source).
		Dur("poll_interval", cfg.Poll.Interval).
		Msg("receipt reconciler listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

func mailSource(cfg *config.Config, log zerolog.Logger) mail.Source {
	switch cfg.Mail.Source {
	case config.MailSourceGmail:
		return mail.NewGmail(cfg.Mail.CredentialsFile, cfg.Mail.TokenFile, logger.Component(log, "gmail"))
	case config.MailSourceFile:
		return mail.NewFileSource(cfg.Mail.MailboxFile)
	default:
		return nil
	}
}
