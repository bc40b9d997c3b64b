package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"NewsDigest/internal/config"
	"NewsDigest/internal/infrastructure/fetcher"
	"NewsDigest/internal/infrastructure/llm"
	"NewsDigest/internal/infrastructure/mailbox"
	"NewsDigest/internal/infrastructure/render"
	"NewsDigest/internal/infrastructure/scheduler"
	"NewsDigest/internal/infrastructure/smtpout"
	"NewsDigest/internal/infrastructure/storage"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/usecase"
)

// App assembles the digest service from configuration. The mailbox
// connection is per run; everything else lives for the process.
type App struct {
	cfg        config.Config
	logger     *slog.Logger
	store      ports.StateStore
	fetcher    ports.ArticleFetcher
	scorer     ports.Scorer
	renderer   ports.Renderer
	dispatcher ports.Dispatcher
}

// New wires all long-lived components. Scoring stays off when no API
// key is configured.
func New(cfg config.Config, logger *slog.Logger) *App {
	a := &App{
		cfg:      cfg,
		logger:   logger,
		store:    storage.NewFileStore(cfg.State.Path, logger),
		fetcher:  fetcher.New(nil),
		renderer: render.New(),
		dispatcher: smtpout.New(cfg.SMTP, cfg.Digest.Recipient,
			cfg.Timeouts.SendDuration(), logger),
	}
	if cfg.OpenAI.APIKey != "" {
		a.scorer = llm.NewScorer(cfg.OpenAI)
	}
	return a
}

// Run executes a single batch, or keeps running on the configured
// interval when the scheduler is enabled.
func (a *App) Run(ctx context.Context) error {
	if !a.cfg.Scheduler.Enabled {
		return a.runOnce(ctx)
	}

	sched := scheduler.NewIntervalScheduler(a.cfg.Scheduler.Interval())
	err := sched.Start(ctx, func(time.Time) {
		if err := a.runOnce(ctx); err != nil {
			a.logger.Error("digest run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()
	return sched.Stop(context.Background())
}

func (a *App) runOnce(ctx context.Context) error {
	conn, err := mailbox.Dial(a.cfg.IMAP, a.cfg.Timeouts.MailboxDuration(), a.logger)
	if err != nil {
		return fmt.Errorf("connect mailbox: %w", err)
	}
	defer conn.Close()

	conn.EnsureFolder(a.cfg.IMAP.ArchiveFolder)

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Mailbox:    conn,
		Store:      a.store,
		Fetcher:    a.fetcher,
		Scorer:     a.scorer,
		Renderer:   a.renderer,
		Dispatcher: a.dispatcher,
		Rules:      a.cfg.EnabledSources(),
		Archive:    a.cfg.IMAP.ArchiveFolder,
		Timeouts:   a.cfg.Timeouts,
		Logger:     a.logger,
	})

	report, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}

	a.logger.Info("run finished",
		"run_id", report.RunID,
		"state", report.State.String(),
		"listed", report.Listed,
		"matched", report.Matched,
		"new", report.New,
		"delivered", report.Delivered,
		"commit_errors", len(report.CommitErrors))
	return nil
}
