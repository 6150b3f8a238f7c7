package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/run"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/yairfalse/decom/executor"
	"github.com/yairfalse/decom/internal/cloudhosting"
	"github.com/yairfalse/decom/internal/config"
	"github.com/yairfalse/decom/internal/i18n"
	"github.com/yairfalse/decom/internal/metrics"
	"github.com/yairfalse/decom/internal/report"
	otelsetup "github.com/yairfalse/decom/internal/telemetry"
	"github.com/yairfalse/decom/orchestrator"
	"github.com/yairfalse/decom/telemetry"
	"github.com/yairfalse/decom/wal"
)

func runDecom(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var logFile *os.File
	defer func() {
		if logFile != nil {
			_ = logFile.Close()
		}
	}()

	// Console only until the configured logger replaces it.
	logger := telemetry.NewLogger("decom", telemetry.ConsoleAndFile(cmd.ErrOrStderr(), nil), language.Japanese)
	prompt := executor.NewPromptConfirmer(cmd.InOrStdin(), logger)
	defer func() { prompt.Pause(ctx, logger.T(i18n.PressEnterToExit)) }()

	var total, succeeded int
	defer func() { logger.LogSummary(ctx, total, succeeded) }()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("panic", fmt.Sprint(r)).Msg(logger.T(i18n.UnhandledError))
			err = fmt.Errorf("unhandled panic: %v", r)
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg(logger.T(i18n.UnhandledError))
		}
	}()

	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lang, err := i18n.Parse(cfg.Common.Language)
	if err != nil {
		return err
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", cfg.Log.Level, err)
	}

	logFile, err = telemetry.OpenLogFile(cfg.Log.File)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	configured := telemetry.NewLogger("decom", telemetry.ConsoleAndFile(cmd.ErrOrStderr(), logFile), lang).
		With("run_id", runID)
	configured.Logger = configured.Logger.Level(level)
	*logger = *configured

	var listPath string
	if len(args) == 1 {
		listPath = args[0]
	}

	result, err := execute(ctx, cfg, runID, listPath, logger, prompt)
	if err != nil {
		return err
	}
	total, succeeded = summaryCounts(result)
	return nil
}

// summaryCounts returns the attempted and succeeded counts of a batch.
// Skipped instances are not attempted.
func summaryCounts(result *executor.BatchResult) (attempted, succeeded int) {
	if result == nil {
		return 0, 0
	}
	return result.Attempted, result.Succeeded
}

// execute wires the components and runs one batch. A nil result with a nil
// error means nothing was done.
func execute(
	ctx context.Context,
	cfg *config.Config,
	runID, listPath string,
	logger *telemetry.Logger,
	confirmer executor.Confirmer,
) (*executor.BatchResult, error) {
	var otelOpts []otelsetup.Option
	if cfg.Metrics.Listen != "" {
		otelOpts = append(otelOpts, otelsetup.WithPrometheus())
	}
	provider, err := otelsetup.NewProvider(ctx, cfg.OTEL, otelOpts...)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	m, err := metrics.New(provider.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	client, err := cloudhosting.New(cloudhosting.Config{
		Endpoint:        cfg.Endpoint.URL,
		AccessKeyID:     cfg.Account.AccessKeyID,
		SecretAccessKey: cfg.Account.AccessKey,
		Timeout:         cfg.Endpoint.Timeout,
		Recorder:        m,
	})
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}

	inventory := cloudhosting.NewInventory(client, logger)
	terminator := orchestrator.NewTerminator(client, inventory, orchestrator.Config{
		PollInterval: cfg.Common.PollInterval,
		PollTimeout:  cfg.Common.PollTimeout,
	}, logger).WithPollRecorder(m)
	engine := executor.NewEngine(terminator, executor.Options{
		MaxConcurrency: cfg.Common.ThreadNum,
		RunID:          runID,
	}, logger).WithRecorder(m)

	if journal := openJournal(cfg.Journal, runID, logger); journal != nil {
		defer func() { _ = journal.Close() }()
		terminator.WithJournal(journal)
		engine.WithJournal(journal)
	}

	logger.Info().Msg(logger.T(i18n.Discovering))
	ids, err := discover(ctx, listPath, inventory)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		logger.Warn().Msg(logger.T(i18n.NothingToStop))
		return nil, nil
	}

	resp, err := confirmer.RequestConfirmation(ctx, executor.ConfirmationRequest{InstanceIDs: ids})
	if err != nil {
		logger.Warn().Err(err).Msg(logger.T(i18n.Cancelled))
		return nil, nil
	}
	if !resp.Approved {
		logger.Warn().Msg(logger.T(i18n.ConfirmationDeclined))
		return nil, nil
	}

	result := runBatch(ctx, cfg, engine, ids, logger)

	if cfg.Report.File != "" {
		if err := report.Write(cfg.Report.File, report.FromBatch(result)); err != nil {
			logger.Warn().Err(err).Msg("failed to write batch report")
		}
	}
	return result, nil
}

// runBatch runs the engine alongside the optional metrics server; the server
// is shut down once the batch finishes.
func runBatch(ctx context.Context, cfg *config.Config, engine *executor.Engine, ids []string, logger *telemetry.Logger) *executor.BatchResult {
	var (
		g      run.Group
		result *executor.BatchResult
	)

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g.Add(func() error {
		result = engine.Run(batchCtx, ids)
		return nil
	}, func(error) {
		cancel()
	})

	if cfg.Metrics.Listen != "" {
		g.Add(serverActor(newMetricsServer(cfg.Metrics.Listen), logger))
	}

	_ = g.Run()
	return result
}

// openJournal opens the run's journal after pruning old files. Failures are
// logged and disable journaling.
func openJournal(cfg config.JournalConfig, runID string, logger *telemetry.Logger) *wal.WAL {
	if cfg.Dir == "" {
		return nil
	}

	if cfg.Retention > 0 {
		stats, err := wal.Cleanup(cfg.Dir, cfg.Retention)
		if err != nil {
			logger.Warn().Err(err).Str("dir", cfg.Dir).Msg("journal cleanup failed")
		} else if stats.FilesRemoved > 0 {
			logger.Info().
				Int("files_removed", stats.FilesRemoved).
				Int64("bytes_freed", stats.BytesFreed).
				Dur("retention", cfg.Retention.Round(time.Second)).
				Msg("pruned old journal files")
		}
	}

	journal, err := wal.Open(cfg.Dir, runID)
	if err != nil {
		logger.Warn().Err(err).Str("dir", cfg.Dir).Msg("journal disabled")
		return nil
	}
	logger.Debug().Str("path", journal.Path()).Msg("journal opened")
	return journal
}
