package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypearchive/etl-engine/internal/config"
	"github.com/skypearchive/etl-engine/internal/database"
	"github.com/skypearchive/etl-engine/internal/etlcontext"
	"github.com/skypearchive/etl-engine/internal/extract"
	"github.com/skypearchive/etl-engine/internal/load"
	"github.com/skypearchive/etl-engine/internal/metrics"
	"github.com/skypearchive/etl-engine/internal/pipeline"
	"github.com/skypearchive/etl-engine/internal/transform"
)

// version, commit, and buildTime are injected at build time via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	var overrides config.Overrides
	var showVersion bool
	var streaming bool
	var resumeFrom string
	var userDisplayName string
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL connection URL (overrides DATABASE_URL)")
	flag.StringVar(&overrides.OutputDir, "output-dir", "", "Output directory for raw data and checkpoints (overrides OUTPUT_DIR)")
	flag.StringVar(&overrides.FilePath, "input", "", "Path to a Skype export (.json or .tar)")
	flag.StringVar(&userDisplayName, "user-display-name", "", "Display name for the exporting user")
	flag.BoolVar(&streaming, "streaming", false, "Use the memory-bounded streaming pipeline variant")
	flag.StringVar(&resumeFrom, "resume", "", "Resume from a checkpoint file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s, built=%s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("commit", commit).Msg("skype-etl starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.EffectiveDatabaseURL(), dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema initialization failed")
	}
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	extractor := extract.New(log)
	transformer := transform.New(cfg.MaxWorkers, log)
	loader := load.New(db, cfg.EffectiveDatabaseURL(), cfg.BatchSize, log)

	var runCtx *etlcontext.Context
	if resumeFrom != "" {
		runCtx, err = pipeline.LoadFromCheckpoint(resumeFrom)
		if err != nil {
			log.Fatal().Err(err).Str("checkpoint", resumeFrom).Msg("failed to load checkpoint")
		}
	} else {
		if overrides.FilePath == "" {
			log.Fatal().Msg("-input is required unless -resume is given")
		}
		runCtx = etlcontext.New(etlcontext.Params{
			TaskID:        newTaskID(),
			DatabaseURL:   cfg.EffectiveDatabaseURL(),
			OutputDir:     cfg.OutputDir,
			MemoryLimitMB: cfg.MemoryLimitMB,
			ChunkSize:     cfg.ChunkSize,
			BatchSize:     cfg.BatchSize,
			MaxWorkers:    cfg.MaxWorkers,
			Attachment:    etlcontext.AttachmentPolicy{StoreRawBlob: cfg.StoreRawBlob()},
			FilePath:      overrides.FilePath,
		})
	}

	collector := metrics.NewCollector(db.Pool, metrics.NewContextStats(runCtx))
	prometheus.MustRegister(collector)

	orch := pipeline.New(runCtx, extractor, transformer, loader, log)

	var summary etlcontext.Summary
	switch {
	case resumeFrom != "":
		summary = orch.Resume(ctx, userDisplayName)
	case streaming:
		summary = orch.RunStreaming(ctx, runCtx.FilePath, userDisplayName, cfg.CheckpointInterval)
	default:
		summary = orch.Run(ctx, runCtx.FilePath, userDisplayName)
	}

	if !summary.Success {
		log.Error().Int("errors", len(summary.Errors)).Msg("pipeline run did not complete successfully")
		os.Exit(1)
	}
	log.Info().
		Float64("total_duration_seconds", summary.TotalDurationSeconds).
		Msg("pipeline run completed")
}

func newTaskID() string {
	return fmt.Sprintf("task-%d", os.Getpid())
}
