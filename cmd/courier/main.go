package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	gstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/presslane/edition-courier/internal/api"
	"github.com/presslane/edition-courier/internal/archive"
	archivegcs "github.com/presslane/edition-courier/internal/archive/gcs"
	archivelocal "github.com/presslane/edition-courier/internal/archive/local"
	archivememory "github.com/presslane/edition-courier/internal/archive/memory"
	"github.com/presslane/edition-courier/internal/batch"
	"github.com/presslane/edition-courier/internal/clock/system"
	"github.com/presslane/edition-courier/internal/config"
	"github.com/presslane/edition-courier/internal/courier"
	"github.com/presslane/edition-courier/internal/delivery/drive"
	"github.com/presslane/edition-courier/internal/delivery/mail"
	"github.com/presslane/edition-courier/internal/hash/sha256"
	"github.com/presslane/edition-courier/internal/id/uuid"
	"github.com/presslane/edition-courier/internal/logging"
	"github.com/presslane/edition-courier/internal/metrics"
	"github.com/presslane/edition-courier/internal/notify"
	notifypubsub "github.com/presslane/edition-courier/internal/notify/pubsub"
	notifyslack "github.com/presslane/edition-courier/internal/notify/slack"
	"github.com/presslane/edition-courier/internal/progress"
	"github.com/presslane/edition-courier/internal/progress/sinks"
	"github.com/presslane/edition-courier/internal/scheduler"
	"github.com/presslane/edition-courier/internal/source/web"
	"github.com/presslane/edition-courier/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	once := flag.Bool("once", false, "Run one batch and exit instead of serving")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := run(ctx, cfg, logger, *once)
	if syncErr := logger.Sync(); syncErr != nil {
		fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
	}
	if runErr != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, once bool) error {
	metrics.Init()

	pool, err := postgres.NewPool(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxConns),
	})
	if err != nil {
		return fail(logger, "connect database", err)
	}
	defer pool.Close()

	registry, err := postgres.NewRegistryWithPool(pool)
	if err != nil {
		return fail(logger, "init registry", err)
	}
	directory, err := postgres.NewDirectoryWithPool(pool)
	if err != nil {
		return fail(logger, "init directory", err)
	}

	source, err := web.New(web.Config{
		BaseURL:           cfg.Source.BaseURL,
		Username:          cfg.Source.Username,
		Password:          cfg.Source.Password,
		UserAgent:         cfg.Source.UserAgent,
		Timeout:           cfg.Source.Timeout(),
		DownloadTimeout:   cfg.Source.DownloadTimeout(),
		RequestsPerSecond: cfg.Source.RequestsPerSecond,
	}, logger)
	if err != nil {
		return fail(logger, "init portal client", err)
	}

	clock := system.New()

	backend, closeBackend, err := buildArchiveBackend(ctx, cfg.Archive)
	if err != nil {
		return fail(logger, "init archive backend", err)
	}
	defer func() {
		if closeBackend == nil {
			return
		}
		if err := closeBackend(); err != nil {
			logger.Warn("close archive backend", zap.Error(err))
		}
	}()
	archiveStore := archive.New(backend, cfg.Archive.ContentType, clock, logger)

	mailSender, err := mail.New(ctx, mail.Config{
		Sender:             cfg.Mail.Sender,
		SenderName:         cfg.Mail.SenderName,
		SubjectPrefix:      cfg.Mail.SubjectPrefix,
		ClientID:           cfg.Mail.ClientID,
		ClientSecret:       cfg.Mail.ClientSecret,
		RefreshToken:       cfg.Mail.RefreshToken,
		MaxAttachmentBytes: cfg.Mail.MaxAttachmentBytes(),
		Timeout:            cfg.Mail.Timeout(),
	}, logger)
	if err != nil {
		return fail(logger, "init mail channel", err)
	}
	driveUploader, err := drive.New(drive.Config{
		BaseURL:            cfg.Drive.BaseURL,
		Token:              cfg.Drive.Token,
		RootFolder:         cfg.Drive.RootFolder,
		SingleShotMaxBytes: cfg.Drive.SingleShotMax(),
		ChunkSizeBytes:     cfg.Drive.ChunkSize(),
		ChunkTimeout:       cfg.Drive.ChunkTimeout(),
	}, logger)
	if err != nil {
		return fail(logger, "init drive channel", err)
	}
	senders := []courier.Sender{mailSender, driveUploader}

	notifier, closeNotifier, err := buildNotifier(ctx, cfg.Notify, logger)
	if err != nil {
		return fail(logger, "init notifier", err)
	}
	defer func() {
		if closeNotifier == nil {
			return
		}
		if err := closeNotifier(); err != nil {
			logger.Warn("close notifier", zap.Error(err))
		}
	}()

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fail(logger, "init progress metrics", err)
	}
	emitter := progress.NewBroadcaster(logger, sinks.NewLogSink(logger), promSink)

	retry := courier.NewExponentialRetryPolicy(
		cfg.Batch.MaxRetries,
		cfg.Batch.BackoffInitial(),
		cfg.Batch.BackoffMax(),
	)

	pipeline := batch.NewPipeline(
		source,
		registry,
		directory,
		archiveStore,
		senders,
		sha256.New(),
		clock,
		retry,
		emitter,
		batch.PipelineConfig{
			UseArchiveCache: cfg.Batch.UseCache,
			ContentType:     cfg.Archive.ContentType,
		},
		logger,
	)
	orchestrator := batch.NewOrchestrator(
		pipeline,
		source,
		registry,
		directory,
		notifier,
		clock,
		uuid.NewUUIDGenerator(),
		retry,
		batch.OrchestratorConfig{RetentionHorizon: cfg.Retention.Horizon()},
		logger,
	)

	if once {
		return runOnce(ctx, orchestrator, logger)
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(orchestrator, scheduler.Config{Schedule: cfg.Scheduler.Cron}, logger)
		if err != nil {
			return fail(logger, "init scheduler", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fail(logger, "start scheduler", err)
		}
		defer sched.Stop()
	}

	server := api.NewServer(orchestrator, sched, directory, clock, cfg, logger)
	if err := server.ListenAndServe(ctx); err != nil {
		return fail(logger, "serve http", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// runOnce drives a single batch, for cron-style deployments where the
// process only lives for the length of the run.
func runOnce(ctx context.Context, orchestrator *batch.Orchestrator, logger *zap.Logger) error {
	summary, err := orchestrator.RunBatch(ctx)
	if err != nil {
		return fail(logger, "run batch", err)
	}
	logger.Info("batch finished",
		zap.String("batch_id", summary.BatchID),
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	if summary.Failed > 0 {
		return fail(logger, "run batch", fmt.Errorf("%d publications failed", summary.Failed))
	}
	return nil
}

func buildArchiveBackend(ctx context.Context, cfg config.ArchiveConfig) (archive.Backend, func() error, error) {
	switch cfg.Provider {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		backend, err := archivegcs.New(client, archivegcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return backend, client.Close, nil
	case "local":
		backend, err := archivelocal.New(archivelocal.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, nil, err
		}
		return backend, nil, nil
	case "memory":
		return archivememory.NewBlobStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown archive provider %q", cfg.Provider)
	}
}

// buildNotifier assembles the enabled notification sinks into one fanout.
// Returns a nil notifier when none are enabled.
func buildNotifier(ctx context.Context, cfg config.NotifyConfig, logger *zap.Logger) (courier.Notifier, func() error, error) {
	var fanout notify.Fanout
	var closer func() error

	if cfg.Slack.Enabled {
		n, err := notifyslack.New(notifyslack.Config{WebhookURL: cfg.Slack.WebhookURL}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init slack notifier: %w", err)
		}
		fanout = append(fanout, n)
	}
	if cfg.PubSub.Enabled {
		p, err := notifypubsub.New(ctx, notifypubsub.Config{
			ProjectID: cfg.PubSub.ProjectID,
			TopicID:   cfg.PubSub.TopicName,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init pubsub notifier: %w", err)
		}
		fanout = append(fanout, p)
		closer = p.Close
	}
	if len(fanout) == 0 {
		return nil, nil, nil
	}
	return fanout, closer, nil
}

func fail(logger *zap.Logger, op string, err error) error {
	logger.Error(op+" failed", zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}
