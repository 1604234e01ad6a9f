package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avatarkit/vrmforge/internal/config"
	"github.com/avatarkit/vrmforge/internal/core/ports"
	"github.com/avatarkit/vrmforge/internal/core/usecase"
	"github.com/avatarkit/vrmforge/internal/infrastructure/queue/nats"
	"github.com/avatarkit/vrmforge/internal/infrastructure/repository/memory"
	"github.com/avatarkit/vrmforge/internal/infrastructure/repository/postgres"
	"github.com/avatarkit/vrmforge/internal/infrastructure/runner"
	"github.com/avatarkit/vrmforge/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config
	Log    *slog.Logger

	Queue ports.MessageQueue
	Repo  ports.JobRepository
	Store ports.ArtifactStore

	Converter ports.Converter
	Submitter ports.JobSubmitter
	Jobs      ports.JobReader
	Processor ports.JobProcessor
	Cleaner   ports.ArtifactCleaner
	Janitor   *usecase.RetentionJanitor

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	var closers []func()

	var repo ports.JobRepository
	switch cfg.RepositoryDriver {
	case "memory":
		repo = memory.NewJobRepository()
	default:
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		pgRepo := postgres.NewJobRepository(db)
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		repo = pgRepo
		closers = append(closers, func() { _ = db.Close() })
	}

	store, err := localfs.New(cfg.StoragePath)
	if err != nil {
		runClosers(closers)
		return nil, fmt.Errorf("init artifact storage: %w", err)
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		runClosers(closers)
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	closers = append(closers, queue.Close)

	stageRunner := runner.NewSubprocessRunner(
		log,
		cfg.StageBin,
		time.Duration(cfg.StageTimeoutSeconds)*time.Second,
	)

	retention := time.Duration(cfg.RetentionTTLMinutes) * time.Minute
	sweepInterval := time.Duration(cfg.SweepIntervalMinutes) * time.Minute

	convertUC := usecase.NewConvertUseCase(repo, store, stageRunner, log, retention)
	submitUC := usecase.NewSubmitJobUseCase(convertUC, queue)
	cleanupUC := usecase.NewCleanupUseCase(store, log)
	janitor := usecase.NewRetentionJanitor(repo, store, log, retention, sweepInterval)

	return &App{
		Config: cfg,
		Log:    log,

		Queue: queue,
		Repo:  repo,
		Store: store,

		Converter: convertUC,
		Submitter: submitUC,
		Jobs:      convertUC,
		Processor: convertUC,
		Cleaner:   cleanupUC,
		Janitor:   janitor,

		closeFn: func() { runClosers(closers) },
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func runClosers(closers []func()) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
