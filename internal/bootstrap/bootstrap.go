package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/mkotova/lifeline/internal/config"
	"github.com/mkotova/lifeline/internal/core/ports"
	"github.com/mkotova/lifeline/internal/core/usecase"
	"github.com/mkotova/lifeline/internal/infrastructure/kv/localfs"
	kvpostgres "github.com/mkotova/lifeline/internal/infrastructure/kv/postgres"
	"github.com/mkotova/lifeline/internal/infrastructure/llm/gemini"
	"github.com/mkotova/lifeline/internal/infrastructure/queue/nats"
	"github.com/mkotova/lifeline/internal/infrastructure/repository/kvjson"
	"github.com/mkotova/lifeline/internal/infrastructure/resilience"
	imagestore "github.com/mkotova/lifeline/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config

	Queue    *nats.Queue
	Readings ports.ReadingRepository
	Jobs     ports.JobRepository
	Images   ports.ImageStore

	AnalysisUC ports.AnalysisService
	Chat       *usecase.ChatManager

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	kv, closeKV, err := openKV(ctx, cfg)
	if err != nil {
		return nil, err
	}

	readings := kvjson.NewReadingRepository(kv)
	jobs := kvjson.NewJobRepository(kv)

	images, err := imagestore.New(cfg.ImageStoragePath)
	if err != nil {
		closeKV()
		return nil, fmt.Errorf("init image storage: %w", err)
	}

	var queue *nats.Queue
	var jobQueue ports.JobQueue
	if cfg.NATSURL != "" {
		queue, err = nats.New(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			closeKV()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		jobQueue = queue
	}

	executor := resilience.NewExecutor(resilience.ModelCallConfig())
	model := gemini.New(
		cfg.GeminiBaseURL,
		cfg.GeminiAPIKey,
		cfg.GeminiModel,
		time.Duration(cfg.GeminiTimeoutSeconds)*time.Second,
		executor,
	)

	analysisUC := usecase.NewAnalyzeUseCase(readings, jobs, images, model, jobQueue)
	chat := usecase.NewChatManager(readings, images, model, cfg.ChatMaxTurns)

	return &App{
		Config: cfg,

		Queue:    queue,
		Readings: readings,
		Jobs:     jobs,
		Images:   images,

		AnalysisUC: analysisUC,
		Chat:       chat,

		closeFn: func() {
			if queue != nil {
				queue.Close()
			}
			closeKV()
		},
	}, nil
}

func (a *App) AsyncEnabled() bool {
	return a.Queue != nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func openKV(ctx context.Context, cfg config.Config) (ports.KeyValueStore, func(), error) {
	switch cfg.KVBackend {
	case "postgres":
		db, err := kvpostgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		store := kvpostgres.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, func() { _ = db.Close() }, nil
	case "", "file":
		store, err := localfs.New(cfg.KVPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open kv dir: %w", err)
		}
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown kv backend %q", cfg.KVBackend)
	}
}
