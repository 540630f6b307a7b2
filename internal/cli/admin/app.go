package admin

import (
	"context"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/cloo-solutions/closerbrain/internal/config"
	"github.com/cloo-solutions/closerbrain/internal/database"
	"github.com/cloo-solutions/closerbrain/internal/events"
	"github.com/cloo-solutions/closerbrain/internal/generation"
	"github.com/cloo-solutions/closerbrain/internal/logger"
	"github.com/cloo-solutions/closerbrain/internal/openai"
	"github.com/cloo-solutions/closerbrain/internal/prompts"
	"github.com/cloo-solutions/closerbrain/internal/repository"
	"github.com/cloo-solutions/closerbrain/internal/service"
	"github.com/cloo-solutions/closerbrain/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// app is the fully wired service graph shared by serve and process.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	pool      *pgxpool.Pool
	publisher events.Publisher

	brain       *service.BrainService
	ingestion   *service.IngestionService
	prospects   *service.ProspectService
	suggestions *service.SuggestionService
	workspaces  *service.WorkspaceService
}

func loadConfig(debugFlag bool) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.LogMode, cfg.Debug || debugFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}

func getDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

// newApp connects every backing service named in cfg and builds the domain services.
// The generation service is mandatory; object storage, embeddings and the progress
// channel are optional.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger, pool *pgxpool.Pool) (*app, error) {
	if !cfg.HasOpenAI() {
		return nil, fmt.Errorf("generation service not configured: CLOSERBRAIN_OPENAI_API_KEY required")
	}

	client, err := openai.NewClient(openai.Config{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		ChatModel:      cfg.ChatModel,
		EmbeddingModel: goopenai.EmbeddingModel(cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create generation client: %w", err)
	}

	var embedder service.Embedder
	if cfg.EmbeddingsEnabled {
		embedder = client
		log.Info("embeddings enabled", "model", cfg.EmbeddingModel)
	}

	var store service.ObjectStore
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Info("object storage ready", "bucket", cfg.S3Bucket)
		store = s3Client
	} else {
		log.Warn("object storage not configured, documents and screenshots are disabled")
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.HasRedis() {
		redisPub, err := events.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisChannel, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect progress channel: %w", err)
		}
		log.Info("progress channel ready", "channel", cfg.RedisChannel)
		publisher = redisPub
	}

	sources := repository.NewSourceRepository(pool)
	chunks := repository.NewChunkRepository(pool)
	stats := repository.NewBrainStatsRepository(pool)
	prospectRepo := repository.NewProspectRepository(pool)
	conversations := repository.NewConversationRepository(pool)
	workspaceRepo := repository.NewWorkspaceRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	catalog := prompts.Default()
	retrier := generation.NewRetrier(client, generation.RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
	}, log)

	brain := service.NewBrainService(sources, chunks, stats)
	knowledge := service.NewKnowledgeStore(sources, chunks, txRunner, brain, store, log)
	learner := service.NewLearningService(conversations, knowledge, retrier, catalog, log)

	return &app{
		cfg:       cfg,
		log:       log,
		pool:      pool,
		publisher: publisher,
		brain:     brain,
		ingestion: service.NewIngestionService(service.IngestionDeps{
			Sources:    sources,
			TxRunner:   txRunner,
			Store:      store,
			Extractor:  service.NewContentExtractor(retrier, store, catalog, cfg.MaxSourceChars),
			Distiller:  service.NewKnowledgeDistiller(retrier, catalog, embedder, log),
			Knowledge:  knowledge,
			Brain:      brain,
			Publisher:  publisher,
			Logger:     log,
			StaleAfter: cfg.StaleRunAfter,
		}),
		prospects: service.NewProspectService(prospectRepo, workspaceRepo, learner, log),
		suggestions: service.NewSuggestionService(service.SuggestionDeps{
			Prospects:     prospectRepo,
			Conversations: conversations,
			Workspaces:    workspaceRepo,
			TxRunner:      txRunner,
			Store:         store,
			Brain:         brain,
			Classifier:    service.NewStageClassifier(retrier, catalog),
			Selector:      service.NewRetrievalSelector(knowledge, sources, embedder, log),
			Retrier:       retrier,
			Prompts:       catalog,
			Logger:        log,
		}),
		workspaces: service.NewWorkspaceService(workspaceRepo),
	}, nil
}

func (a *app) Close() {
	if err := a.publisher.Close(); err != nil {
		a.log.Warn("failed to close progress publisher", "error", err)
	}
}
