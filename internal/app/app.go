package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/common"
	"github.com/datalupa/perfilador/internal/handlers"
	"github.com/datalupa/perfilador/internal/services/discovery"
	"github.com/datalupa/perfilador/internal/services/llm"
	"github.com/datalupa/perfilador/internal/services/profile"
	"github.com/datalupa/perfilador/internal/services/scraper"
	"github.com/datalupa/perfilador/internal/services/search"
	"github.com/datalupa/perfilador/internal/storage/postgres"
	"github.com/datalupa/perfilador/internal/storage/serpcache"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	DB             *sql.DB
	SerpCache      *serpcache.Cache
	SearchStore    *postgres.SearchStore
	DiscoveryStore *postgres.DiscoveryStore
	ChunkStore     *postgres.ChunkStore
	ProfileStore   *postgres.ProfileStore
	DiscoveryQueue *postgres.QueueStore
	ProfileQueue   *postgres.QueueStore

	// Services
	SearchClient   *search.Client
	Aggregator     *search.Aggregator
	LLMPool        *llm.Pool
	ScraperService *scraper.Service

	// Stage runners
	SearchRunner    *search.Runner
	DiscoveryRunner *discovery.Runner
	ScrapeRunner    *scraper.Runner
	ProfileRunner   *profile.Runner

	// Handlers
	PipelineHandler       *handlers.PipelineHandler
	DiscoveryQueueHandler *handlers.QueueHandler
	ProfileQueueHandler   *handlers.QueueHandler
}

// New initializes the application with all dependencies
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := a.initServices(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	a.initRunners()
	a.initHandlers()

	if cfg.Tracing.CollectorEndpoint != "" {
		logger.Info().
			Str("endpoint", cfg.Tracing.CollectorEndpoint).
			Msg("Phoenix collector configured (tracing export not enabled in this build)")
	}

	logger.Info().
		Int("llm_providers", len(a.LLMPool.Providers())).
		Bool("browser_enabled", cfg.Scraper.BrowserEnabled).
		Msg("Application initialization complete")

	return a, nil
}

// initStorage connects to Postgres, applies migrations and opens the SERP
// cache.
func (a *App) initStorage(ctx context.Context) error {
	db, err := postgres.Connect(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	a.DB = db

	if err := postgres.Migrate(db, a.Logger); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	cache, err := serpcache.New(a.Config.Search.CacheDir, time.Duration(a.Config.Search.CacheTTLHours)*time.Hour, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open serp cache: %w", err)
	}
	a.SerpCache = cache

	a.SearchStore = postgres.NewSearchStore(db, a.Logger)
	a.DiscoveryStore = postgres.NewDiscoveryStore(db, a.Logger)
	a.ChunkStore = postgres.NewChunkStore(db, a.Logger)
	a.ProfileStore = postgres.NewProfileStore(db, a.Logger)

	backoff := time.Duration(a.Config.Queue.BackoffSecs) * time.Second
	a.DiscoveryQueue = postgres.NewQueueStore(db, "queue_discovery", a.Config.Queue.MaxAttempts, backoff, a.Logger)
	a.ProfileQueue = postgres.NewQueueStore(db, "queue_profile", a.Config.Queue.MaxAttempts, backoff, a.Logger)

	return nil
}

func (a *App) initServices() error {
	a.SearchClient = search.NewClient(a.Config.Search, a.SerpCache, a.Logger)
	a.Aggregator = search.NewAggregator(
		a.SearchClient,
		a.Config.Search.NumResults,
		a.Config.Search.BatchMaxSize,
		time.Duration(a.Config.Search.BatchMaxWaitMs)*time.Millisecond,
		a.Logger,
	)
	a.Aggregator.Start()

	if path := a.Config.Discovery.BlacklistFile; path != "" {
		added, err := discovery.LoadExtraBlacklist(path)
		if err != nil {
			a.Logger.Warn().Str("path", path).Err(err).Msg("Skipping extra blacklist file")
		} else {
			a.Logger.Info().Str("path", path).Int("domains", added).Msg("Extra blacklist loaded")
		}
	}

	providers, err := llm.LoadProviders(a.Config.LLM.ProvidersFile, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to load LLM providers: %w", err)
	}
	pool, err := llm.NewPool(providers, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to build LLM pool: %w", err)
	}
	a.LLMPool = pool

	svc, err := scraper.NewService(a.Config.Scraper, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to build scraper: %w", err)
	}
	a.ScraperService = svc

	return nil
}

func (a *App) initRunners() {
	a.SearchRunner = search.NewRunner(a.Aggregator, a.SearchStore, a.Logger)

	chooser := discovery.NewChooser(a.LLMPool, a.Logger)
	a.DiscoveryRunner = discovery.NewRunner(a.SearchStore, a.DiscoveryStore, chooser, a.Logger)

	chunker := profile.NewChunker(a.Config.Chunker)
	a.ScrapeRunner = scraper.NewRunner(a.ScraperService, chunker, a.DiscoveryStore, a.ChunkStore, a.Logger)

	extractor := profile.NewExtractor(a.LLMPool, a.Logger)
	a.ProfileRunner = profile.NewRunner(a.ChunkStore, a.ProfileStore, extractor, a.Logger)
}

func (a *App) initHandlers() {
	a.PipelineHandler = handlers.NewPipelineHandler(
		a.SearchRunner,
		a.ScrapeRunner,
		a.ProfileRunner,
		a.DiscoveryQueue,
		a.Logger,
	)
	a.DiscoveryQueueHandler = handlers.NewQueueHandler(a.DiscoveryQueue, nil, a.Logger)
	a.ProfileQueueHandler = handlers.NewQueueHandler(a.ProfileQueue, a.ProfileStore, a.Logger)
}

// Close releases resources in reverse initialization order.
func (a *App) Close() {
	if a.Aggregator != nil {
		a.Aggregator.Stop()
	}
	if a.ScraperService != nil {
		a.ScraperService.Close()
	}
	if a.SerpCache != nil {
		if err := a.SerpCache.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close serp cache")
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close database")
		}
	}
	a.Logger.Info().Msg("Application shutdown complete")
}
