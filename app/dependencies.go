package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/config"
	"github.com/upb/rag-chatbot/handlers"
	"github.com/upb/rag-chatbot/internal/observability"
	"github.com/upb/rag-chatbot/internal/rag"
	"github.com/upb/rag-chatbot/internal/upstream"
	"github.com/upb/rag-chatbot/middleware"
	"github.com/upb/rag-chatbot/models"
	"github.com/upb/rag-chatbot/repositories"
	"github.com/upb/rag-chatbot/repositories/memory"
	"github.com/upb/rag-chatbot/repositories/postgres"
	"github.com/upb/rag-chatbot/repositories/vectorindex"
	"github.com/upb/rag-chatbot/services/audit"
	"github.com/upb/rag-chatbot/services/auth"
	"github.com/upb/rag-chatbot/services/embeddings"
	"github.com/upb/rag-chatbot/services/providers"
	"github.com/upb/rag-chatbot/services/providers/openai"
	"github.com/upb/rag-chatbot/services/query"
	"github.com/upb/rag-chatbot/services/ratelimit"
)

const (
	auditStopTimeout         = 5 * time.Second
	rateLimitCleanupInterval = time.Minute
)

// ErrGeneratorNotConfigured is recorded as the pipeline error when no LLM API
// key is set.
var ErrGeneratorNotConfigured = errors.New("GROQ_API_KEY is not set")

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// RepoFactory and DB are nil unless a PostgreSQL database is configured.
	RepoFactory *postgres.RepositoryFactory
	DB          *postgres.DB

	// Auth
	Credentials    repositories.CredentialRepository
	Auth           *auth.Service
	AuthMiddleware *middleware.AuthMiddleware

	// Audit records logins and queries. RateLimiter is nil when query
	// throttling is disabled.
	Audit       *audit.AuditService
	RateLimiter *ratelimit.RateLimitService

	// RAG
	Embedder  rag.Embedder
	Index     rag.VectorIndex
	Generator providers.Provider

	// Pipeline is nil when it could not be built; PipelineErr says why.
	Pipeline    *query.Pipeline
	PipelineErr error

	live        *vectorindex.Live
	stopWorkers context.CancelFunc
}

// NewDependencies creates and wires up all application dependencies. Missing
// RAG prerequisites (no index, no API key) leave the pipeline unavailable
// rather than failing startup; auth and storage failures are fatal.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Database != nil {
		if err := deps.initDatabase(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	if err := deps.initCredentials(ctx, cfg); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize credentials: %w", err)
	}

	if err := deps.initAuth(cfg); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	if err := deps.initAudit(); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize audit: %w", err)
	}
	deps.initRateLimit(ctx, cfg)

	if err := deps.initPipeline(ctx, cfg); err != nil {
		deps.PipelineErr = err
		logger.Error("RAG pipeline unavailable", zap.Error(err))
	} else {
		logger.Info("RAG pipeline initialized",
			zap.String("model", cfg.Groq.Model),
			zap.String("embedding_model", deps.Embedder.ModelName()),
			zap.Int("top_k", cfg.RAG.TopK))
	}

	logger.Info("all dependencies initialized")
	return deps, nil
}

// initDatabase opens PostgreSQL and creates the schema the configuration needs
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(*cfg.Database, observability.Component(d.Logger, "postgres"))
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.PingContext(ctx); err != nil {
		d.closeDatabase()
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := factory.InitSchema(ctx, cfg.RAG.VectorStore == config.VectorStorePostgres); err != nil {
		d.closeDatabase()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

// initCredentials selects the credential store. With a database, accounts
// live in PostgreSQL and USERS_FILE, when set, is imported into it.
// Without one, accounts come from USERS_FILE or the built-in demo user.
func (d *Dependencies) initCredentials(ctx context.Context, cfg *config.Config) error {
	if d.RepoFactory == nil {
		repo, err := memory.NewFromConfig(cfg.Auth.UsersFile)
		if err != nil {
			return err
		}
		d.Credentials = repo
		d.Logger.Info("using in-memory credential store", zap.Int("users", repo.Len()))
		return nil
	}

	repo := d.RepoFactory.Credentials()
	d.Credentials = repo

	if cfg.Auth.UsersFile == "" {
		return nil
	}
	creds, err := memory.LoadCredentials(cfg.Auth.UsersFile)
	if err != nil {
		return err
	}
	if err := ImportCredentials(ctx, d.RepoFactory.Transactions(), repo, creds); err != nil {
		return err
	}
	d.Logger.Info("imported users into database",
		zap.String("file", cfg.Auth.UsersFile),
		zap.Int("users", len(creds)))
	return nil
}

// ImportCredentials upserts every credential into store. With a transaction
// manager the import is all or nothing.
func ImportCredentials(ctx context.Context, txm repositories.TransactionManager, store repositories.CredentialStore, creds []*models.Credential) error {
	upsertAll := func(ctx context.Context) error {
		for _, c := range creds {
			if err := store.Upsert(ctx, c); err != nil {
				return fmt.Errorf("importing user %q: %w", c.Username, err)
			}
		}
		return nil
	}
	if txm == nil {
		return upsertAll(ctx)
	}
	return txm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		return upsertAll(ctx)
	})
}

func (d *Dependencies) initAuth(cfg *config.Config) error {
	svc, err := auth.NewService(
		d.Credentials,
		auth.NewPasswordHasher(auth.DefaultArgon2Params),
		auth.Config{
			Secret:   cfg.Auth.SecretKey,
			TokenTTL: cfg.Auth.TokenTTL,
			Issuer:   cfg.Auth.Issuer,
		},
		observability.Component(d.Logger, "auth"),
	)
	if err != nil {
		return err
	}

	d.Auth = svc
	d.AuthMiddleware = middleware.NewAuthMiddleware(svc, d.Logger)
	return nil
}

// initAudit starts the audit workers. Entries go to the audit_logs table
// when a database is configured and to the structured log otherwise.
func (d *Dependencies) initAudit() error {
	var repo repositories.AuditRepository
	if d.RepoFactory != nil {
		repo = d.RepoFactory.Audit()
	} else {
		repo = audit.NewLogRepository(d.Logger)
	}

	svc := audit.NewAuditService(repo, observability.Component(d.Logger, "audit"), audit.DefaultConfig())
	if err := svc.Start(); err != nil {
		return err
	}
	d.Audit = svc
	return nil
}

// initRateLimit builds the per-user query throttle and its cleanup worker
func (d *Dependencies) initRateLimit(ctx context.Context, cfg *config.Config) {
	d.RateLimiter = ratelimit.NewRateLimitService(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.QueriesPerMinute,
		Burst:             cfg.RateLimit.Burst,
	}, observability.Component(d.Logger, "ratelimit"))
	if d.RateLimiter == nil {
		return
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.stopWorkers = cancel
	go d.RateLimiter.StartCleanupWorker(workerCtx, rateLimitCleanupInterval)

	d.Logger.Info("query rate limit enabled",
		zap.Int("per_minute", cfg.RateLimit.QueriesPerMinute),
		zap.Int("burst", cfg.RateLimit.Burst))
}

// initPipeline builds embedder, index, retriever and generator. Any error
// leaves the pipeline nil.
func (d *Dependencies) initPipeline(ctx context.Context, cfg *config.Config) error {
	embedder, err := embeddings.New(cfg.Embeddings, observability.Component(d.Logger, "embeddings"))
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	d.Embedder = embedder

	index, err := d.openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	d.Index = index

	retriever, err := rag.NewRetriever(embedder, index, rag.WithTopK(cfg.RAG.TopK))
	if err != nil {
		return fmt.Errorf("retriever: %w", err)
	}

	if cfg.Groq.APIKey == "" {
		return ErrGeneratorNotConfigured
	}
	generator := openai.NewGroqAdapter(cfg.Groq.APIKey, cfg.Groq.BaseURL, cfg.Groq.Timeout)
	d.Generator = generator

	assembler, err := rag.NewPromptAssembler(rag.DefaultPromptTemplate)
	if err != nil {
		return err
	}

	pipeline, err := query.NewPipeline(retriever, assembler, generator, query.Config{
		Model:       cfg.Groq.Model,
		Temperature: float64(cfg.Groq.Temperature),
		MaxTokens:   cfg.Groq.MaxTokens,
		Policy: upstream.Policy{
			Timeout:    cfg.Groq.Timeout,
			MaxRetries: cfg.Groq.MaxRetries,
			BaseDelay:  cfg.Groq.RetryDelay,
			MaxDelay:   5 * cfg.Groq.RetryDelay,
		},
		Timeout: answerTimeout(cfg.Server.RequestTimeout),
	}, observability.Component(d.Logger, "query"))
	if err != nil {
		return err
	}

	d.Pipeline = pipeline
	return nil
}

// answerTimeout keeps a query inside the router's request timeout so the
// pipeline reports the timeout itself before the router gives up.
func answerTimeout(requestTimeout time.Duration) time.Duration {
	if requestTimeout <= 0 {
		return 0
	}
	margin := requestTimeout / 10
	if margin > 2*time.Second {
		margin = 2 * time.Second
	}
	return requestTimeout - margin
}

// openIndex opens the configured vector store.
func (d *Dependencies) openIndex(ctx context.Context, cfg *config.Config) (rag.VectorIndex, error) {
	logger := observability.Component(d.Logger, "vectorindex")

	if cfg.RAG.VectorStore == config.VectorStorePostgres {
		index, err := postgres.OpenVectorIndex(ctx, d.DB, logger)
		if err != nil {
			return nil, fmt.Errorf("vector index: %w", err)
		}
		return index, nil
	}

	store := vectorindex.NewStore(cfg.RAG.DBDirectory, logger)
	live, err := vectorindex.Open(ctx, store, logger)
	if err != nil {
		return nil, fmt.Errorf("vector index in %s: %w", cfg.RAG.DBDirectory, err)
	}
	d.live = live

	if cfg.RAG.WatchIndex {
		// The watcher outlives the startup context; Close stops it.
		if err := live.Watch(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("index hot reload disabled", zap.Error(err))
		}
	}
	return live, nil
}

// QueryService returns the pipeline, or nil when it is unavailable.
func (d *Dependencies) QueryService() handlers.QueryService {
	if d.Pipeline == nil {
		return nil
	}
	return d.Pipeline
}

// PipelineReady reports whether queries can be answered.
func (d *Dependencies) PipelineReady() bool {
	return d.Pipeline != nil
}

// DatabaseChecker returns the database health checker, or nil without a database.
func (d *Dependencies) DatabaseChecker() handlers.DatabaseChecker {
	if d.DB == nil {
		return nil
	}
	return d.DB
}

// IndexInspector returns an inspector for the live index, or nil when none is open.
func (d *Dependencies) IndexInspector() handlers.IndexInspector {
	if d.Index == nil {
		return nil
	}
	return indexInspector{index: d.Index}
}

type indexInspector struct {
	index rag.VectorIndex
}

func (i indexInspector) Info(ctx context.Context) (*handlers.IndexInfo, error) {
	count, err := i.index.Count(ctx)
	if err != nil {
		return nil, err
	}
	manifest := i.index.Manifest()
	info := &handlers.IndexInfo{
		Model:      manifest.Model,
		Dimensions: manifest.Dimensions,
		Chunks:     count,
	}
	if g, ok := i.index.(interface{ Generation() string }); ok {
		info.Generation = g.Generation()
	}
	return info, nil
}

func (d *Dependencies) closeDatabase() {
	if d.RepoFactory == nil {
		return
	}
	if err := d.RepoFactory.Close(); err != nil {
		d.Logger.Warn("failed to close database", zap.Error(err))
	}
	d.RepoFactory = nil
	d.DB = nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.live != nil {
		if err := d.live.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop index watcher: %w", err))
		}
		d.live = nil
	}

	if d.stopWorkers != nil {
		d.stopWorkers()
		d.stopWorkers = nil
	}

	// Drain audit entries before the database goes away.
	if d.Audit != nil {
		if err := d.Audit.Stop(auditStopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
		d.DB = nil
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
