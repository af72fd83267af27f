package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/upb/rag-chatbot/utils"
)

// ErrMissingSecret is returned when a required secret is not configured.
// It is fatal at startup.
var ErrMissingSecret = errors.New("required secret is not set")

const (
	VectorStoreSQLite   = "sqlite"
	VectorStorePostgres = "postgres"

	EmbeddingProviderOpenAI = "openai"
	EmbeddingProviderHash   = "hash"
)

// DefaultAllowedOrigins are the CORS origins used when ALLOWED_ORIGINS is unset
var DefaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:8000",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:8000",
	"https://misha-jatt.github.io",
}

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	Database      *DatabaseConfig // Optional: only set when DATABASE_URL or DB_HOST is configured.
	RAG           RAGConfig
	Groq          GroqConfig
	Embeddings    EmbeddingsConfig
	Ingestion     IngestionConfig
	CORS          CORSConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// AuthConfig holds access token and user store configuration
type AuthConfig struct {
	SecretKey string
	Algorithm string
	TokenTTL  time.Duration
	Issuer    string
	UsersFile string // Optional YAML file with accounts; defaults to the built-in demo user.
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// RAGConfig holds vector index and retrieval configuration
type RAGConfig struct {
	VectorStore string // sqlite or postgres
	DBDirectory string // Root of the sqlite index generations
	TopK        int
	WatchIndex  bool // Reload the sqlite index when ingestion swaps generations
}

// GroqConfig holds the answer generator configuration
type GroqConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

// EmbeddingsConfig holds the embedding service configuration
type EmbeddingsConfig struct {
	Provider   string // openai (any OpenAI-compatible endpoint) or hash
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// IngestionConfig holds the ingestion job configuration
type IngestionConfig struct {
	DocsDir      string
	ChunkSize    int
	ChunkOverlap int
	Workers      int
	BatchSize    int
	EmbedRate    float64 // Embedding batches per second; 0 disables throttling
	VerifyQuery  string
}

// CORSConfig holds cross-origin configuration
type CORSConfig struct {
	AllowedOrigins []string
}

// RateLimitConfig holds the per-user query throttle
type RateLimitConfig struct {
	QueriesPerMinute int // 0 disables the throttle
	Burst            int
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config for the API server by loading environment variables.
func New(ctx context.Context) (*Config, error) {
	cfg := load()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// NewIngestion creates a Config for the ingestion job. The JWT secret is not
// required there.
func NewIngestion(ctx context.Context) (*Config, error) {
	cfg := load()

	if err := cfg.validateCommon(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if err := cfg.validateIngestion(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func load() *Config {
	// Load .env file if it exists (chatbot_api/.env when run from project root, .env otherwise)
	_ = godotenv.Load("chatbot_api/.env")
	_ = godotenv.Load(".env")

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 110*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
			Algorithm: getEnv("JWT_ALGORITHM", "HS256"),
			TokenTTL:  time.Duration(getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 30)) * time.Minute,
			Issuer:    getEnv("JWT_ISSUER", "humanoid-robotics-chatbot"),
			UsersFile: getEnv("USERS_FILE", ""),
		},
		Database: loadDatabaseConfig(),
		RAG: RAGConfig{
			VectorStore: strings.ToLower(getEnv("VECTOR_STORE", VectorStoreSQLite)),
			DBDirectory: getEnv("DB_DIRECTORY", "db"),
			TopK:        getEnvAsInt("RAG_TOP_K", 5),
			WatchIndex:  getEnvAsBool("RAG_WATCH_INDEX", true),
		},
		Groq: GroqConfig{
			APIKey:      getEnv("GROQ_API_KEY", ""),
			BaseURL:     getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
			Model:       getEnv("GROQ_MODEL_NAME", "llama-3.1-8b-instant"),
			Temperature: float32(getEnvAsFloat("GROQ_TEMPERATURE", 0)),
			MaxTokens:   getEnvAsInt("GROQ_MAX_TOKENS", 0),
			Timeout:     getEnvAsDuration("GROQ_TIMEOUT", 30*time.Second),
			MaxRetries:  getEnvAsInt("GROQ_MAX_RETRIES", 2),
			RetryDelay:  getEnvAsDuration("GROQ_RETRY_DELAY", 500*time.Millisecond),
		},
		Embeddings: EmbeddingsConfig{
			Provider:   strings.ToLower(getEnv("EMBEDDING_PROVIDER", EmbeddingProviderOpenAI)),
			Model:      getEnv("EMBEDDING_MODEL_NAME", "all-MiniLM-L6-v2"),
			BaseURL:    getEnv("EMBEDDING_BASE_URL", "http://localhost:8080/v1"),
			APIKey:     getEnv("EMBEDDING_API_KEY", ""),
			Dimensions: getEnvAsInt("EMBEDDING_DIMENSIONS", 384),
			Timeout:    getEnvAsDuration("EMBEDDING_TIMEOUT", 15*time.Second),
			MaxRetries: getEnvAsInt("EMBEDDING_MAX_RETRIES", 2),
			RetryDelay: getEnvAsDuration("EMBEDDING_RETRY_DELAY", 250*time.Millisecond),
		},
		Ingestion: IngestionConfig{
			DocsDir:      getEnv("DOCS_DIR", "../docs"),
			ChunkSize:    getEnvAsInt("CHUNK_SIZE", 1000),
			ChunkOverlap: getEnvAsInt("CHUNK_OVERLAP", 200),
			Workers:      getEnvAsInt("INGEST_WORKERS", 4),
			BatchSize:    getEnvAsInt("INGEST_BATCH_SIZE", 64),
			EmbedRate:    getEnvAsFloat("INGEST_EMBED_RATE", 0),
			VerifyQuery:  getEnv("INGEST_VERIFY_QUERY", "What is a digital twin?"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", DefaultAllowedOrigins),
		},
		RateLimit: RateLimitConfig{
			QueriesPerMinute: getEnvAsInt("QUERY_RATE_LIMIT_PER_MINUTE", 30),
			Burst:            getEnvAsInt("QUERY_RATE_LIMIT_BURST", 5),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Auth.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY: %w", ErrMissingSecret)
	}
	if c.Auth.Algorithm != "HS256" {
		return fmt.Errorf("unsupported JWT algorithm %q: only HS256 is supported", c.Auth.Algorithm)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	if c.IsProduction() && len(c.Auth.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters in production")
	}

	if err := c.validateCommon(); err != nil {
		return err
	}

	if c.RAG.TopK <= 0 {
		return fmt.Errorf("RAG_TOP_K must be positive")
	}
	if c.RateLimit.QueriesPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("QUERY_RATE_LIMIT_PER_MINUTE and QUERY_RATE_LIMIT_BURST must not be negative")
	}

	return nil
}

func (c *Config) validateCommon() error {
	if err := utils.ValidateOneOf(c.RAG.VectorStore, "VECTOR_STORE", []string{VectorStoreSQLite, VectorStorePostgres}); err != nil {
		return err
	}
	if c.RAG.VectorStore == VectorStorePostgres && c.Database == nil {
		return fmt.Errorf("database configuration required for postgres vector store: set DATABASE_URL or DB_HOST")
	}
	if c.RAG.VectorStore == VectorStoreSQLite && c.RAG.DBDirectory == "" {
		return fmt.Errorf("DB_DIRECTORY is required")
	}

	if err := utils.ValidateOneOf(c.Embeddings.Provider, "EMBEDDING_PROVIDER", []string{EmbeddingProviderOpenAI, EmbeddingProviderHash}); err != nil {
		return err
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive")
	}
	if c.Embeddings.Provider == EmbeddingProviderOpenAI {
		if _, err := url.ParseRequestURI(c.Embeddings.BaseURL); err != nil {
			return fmt.Errorf("EMBEDDING_BASE_URL is not a valid URL: %w", err)
		}
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

func (c *Config) validateIngestion() error {
	if c.Ingestion.DocsDir == "" {
		return fmt.Errorf("DOCS_DIR is required")
	}
	if c.Ingestion.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive")
	}
	if c.Ingestion.ChunkOverlap < 0 || c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE)")
	}
	if c.Ingestion.Workers <= 0 {
		return fmt.Errorf("INGEST_WORKERS must be positive")
	}
	if c.Ingestion.BatchSize <= 0 {
		return fmt.Errorf("INGEST_BATCH_SIZE must be positive")
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Returns nil when neither is set; credentials and the index then live on local storage.
func loadDatabaseConfig() *DatabaseConfig {
	pool := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		pool.ConnectionString = dbURL
		return &pool
	}
	if getEnv("DB_HOST", "") == "" {
		return nil
	}

	pool.Host = getEnv("DB_HOST", "localhost")
	pool.Port = getEnvAsInt("DB_PORT", 5432)
	pool.User = getEnv("DB_USER", "chatbot")
	pool.Password = getEnv("DB_PASSWORD", "")
	pool.Database = getEnv("DB_NAME", "chatbot")
	pool.SSLMode = getEnv("DB_SSLMODE", "disable")
	return &pool
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8000)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8000
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return append([]string(nil), defaultValue...)
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return append([]string(nil), defaultValue...)
	}
	return values
}
