package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/config"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return WrapDB(db, logger), nil
}

// WrapDB wraps an already opened pool
func WrapDB(db *sql.DB, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{
		DB:     db,
		logger: logger,
	}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

const usersSchema = `
		CREATE TABLE IF NOT EXISTS users (
			username VARCHAR(255) PRIMARY KEY,
			email VARCHAR(255),
			full_name VARCHAR(255),
			hashed_password TEXT NOT NULL,
			disabled BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS audit_logs (
			id UUID PRIMARY KEY,
			action VARCHAR(32) NOT NULL,
			username VARCHAR(255) NOT NULL,
			request_id VARCHAR(128),
			ip_address VARCHAR(64),
			user_agent TEXT,
			status_code INTEGER NOT NULL,
			latency_ms INTEGER NOT NULL,
			details JSONB,
			timestamp TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs (timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_username ON audit_logs (username, timestamp DESC);
	`

const vectorSchema = `
		CREATE EXTENSION IF NOT EXISTS vector;

		-- One row per built index generation
		CREATE TABLE IF NOT EXISTS rag_index_generations (
			id VARCHAR(64) PRIMARY KEY,
			model VARCHAR(255) NOT NULL,
			dimensions INTEGER NOT NULL,
			chunk_count INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		);

		-- Chunks and embeddings of every generation
		CREATE TABLE IF NOT EXISTS rag_chunks (
			generation_id VARCHAR(64) NOT NULL REFERENCES rag_index_generations(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			chunk_id VARCHAR(64) NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL,
			chunk_index INTEGER NOT NULL,
			embedding vector NOT NULL,
			PRIMARY KEY (generation_id, position)
		);

		-- The live generation of each named index
		CREATE TABLE IF NOT EXISTS rag_index_pointer (
			name VARCHAR(64) PRIMARY KEY,
			generation_id VARCHAR(64) NOT NULL REFERENCES rag_index_generations(id),
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`

// InitSchema initializes the credential and audit schema
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, usersSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}

// InitVectorSchema initializes the pgvector index schema
func (db *DB) InitVectorSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, vectorSchema); err != nil {
		return fmt.Errorf("failed to initialize vector schema: %w", err)
	}

	db.logger.Info("vector schema initialized successfully")
	return nil
}

// isUndefinedTable reports whether err is a Postgres "relation does not exist" error
func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "42P01"
}
