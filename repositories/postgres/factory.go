package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/config"
)

// RepositoryFactory owns the connection pool and hands out repositories
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory connects to the database
func NewRepositoryFactory(cfg config.DatabaseConfig, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &RepositoryFactory{db: db, logger: logger}, nil
}

// InitSchema creates the credential tables and, when withVectors is set, the
// pgvector index tables
func (f *RepositoryFactory) InitSchema(ctx context.Context, withVectors bool) error {
	if err := f.db.InitSchema(ctx); err != nil {
		return err
	}
	if withVectors {
		return f.db.InitVectorSchema(ctx)
	}
	return nil
}

// Credentials returns the users table repository
func (f *RepositoryFactory) Credentials() *CredentialRepository {
	return NewCredentialRepository(f.db, f.logger)
}

// Audit returns the audit_logs repository
func (f *RepositoryFactory) Audit() *AuditRepository {
	return NewAuditRepository(f.db, f.logger)
}

// VectorIndex returns an index handle that has not loaded a generation yet
func (f *RepositoryFactory) VectorIndex() *VectorIndex {
	return NewVectorIndex(f.db, f.logger)
}

// Transactions returns a transaction manager over the pool
func (f *RepositoryFactory) Transactions() *TransactionManager {
	return NewTransactionManager(f.db, nil)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
