package repositories

import (
	"context"
	"errors"

	"github.com/upb/rag-chatbot/models"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// CredentialRepository looks up accounts for authentication
type CredentialRepository interface {
	// FindByUsername returns the stored credential, or ErrNotFound
	FindByUsername(ctx context.Context, username string) (*models.Credential, error)
}

// CredentialStore is a CredentialRepository that can also be written to
type CredentialStore interface {
	CredentialRepository

	// Upsert creates or replaces the credential for its username
	Upsert(ctx context.Context, cred *models.Credential) error

	// List returns every account without password hashes, ordered by username
	List(ctx context.Context) ([]*models.User, error)
}

// AuditRepository persists the access trail
type AuditRepository interface {
	// Insert stores one audit entry
	Insert(ctx context.Context, log *models.AuditLog) error
}
