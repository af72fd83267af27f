package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/models"
	"github.com/upb/rag-chatbot/repositories"
)

// CredentialRepository implements repositories.CredentialStore over the users table
type CredentialRepository struct {
	db     *DB
	logger *zap.Logger
}

var _ repositories.CredentialStore = (*CredentialRepository)(nil)

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *DB, logger *zap.Logger) *CredentialRepository {
	return &CredentialRepository{
		db:     db,
		logger: logger,
	}
}

// FindByUsername retrieves a credential by username
func (r *CredentialRepository) FindByUsername(ctx context.Context, username string) (*models.Credential, error) {
	query := `
		SELECT username, email, full_name, hashed_password, disabled
		FROM users
		WHERE username = $1
	`

	var email, fullName sql.NullString
	cred := &models.Credential{}

	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, username).Scan(
		&cred.Username,
		&email,
		&fullName,
		&cred.HashedPassword,
		&cred.Disabled,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	cred.Email = email.String
	cred.FullName = fullName.String
	return cred, nil
}

// Upsert creates or replaces a credential
func (r *CredentialRepository) Upsert(ctx context.Context, cred *models.Credential) error {
	if cred == nil || cred.Username == "" {
		return fmt.Errorf("credential requires a username")
	}

	query := `
		INSERT INTO users (username, email, full_name, hashed_password, disabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO UPDATE SET
			email = EXCLUDED.email,
			full_name = EXCLUDED.full_name,
			hashed_password = EXCLUDED.hashed_password,
			disabled = EXCLUDED.disabled,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		cred.Username,
		nullString(cred.Email),
		nullString(cred.FullName),
		cred.HashedPassword,
		cred.Disabled,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	r.logger.Debug("user upserted", zap.String("username", cred.Username))
	return nil
}

// List returns every account ordered by username
func (r *CredentialRepository) List(ctx context.Context) ([]*models.User, error) {
	query := `
		SELECT username, email, full_name, disabled
		FROM users
		ORDER BY username
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var email, fullName sql.NullString
		u := &models.User{}
		if err := rows.Scan(&u.Username, &email, &fullName, &u.Disabled); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Email = email.String
		u.FullName = fullName.String
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
