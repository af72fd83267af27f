// Package auth issues and validates bearer access tokens for accounts looked
// up through an injected credential repository.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/models"
	"github.com/upb/rag-chatbot/repositories"
	"github.com/upb/rag-chatbot/services"
)

// DefaultTokenTTL is the access token lifetime
const DefaultTokenTTL = 30 * time.Minute

// Config configures token signing
type Config struct {
	Secret   string
	TokenTTL time.Duration
	Issuer   string // Optional; checked on validation when set
}

// Service authenticates users and manages access tokens
type Service struct {
	repo      repositories.CredentialRepository
	hasher    *PasswordHasher
	secret    []byte
	ttl       time.Duration
	issuer    string
	now       func() time.Time
	dummyHash string
	logger    *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates an auth service
func NewService(repo repositories.CredentialRepository, hasher *PasswordHasher, cfg Config, logger *zap.Logger, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("credential repository is required")
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("token signing secret is required")
	}
	if hasher == nil {
		hasher = NewPasswordHasher(DefaultArgon2Params)
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		repo:   repo,
		hasher: hasher,
		secret: []byte(cfg.Secret),
		ttl:    cfg.TokenTTL,
		issuer: cfg.Issuer,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Verified against for unknown users so the response time does not tell
	// whether an account exists.
	dummy, err := hasher.Hash("dummy password for timing equalization")
	if err != nil {
		return nil, err
	}
	s.dummyHash = dummy

	return s, nil
}

// Login checks a username and password and issues an access token. Unknown
// users, wrong passwords and disabled accounts all yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string) (*models.Token, error) {
	cred, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, services.WrapInternal("failed to look up user", err)
		}
		_, _ = s.hasher.Verify(password, s.dummyHash)
		return nil, services.ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(password, cred.HashedPassword)
	if err != nil {
		s.logger.Error("stored password hash is unusable",
			zap.String("username", username),
			zap.Error(err))
		return nil, services.ErrInvalidCredentials
	}
	if !ok || !cred.IsActive() {
		return nil, services.ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(cred.HashedPassword) {
		s.logger.Info("password hash uses outdated parameters", zap.String("username", username))
	}

	return s.IssueToken(username)
}

// IssueToken signs an access token for username
func (s *Service) IssueToken(username string) (*models.Token, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, services.WrapInternal("failed to sign token", err)
	}

	return &models.Token{
		AccessToken: signed,
		TokenType:   models.TokenTypeBearer,
		ExpiresAt:   expiresAt,
	}, nil
}

// ValidateToken verifies signature, algorithm and expiry, then re-reads the
// account: a deleted or disabled user's token is rejected even before expiry.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*models.User, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(s.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, parserOpts...)
	if err != nil || !token.Valid {
		return nil, services.WrapError(services.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, services.ErrInvalidToken
	}

	cred, err := s.repo.FindByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrInvalidToken
		}
		return nil, services.WrapInternal("failed to look up user", err)
	}
	if !cred.IsActive() {
		return nil, services.ErrInvalidToken
	}

	return cred.Public(), nil
}
