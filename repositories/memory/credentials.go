// Package memory provides an in-process credential repository, seeded with
// the demo account or loaded from a YAML users file.
package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/upb/rag-chatbot/models"
	"github.com/upb/rag-chatbot/repositories"
)

// DemoPasswordHash is the unsalted SHA-256 hex digest of "password", the
// legacy hash format of the demo account.
const DemoPasswordHash = "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8"

// DefaultCredentials returns the built-in demo account.
func DefaultCredentials() []*models.Credential {
	return []*models.Credential{
		models.NewCredential("testuser", "test@example.com", "Test User", DemoPasswordHash),
	}
}

// CredentialRepository is a map-backed credential store safe for concurrent use.
type CredentialRepository struct {
	mu    sync.RWMutex
	users map[string]models.Credential
}

var _ repositories.CredentialStore = (*CredentialRepository)(nil)

// NewCredentialRepository creates a repository holding creds.
func NewCredentialRepository(creds ...*models.Credential) *CredentialRepository {
	r := &CredentialRepository{users: make(map[string]models.Credential, len(creds))}
	for _, c := range creds {
		if c != nil {
			r.users[c.Username] = *c
		}
	}
	return r
}

// FindByUsername returns a copy of the stored credential.
func (r *CredentialRepository) FindByUsername(ctx context.Context, username string) (*models.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.users[username]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &c, nil
}

// Upsert stores a copy of cred.
func (r *CredentialRepository) Upsert(ctx context.Context, cred *models.Credential) error {
	if cred == nil || cred.Username == "" {
		return fmt.Errorf("credential requires a username")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[cred.Username] = *cred
	return nil
}

// List returns every account ordered by username.
func (r *CredentialRepository) List(ctx context.Context) ([]*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*models.User, 0, len(r.users))
	for _, c := range r.users {
		users = append(users, c.Public())
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// Len returns the number of accounts.
func (r *CredentialRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// usersFile is the YAML layout of a users file:
//
//	users:
//	  - username: alice
//	    email: alice@example.com
//	    full_name: Alice
//	    hashed_password: $argon2id$v=19$m=65536,t=1,p=4$...
//	    disabled: false
type usersFile struct {
	Users []*models.Credential `yaml:"users"`
}

// LoadCredentials reads accounts from a YAML users file.
func LoadCredentials(path string) ([]*models.Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}

	var file usersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse users file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Users))
	for i, c := range file.Users {
		if c == nil || strings.TrimSpace(c.Username) == "" {
			return nil, fmt.Errorf("users file %s: entry %d has no username", path, i)
		}
		if c.HashedPassword == "" {
			return nil, fmt.Errorf("users file %s: user %q has no hashed_password", path, c.Username)
		}
		if seen[c.Username] {
			return nil, fmt.Errorf("users file %s: duplicate user %q", path, c.Username)
		}
		seen[c.Username] = true
	}
	return file.Users, nil
}

// NewFromConfig returns a repository loaded from usersFile, or holding the
// demo account when usersFile is empty.
func NewFromConfig(usersFile string) (*CredentialRepository, error) {
	if usersFile == "" {
		return NewCredentialRepository(DefaultCredentials()...), nil
	}
	creds, err := LoadCredentials(usersFile)
	if err != nil {
		return nil, err
	}
	return NewCredentialRepository(creds...), nil
}
