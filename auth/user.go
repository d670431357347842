package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound     = errors.New("auth: user not found")
	ErrUserEmailInUse   = errors.New("auth: email already in use")
	ErrUserInvalidInput = errors.New("auth: invalid user input")
)

// User models the account record persisted by a UserRepository.
type User struct {
	ID           string
	Email        string
	Roles        []Role
	PasswordHash PasswordHash
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserRepository abstracts persistence so callers can map to any table schema.
// Emails are stored normalised; implementations compare them verbatim.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	GetUserByEmail(ctx context.Context, email string) (User, error)
	SetEnabled(ctx context.Context, email string, enabled bool) (User, error)
	UpdatePasswordHash(ctx context.Context, email string, hash PasswordHash) error
	CountUsers(ctx context.Context) (int, error)
}

// UserService owns account lifecycle and is the IdentityStore used by the
// authenticator.
type UserService struct {
	repo   UserRepository
	hasher PasswordHasher
	now    func() time.Time
}

// UserServiceConfig wires dependencies for UserService.
type UserServiceConfig struct {
	Repository UserRepository
	Hasher     PasswordHasher
	Now        func() time.Time
}

func NewUserService(cfg UserServiceConfig) (*UserService, error) {
	if cfg.Repository == nil || cfg.Hasher == nil {
		return nil, ErrUserInvalidInput
	}
	svc := &UserService{repo: cfg.Repository, hasher: cfg.Hasher, now: cfg.Now}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// CreateUser hashes the plaintext password and persists an enabled account.
func (s *UserService) CreateUser(ctx context.Context, email string, plainPassword []byte, roles []Role) (User, error) {
	email = NormalizeEmail(email)
	if !ValidateEmail(email) || len(plainPassword) == 0 {
		return User{}, ErrUserInvalidInput
	}
	if len(roles) == 0 {
		roles = []Role{RoleUser}
	}
	if !validRoles(roles) {
		return User{}, fmt.Errorf("%w: %v", ErrUserInvalidInput, ErrUnknownRole)
	}
	hash, err := s.hasher.Hash(ctx, plainPassword, PasswordOptions{})
	if err != nil {
		return User{}, err
	}
	now := s.now()
	user := User{
		ID:           uuid.NewString(),
		Email:        email,
		Roles:        normalizeRoles(roles),
		PasswordHash: hash,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, email string) (User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return User{}, ErrUserInvalidInput
	}
	return s.repo.GetUserByEmail(ctx, email)
}

// DisableUser marks a user as disabled instead of deleting.
func (s *UserService) DisableUser(ctx context.Context, email string) (User, error) {
	return s.setEnabled(ctx, email, false)
}

// EnableUser re-enables a previously disabled user.
func (s *UserService) EnableUser(ctx context.Context, email string) (User, error) {
	return s.setEnabled(ctx, email, true)
}

func (s *UserService) setEnabled(ctx context.Context, email string, enabled bool) (User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return User{}, ErrUserInvalidInput
	}
	return s.repo.SetEnabled(ctx, email, enabled)
}

// RehashIfNeeded upgrades a stored hash after a successful login. Failures
// are returned but never invalidate the login.
func (s *UserService) RehashIfNeeded(ctx context.Context, subject string, plain []byte, current PasswordHash) error {
	if !s.hasher.NeedsRehash(current, PasswordOptions{}) {
		return nil
	}
	hash, err := s.hasher.Hash(ctx, plain, PasswordOptions{})
	if err != nil {
		return err
	}
	return s.repo.UpdatePasswordHash(ctx, NormalizeEmail(subject), hash)
}

// LookupIdentity implements IdentityStore. Disabled accounts are reported as
// ErrUserNotFound so they can neither log in nor refresh.
func (s *UserService) LookupIdentity(ctx context.Context, subject string) (Identity, error) {
	subject = NormalizeEmail(subject)
	if subject == "" {
		return Identity{}, ErrUserNotFound
	}
	user, err := s.repo.GetUserByEmail(ctx, subject)
	if err != nil {
		return Identity{}, err
	}
	if !user.Enabled {
		return Identity{}, ErrUserNotFound
	}
	return Identity{
		Subject:      user.Email,
		Roles:        append([]Role(nil), user.Roles...),
		PasswordHash: user.PasswordHash,
	}, nil
}

// MemoryUserRepository is a process-local UserRepository used when no
// database is configured, and in tests.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]User
	now   func() time.Time
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]User), now: time.Now}
}

func (r *MemoryUserRepository) CreateUser(ctx context.Context, user User) error {
	if err := contextError(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.Email]; ok {
		return ErrUserEmailInUse
	}
	r.users[user.Email] = cloneUser(user)
	return nil
}

func (r *MemoryUserRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	if err := contextError(ctx); err != nil {
		return User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (r *MemoryUserRepository) SetEnabled(ctx context.Context, email string, enabled bool) (User, error) {
	if err := contextError(ctx); err != nil {
		return User{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	u.Enabled = enabled
	u.UpdatedAt = r.now()
	r.users[email] = u
	return cloneUser(u), nil
}

func (r *MemoryUserRepository) UpdatePasswordHash(ctx context.Context, email string, hash PasswordHash) error {
	if err := contextError(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[email]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = r.now()
	r.users[email] = u
	return nil
}

func (r *MemoryUserRepository) CountUsers(ctx context.Context) (int, error) {
	if err := contextError(ctx); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), nil
}

func cloneUser(u User) User {
	u.Roles = append([]Role(nil), u.Roles...)
	u.PasswordHash.Salt = append([]byte(nil), u.PasswordHash.Salt...)
	u.PasswordHash.Value = append([]byte(nil), u.PasswordHash.Value...)
	return u
}
