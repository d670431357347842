package auth

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnauthorized      = errors.New("auth: unauthorized")
	ErrTokenExpired      = errors.New("auth: token expired")
	ErrTokenMalformed    = errors.New("auth: malformed token")
	ErrTokenBadSignature = errors.New("auth: invalid token signature")
	ErrTokenWrongKind    = errors.New("auth: unexpected token kind")
	ErrTokenRevoked      = errors.New("auth: token revoked")
)

// TokenKind distinguishes short-lived access tokens from refresh tokens.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Valid reports whether k is one of the known kinds.
func (k TokenKind) Valid() bool {
	return k == TokenAccess || k == TokenRefresh
}

// Token is a signed credential as issued by TokenCodec. It is never mutated.
type Token struct {
	Kind      TokenKind
	Raw       string
	ID        string
	Subject   string
	Roles     []Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ValidationResult is the outcome of checking a signed token.
type ValidationResult int

const (
	Valid ValidationResult = iota
	Expired
	Malformed
	BadSignature
	WrongKind
	Revoked
)

func (r ValidationResult) String() string {
	switch r {
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	case Malformed:
		return "malformed"
	case BadSignature:
		return "bad_signature"
	case WrongKind:
		return "wrong_kind"
	case Revoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Err maps a non-valid result onto its sentinel error; Valid yields nil.
func (r ValidationResult) Err() error {
	switch r {
	case Valid:
		return nil
	case Expired:
		return ErrTokenExpired
	case BadSignature:
		return ErrTokenBadSignature
	case WrongKind:
		return ErrTokenWrongKind
	case Revoked:
		return ErrTokenRevoked
	default:
		return ErrTokenMalformed
	}
}

// Identity is the read-only view of an account the authenticator needs.
type Identity struct {
	Subject      string
	Roles        []Role
	PasswordHash PasswordHash
}

// Credentials is the login request payload.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

//go:generate mockgen -destination=mocks/mocks.go -package=mocks github.com/adeilh/rakh-auth/auth IdentityStore,PasswordHasher,RevocationStore,EventPublisher

// IdentityStore resolves a subject to its current identity. Implementations
// return ErrUserNotFound for unknown or disabled subjects.
type IdentityStore interface {
	LookupIdentity(ctx context.Context, subject string) (Identity, error)
}

// PasswordHasher manages password hashing and verification.
type PasswordHasher interface {
	Hash(ctx context.Context, plain []byte, opts PasswordOptions) (PasswordHash, error)
	Compare(ctx context.Context, plain []byte, hash PasswordHash) error
	NeedsRehash(hash PasswordHash, opts PasswordOptions) bool
}

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	Subject   string
	Roles     []Role
	TokenID   string
	ExpiresAt time.Time
}

// HasRole reports whether the principal carries any of roles.
func (p Principal) HasRole(roles ...Role) bool {
	for _, have := range p.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Can reports whether any of the principal's roles grants perm.
func (p Principal) Can(perm Permission) bool {
	return HasPermission(p.Roles, perm)
}
