package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/adeilh/rakh-auth/cache"
)

// Manager bundles the cipher, token codec, account service and
// authenticator behind a single façade.
type Manager struct {
	cipher *CipherContext
	codec  *TokenCodec
	users  *UserService
	authn  *Authenticator
}

// ManagerConfig wires the dependencies required for Manager. Revocations
// and Events are optional.
type ManagerConfig struct {
	Secret           []byte
	KeyDigest        string
	SigningAlgorithm string
	Issuer           string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	UserRepository   UserRepository
	PasswordHasher   PasswordHasher
	Revocations      cache.Store
	Events           EventPublisher
	Cookies          CookieOptions
	Logger           *slog.Logger
	Now              func() time.Time
}

// NewManager builds a Manager. An unusable secret or digest aborts
// construction.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.UserRepository == nil || cfg.PasswordHasher == nil {
		return nil, errors.New("auth: manager requires a user repository and password hasher")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cipher, err := NewCipherContext(cfg.Secret, cfg.KeyDigest, WithCipherLogger(logger))
	if err != nil {
		return nil, err
	}
	codec, err := NewTokenCodec(cfg.Secret, TokenCodecOptions{
		Algorithm:  cfg.SigningAlgorithm,
		Issuer:     cfg.Issuer,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Now != nil {
		codec.SetNowFunc(cfg.Now)
	}

	users, err := NewUserService(UserServiceConfig{
		Repository: cfg.UserRepository,
		Hasher:     cfg.PasswordHasher,
		Now:        cfg.Now,
	})
	if err != nil {
		return nil, err
	}

	var revocations RevocationStore
	if cfg.Revocations != nil {
		store := NewCacheRevocationStore(cfg.Revocations, RevocationStoreOptions{})
		if cfg.Now != nil {
			store.SetNowFunc(cfg.Now)
		}
		revocations = store
	}

	authn, err := NewAuthenticator(AuthenticatorConfig{
		Cipher:      cipher,
		Codec:       codec,
		Identities:  users,
		Hasher:      cfg.PasswordHasher,
		Cookies:     NewCookieJar(cfg.Cookies),
		Revocations: revocations,
		Events:      cfg.Events,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return &Manager{cipher: cipher, codec: codec, users: users, authn: authn}, nil
}

func (m *Manager) Cipher() *CipherContext { return m.cipher }

func (m *Manager) Codec() *TokenCodec { return m.codec }

func (m *Manager) Users() *UserService { return m.users }

func (m *Manager) Authenticator() *Authenticator { return m.authn }

// Middleware builds request authentication on top of the authenticator.
func (m *Manager) Middleware(opts ...MiddlewareOption) (*Middleware, error) {
	return NewMiddleware(m.authn, opts...)
}

// Login proxies to the authenticator.
func (m *Manager) Login(ctx context.Context, creds Credentials, accessCookie, refreshCookie string) (Outcome, error) {
	return m.authn.Login(ctx, creds, accessCookie, refreshCookie)
}

// Refresh proxies to the authenticator.
func (m *Manager) Refresh(ctx context.Context, refreshCookie string) Outcome {
	return m.authn.Refresh(ctx, refreshCookie)
}

// Logout proxies to the authenticator.
func (m *Manager) Logout(ctx context.Context, inbound []*http.Cookie) Outcome {
	return m.authn.Logout(ctx, inbound)
}
