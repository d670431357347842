package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/adeilh/rakh-auth/internal/logctx"
)

const (
	MessageAuthSuccess    = "Auth successful. Tokens are created in cookie."
	MessageInvalidRefresh = "Invalid refresh token!"
	MessageLogoutSuccess  = "logout successfully"
)

// Status is the coarse result reported to clients.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Outcome is the result of a lifecycle operation. Cookies are transported
// as Set-Cookie headers, never in the body.
type Outcome struct {
	Status  Status         `json:"status"`
	Message string         `json:"message"`
	Cookies []*http.Cookie `json:"-"`
}

// Rehasher is implemented by identity stores that can upgrade a password
// hash after a successful login.
type Rehasher interface {
	RehashIfNeeded(ctx context.Context, subject string, plain []byte, current PasswordHash) error
}

// AuthenticatorConfig wires dependencies for Authenticator. Revocations and
// Events are optional.
type AuthenticatorConfig struct {
	Cipher      *CipherContext
	Codec       *TokenCodec
	Identities  IdentityStore
	Hasher      PasswordHasher
	Cookies     CookieJar
	Revocations RevocationStore
	Events      EventPublisher
	EventsTopic string
	Logger      *slog.Logger
}

// Authenticator runs login, refresh and logout, and authenticates requests
// carrying an access cookie. It keeps no per-session state of its own.
type Authenticator struct {
	cipher      *CipherContext
	codec       *TokenCodec
	identities  IdentityStore
	hasher      PasswordHasher
	cookies     CookieJar
	revocations RevocationStore
	events      eventEmitter
	logger      *slog.Logger

	dummyOnce sync.Once
	dummyHash PasswordHash
}

func NewAuthenticator(cfg AuthenticatorConfig) (*Authenticator, error) {
	if !cfg.Cipher.Ready() {
		return nil, ErrCipherUnavailable
	}
	if cfg.Codec == nil || cfg.Identities == nil || cfg.Hasher == nil {
		return nil, fmt.Errorf("auth: authenticator requires codec, identities and hasher")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topic := cfg.EventsTopic
	if topic == "" {
		topic = EventsTopic
	}
	cookies := cfg.Cookies
	if cookies.opts.Path == "" {
		cookies = NewCookieJar(cookies.opts)
	}
	return &Authenticator{
		cipher:      cfg.Cipher,
		codec:       cfg.Codec,
		identities:  cfg.Identities,
		hasher:      cfg.Hasher,
		cookies:     cookies,
		revocations: cfg.Revocations,
		events:      eventEmitter{pub: cfg.Events, topic: topic, logger: logger},
		logger:      logger,
	}, nil
}

// Login verifies creds and issues tokens according to which inbound cookies
// still hold a valid token for the same subject:
//
//	access  refresh  issued
//	valid   valid    access + refresh
//	valid   invalid  access + refresh
//	invalid valid    access
//	invalid invalid  access + refresh
//
// Bad credentials yield ErrUnauthorized and no cookies.
func (a *Authenticator) Login(ctx context.Context, creds Credentials, accessCookie, refreshCookie string) (Outcome, error) {
	log := logctx.FromOr(ctx, a.logger)

	identity, err := a.verifyCredentials(ctx, creds)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			log.InfoContext(ctx, "login rejected", slog.String("username", NormalizeEmail(creds.Username)))
			a.events.emit(ctx, Event{Type: EventLoginFailed, Subject: NormalizeEmail(creds.Username), OccurredAt: time.Now()})
		}
		return Outcome{}, err
	}

	accessValid := a.validFor(ctx, accessCookie, TokenAccess, identity.Subject)
	refreshValid := a.validFor(ctx, refreshCookie, TokenRefresh, identity.Subject)
	issueRefresh := accessValid || !refreshValid

	kinds := []TokenKind{TokenAccess}
	if issueRefresh {
		kinds = append(kinds, TokenRefresh)
	}
	cookies, err := a.issueCookies(identity, kinds...)
	if err != nil {
		return Outcome{}, err
	}

	if r, ok := a.identities.(Rehasher); ok {
		if err := r.RehashIfNeeded(ctx, identity.Subject, []byte(creds.Password), identity.PasswordHash); err != nil {
			log.WarnContext(ctx, "password rehash failed", slog.Any("err", err))
		}
	}

	log.InfoContext(ctx, "login succeeded",
		slog.String("subject", identity.Subject),
		slog.Bool("inbound_access_valid", accessValid),
		slog.Bool("inbound_refresh_valid", refreshValid),
		slog.Int("cookies", len(cookies)))
	a.events.emit(ctx, Event{Type: EventLoginSucceeded, Subject: identity.Subject, Issued: kindStrings(kinds), OccurredAt: time.Now()})

	return Outcome{Status: StatusSuccess, Message: MessageAuthSuccess, Cookies: cookies}, nil
}

// Refresh exchanges a valid refresh cookie for a new access cookie. Every
// failure, including infrastructure errors, is reported as a FAILURE outcome
// without cookies.
func (a *Authenticator) Refresh(ctx context.Context, refreshCookie string) Outcome {
	log := logctx.FromOr(ctx, a.logger)
	failure := func(reason string) Outcome {
		log.InfoContext(ctx, "refresh denied", slog.String("reason", reason))
		a.events.emit(ctx, Event{Type: EventRefreshDenied, Reason: reason, OccurredAt: time.Now()})
		return Outcome{Status: StatusFailure, Message: MessageInvalidRefresh}
	}

	tok, res := a.check(ctx, a.cipher.Decrypt(refreshCookie), TokenRefresh)
	if res != Valid {
		return failure(res.String())
	}

	identity, err := a.identities.LookupIdentity(ctx, tok.Subject)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			log.ErrorContext(ctx, "identity lookup during refresh", slog.Any("err", err))
			return failure("lookup_error")
		}
		return failure("unknown_subject")
	}

	cookies, err := a.issueCookies(identity, TokenAccess)
	if err != nil {
		log.ErrorContext(ctx, "issue access token during refresh", slog.Any("err", err))
		return failure("issue_error")
	}

	log.InfoContext(ctx, "access token refreshed", slog.String("subject", identity.Subject))
	a.events.emit(ctx, Event{Type: EventTokenRefreshed, Subject: identity.Subject, Issued: []string{string(TokenAccess)}, OccurredAt: time.Now()})
	return Outcome{Status: StatusSuccess, Message: MessageAuthSuccess, Cookies: cookies}
}

// Logout clears every inbound cookie and, when a revocation store is
// configured, denies the presented tokens for the rest of their lifetime.
// It always succeeds.
func (a *Authenticator) Logout(ctx context.Context, inbound []*http.Cookie) Outcome {
	log := logctx.FromOr(ctx, a.logger)

	var subject string
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		tok, res := a.codec.Check(a.cipher.Decrypt(cookieValue(inbound, name)))
		if res != Valid {
			continue
		}
		subject = tok.Subject
		if a.revocations == nil || tok.ID == "" {
			continue
		}
		if err := a.revocations.Revoke(ctx, tok.ID, tok.ExpiresAt); err != nil {
			log.WarnContext(ctx, "token revocation failed", slog.String("kind", string(tok.Kind)), slog.Any("err", err))
		}
	}

	cleared := a.cookies.ExpireAll(inbound)
	log.InfoContext(ctx, "logout", slog.String("subject", subject), slog.Int("cleared", len(cleared)))
	a.events.emit(ctx, Event{Type: EventLoggedOut, Subject: subject, OccurredAt: time.Now()})
	return Outcome{Status: StatusSuccess, Message: MessageLogoutSuccess, Cookies: cleared}
}

// Authenticate resolves an encrypted access cookie to its principal.
func (a *Authenticator) Authenticate(ctx context.Context, accessCookie string) (Principal, error) {
	if accessCookie == "" {
		return Principal{}, ErrTokenNotFound
	}
	raw := a.cipher.Decrypt(accessCookie)
	if raw == "" {
		return Principal{}, ErrTokenMalformed
	}
	tok, res := a.check(ctx, raw, TokenAccess)
	if res != Valid {
		return Principal{}, res.Err()
	}
	return Principal{
		Subject:   tok.Subject,
		Roles:     tok.Roles,
		TokenID:   tok.ID,
		ExpiresAt: tok.ExpiresAt,
	}, nil
}

// check validates raw as a token of kind and consults the revocation list.
// A revocation lookup error counts as revoked.
func (a *Authenticator) check(ctx context.Context, raw string, kind TokenKind) (Token, ValidationResult) {
	tok, res := a.codec.CheckKind(raw, kind)
	if res != Valid || a.revocations == nil || tok.ID == "" {
		return tok, res
	}
	revoked, err := a.revocations.IsRevoked(ctx, tok.ID)
	if err != nil {
		logctx.FromOr(ctx, a.logger).WarnContext(ctx, "revocation lookup failed", slog.Any("err", err))
		return Token{}, Revoked
	}
	if revoked {
		return Token{}, Revoked
	}
	return tok, Valid
}

func (a *Authenticator) validFor(ctx context.Context, cookie string, kind TokenKind, subject string) bool {
	tok, res := a.check(ctx, a.cipher.Decrypt(cookie), kind)
	return res == Valid && tok.Subject == subject
}

func (a *Authenticator) issueCookies(identity Identity, kinds ...TokenKind) ([]*http.Cookie, error) {
	out := make([]*http.Cookie, 0, len(kinds))
	for _, kind := range kinds {
		tok, err := a.codec.Issue(identity.Subject, identity.Roles, kind)
		if err != nil {
			return nil, err
		}
		sealed, err := a.cipher.Seal(tok.Raw)
		if err != nil {
			return nil, err
		}
		name := AccessTokenCookie
		if kind == TokenRefresh {
			name = RefreshTokenCookie
		}
		out = append(out, a.cookies.Issue(name, sealed))
	}
	return out, nil
}

// verifyCredentials returns ErrUnauthorized for any credential mismatch.
// Every rejection pays for one hash comparison.
func (a *Authenticator) verifyCredentials(ctx context.Context, creds Credentials) (Identity, error) {
	subject := NormalizeEmail(creds.Username)
	if subject == "" || creds.Password == "" {
		return Identity{}, a.reject(ctx, creds)
	}
	identity, err := a.identities.LookupIdentity(ctx, subject)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return Identity{}, fmt.Errorf("auth: lookup identity: %w", err)
		}
		return Identity{}, a.reject(ctx, creds)
	}
	if err := a.hasher.Compare(ctx, []byte(creds.Password), identity.PasswordHash); err != nil {
		if ctxErr := contextError(ctx); ctxErr != nil {
			return Identity{}, ctxErr
		}
		logctx.FromOr(ctx, a.logger).DebugContext(ctx, "password compare failed", slog.Any("err", err))
		return Identity{}, ErrUnauthorized
	}
	return identity, nil
}

// reject compares creds against the dummy hash and reports ErrUnauthorized.
func (a *Authenticator) reject(ctx context.Context, creds Credentials) error {
	_ = a.hasher.Compare(ctx, []byte(creds.Password), a.dummy(ctx))
	return ErrUnauthorized
}

func (a *Authenticator) dummy(ctx context.Context) PasswordHash {
	a.dummyOnce.Do(func() {
		secret, err := GenerateSecureToken(16)
		if err != nil {
			return
		}
		hash, err := a.hasher.Hash(ctx, []byte("Dm0-"+secret), PasswordOptions{})
		if err != nil {
			logctx.FromOr(ctx, a.logger).WarnContext(ctx, "dummy hash unavailable", slog.Any("err", err))
			return
		}
		a.dummyHash = hash
	})
	return a.dummyHash
}

func kindStrings(kinds []TokenKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
