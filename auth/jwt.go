package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrJWTMissingSigningKey = errors.New("auth: missing signing key")
	ErrJWTUnsupportedAlgo   = errors.New("auth: unsupported jwt algorithm")
	ErrJWTInvalidLifetime   = errors.New("auth: invalid token lifetime")
	ErrJWTInvalidSubject    = errors.New("auth: empty token subject")
)

const (
	DefaultAccessTokenTTL  = 90 * time.Minute
	DefaultRefreshTokenTTL = 180 * time.Minute
	DefaultSigningAlg      = "HS256"
)

var signingMethods = map[string]*jwt.SigningMethodHMAC{
	"HS256": jwt.SigningMethodHS256,
	"HS384": jwt.SigningMethodHS384,
	"HS512": jwt.SigningMethodHS512,
}

type tokenClaims struct {
	Kind  TokenKind `json:"kind"`
	Roles []Role    `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodecOptions configures a TokenCodec. Zero values pick the defaults.
type TokenCodecOptions struct {
	Algorithm  string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Logger     *slog.Logger
}

// TokenCodec issues and validates HMAC-signed JWTs carrying a subject, its
// roles and the token kind.
type TokenCodec struct {
	secret     []byte
	method     *jwt.SigningMethodHMAC
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	newID      func() string
	logger     *slog.Logger
}

// NewTokenCodec validates opts and binds the signing secret.
func NewTokenCodec(secret []byte, opts TokenCodecOptions) (*TokenCodec, error) {
	if len(secret) == 0 {
		return nil, ErrJWTMissingSigningKey
	}
	alg := strings.ToUpper(strings.TrimSpace(opts.Algorithm))
	if alg == "" {
		alg = DefaultSigningAlg
	}
	method, ok := signingMethods[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJWTUnsupportedAlgo, opts.Algorithm)
	}
	if opts.AccessTTL == 0 {
		opts.AccessTTL = DefaultAccessTokenTTL
	}
	if opts.RefreshTTL == 0 {
		opts.RefreshTTL = DefaultRefreshTokenTTL
	}
	if opts.AccessTTL < time.Second || opts.RefreshTTL < time.Second {
		return nil, fmt.Errorf("%w: lifetimes must be at least one second", ErrJWTInvalidLifetime)
	}
	// exp and iat are signed as whole seconds.
	if opts.AccessTTL%time.Second != 0 || opts.RefreshTTL%time.Second != 0 {
		return nil, fmt.Errorf("%w: lifetimes must be whole seconds", ErrJWTInvalidLifetime)
	}
	if opts.RefreshTTL < opts.AccessTTL {
		return nil, fmt.Errorf("%w: refresh lifetime %s is shorter than access lifetime %s",
			ErrJWTInvalidLifetime, opts.RefreshTTL, opts.AccessTTL)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenCodec{
		secret:     append([]byte(nil), secret...),
		method:     method,
		issuer:     opts.Issuer,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		now:        time.Now,
		newID:      uuid.NewString,
		logger:     logger,
	}, nil
}

// SetNowFunc allows injecting a deterministic clock (useful for tests).
func (c *TokenCodec) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		fn = time.Now
	}
	c.now = fn
}

// SetIDFunc overrides the token id generator.
func (c *TokenCodec) SetIDFunc(fn func() string) {
	if fn == nil {
		fn = uuid.NewString
	}
	c.newID = fn
}

// Lifetime returns the configured lifetime for kind.
func (c *TokenCodec) Lifetime(kind TokenKind) time.Duration {
	if kind == TokenRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

// Issue signs a new token for subject. iat is truncated to whole seconds and
// lifetimes are whole seconds, so the signed exp equals ExpiresAt.
func (c *TokenCodec) Issue(subject string, roles []Role, kind TokenKind) (Token, error) {
	if strings.TrimSpace(subject) == "" {
		return Token{}, ErrJWTInvalidSubject
	}
	if !kind.Valid() {
		return Token{}, fmt.Errorf("%w: kind %q", ErrTokenMalformed, kind)
	}
	if !validRoles(roles) {
		return Token{}, ErrUnknownRole
	}

	roles = normalizeRoles(roles)
	issued := c.now().Truncate(time.Second)
	expires := issued.Add(c.Lifetime(kind))
	id := c.newID()

	claims := tokenClaims{
		Kind:  kind,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	raw, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return Token{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return Token{
		Kind:      kind,
		Raw:       raw,
		ID:        id,
		Subject:   subject,
		Roles:     roles,
		IssuedAt:  issued,
		ExpiresAt: expires,
	}, nil
}

// Check parses raw and classifies it. The returned Token is populated only
// when the result is Valid.
func (c *TokenCodec) Check(raw string) (Token, ValidationResult) {
	if raw == "" {
		return Token{}, Malformed
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &tokenClaims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		res := classifyJWTError(err)
		c.logger.Debug("token rejected", slog.String("result", res.String()), slog.Any("err", err))
		return Token{}, res
	}
	if claims.Subject == "" || !claims.Kind.Valid() || !validRoles(claims.Roles) || claims.IssuedAt == nil {
		return Token{}, Malformed
	}

	return Token{
		Kind:      claims.Kind,
		Raw:       raw,
		ID:        claims.ID,
		Subject:   claims.Subject,
		Roles:     claims.Roles,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, Valid
}

// CheckKind is Check plus a kind assertion.
func (c *TokenCodec) CheckKind(raw string, kind TokenKind) (Token, ValidationResult) {
	tok, res := c.Check(raw)
	if res != Valid {
		return Token{}, res
	}
	if tok.Kind != kind {
		return Token{}, WrongKind
	}
	return tok, Valid
}

// Validate reports whether raw is well-formed, correctly signed and not
// expired. Any failure is false; it never errors.
func (c *TokenCodec) Validate(raw string) bool {
	_, res := c.Check(raw)
	return res == Valid
}

// SubjectOf extracts the subject claim without verifying the token. Callers
// are expected to Validate first. Malformed input yields "".
func (c *TokenCodec) SubjectOf(raw string) string {
	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return ""
	}
	return claims.Subject
}

func classifyJWTError(err error) ValidationResult {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return BadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return Expired
	default:
		return Malformed
	}
}
