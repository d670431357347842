package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrPasswordTooShort         = errors.New("auth: password too short")
	ErrPasswordTooLong          = errors.New("auth: password too long")
	ErrPasswordNoUppercase      = errors.New("auth: password must contain uppercase letter")
	ErrPasswordNoLowercase      = errors.New("auth: password must contain lowercase letter")
	ErrPasswordNoDigit          = errors.New("auth: password must contain digit")
	ErrPasswordCommon           = errors.New("auth: password is too common")
	ErrPasswordMismatch         = errors.New("auth: password does not match")
	ErrPasswordInvalidAlgorithm = errors.New("auth: unsupported password algorithm")
	ErrPasswordInvalidHash      = errors.New("auth: invalid password hash")
)

const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLength = 8
	MaxPasswordLength = 72
	defaultSaltLength = 16
)

// PasswordHash is the stored form of a password. It is persisted as JSON.
type PasswordHash struct {
	Algorithm string    `json:"algorithm"`
	Cost      int       `json:"cost,omitempty"`
	Salt      []byte    `json:"salt,omitempty"`
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// PasswordOptions tweaks a single Hash or NeedsRehash call.
type PasswordOptions struct {
	Cost   int
	MaxAge time.Duration
}

// PasswordPolicy is the strength rule set applied before hashing.
type PasswordPolicy struct {
	MinLength        int
	MaxLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireDigit     bool
	RejectCommon     bool
}

func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        MinPasswordLength,
		MaxLength:        MaxPasswordLength,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireDigit:     true,
		RejectCommon:     true,
	}
}

// Check returns the first rule plain violates.
func (p PasswordPolicy) Check(plain []byte) error {
	minLen, maxLen := p.MinLength, p.MaxLength
	if minLen <= 0 {
		minLen = MinPasswordLength
	}
	if maxLen <= 0 {
		maxLen = MaxPasswordLength
	}
	s := string(plain)
	n := len([]rune(s))
	if n < minLen {
		return ErrPasswordTooShort
	}
	// bcrypt silently truncates past 72 bytes, so the byte length is what counts.
	if len(plain) > maxLen {
		return ErrPasswordTooLong
	}

	var upper, lower, digit bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	switch {
	case p.RequireUppercase && !upper:
		return ErrPasswordNoUppercase
	case p.RequireLowercase && !lower:
		return ErrPasswordNoLowercase
	case p.RequireDigit && !digit:
		return ErrPasswordNoDigit
	case p.RejectCommon && isCommonPassword(s):
		return ErrPasswordCommon
	}
	return nil
}

// HasherOption configures behaviour shared by every hasher.
type HasherOption func(*hasherBase)

// WithPepper mixes a server-side secret into every password.
func WithPepper(pepper []byte) HasherOption {
	return func(b *hasherBase) { b.pepper = append([]byte(nil), pepper...) }
}

// WithPasswordPolicy replaces the default strength policy.
func WithPasswordPolicy(p PasswordPolicy) HasherOption {
	return func(b *hasherBase) { b.policy = p }
}

// WithHashMaxAge flags hashes older than d for rehash.
func WithHashMaxAge(d time.Duration) HasherOption {
	return func(b *hasherBase) {
		if d > 0 {
			b.maxAge = d
		}
	}
}

// WithHasherClock sets a custom time function for testing.
func WithHasherClock(fn func() time.Time) HasherOption {
	return func(b *hasherBase) {
		if fn != nil {
			b.now = fn
		}
	}
}

type hasherBase struct {
	pepper []byte
	policy PasswordPolicy
	maxAge time.Duration
	now    func() time.Time
}

func newHasherBase(opts []HasherOption) hasherBase {
	b := hasherBase{policy: DefaultPasswordPolicy(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&b)
		}
	}
	return b
}

func (b hasherBase) peppered(plain []byte) []byte {
	out := make([]byte, 0, len(plain)+len(b.pepper))
	out = append(out, plain...)
	return append(out, b.pepper...)
}

func (b hasherBase) stale(hash PasswordHash, opts PasswordOptions) bool {
	maxAge := b.maxAge
	if opts.MaxAge > 0 {
		maxAge = opts.MaxAge
	}
	return maxAge > 0 && !hash.CreatedAt.IsZero() && b.now().Sub(hash.CreatedAt) > maxAge
}

// BcryptHasher implements PasswordHasher with bcrypt.
type BcryptHasher struct {
	hasherBase
	cost int
}

// NewBcryptHasher falls back to DefaultBcryptCost when cost is out of range.
func NewBcryptHasher(cost int, opts ...HasherOption) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &BcryptHasher{hasherBase: newHasherBase(opts), cost: cost}
}

func (h *BcryptHasher) Hash(ctx context.Context, plain []byte, opts PasswordOptions) (PasswordHash, error) {
	if err := contextError(ctx); err != nil {
		return PasswordHash{}, err
	}
	if err := h.policy.Check(plain); err != nil {
		return PasswordHash{}, err
	}
	cost := h.cost
	if opts.Cost >= bcrypt.MinCost && opts.Cost <= bcrypt.MaxCost {
		cost = opts.Cost
	}
	input := h.peppered(plain)
	defer clearBytes(input)
	value, err := bcrypt.GenerateFromPassword(input, cost)
	if err != nil {
		return PasswordHash{}, fmt.Errorf("auth: bcrypt hash: %w", err)
	}
	return PasswordHash{Algorithm: AlgorithmBcrypt, Cost: cost, Value: value, CreatedAt: h.now()}, nil
}

func (h *BcryptHasher) Compare(ctx context.Context, plain []byte, hash PasswordHash) error {
	if err := contextError(ctx); err != nil {
		return err
	}
	if hash.Algorithm != AlgorithmBcrypt {
		return ErrPasswordInvalidAlgorithm
	}
	if len(hash.Value) == 0 {
		return ErrPasswordInvalidHash
	}
	input := h.peppered(plain)
	defer clearBytes(input)
	err := bcrypt.CompareHashAndPassword(hash.Value, input)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrPasswordMismatch
	default:
		return fmt.Errorf("%w: %v", ErrPasswordInvalidHash, err)
	}
}

func (h *BcryptHasher) NeedsRehash(hash PasswordHash, opts PasswordOptions) bool {
	if hash.Algorithm != AlgorithmBcrypt {
		return true
	}
	want := h.cost
	if opts.Cost > 0 {
		want = opts.Cost
	}
	if stored, err := bcrypt.Cost(hash.Value); err != nil || stored < want {
		return true
	}
	return h.stale(hash, opts)
}

// Argon2Params are the argon2id tuning knobs. Memory is in KiB.
type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: 3, Memory: 64 * 1024, Threads: 4, KeyLen: 32}
}

// Argon2idHasher implements PasswordHasher with argon2id. The parameters are
// encoded in the stored value so they can change without breaking old hashes.
type Argon2idHasher struct {
	hasherBase
	params Argon2Params
}

func NewArgon2idHasher(params Argon2Params, opts ...HasherOption) *Argon2idHasher {
	def := DefaultArgon2Params()
	if params.Time == 0 {
		params.Time = def.Time
	}
	if params.Memory == 0 {
		params.Memory = def.Memory
	}
	if params.Threads == 0 {
		params.Threads = def.Threads
	}
	if params.KeyLen == 0 {
		params.KeyLen = def.KeyLen
	}
	return &Argon2idHasher{hasherBase: newHasherBase(opts), params: params}
}

func (h *Argon2idHasher) Hash(ctx context.Context, plain []byte, _ PasswordOptions) (PasswordHash, error) {
	if err := contextError(ctx); err != nil {
		return PasswordHash{}, err
	}
	if err := h.policy.Check(plain); err != nil {
		return PasswordHash{}, err
	}
	salt := make([]byte, defaultSaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return PasswordHash{}, fmt.Errorf("auth: salt: %w", err)
	}
	input := h.peppered(plain)
	defer clearBytes(input)
	p := h.params
	key := argon2.IDKey(input, salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return PasswordHash{
		Algorithm: AlgorithmArgon2id,
		Cost:      int(p.Time),
		Salt:      salt,
		Value:     encodeArgon2(p, salt, key),
		CreatedAt: h.now(),
	}, nil
}

func (h *Argon2idHasher) Compare(ctx context.Context, plain []byte, hash PasswordHash) error {
	if err := contextError(ctx); err != nil {
		return err
	}
	if hash.Algorithm != AlgorithmArgon2id {
		return ErrPasswordInvalidAlgorithm
	}
	p, salt, want, err := decodeArgon2(hash.Value)
	if err != nil {
		return err
	}
	input := h.peppered(plain)
	defer clearBytes(input)
	got := argon2.IDKey(input, salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}

func (h *Argon2idHasher) NeedsRehash(hash PasswordHash, opts PasswordOptions) bool {
	if hash.Algorithm != AlgorithmArgon2id {
		return true
	}
	p, _, _, err := decodeArgon2(hash.Value)
	if err != nil {
		return true
	}
	if p.Time < h.params.Time || p.Memory < h.params.Memory || p.Threads < h.params.Threads {
		return true
	}
	return h.stale(hash, opts)
}

// $argon2id$v=19$m=65536,t=3,p=4$<salt>$<key>
func encodeArgon2(p Argon2Params, salt, key []byte) []byte {
	return []byte(fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)))
}

func decodeArgon2(encoded []byte) (Argon2Params, []byte, []byte, error) {
	parts := strings.Split(string(encoded), "$")
	if len(parts) != 6 || parts[1] != AlgorithmArgon2id {
		return Argon2Params{}, nil, nil, ErrPasswordInvalidHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2Params{}, nil, nil, ErrPasswordInvalidHash
	}
	var p Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return Argon2Params{}, nil, nil, ErrPasswordInvalidHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, ErrPasswordInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Argon2Params{}, nil, nil, ErrPasswordInvalidHash
	}
	p.KeyLen = uint32(len(key))
	return p, salt, key, nil
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "passw0rd": {}, "123456": {}, "12345678": {},
	"123456789": {}, "1234567890": {}, "qwerty": {}, "qwerty123": {}, "qwertyuiop": {},
	"abc123": {}, "111111": {}, "letmein": {}, "welcome": {}, "welcome1": {},
	"iloveyou": {}, "admin": {}, "admin123": {}, "changeme": {}, "trustno1": {},
	"monkey": {}, "dragon": {}, "football": {}, "baseball": {}, "sunshine": {},
	"superman": {}, "1qaz2wsx": {}, "zxcvbnm": {}, "master": {}, "shadow": {},
}

func isCommonPassword(s string) bool {
	if _, ok := commonPasswords[strings.ToLower(s)]; ok {
		return true
	}
	return isMonotonic(s) || isRepeated(s)
}

// "abcd", "4321"
func isMonotonic(s string) bool {
	r := []rune(s)
	if len(r) < 4 {
		return false
	}
	up, down := true, true
	for i := 1; i < len(r); i++ {
		d := r[i] - r[i-1]
		up = up && d == 1
		down = down && d == -1
	}
	return up || down
}

func isRepeated(s string) bool {
	r := []rune(s)
	if len(r) < 4 {
		return false
	}
	for _, c := range r[1:] {
		if c != r[0] {
			return false
		}
	}
	return true
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidateEmail validates an email address format.
func ValidateEmail(email string) bool {
	email = strings.TrimSpace(email)
	return len(email) > 0 && len(email) <= 254 && emailRegex.MatchString(email)
}

// NormalizeEmail is the canonical subject form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GenerateSecureToken returns length random bytes, base64url encoded.
func GenerateSecureToken(length int) (string, error) {
	if length <= 0 {
		length = 32
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("auth: secure token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
