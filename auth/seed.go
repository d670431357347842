package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML document used to pre-provision accounts:
//
//	users:
//	  - email: admin@example.com
//	    password: S3cret-pass
//	    roles: [ADMIN]
type SeedFile struct {
	Users []SeedUser `yaml:"users"`
}

type SeedUser struct {
	Email    string   `yaml:"email"`
	Password string   `yaml:"password"`
	Roles    []string `yaml:"roles"`
	Disabled bool     `yaml:"disabled"`
}

// LoadSeedFile reads and parses a seed document from path.
func LoadSeedFile(path string) (SeedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return SeedFile{}, fmt.Errorf("auth: open seed file: %w", err)
	}
	defer f.Close()
	return ParseSeed(f)
}

func ParseSeed(r io.Reader) (SeedFile, error) {
	var out SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return SeedFile{}, fmt.Errorf("auth: parse seed file: %w", err)
	}
	return out, nil
}

// Seed creates every listed account that does not exist yet and reports how
// many were created. Existing accounts are left untouched.
func (s *UserService) Seed(ctx context.Context, file SeedFile, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	created := 0
	for i, su := range file.Users {
		roles, err := ParseRoles(su.Roles)
		if err != nil {
			return created, fmt.Errorf("auth: seed user %d: %w", i, err)
		}
		user, err := s.CreateUser(ctx, su.Email, []byte(su.Password), roles)
		switch {
		case errors.Is(err, ErrUserEmailInUse):
			logger.DebugContext(ctx, "seed user exists", slog.String("email", NormalizeEmail(su.Email)))
			continue
		case err != nil:
			return created, fmt.Errorf("auth: seed user %q: %w", su.Email, err)
		}
		if su.Disabled {
			if _, err := s.DisableUser(ctx, user.Email); err != nil {
				return created, err
			}
		}
		created++
		logger.InfoContext(ctx, "seeded user", slog.String("email", user.Email), slog.Any("roles", RoleStrings(user.Roles)))
	}
	return created, nil
}

// SeedAdmin creates an ADMIN account with a random password when the store is
// empty. The generated password is returned so the caller can surface it once;
// an empty string means nothing was created.
func (s *UserService) SeedAdmin(ctx context.Context, email string) (string, error) {
	n, err := s.repo.CountUsers(ctx)
	if err != nil {
		return "", err
	}
	if n > 0 {
		return "", nil
	}
	token, err := GenerateSecureToken(18)
	if err != nil {
		return "", err
	}
	// Prefix guarantees the upper, lower and digit classes the policy wants.
	password := "Rk7-" + token
	if _, err := s.CreateUser(ctx, email, []byte(password), []Role{RoleAdmin}); err != nil {
		return "", err
	}
	return password, nil
}
