package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const seedYAML = `
users:
  - email: Admin@Example.com
    password: Adm1n-Secret
    roles: [ADMIN]
  - email: reader@example.com
    password: Read3r-Secret
    roles: [role_user]
  - email: gone@example.com
    password: G0ne-Secret
    disabled: true
`

func TestParseSeed(t *testing.T) {
	file, err := ParseSeed(strings.NewReader(seedYAML))
	if err != nil {
		t.Fatalf("ParseSeed() error = %v", err)
	}
	if len(file.Users) != 3 {
		t.Fatalf("users = %d, want 3", len(file.Users))
	}
	if !file.Users[2].Disabled || file.Users[1].Roles[0] != "role_user" {
		t.Fatalf("unexpected parse: %+v", file.Users)
	}

	empty, err := ParseSeed(strings.NewReader(""))
	if err != nil || len(empty.Users) != 0 {
		t.Fatalf("empty seed = %+v, %v", empty, err)
	}

	if _, err := ParseSeed(strings.NewReader("users:\n  - email: a@b.co\n    pasword: typo\n")); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	file, err := LoadSeedFile(path)
	if err != nil || len(file.Users) != 3 {
		t.Fatalf("LoadSeedFile() = %+v, %v", file, err)
	}
	if _, err := LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestUserService(t)
	file, _ := ParseSeed(strings.NewReader(seedYAML))

	created, err := svc.Seed(ctx, file, nil)
	if err != nil || created != 3 {
		t.Fatalf("Seed() = %d, %v", created, err)
	}

	admin, err := svc.LookupIdentity(ctx, "admin@example.com")
	if err != nil || !(Principal{Roles: admin.Roles}).HasRole(RoleAdmin) {
		t.Fatalf("admin identity = %+v, %v", admin, err)
	}
	if _, err := svc.LookupIdentity(ctx, "gone@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("disabled seed user error = %v", err)
	}

	again, err := svc.Seed(ctx, file, nil)
	if err != nil || again != 0 {
		t.Fatalf("second Seed() = %d, %v", again, err)
	}
	if n, _ := repo.CountUsers(ctx); n != 3 {
		t.Fatalf("CountUsers() = %d", n)
	}
}

func TestSeedRejectsUnknownRole(t *testing.T) {
	svc, _ := newTestUserService(t)
	file := SeedFile{Users: []SeedUser{{Email: "x@example.com", Password: testPassword, Roles: []string{"ROOT"}}}}
	if _, err := svc.Seed(context.Background(), file, nil); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("error = %v, want ErrUnknownRole", err)
	}
}

func TestSeedAdmin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestUserService(t)

	password, err := svc.SeedAdmin(ctx, "admin@localhost.local")
	if err != nil {
		t.Fatalf("SeedAdmin() error = %v", err)
	}
	if password == "" {
		t.Fatal("expected generated password")
	}
	id, err := svc.LookupIdentity(ctx, "admin@localhost.local")
	if err != nil {
		t.Fatalf("LookupIdentity() error = %v", err)
	}
	if err := svc.hasher.Compare(ctx, []byte(password), id.PasswordHash); err != nil {
		t.Fatalf("generated password does not verify: %v", err)
	}

	again, err := svc.SeedAdmin(ctx, "other@localhost.local")
	if err != nil || again != "" {
		t.Fatalf("SeedAdmin() on non-empty store = %q, %v", again, err)
	}
}
