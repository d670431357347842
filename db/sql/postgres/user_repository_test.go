package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/adeilh/rakh-auth/auth"
	testpg "github.com/adeilh/rakh-auth/internal/testutil/postgrescontainer"
)

const testTimeout = 5 * time.Second

var testDSN string

func TestMain(m *testing.M) {
	if !testpg.Enabled() {
		os.Exit(m.Run())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	container, err := testpg.Start(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	testDSN = container.DSN()
	code := m.Run()
	_ = container.Terminate(context.Background())
	os.Exit(code)
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background()); !errors.Is(err, ErrMissingDSN) {
		t.Fatalf("expected ErrMissingDSN got %v", err)
	}
}

func TestApplyMigrationsNilDB(t *testing.T) {
	if err := ApplyMigrations(context.Background(), nil, UsersTable); !errors.Is(err, ErrNilDB) {
		t.Fatalf("expected ErrNilDB got %v", err)
	}
}

func TestUserRepositoryCRUD(t *testing.T) {
	db := openTestDB(t)
	repo := NewUserRepository(db)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Microsecond)
	user := auth.User{
		ID:    "11111111-1111-1111-1111-111111111111",
		Email: "test@example.com",
		Roles: []auth.Role{auth.RoleAdmin, auth.RoleUser},
		PasswordHash: auth.PasswordHash{
			Algorithm: auth.AlgorithmBcrypt,
			Cost:      10,
			Value:     []byte("hash"),
			CreatedAt: now,
		},
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}
	if err := repo.CreateUser(ctx, user); !errors.Is(err, auth.ErrUserEmailInUse) {
		t.Fatalf("expected ErrUserEmailInUse got %v", err)
	}

	fetched, err := repo.GetUserByEmail(ctx, user.Email)
	if err != nil {
		t.Fatalf("GetUserByEmail error: %v", err)
	}
	if fetched.ID != user.ID || len(fetched.Roles) != 2 || string(fetched.PasswordHash.Value) != "hash" {
		t.Fatalf("unexpected user: %+v", fetched)
	}

	if err := repo.UpdatePasswordHash(ctx, user.Email, auth.PasswordHash{Algorithm: auth.AlgorithmBcrypt, Value: []byte("hash2")}); err != nil {
		t.Fatalf("UpdatePasswordHash error: %v", err)
	}

	disabled, err := repo.SetEnabled(ctx, user.Email, false)
	if err != nil {
		t.Fatalf("SetEnabled error: %v", err)
	}
	if disabled.Enabled {
		t.Fatalf("expected user to be disabled")
	}
	if string(disabled.PasswordHash.Value) != "hash2" {
		t.Fatalf("expected updated hash got %q", disabled.PasswordHash.Value)
	}

	if n, err := repo.CountUsers(ctx); err != nil || n != 1 {
		t.Fatalf("CountUsers = %d, %v", n, err)
	}

	if _, err := repo.SetEnabled(ctx, "missing@example.com", true); !errors.Is(err, auth.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound on missing user got %v", err)
	}
	if err := repo.UpdatePasswordHash(ctx, "missing@example.com", auth.PasswordHash{}); !errors.Is(err, auth.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound on missing hash update got %v", err)
	}
	if err := repo.CreateUser(ctx, auth.User{ID: "not-a-uuid", Email: "x@example.com"}); !errors.Is(err, auth.ErrUserInvalidInput) {
		t.Fatalf("expected ErrUserInvalidInput got %v", err)
	}
}

func TestUserServiceOverPostgres(t *testing.T) {
	db := openTestDB(t)
	svc, err := auth.NewUserService(auth.UserServiceConfig{
		Repository: NewUserRepository(db),
		Hasher:     auth.NewBcryptHasher(4),
	})
	if err != nil {
		t.Fatalf("NewUserService error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	password, err := svc.SeedAdmin(ctx, "root@example.com")
	if err != nil || password == "" {
		t.Fatalf("SeedAdmin = %q, %v", password, err)
	}
	id, err := svc.LookupIdentity(ctx, "ROOT@example.com")
	if err != nil {
		t.Fatalf("LookupIdentity error: %v", err)
	}
	if len(id.Roles) != 1 || id.Roles[0] != auth.RoleAdmin {
		t.Fatalf("unexpected roles: %v", id.Roles)
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testDSN == "" {
		t.Skip("set GO_TEST_INTEGRATION=1 to run PostgreSQL tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	db, err := Open(ctx, WithDSN(testDSN), WithPool(4, 2))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS users"); err != nil {
		t.Fatalf("drop users: %v", err)
	}
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("Migrate error: %v", err)
	}
	return db
}
