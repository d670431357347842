package postgrescontainer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	image       = "postgres:16-alpine"
	exposedPort = "5432/tcp"
	user        = "rakh"
	password    = "secret"
	dbName      = "rakh_test"
)

// Container is a throwaway PostgreSQL instance for integration tests.
type Container struct {
	container tc.Container
	dsn       string
}

// Enabled reports whether integration tests were requested.
func Enabled() bool { return os.Getenv("GO_TEST_INTEGRATION") != "" }

// Start launches PostgreSQL and blocks until it answers pings.
func Start(ctx context.Context) (*Container, error) {
	req := tc.ContainerRequest{
		Image: image,
		Env: map[string]string{
			"POSTGRES_USER":     user,
			"POSTGRES_PASSWORD": password,
			"POSTGRES_DB":       dbName,
		},
		ExposedPorts: []string{exposedPort},
		WaitingFor:   wait.ForListeningPort(exposedPort).WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		return nil, fmt.Errorf("postgrescontainer: start: %w", err)
	}
	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("postgrescontainer: host: %w", err)
	}
	port, err := c.MappedPort(ctx, exposedPort)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("postgrescontainer: port: %w", err)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port.Port(), dbName)
	if err := waitForPostgres(ctx, dsn, 15*time.Second); err != nil {
		_ = c.Terminate(ctx)
		return nil, err
	}
	return &Container{container: c, dsn: dsn}, nil
}

// DSN returns a lib/pq formatted connection string.
func (c *Container) DSN() string { return c.dsn }

// Terminate stops and removes the container.
func (c *Container) Terminate(ctx context.Context) error {
	if c == nil || c.container == nil {
		return nil
	}
	return c.container.Terminate(ctx)
}

// The listening port opens before the server finishes init scripts, so ping until it answers.
func waitForPostgres(ctx context.Context, dsn string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		pingCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		err := func() error {
			db, err := sql.Open("postgres", dsn)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.PingContext(pingCtx)
		}()
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return errors.New("postgres container did not become ready in time")
}
