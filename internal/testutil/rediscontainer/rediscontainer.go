package rediscontainer

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	image       = "redis:7-alpine"
	exposedPort = "6379/tcp"
)

// Container is a throwaway Redis instance for integration tests.
type Container struct {
	container tc.Container
	addr      string
}

// Enabled reports whether integration tests were requested.
func Enabled() bool { return os.Getenv("GO_TEST_INTEGRATION") != "" }

// Start launches Redis and waits until the port accepts connections.
func Start(ctx context.Context) (*Container, error) {
	req := tc.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{exposedPort},
		WaitingFor:   wait.ForListeningPort(exposedPort).WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		return nil, fmt.Errorf("rediscontainer: start: %w", err)
	}
	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("rediscontainer: host: %w", err)
	}
	port, err := c.MappedPort(ctx, exposedPort)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("rediscontainer: port: %w", err)
	}
	return &Container{container: c, addr: net.JoinHostPort(host, port.Port())}, nil
}

// Addr returns host:port of the running instance.
func (c *Container) Addr() string { return c.addr }

// Terminate stops and removes the container.
func (c *Container) Terminate(ctx context.Context) error {
	if c == nil || c.container == nil {
		return nil
	}
	return c.container.Terminate(ctx)
}
