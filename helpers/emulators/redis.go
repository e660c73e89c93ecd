package emulators

import (
	"context"
	"fmt"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testRedisImage = "redis:7-alpine"
	testRedisPort  = "6379"
)

// GetDefaultRedisImageContainer returns the Redis image used by integration tests.
func GetDefaultRedisImageContainer() ImageContainer {
	return ImageContainer{
		EmulatorImage:    testRedisImage,
		EmulatorHTTPPort: testRedisPort,
	}
}

// SetupRedisContainer starts a Redis container and terminates it when the test ends.
func SetupRedisContainer(t *testing.T, ctx context.Context, cfg ImageContainer) EmulatorConnection {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{fmt.Sprintf("%s/tcp", cfg.EmulatorHTTPPort)},
		WaitingFor:   wait.ForListeningPort(nat.Port(cfg.EmulatorHTTPPort)),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, nat.Port(cfg.EmulatorHTTPPort))
	require.NoError(t, err)

	address := fmt.Sprintf("%s:%s", host, port.Port())
	t.Logf("Redis container started, listening on: %s", address)
	return EmulatorConnection{EmulatorAddress: address}
}
