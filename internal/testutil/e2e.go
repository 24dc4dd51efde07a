//go:build integration

package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dyluth/retro/pkg/board"
	"github.com/dyluth/retro/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// E2EEnvironment represents an isolated test environment backed by a real
// Redis container.
type E2EEnvironment struct {
	T            *testing.T
	TmpDir       string
	InstanceName string
	RedisURL     string
	Store        *store.RedisStore
	Ctx          context.Context
}

// StartRedis starts a Redis container with keyspace expiry notifications
// enabled and returns its URL. The container is terminated on test cleanup.
func StartRedis(t *testing.T) string {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		Cmd:          []string{"redis-server", "--notify-keyspace-events", "Ex"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start Redis container")

	t.Cleanup(func() {
		if err := redisC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	})

	host, err := redisC.Host(ctx)
	require.NoError(t, err, "Failed to get container host")
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err, "Failed to get container port")

	return fmt.Sprintf("redis://%s:%s", host, port.Port())
}

// SetupE2EEnvironment starts Redis and connects a store under a unique
// instance name.
func SetupE2EEnvironment(t *testing.T, opts store.Options, ropts ...store.RedisOption) *E2EEnvironment {
	ctx := context.Background()
	redisURL := StartRedis(t)

	redisOpts, err := redis.ParseURL(redisURL)
	require.NoError(t, err, "Failed to parse Redis URL")

	// Generate unique instance name with microseconds for uniqueness
	instanceName := fmt.Sprintf("test-e2e-%s", time.Now().Format("20060102-150405-000000"))

	st, err := store.NewRedisStore(redisOpts, instanceName, opts, ropts...)
	require.NoError(t, err, "Failed to create store")
	require.NoError(t, st.Ping(ctx), "Redis is not reachable")

	env := &E2EEnvironment{
		T:            t,
		TmpDir:       t.TempDir(),
		InstanceName: instanceName,
		RedisURL:     redisURL,
		Store:        st,
		Ctx:          ctx,
	}
	t.Cleanup(func() { env.Store.Close() })
	return env
}

// CreateBoard creates an empty board and returns its handle.
func (env *E2EEnvironment) CreateBoard(boardID string) *board.Board {
	root := board.NewBoardNode(boardID, board.Content{"name": boardID}, "e2e", time.Now().UnixMilli())
	require.NoError(env.T, env.Store.CreateBoard(env.Ctx, root, false), "Failed to create board")
	env.T.Logf("✓ Created board %s", boardID)
	return board.New(boardID, env.Store)
}

// WaitForLockRelease polls until the node has no lock (up to timeout).
func (env *E2EEnvironment) WaitForLockRelease(nodeID string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		token, err := env.Store.GetNodeLock(env.Ctx, nodeID)
		if err == nil && token == "" {
			env.T.Logf("✓ Lock on %s released", nodeID)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	require.Fail(env.T, fmt.Sprintf("Lock on %s was not released within %s", nodeID, timeout))
}

// WriteConfig writes a retro.yml into the environment's temp directory
// and returns its path.
func (env *E2EEnvironment) WriteConfig(content string) string {
	path := filepath.Join(env.TmpDir, "retro.yml")
	require.NoError(env.T, os.WriteFile(path, []byte(content), 0644), "Failed to write retro.yml")
	return path
}

// DefaultRetroYML returns a minimal retro.yml pointing at this environment's Redis.
func (env *E2EEnvironment) DefaultRetroYML() string {
	return fmt.Sprintf(`version: "1.0"
instance: %s
redis:
  url: %s
  keyspace_notifications: true
`, env.InstanceName, env.RedisURL)
}

// GetProjectRoot returns the directory holding go.mod.
func GetProjectRoot() string {
	root, err := os.Getwd()
	if err != nil {
		return "."
	}

	// Walk up until we find go.mod
	for {
		if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
			return root
		}
		parent := filepath.Dir(root)
		if parent == root {
			return "."
		}
		root = parent
	}
}
