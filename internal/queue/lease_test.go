//go:build integration

package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLease(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	a := NewLease(client, "emailer:test-runner", time.Minute)
	b := NewLease(client, "emailer:test-runner", time.Minute)

	release, err := a.Acquire(ctx)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	if _, err := b.Acquire(ctx); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("second Acquire error = %v, want ErrLeaseHeld", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	releaseB, err := b.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}

	// A stale release must not drop a lease someone else holds.
	if err := release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if _, err := a.Acquire(ctx); !errors.Is(err, ErrLeaseHeld) {
		t.Errorf("Acquire after stale release error = %v, want ErrLeaseHeld", err)
	}
	_ = releaseB(ctx)
}

func TestRun_LeaseHeld(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	holder := NewLease(client, "emailer:runner", time.Minute)
	release, err := holder.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() { _ = release(ctx) }()

	f := newFixture()
	f.insert(t, "hello", 2)
	r := f.runner(testConfig(), WithLease(NewLease(client, "emailer:runner", time.Minute)))
	if _, err := r.Run(ctx); !errors.Is(err, ErrLeaseHeld) {
		t.Fatalf("Run error = %v, want ErrLeaseHeld", err)
	}
	if f.transport.calls != 0 {
		t.Errorf("transport calls = %d, want 0", f.transport.calls)
	}
}
