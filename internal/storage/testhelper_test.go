//go:build integration

package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sungwon/emailer/internal/storage"
)

// sharedDB is migrated once per package run. EMAILER_TEST_DATABASE_URL
// points the tests at an existing server instead of a throwaway container.
var sharedDB *storage.DB

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	dsn := os.Getenv("EMAILER_TEST_DATABASE_URL")
	if dsn == "" {
		container, url, err := startPostgres(ctx)
		if err != nil {
			if container != nil {
				_ = container.Terminate(ctx)
			}
			fmt.Fprintf(os.Stderr, "postgres container: %v\n", err)
			return 1
		}
		defer func() {
			if err := container.Terminate(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "terminate postgres container: %v\n", err)
			}
		}()
		dsn = url
	}

	db, err := storage.NewDB(ctx, dsn, 2, 10, 10*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		return 1
	}
	defer db.Close()

	if err := storage.Migrate(ctx, db, "", nopLogger()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	sharedDB = db
	return m.Run()
}

func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "emailer",
				"POSTGRES_PASSWORD": "emailer",
				"POSTGRES_DB":       "emailer_test",
			},
			// postgres restarts once after initdb, so the ready line shows up twice.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", err
	}

	host, err := c.Host(ctx)
	if err != nil {
		return c, "", err
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return c, "", err
	}
	return c, fmt.Sprintf("postgres://emailer:emailer@%s:%s/emailer_test?sslmode=disable", host, port.Port()), nil
}

// setupTestDB empties both tables so every test starts from a clean queue.
func setupTestDB(t *testing.T) (*storage.DB, *storage.Queries) {
	t.Helper()
	if _, err := sharedDB.Pool.Exec(context.Background(), "TRUNCATE emailer_log, emailer_email"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return sharedDB, storage.New(sharedDB.Pool)
}
