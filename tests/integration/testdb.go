// Package integration runs the sync service end to end against a fake
// Selling Partner API, on sqlite and on a PostgreSQL container.
package integration

import (
	"context"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/konozy/ordersync/internal/infrastructure/config"
)

// TestDB is a throwaway PostgreSQL container
type TestDB struct {
	Container testcontainers.Container
	DSN       string
	Config    config.DatabaseConfig
}

// NewTestDB starts PostgreSQL in a container and terminates it when the
// test ends. Skipped with -short.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ordersync_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("admin123"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	return &TestDB{
		Container: container,
		DSN:       dsn,
		Config:    databaseConfig(t, dsn),
	}
}

// databaseConfig splits a postgres URL into the service's database section
func databaseConfig(t *testing.T, dsn string) config.DatabaseConfig {
	t.Helper()
	u, err := url.Parse(dsn)
	require.NoError(t, err)

	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	password, _ := u.User.Password()

	return config.DatabaseConfig{
		Driver:          "postgres",
		Host:            u.Hostname(),
		Port:            port,
		User:            u.User.Username(),
		Password:        password,
		DBName:          u.Path[1:],
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5,
		ConnMaxIdleTime: 1,
	}
}
