// Package storetest provides a disposable Postgres-backed BudgetRow store
// for integration tests, mirroring the teacher's internal/testutil
// container-per-test pattern.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/privacysandbox/pbs-go/internal/store"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	postgresdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewTestDB starts a disposable Postgres container, migrates budget_rows
// into it, and returns a connected *gorm.DB plus a cleanup func. Intended
// for integration tests gated by testing.Short().
func NewTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "failed to start postgres container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	time.Sleep(1 * time.Second)

	db, err := gorm.Open(postgresdriver.Open(connStr), &gorm.Config{})
	require.NoError(t, err, "failed to connect to test database")

	require.NoError(t, db.AutoMigrate(&store.BudgetRow{}), "failed to migrate budget_rows")

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}

	return db, cleanup
}
