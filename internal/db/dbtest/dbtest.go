// Package dbtest opens a migrated Postgres pool for integration tests.
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	dbembed "github.com/memohai/chathub/db"
	"github.com/memohai/chathub/internal/db"
	"github.com/memohai/chathub/internal/logger"
)

// EnvDSN names the variable holding the integration database DSN.
const EnvDSN = "TEST_POSTGRES_DSN"

// Open returns a pool on the integration database with migrations applied.
// The test is skipped when EnvDSN is unset or the database is unreachable.
func Open(t testing.TB) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skipf("skip integration test: %s is not set", EnvDSN)
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skip integration test: cannot connect to database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: database ping failed: %v", err)
	}
	if err := db.RunMigrateDSN(logger.Discard(), dsn, dbembed.MigrationsFS(), "up", nil); err != nil {
		pool.Close()
		t.Fatalf("migrate up: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}
