//go:build integration

package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/colmask/colmask/internal/catalog"
	"github.com/colmask/colmask/internal/database"
	"github.com/colmask/colmask/internal/dialect"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// pgConnString returns COLMASK_TEST_PG_URL when set, otherwise a shared
// PostgreSQL container started once per package.
func pgConnString(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("COLMASK_TEST_PG_URL"); url != "" {
		return url
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		pg, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("colmask"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("starting postgres container: %w", err)
			return
		}
		sharedConnStr, containerErr = pg.ConnectionString(ctx, "sslmode=disable")
	})
	require.NoError(t, containerErr)
	return sharedConnStr
}

// freshDatabase creates an empty database for one test and opens it.
func freshDatabase(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()
	base := pgConnString(t)
	d := dialect.Postgres{}

	admin, err := sql.Open("pgx", base)
	require.NoError(t, err)
	defer admin.Close()

	name := fmt.Sprintf("colmask_%d", time.Now().UnixNano())
	_, err = admin.ExecContext(ctx, "CREATE DATABASE "+name)
	require.NoError(t, err)

	dsn, err := d.WithDatabase(base, name)
	require.NoError(t, err)

	db, err := database.Open(ctx, d, dsn, "public")
	require.NoError(t, err)
	require.NoError(t, catalog.Init(ctx, db))

	t.Cleanup(func() {
		_ = db.Close()
		if a, err := sql.Open("pgx", base); err == nil {
			_, _ = a.ExecContext(context.Background(), "DROP DATABASE IF EXISTS "+name+" WITH (FORCE)")
			_ = a.Close()
		}
	})
	return db
}

func exec(t *testing.T, db *database.DB, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		_, err := db.SQL().ExecContext(context.Background(), s)
		require.NoError(t, err, s)
	}
}

func columnType(t *testing.T, db *database.DB, table, column string) (string, bool) {
	t.Helper()
	var typ, nullable string
	err := db.SQL().QueryRowContext(context.Background(), `
		SELECT format_type(a.atttypid, a.atttypmod), CASE WHEN a.attnotnull THEN 'NO' ELSE 'YES' END
		FROM pg_attribute a JOIN pg_class c ON c.oid = a.attrelid
		WHERE c.relname = $1 AND a.attname = $2`, table, column).Scan(&typ, &nullable)
	require.NoError(t, err)
	return typ, nullable == "YES"
}

func values(t *testing.T, db *database.DB, table, column string) []string {
	t.Helper()
	rows, err := db.SQL().QueryContext(context.Background(),
		fmt.Sprintf(`SELECT %s::text FROM %s WHERE %s IS NOT NULL ORDER BY id`, column, table, column))
	require.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		out = append(out, v)
	}
	require.NoError(t, rows.Err())
	return out
}
