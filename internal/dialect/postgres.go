package dialect

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"

	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/colmask/colmask/internal/typesig"
)

//go:embed migrations/postgresql/*.sql
var postgresMigrations embed.FS

// Postgres is the PostgreSQL dialect, driven through pgx's database/sql driver.
type Postgres struct{}

func (Postgres) Name() string          { return "postgresql" }
func (Postgres) DriverName() string    { return "pgx" }
func (Postgres) DefaultSchema() string { return "public" }
func (Postgres) WideTextType() string  { return "TEXT" }

func (Postgres) DSN(c Conn) string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	if c.SSL {
		q.Set("sslmode", "require")
	} else {
		q.Set("sslmode", "disable")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (Postgres) WithDatabase(dsn, database string) (string, error) {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parsing connection string: %w", err)
		}
		u.Path = "/" + database
		return u.String(), nil
	}
	// key=value form; a later dbname wins.
	return strings.TrimSpace(dsn) + " dbname=" + quoteKeyValue(database), nil
}

func quoteKeyValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func (Postgres) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Postgres) Rules() typesig.Rules {
	return typesig.Rules{
		Character: typesig.Set("varchar", "bpchar", "bit", "varbit"),
		Decimal:   typesig.Set("numeric"),
		Datetime:  typesig.Set("timestamp", "timestamptz", "time", "timetz", "interval"),
		Textual:   typesig.Set("varchar", "bpchar", "text", "name", "citext"),
	}
}

func (Postgres) ListTablesSQL() string {
	return `SELECT table_name FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`
}

func (Postgres) ColumnNamesSQL() string {
	return `SELECT column_name FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`
}

func (Postgres) ColumnMetadataSQL() string {
	return `SELECT column_name, udt_name, character_maximum_length, numeric_precision,
       numeric_scale, datetime_precision, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`
}

func (Postgres) PrimaryKeySQL() string {
	return `SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
 AND tc.table_name = kcu.table_name
WHERE tc.constraint_type = 'PRIMARY KEY'
  AND tc.table_schema = $1 AND tc.table_name = $2
ORDER BY kcu.ordinal_position`
}

// AlterColumnTypeSQL ignores notNull: ALTER ... TYPE keeps nullability.
// Textual targets use the assignment cast, which fails on values that do
// not fit where an explicit cast would truncate them.
func (p Postgres) AlterColumnTypeSQL(table, column, sig string, _ bool) string {
	if typesig.IsTextual(p.Rules(), sig) {
		return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s", table, column, sig)
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s", table, column, sig, column, sig)
}

// UnconvertibleSQL is empty: a failed ALTER is undone by rolling back to
// the savepoint.
func (Postgres) UnconvertibleSQL(_, _, _ string) string { return "" }

// CompareExpr returns column unchanged; text comparison is already exact.
func (Postgres) CompareExpr(column, _ string) string { return column }

func (Postgres) SavepointSQL(name string) string { return "SAVEPOINT " + name }

func (Postgres) RollbackToSavepointSQL(name string) string {
	return "ROLLBACK TO SAVEPOINT " + name
}

func (Postgres) Catalog() CatalogSQL {
	return CatalogSQL{
		CountColumns: `SELECT COUNT(*) FROM table_schema_info WHERE table_name = $1`,
		SelectColumn: `SELECT table_name, column_name, data_type, full_type, default_value, is_nullable, ordinal_position
FROM table_schema_info WHERE table_name = $1 AND column_name = $2`,
		SelectColumns: `SELECT table_name, column_name, data_type, full_type, default_value, is_nullable, ordinal_position
FROM table_schema_info WHERE table_name = $1 ORDER BY ordinal_position, column_name`,
		SelectTables: `SELECT DISTINCT table_name FROM table_schema_info ORDER BY table_name`,
		InsertColumn: `INSERT INTO table_schema_info
    (table_name, column_name, data_type, full_type, default_value, is_nullable, ordinal_position)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (table_name, column_name) DO NOTHING`,
		SelectStatus:   `SELECT status, updated_at, error FROM table_schema_scan WHERE table_name = $1`,
		SelectStatuses: `SELECT table_name, status, updated_at, error FROM table_schema_scan ORDER BY table_name`,
		UpsertStatus: `INSERT INTO table_schema_scan (table_name, status, updated_at, error)
VALUES ($1, $2, $3, $4)
ON CONFLICT (table_name) DO UPDATE
SET status = excluded.status, updated_at = excluded.updated_at, error = excluded.error`,
	}
}

func (Postgres) InternalTables() []string {
	return []string{"table_schema_info", "table_schema_scan", MigrationsTable}
}

func (Postgres) Migrations() (fs.FS, string) {
	return postgresMigrations, "migrations/postgresql"
}

func (Postgres) MigrationDriver(db *sql.DB) (migratedb.Driver, error) {
	return migratepg.WithInstance(db, &migratepg.Config{MigrationsTable: MigrationsTable})
}
