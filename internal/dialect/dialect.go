// Package dialect holds the engine-specific SQL text colmask needs: metadata
// queries, identifier quoting, placeholders, column type changes and the
// schema catalog statements.
package dialect

import (
	"database/sql"
	"io/fs"
	"strings"

	migratedb "github.com/golang-migrate/migrate/v4/database"

	"github.com/colmask/colmask/internal/typesig"
)

// Conn holds the connection facts a dialect turns into a DSN.
type Conn struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSL      bool
}

// CatalogSQL holds the statements the schema catalog runs. Placeholders are
// already in the dialect's style.
type CatalogSQL struct {
	// CountColumns: table -> count
	CountColumns   string
	// SelectColumn: table, column -> descriptor row
	SelectColumn   string
	// SelectColumns: table -> descriptor rows in ordinal order
	SelectColumns  string
	// SelectTables: -> distinct table names
	SelectTables   string
	// InsertColumn: table, column, data type, full type, default, nullable, ordinal.
	// Affects zero rows when the (table, column) entry already exists.
	InsertColumn   string
	// SelectStatus: table -> status, updated at, error
	SelectStatus   string
	// SelectStatuses: -> table, status, updated at, error
	SelectStatuses string
	// UpsertStatus: table, status, updated at, error
	UpsertStatus   string
}

// Dialect describes one database engine.
type Dialect interface {
	// Name is the config value selecting this dialect.
	Name() string
	// DriverName is the database/sql driver name.
	DriverName() string
	// DSN builds a connection string.
	DSN(c Conn) string
	// WithDatabase points an existing connection string at database.
	WithDatabase(dsn, database string) (string, error)
	// DefaultSchema is used when no schema is configured.
	DefaultSchema() string

	QuoteIdent(name string) string
	Placeholder(n int) string

	// WideTextType is the unbounded unicode text type encoded columns use.
	WideTextType() string
	// Rules drive signature building for this engine's metadata.
	Rules() typesig.Rules

	// ListTablesSQL: schema -> base table names.
	ListTablesSQL() string
	// ColumnNamesSQL: schema, table -> column names in ordinal order.
	ColumnNamesSQL() string
	// ColumnMetadataSQL: schema, table -> name, data type, char length,
	// numeric precision, numeric scale, datetime precision, is nullable
	// ('YES'/'NO'), default expression.
	ColumnMetadataSQL() string
	// PrimaryKeySQL: schema, table -> key column names in key order.
	PrimaryKeySQL() string

	// AlterColumnTypeSQL changes column to sig. table and column are already
	// quoted. notNull is only honored by engines whose ALTER resets nullability.
	AlterColumnTypeSQL(table, column, sig string, notNull bool) string
	// UnconvertibleSQL counts the values of column that cannot be converted
	// to sig, for engines where a failed conversion inside ALTER ends the
	// transaction. Empty when no check is needed.
	UnconvertibleSQL(table, column, sig string) string
	// CompareExpr wraps a quoted column so equality and DISTINCT are
	// case-sensitive for a column currently typed sig.
	CompareExpr(column, sig string) string

	SavepointSQL(name string) string
	RollbackToSavepointSQL(name string) string

	Catalog() CatalogSQL
	// InternalTables are catalog and bookkeeping tables that are never
	// scanned or masked.
	InternalTables() []string

	// Migrations returns the embedded catalog migrations and their directory.
	Migrations() (fs.FS, string)
	// MigrationDriver wraps db for golang-migrate.
	MigrationDriver(db *sql.DB) (migratedb.Driver, error)
}

// MigrationsTable is the golang-migrate version table colmask owns.
const MigrationsTable = "colmask_schema_migrations"

// UnsupportedError is returned for unknown driver names.
type UnsupportedError struct {
	Driver string
}

func (e *UnsupportedError) Error() string {
	return "unsupported database driver: " + e.Driver
}

// Get returns the dialect registered under name.
func Get(name string) (Dialect, error) {
	switch name {
	case "sqlserver", "mssql":
		return SQLServer{}, nil
	case "postgresql", "postgres":
		return Postgres{}, nil
	default:
		return nil, &UnsupportedError{Driver: name}
	}
}

// Names lists the supported driver names.
func Names() []string {
	return []string{"sqlserver", "postgresql"}
}

// Qualify returns schema.table quoted for d.
func Qualify(d Dialect, schema, table string) string {
	if schema == "" {
		return d.QuoteIdent(table)
	}
	return d.QuoteIdent(schema) + "." + d.QuoteIdent(table)
}

// IsInternal reports whether table is one of d's bookkeeping tables.
func IsInternal(d Dialect, table string) bool {
	for _, t := range d.InternalTables() {
		if strings.EqualFold(t, table) {
			return true
		}
	}
	return false
}

