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
	migratemssql "github.com/golang-migrate/migrate/v4/database/sqlserver"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/colmask/colmask/internal/typesig"
)

//go:embed migrations/sqlserver/*.sql
var sqlserverMigrations embed.FS

// binaryCollation makes comparisons case- and accent-sensitive. Base64 text
// differs from other base64 text by case alone.
const binaryCollation = "Latin1_General_BIN2"

// SQLServer is the Microsoft SQL Server dialect.
type SQLServer struct{}

func (SQLServer) Name() string          { return "sqlserver" }
func (SQLServer) DriverName() string    { return "sqlserver" }
func (SQLServer) DefaultSchema() string { return "dbo" }
func (SQLServer) WideTextType() string  { return "NVARCHAR(MAX)" }

func (SQLServer) DSN(c Conn) string {
	port := c.Port
	if port == 0 {
		port = 1433
	}
	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
	}
	q := url.Values{}
	q.Set("database", c.Database)
	if c.SSL {
		q.Set("encrypt", "true")
	} else {
		q.Set("encrypt", "disable")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (SQLServer) WithDatabase(dsn, database string) (string, error) {
	if strings.HasPrefix(dsn, "sqlserver://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parsing connection string: %w", err)
		}
		q := u.Query()
		q.Set("database", database)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	// ADO form; the last database key wins.
	return strings.TrimRight(strings.TrimSpace(dsn), ";") + ";database=" + database, nil
}

func (SQLServer) QuoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (SQLServer) Placeholder(n int) string { return "@p" + strconv.Itoa(n) }

func (SQLServer) Rules() typesig.Rules {
	return typesig.Rules{
		Character:   typesig.Set("char", "varchar", "nchar", "nvarchar", "binary", "varbinary"),
		Decimal:     typesig.Set("decimal", "numeric"),
		Datetime:    typesig.Set("datetime2", "datetimeoffset", "time"),
		Textual:     typesig.Set("char", "varchar", "nchar", "nvarchar", "text", "ntext"),
		MaxSentinel: -1,
	}
}

func (SQLServer) ListTablesSQL() string {
	return `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_SCHEMA = @p1 AND TABLE_TYPE = 'BASE TABLE'
ORDER BY TABLE_NAME`
}

func (SQLServer) ColumnNamesSQL() string {
	return `SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
ORDER BY ORDINAL_POSITION`
}

func (SQLServer) ColumnMetadataSQL() string {
	return `SELECT COLUMN_NAME, DATA_TYPE, CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION,
       NUMERIC_SCALE, DATETIME_PRECISION, IS_NULLABLE, COLUMN_DEFAULT
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
ORDER BY ORDINAL_POSITION`
}

func (SQLServer) PrimaryKeySQL() string {
	return `SELECT kcu.COLUMN_NAME
FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
  ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
 AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
 AND tc.TABLE_NAME = kcu.TABLE_NAME
WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
  AND tc.TABLE_SCHEMA = @p1 AND tc.TABLE_NAME = @p2
ORDER BY kcu.ORDINAL_POSITION`
}

// AlterColumnTypeSQL states nullability explicitly: ALTER COLUMN without it
// falls back to the session default and can silently drop NOT NULL.
func (SQLServer) AlterColumnTypeSQL(table, column, sig string, notNull bool) string {
	null := "NULL"
	if notNull {
		null = "NOT NULL"
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s %s", table, column, sig, null)
}

// UnconvertibleSQL guards ALTERs to non-text types. A conversion error
// (Msg 245, 8114, 8115) aborts the batch and rolls back the open
// transaction, so savepoint recovery cannot undo it.
func (d SQLServer) UnconvertibleSQL(table, column, sig string) string {
	if typesig.IsTextual(d.Rules(), sig) {
		return ""
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NOT NULL AND TRY_CONVERT(%s, %s) IS NULL",
		table, column, sig, column)
}

func (d SQLServer) CompareExpr(column, sig string) string {
	if typesig.IsTextual(d.Rules(), sig) {
		return column + " COLLATE " + binaryCollation
	}
	return column
}

func (SQLServer) SavepointSQL(name string) string { return "SAVE TRANSACTION " + name }

func (SQLServer) RollbackToSavepointSQL(name string) string {
	return "ROLLBACK TRANSACTION " + name
}

func (SQLServer) Catalog() CatalogSQL {
	return CatalogSQL{
		CountColumns: `SELECT COUNT(*) FROM TableSchemaInfo WHERE TableName = @p1`,
		SelectColumn: `SELECT TableName, ColumnName, DataType, FullType, DefaultValue, IsNullable, OrdinalPosition
FROM TableSchemaInfo WHERE TableName = @p1 AND ColumnName = @p2`,
		SelectColumns: `SELECT TableName, ColumnName, DataType, FullType, DefaultValue, IsNullable, OrdinalPosition
FROM TableSchemaInfo WHERE TableName = @p1 ORDER BY OrdinalPosition, ColumnName`,
		SelectTables: `SELECT DISTINCT TableName FROM TableSchemaInfo ORDER BY TableName`,
		InsertColumn: `INSERT INTO TableSchemaInfo
    (TableName, ColumnName, DataType, FullType, DefaultValue, IsNullable, OrdinalPosition)
SELECT @p1, @p2, @p3, @p4, @p5, @p6, @p7
WHERE NOT EXISTS (SELECT 1 FROM TableSchemaInfo WHERE TableName = @p1 AND ColumnName = @p2)`,
		SelectStatus:   `SELECT Status, UpdatedAt, Error FROM TableSchemaScan WHERE TableName = @p1`,
		SelectStatuses: `SELECT TableName, Status, UpdatedAt, Error FROM TableSchemaScan ORDER BY TableName`,
		UpsertStatus: `MERGE TableSchemaScan AS t
USING (SELECT @p1 AS TableName) AS s ON t.TableName = s.TableName
WHEN MATCHED THEN UPDATE SET Status = @p2, UpdatedAt = @p3, Error = @p4
WHEN NOT MATCHED THEN INSERT (TableName, Status, UpdatedAt, Error) VALUES (@p1, @p2, @p3, @p4);`,
	}
}

func (SQLServer) InternalTables() []string {
	return []string{"TableSchemaInfo", "TableSchemaScan", MigrationsTable}
}

func (SQLServer) Migrations() (fs.FS, string) {
	return sqlserverMigrations, "migrations/sqlserver"
}

func (SQLServer) MigrationDriver(db *sql.DB) (migratedb.Driver, error) {
	return migratemssql.WithInstance(db, &migratemssql.Config{MigrationsTable: MigrationsTable})
}
