package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/colmask/colmask/internal/dialect"
	"github.com/colmask/colmask/internal/sqlident"
	"github.com/colmask/colmask/internal/typesig"
)

// Column is one column's live metadata.
type Column struct {
	Name     string
	Facts    typesig.Facts
	Nullable bool
	Default  *string
	Ordinal  int
}

// KeyedValue is a non-null column value together with its row's primary key.
type KeyedValue struct {
	Key   []any
	Value string
}

// Session runs statements against a Querier in one dialect and schema.
type Session struct {
	q      Querier
	d      dialect.Dialect
	schema string
}

// NewSession binds q to a dialect and schema.
func NewSession(q Querier, d dialect.Dialect, schema string) *Session {
	return &Session{q: q, d: d, schema: schema}
}

func (s *Session) Dialect() dialect.Dialect { return s.d }
func (s *Session) Schema() string           { return s.schema }

// WideTextType is the type encoded columns are widened to.
func (s *Session) WideTextType() string { return s.d.WideTextType() }

// Exec runs a statement and returns the number of rows it affected.
func (s *Session) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}

// Scalar scans the single value of a one-row, one-column query into dest.
func (s *Session) Scalar(ctx context.Context, query string, dest any, args ...any) error {
	return s.q.QueryRowContext(ctx, query, args...).Scan(dest)
}

// Strings returns the first column of every row, skipping NULLs. The cursor
// is drained and closed before returning.
func (s *Session) Strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v.Valid {
			out = append(out, v.String)
		}
	}
	return out, rows.Err()
}

// Rows materializes every row of a query as driver values.
func (s *Session) Rows(ctx context.Context, query string, args ...any) ([][]any, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

func (s *Session) table(name string) (string, error) {
	if err := sqlident.ValidateIdentifier(name); err != nil {
		return "", err
	}
	if s.schema != "" {
		if err := sqlident.ValidateIdentifier(s.schema); err != nil {
			return "", fmt.Errorf("schema: %w", err)
		}
	}
	return dialect.Qualify(s.d, s.schema, name), nil
}

func (s *Session) column(name string) (string, error) {
	if err := sqlident.ValidateIdentifier(name); err != nil {
		return "", err
	}
	return s.d.QuoteIdent(name), nil
}

// ListTables returns the schema's base tables, sorted, without colmask's own
// bookkeeping tables.
func (s *Session) ListTables(ctx context.Context) ([]string, error) {
	names, err := s.Strings(ctx, s.d.ListTablesSQL(), s.schema)
	if err != nil {
		return nil, fmt.Errorf("listing tables in %s: %w", s.schema, err)
	}
	out := names[:0]
	for _, n := range names {
		if !dialect.IsInternal(s.d, n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// ColumnNames returns table's column names in ordinal order.
func (s *Session) ColumnNames(ctx context.Context, table string) ([]string, error) {
	names, err := s.Strings(ctx, s.d.ColumnNamesSQL(), s.schema, table)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	return names, nil
}

// ColumnMetadata returns the type facts of every column of table in ordinal order.
func (s *Session) ColumnMetadata(ctx context.Context, table string) ([]Column, error) {
	rows, err := s.q.QueryContext(ctx, s.d.ColumnMetadataSQL(), s.schema, table)
	if err != nil {
		return nil, fmt.Errorf("reading metadata of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			c                            Column
			charLen, prec, scale, dtPrec sql.NullInt64
			nullable                     string
			def                          sql.NullString
		)
		if err := rows.Scan(&c.Name, &c.Facts.DataType, &charLen, &prec, &scale, &dtPrec, &nullable, &def); err != nil {
			return nil, fmt.Errorf("scanning metadata of %s: %w", table, err)
		}
		c.Facts.CharMaxLength = nullInt(charLen)
		c.Facts.NumericPrecision = nullInt(prec)
		c.Facts.NumericScale = nullInt(scale)
		c.Facts.DatetimePrecision = nullInt(dtPrec)
		c.Nullable = strings.EqualFold(nullable, "YES")
		if def.Valid {
			c.Default = &def.String
		}
		c.Ordinal = len(cols) + 1
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading metadata of %s: %w", table, err)
	}
	return cols, nil
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// PrimaryKey returns table's primary key columns in key order, or nil.
func (s *Session) PrimaryKey(ctx context.Context, table string) ([]string, error) {
	key, err := s.Strings(ctx, s.d.PrimaryKeySQL(), s.schema, table)
	if err != nil {
		return nil, fmt.Errorf("reading primary key of %s: %w", table, err)
	}
	return key, nil
}

// AlterColumnType changes column to sig. sig is re-validated before it is
// interpolated.
func (s *Session) AlterColumnType(ctx context.Context, table, column, sig string, notNull bool) error {
	t, err := s.table(table)
	if err != nil {
		return err
	}
	c, err := s.column(column)
	if err != nil {
		return err
	}
	if err := sqlident.ValidateType(sig); err != nil {
		return err
	}
	if q := s.d.UnconvertibleSQL(t, c, sig); q != "" {
		var n int64
		if err := s.q.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return fmt.Errorf("checking %s.%s for %s: %w", table, column, sig, err)
		}
		if n > 0 {
			return fmt.Errorf("altering %s.%s to %s: %d values cannot be converted", table, column, sig, n)
		}
	}
	if _, err := s.q.ExecContext(ctx, s.d.AlterColumnTypeSQL(t, c, sig, notNull)); err != nil {
		return fmt.Errorf("altering %s.%s to %s: %w", table, column, sig, err)
	}
	return nil
}

// DistinctValues returns the distinct non-null values of column, compared
// exactly for a column currently typed sig.
func (s *Session) DistinctValues(ctx context.Context, table, column, sig string) ([]string, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	c, err := s.column(column)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL", s.d.CompareExpr(c, sig), t, c)
	vals, err := s.Strings(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("reading values of %s.%s: %w", table, column, err)
	}
	return vals, nil
}

// ReplaceValue sets column to newValue in every row holding oldValue.
func (s *Session) ReplaceValue(ctx context.Context, table, column, sig, oldValue, newValue string) (int64, error) {
	t, err := s.table(table)
	if err != nil {
		return 0, err
	}
	c, err := s.column(column)
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s",
		t, c, s.d.Placeholder(1), s.d.CompareExpr(c, sig), s.d.Placeholder(2))
	n, err := s.Exec(ctx, q, newValue, oldValue)
	if err != nil {
		return 0, fmt.Errorf("updating %s.%s: %w", table, column, err)
	}
	return n, nil
}

// KeyedValues returns every non-null value of column with the row's key.
func (s *Session) KeyedValues(ctx context.Context, table, column string, key []string) ([]KeyedValue, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	c, err := s.column(column)
	if err != nil {
		return nil, err
	}
	sel := make([]string, 0, len(key)+1)
	for _, k := range key {
		kc, err := s.column(k)
		if err != nil {
			return nil, err
		}
		sel = append(sel, kc)
	}
	sel = append(sel, c)

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL", strings.Join(sel, ", "), t, c)
	rows, err := s.Rows(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("reading keyed values of %s.%s: %w", table, column, err)
	}

	out := make([]KeyedValue, 0, len(rows))
	for _, r := range rows {
		out = append(out, KeyedValue{Key: r[:len(key)], Value: asString(r[len(key)])})
	}
	return out, nil
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

// ReplaceKeyedValue sets column to newValue in the row identified by kv.Key,
// provided it still holds kv.Value.
func (s *Session) ReplaceKeyedValue(ctx context.Context, table, column, sig string, key []string, kv KeyedValue, newValue string) (int64, error) {
	if len(key) == 0 || len(key) != len(kv.Key) {
		return 0, fmt.Errorf("updating %s.%s: key has %d columns, row has %d values", table, column, len(key), len(kv.Key))
	}
	t, err := s.table(table)
	if err != nil {
		return 0, err
	}
	c, err := s.column(column)
	if err != nil {
		return 0, err
	}

	args := []any{newValue}
	where := make([]string, 0, len(key)+1)
	for i, k := range key {
		kc, err := s.column(k)
		if err != nil {
			return 0, err
		}
		args = append(args, kv.Key[i])
		where = append(where, kc+" = "+s.d.Placeholder(len(args)))
	}
	args = append(args, kv.Value)
	where = append(where, s.d.CompareExpr(c, sig)+" = "+s.d.Placeholder(len(args)))

	q := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s", t, c, s.d.Placeholder(1), strings.Join(where, " AND "))
	n, err := s.Exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("updating %s.%s: %w", table, column, err)
	}
	return n, nil
}
