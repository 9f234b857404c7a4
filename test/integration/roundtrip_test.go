//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colmask/colmask/internal/catalog"
	"github.com/colmask/colmask/internal/codec"
	"github.com/colmask/colmask/internal/database"
	"github.com/colmask/colmask/internal/masking"
	"github.com/colmask/colmask/internal/report"
	"github.com/colmask/colmask/internal/scanner"
	"github.com/colmask/colmask/internal/schema"
)

func seedEmployees(t *testing.T, db *database.DB) {
	exec(t, db,
		`CREATE TABLE employees (
			id     INTEGER PRIMARY KEY,
			name   VARCHAR(40) NOT NULL,
			email  VARCHAR(60) NOT NULL,
			phone  CHAR(20),
			salary NUMERIC(10,2)
		)`,
		`INSERT INTO employees VALUES
			(1, 'Ada',   'ada@example.com',   '555-010-0001', 1000.50),
			(2, 'Grace', 'grace@example.com', NULL,           2000.00),
			(3, 'Linus', 'ada@example.com',   '555-010-0003', NULL)`,
		`CREATE TABLE audit (id INTEGER PRIMARY KEY, email TEXT)`,
		`INSERT INTO audit VALUES (1, 'root@example.com')`,
	)
}

func scanAll(t *testing.T, ctx context.Context, db *database.DB, store *catalog.Store, tables ...string) *report.Scan {
	sc := scanner.New(db, store, db.Dialect().Rules(), nil)
	rep, err := sc.Scan(ctx, tables)
	require.NoError(t, err)
	return rep
}

func engine(db *database.DB, store *catalog.Store, opts masking.Options, cols ...string) *masking.Engine {
	return masking.New(masking.DBTarget(db), store, codec.Base64{}, masking.NewConfidentialSet(cols), opts, nil)
}

func TestScanEncodeDecodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := freshDatabase(t)
	seedEmployees(t, db)
	store := catalog.New(db.SQL(), db.Dialect(), nil)

	tables, err := db.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"audit", "employees"}, tables, "catalog tables must not be listed")

	// Only employees is catalogued; audit stays untracked.
	rep := scanAll(t, ctx, db, store, "employees")
	assert.Equal(t, 5, rep.Recorded())

	sig, ok, err := store.GetSignature(ctx, "employees", "salary")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "NUMERIC(10,2)", sig)

	eng := engine(db, store, masking.DefaultOptions(), "Email", "Phone")

	run, err := eng.Process(ctx, tables, masking.Encode)
	require.NoError(t, err)
	assert.Equal(t, report.SkipNotTracked, run.Table("audit").Skipped)

	typ, nullable := columnType(t, db, "employees", "email")
	assert.Equal(t, "text", typ)
	assert.False(t, nullable, "NOT NULL must survive the widening")
	assert.Equal(t, []string{"YWRhQGV4YW1wbGUuY29t", "Z3JhY2VAZXhhbXBsZS5jb20=", "YWRhQGV4YW1wbGUuY29t"},
		values(t, db, "employees", "email"))
	assert.Equal(t, []string{"Ada", "Grace", "Linus"}, values(t, db, "employees", "name"))
	assert.Equal(t, []string{"root@example.com"}, values(t, db, "audit", "email"))

	// Encoding again changes nothing.
	run, err = eng.Process(ctx, tables, masking.Encode)
	require.NoError(t, err)
	assert.Zero(t, run.Totals().ValuesTransformed)

	_, err = eng.Process(ctx, tables, masking.Decode)
	require.NoError(t, err)

	typ, nullable = columnType(t, db, "employees", "email")
	assert.Equal(t, "character varying(60)", typ)
	assert.False(t, nullable)
	typ, nullable = columnType(t, db, "employees", "phone")
	assert.Equal(t, "character(20)", typ)
	assert.True(t, nullable)
	assert.Equal(t, []string{"ada@example.com", "grace@example.com", "ada@example.com"}, values(t, db, "employees", "email"))
	assert.Equal(t, []string{"555-010-0001", "555-010-0003"}, values(t, db, "employees", "phone"))
}

func TestDecodeNarrowTypeNeedsRestoreTypeLast(t *testing.T) {
	ctx := context.Background()
	db := freshDatabase(t)
	exec(t, db,
		`CREATE TABLE cards (id INTEGER PRIMARY KEY, pan VARCHAR(16))`,
		`INSERT INTO cards VALUES (1, '4111111111111111'), (2, '5500000000000004')`,
	)
	store := catalog.New(db.SQL(), db.Dialect(), nil)
	scanAll(t, ctx, db, store, "cards")

	_, err := engine(db, store, masking.DefaultOptions(), "pan").Process(ctx, []string{"cards"}, masking.Encode)
	require.NoError(t, err)

	// Restoring VARCHAR(16) before decoding is rejected: the base64 text is longer.
	run, err := engine(db, store, masking.DefaultOptions(), "pan").Process(ctx, []string{"cards"}, masking.Decode)
	require.NoError(t, err)
	assert.Equal(t, report.ColumnAlterFailed, run.Table("cards").Column("pan").Outcome)
	typ, _ := columnType(t, db, "cards", "pan")
	assert.Equal(t, "text", typ)

	opts := masking.DefaultOptions()
	opts.RestoreTypeLast = true
	run, err = engine(db, store, opts, "pan").Process(ctx, []string{"cards"}, masking.Decode)
	require.NoError(t, err)
	assert.Equal(t, report.ColumnMasked, run.Table("cards").Column("pan").Outcome)
	typ, _ = columnType(t, db, "cards", "pan")
	assert.Equal(t, "character varying(16)", typ)
	assert.Equal(t, []string{"4111111111111111", "5500000000000004"}, values(t, db, "cards", "pan"))
}

func TestRowStrategyAvoidsChainedDecode(t *testing.T) {
	ctx := context.Background()
	db := freshDatabase(t)
	// Row 2 holds the encoding of row 1's encoded value.
	exec(t, db,
		`CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)`,
		`INSERT INTO notes VALUES (1, 'aGk='), (2, 'YUdrPQ==')`,
	)
	store := catalog.New(db.SQL(), db.Dialect(), nil)
	scanAll(t, ctx, db, store, "notes")

	opts := masking.DefaultOptions()
	opts.UpdateStrategy = masking.StrategyRow
	_, err := engine(db, store, opts, "body").Process(ctx, []string{"notes"}, masking.Decode)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "aGk="}, values(t, db, "notes", "body"))
}

func TestScanSkipsScannedAndExports(t *testing.T) {
	ctx := context.Background()
	db := freshDatabase(t)
	seedEmployees(t, db)
	store := catalog.New(db.SQL(), db.Dialect(), nil)

	first := scanAll(t, ctx, db, store, "employees", "audit")
	assert.Equal(t, 7, first.Recorded())

	second := scanAll(t, ctx, db, store, "employees", "audit")
	assert.Zero(t, second.Recorded())
	for _, tbl := range second.Tables {
		assert.Equal(t, report.ScanSkipped, tbl.Outcome)
	}

	sch, err := schema.Export(ctx, store, "postgresql", "test", "public")
	require.NoError(t, err)
	require.Len(t, sch.Tables, 2)
	assert.Equal(t, "Scanned", sch.Tables[1].Status)
	assert.Equal(t, "VARCHAR(60)", sch.Tables[1].Columns[2].FullType)
}

func TestCatalogInitIsIdempotent(t *testing.T) {
	db := freshDatabase(t)
	require.NoError(t, catalog.Init(context.Background(), db))
}
