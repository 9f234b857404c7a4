package scanner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colmask/colmask/internal/catalog"
	"github.com/colmask/colmask/internal/database"
	"github.com/colmask/colmask/internal/dialect"
	"github.com/colmask/colmask/internal/report"
	"github.com/colmask/colmask/internal/typesig"
)

type fakeSource struct {
	tables map[string][]database.Column
	fail   map[string]error
}

func (f *fakeSource) ColumnMetadata(_ context.Context, table string) ([]database.Column, error) {
	if err := f.fail[table]; err != nil {
		return nil, err
	}
	return f.tables[table], nil
}

type fakeCatalog struct {
	rows      map[string][]catalog.ColumnDescriptor
	status    map[string]catalog.Status
	failAfter map[string]int // table -> inserts allowed before failing
	inserts   int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		rows:      map[string][]catalog.ColumnDescriptor{},
		status:    map[string]catalog.Status{},
		failAfter: map[string]int{},
	}
}

func (f *fakeCatalog) HasEntry(_ context.Context, table string) (bool, error) {
	return len(f.rows[table]) > 0, nil
}

func (f *fakeCatalog) Status(_ context.Context, table string) (catalog.ScanStatus, error) {
	return catalog.ScanStatus{Table: table, Status: f.status[table]}, nil
}

func (f *fakeCatalog) Columns(_ context.Context, table string) ([]catalog.ColumnDescriptor, error) {
	return f.rows[table], nil
}

func (f *fakeCatalog) Insert(_ context.Context, d catalog.ColumnDescriptor) error {
	if n, ok := f.failAfter[d.TableName]; ok && len(f.rows[d.TableName]) >= n {
		return errors.New("insert failed")
	}
	for _, r := range f.rows[d.TableName] {
		if r.ColumnName == d.ColumnName {
			return catalog.ErrDuplicateEntry
		}
	}
	f.rows[d.TableName] = append(f.rows[d.TableName], d)
	f.inserts++
	return nil
}

func (f *fakeCatalog) MarkScanned(_ context.Context, table string) error {
	f.status[table] = catalog.StatusScanned
	return nil
}

func (f *fakeCatalog) MarkFailed(_ context.Context, table string, _ error) error {
	f.status[table] = catalog.StatusFailed
	return nil
}

func i64(v int64) *int64 { return &v }

func usersColumns() []database.Column {
	def := "(getdate())"
	return []database.Column{
		{Name: "Id", Facts: typesig.Facts{DataType: "int", NumericPrecision: i64(10), NumericScale: i64(0)}, Ordinal: 1},
		{Name: "Email", Facts: typesig.Facts{DataType: "nvarchar", CharMaxLength: i64(50)}, Nullable: true, Ordinal: 2},
		{Name: "Notes", Facts: typesig.Facts{DataType: "nvarchar", CharMaxLength: i64(-1)}, Nullable: true, Ordinal: 3},
		{Name: "Balance", Facts: typesig.Facts{DataType: "decimal", NumericPrecision: i64(18), NumericScale: i64(2)}, Ordinal: 4},
		{Name: "CreatedAt", Facts: typesig.Facts{DataType: "datetime2", DatetimePrecision: i64(7)}, Default: &def, Ordinal: 5},
	}
}

func newTestScanner(src Source, cat Catalog) *Scanner {
	return New(src, cat, dialect.SQLServer{}.Rules(), nil)
}

func TestScan_RecordsSignatures(t *testing.T) {
	src := &fakeSource{tables: map[string][]database.Column{"Users": usersColumns()}}
	cat := newFakeCatalog()

	rep, err := newTestScanner(src, cat).Scan(context.Background(), []string{"Users"})
	require.NoError(t, err)
	assert.Equal(t, "completed", rep.Status)
	assert.Equal(t, 5, rep.Recorded())

	got := map[string]string{}
	for _, d := range cat.rows["Users"] {
		got[d.ColumnName] = d.FullType
	}
	assert.Equal(t, map[string]string{
		"Id":        "INT",
		"Email":     "NVARCHAR(50)",
		"Notes":     "NVARCHAR(MAX)",
		"Balance":   "DECIMAL(18,2)",
		"CreatedAt": "DATETIME2(7)",
	}, got)
	assert.Equal(t, catalog.StatusScanned, cat.status["Users"])

	created := cat.rows["Users"][4]
	require.NotNil(t, created.DefaultValue)
	assert.Equal(t, "(getdate())", *created.DefaultValue)
	assert.False(t, created.IsNullable)
}

func TestScan_SkipsScannedAndLegacy(t *testing.T) {
	src := &fakeSource{tables: map[string][]database.Column{
		"Users":  usersColumns(),
		"Orders": usersColumns(),
	}}
	cat := newFakeCatalog()
	cat.status["Users"] = catalog.StatusScanned
	// Rows without a status row: written before scan status existed.
	cat.rows["Orders"] = []catalog.ColumnDescriptor{{TableName: "Orders", ColumnName: "Id", FullType: "INT"}}

	rep, err := newTestScanner(src, cat).Scan(context.Background(), []string{"Users", "Orders"})
	require.NoError(t, err)
	require.Len(t, rep.Tables, 2)
	assert.Equal(t, report.ScanSkipped, rep.Tables[0].Outcome)
	assert.Equal(t, report.ScanSkipped, rep.Tables[1].Outcome)
	assert.Equal(t, 0, cat.inserts)
}

func TestScan_RescansFailedTable(t *testing.T) {
	src := &fakeSource{tables: map[string][]database.Column{"Users": usersColumns()}}
	cat := newFakeCatalog()
	cat.status["Users"] = catalog.StatusFailed
	cat.rows["Users"] = []catalog.ColumnDescriptor{
		{TableName: "Users", ColumnName: "Id", FullType: "INT"},
		{TableName: "Users", ColumnName: "Email", FullType: "NVARCHAR(50)"},
	}

	rep, err := newTestScanner(src, cat).Scan(context.Background(), []string{"Users"})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Tables[0].Recorded)
	assert.Equal(t, 2, rep.Tables[0].Existing)
	assert.Len(t, cat.rows["Users"], 5)
	assert.Equal(t, catalog.StatusScanned, cat.status["Users"])
}

func TestScan_FailureMarksTableAndAborts(t *testing.T) {
	src := &fakeSource{tables: map[string][]database.Column{
		"Users":  usersColumns(),
		"Orders": usersColumns(),
	}}
	cat := newFakeCatalog()
	cat.failAfter["Users"] = 2

	rep, err := newTestScanner(src, cat).Scan(context.Background(), []string{"Users", "Orders"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scanning Users")
	assert.Equal(t, "failed", rep.Status)

	// Columns written before the failure stay.
	assert.Len(t, cat.rows["Users"], 2)
	assert.Equal(t, catalog.StatusFailed, cat.status["Users"])
	// The run stopped before Orders.
	assert.Empty(t, cat.rows["Orders"])
	require.Len(t, rep.Tables, 1)
	assert.Equal(t, report.ScanFailed, rep.Tables[0].Outcome)
}

func TestScan_MetadataError(t *testing.T) {
	src := &fakeSource{fail: map[string]error{"Users": fmt.Errorf("connection reset")}}
	cat := newFakeCatalog()

	_, err := newTestScanner(src, cat).Scan(context.Background(), []string{"Users"})
	require.Error(t, err)
	assert.Equal(t, catalog.StatusFailed, cat.status["Users"])
}

func TestScan_InvalidTableName(t *testing.T) {
	src := &fakeSource{tables: map[string][]database.Column{"Users": usersColumns()}}
	cat := newFakeCatalog()

	rep, err := newTestScanner(src, cat).Scan(context.Background(), []string{"Users; DROP TABLE x", "Users"})
	require.NoError(t, err)
	require.Len(t, rep.Tables, 2)
	assert.Equal(t, report.ScanInvalid, rep.Tables[0].Outcome)
	assert.Equal(t, report.ScanRecorded, rep.Tables[1].Outcome)
}

func TestScan_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{tables: map[string][]database.Column{"Users": usersColumns()}}
	_, err := newTestScanner(src, newFakeCatalog()).Scan(ctx, []string{"Users"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScan_TableWithoutColumnsIsCapturedLater(t *testing.T) {
	src := &fakeSource{tables: map[string][]database.Column{"Orders": usersColumns()}}
	cat := newFakeCatalog()
	sc := newTestScanner(src, cat)

	rep, err := sc.Scan(context.Background(), []string{"Customers", "Orders"})
	require.NoError(t, err)
	require.Len(t, rep.Tables, 2)
	assert.Equal(t, report.ScanNotFound, rep.Tables[0].Outcome)
	assert.Equal(t, 0, rep.Tables[0].Recorded)
	assert.Empty(t, cat.status["Customers"], "no status may be written for a missing table")
	// The run went on to the next table.
	assert.Equal(t, report.ScanRecorded, rep.Tables[1].Outcome)

	// Once the table exists, the next scan records it.
	src.tables["Customers"] = usersColumns()
	rep, err = sc.Scan(context.Background(), []string{"Customers"})
	require.NoError(t, err)
	assert.Equal(t, report.ScanRecorded, rep.Tables[0].Outcome)
	assert.Equal(t, 5, rep.Tables[0].Recorded)
	assert.Equal(t, catalog.StatusScanned, cat.status["Customers"])

	has, err := cat.HasEntry(context.Background(), "Customers")
	require.NoError(t, err)
	assert.True(t, has)
}
