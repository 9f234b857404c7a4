package masking

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/colmask/colmask/internal/catalog"
	"github.com/colmask/colmask/internal/database"
)

// fakeTable is an in-memory table. Values are nil for NULL.
type fakeTable struct {
	columns []string
	types   map[string]string
	key     []string
	rows    []map[string]*string
}

func (t *fakeTable) clone() *fakeTable {
	c := &fakeTable{
		columns: append([]string(nil), t.columns...),
		types:   map[string]string{},
		key:     append([]string(nil), t.key...),
	}
	for k, v := range t.types {
		c.types[k] = v
	}
	for _, r := range t.rows {
		nr := map[string]*string{}
		for k, v := range r {
			if v != nil {
				s := *v
				nr[k] = &s
			} else {
				nr[k] = nil
			}
		}
		c.rows = append(c.rows, nr)
	}
	return c
}

type fakeState struct {
	tables      map[string]*fakeTable
	alterFail   map[string]bool // "table.column" -> refuse type changes
	failReplace map[string]bool // "table.column" -> fatal update error
	notNull     map[string]bool // last nullability requested per "table.column"
	alters      []string
	reads       *[]string // "table.column" per value read, shared with transactions
}

func (s *fakeState) read(table, column string) {
	*s.reads = append(*s.reads, table+"."+column)
}

func cloneTables(in map[string]*fakeTable) map[string]*fakeTable {
	out := make(map[string]*fakeTable, len(in))
	for k, v := range in {
		out[k] = v.clone()
	}
	return out
}

func (s *fakeState) table(name string) (*fakeTable, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("invalid object name %q", name)
	}
	return t, nil
}

func (s *fakeState) WideTextType() string { return "NVARCHAR(MAX)" }

func (s *fakeState) ColumnNames(_ context.Context, table string) ([]string, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), t.columns...), nil
}

func (s *fakeState) PrimaryKey(_ context.Context, table string) ([]string, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	return t.key, nil
}

var lengthRe = regexp.MustCompile(`^N?VARCHAR\((\d+)\)$`)

func (s *fakeState) AlterColumnType(_ context.Context, table, column, sig string, notNull bool) error {
	t, err := s.table(table)
	if err != nil {
		return err
	}
	if s.alterFail[table+"."+column] {
		return errors.New("the object is dependent on column")
	}
	if m := lengthRe.FindStringSubmatch(sig); m != nil {
		n, _ := strconv.Atoi(m[1])
		for _, r := range t.rows {
			if v := r[column]; v != nil && utf8.RuneCountInString(*v) > n {
				return errors.New("string or binary data would be truncated")
			}
		}
	}
	if sig == "INT" {
		for _, r := range t.rows {
			if v := r[column]; v != nil {
				if _, err := strconv.Atoi(*v); err != nil {
					return fmt.Errorf("conversion failed when converting %q to int", *v)
				}
			}
		}
	}
	t.types[column] = sig
	s.notNull[table+"."+column] = notNull
	s.alters = append(s.alters, table+"."+column+" "+sig)
	return nil
}

// DistinctValues returns values in first-seen row order.
func (s *fakeState) DistinctValues(_ context.Context, table, column, _ string) ([]string, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	s.read(table, column)
	seen := map[string]bool{}
	var out []string
	for _, r := range t.rows {
		if v := r[column]; v != nil && !seen[*v] {
			seen[*v] = true
			out = append(out, *v)
		}
	}
	return out, nil
}

func (s *fakeState) ReplaceValue(_ context.Context, table, column, _, oldValue, newValue string) (int64, error) {
	t, err := s.table(table)
	if err != nil {
		return 0, err
	}
	if s.failReplace[table+"."+column] {
		return 0, errors.New("connection reset by peer")
	}
	var n int64
	for _, r := range t.rows {
		if v := r[column]; v != nil && *v == oldValue {
			nv := newValue
			r[column] = &nv
			n++
		}
	}
	return n, nil
}

func (s *fakeState) KeyedValues(_ context.Context, table, column string, key []string) ([]database.KeyedValue, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	s.read(table, column)
	var out []database.KeyedValue
	for _, r := range t.rows {
		v := r[column]
		if v == nil {
			continue
		}
		kv := database.KeyedValue{Value: *v}
		for _, k := range key {
			kv.Key = append(kv.Key, *r[k])
		}
		out = append(out, kv)
	}
	return out, nil
}

func (s *fakeState) ReplaceKeyedValue(_ context.Context, table, column, _ string, key []string, kv database.KeyedValue, newValue string) (int64, error) {
	t, err := s.table(table)
	if err != nil {
		return 0, err
	}
	if s.failReplace[table+"."+column] {
		return 0, errors.New("connection reset by peer")
	}
	var n int64
rows:
	for _, r := range t.rows {
		for i, k := range key {
			if *r[k] != kv.Key[i].(string) {
				continue rows
			}
		}
		if v := r[column]; v != nil && *v == kv.Value {
			nv := newValue
			r[column] = &nv
			n++
		}
	}
	return n, nil
}

// fakeDB is a Target whose transactions work on copies of the tables.
type fakeDB struct {
	fakeState
	begun, committed, rolledBack int
}

func newFakeDB() *fakeDB {
	return &fakeDB{fakeState: fakeState{
		tables:      map[string]*fakeTable{},
		alterFail:   map[string]bool{},
		failReplace: map[string]bool{},
		notNull:     map[string]bool{},
		reads:       new([]string),
	}}
}

func (db *fakeDB) Begin(_ context.Context) (TxOps, error) {
	db.begun++
	return &fakeTx{
		db: db,
		fakeState: fakeState{
			tables:      cloneTables(db.tables),
			alterFail:   db.alterFail,
			failReplace: db.failReplace,
			notNull:     db.notNull,
			reads:       db.reads,
		},
		savepoints: map[string]map[string]*fakeTable{},
	}, nil
}

type fakeTx struct {
	fakeState
	db         *fakeDB
	savepoints map[string]map[string]*fakeTable
	done       bool
}

func (tx *fakeTx) Savepoint(_ context.Context, name string) error {
	tx.savepoints[name] = cloneTables(tx.tables)
	return nil
}

func (tx *fakeTx) RollbackTo(_ context.Context, name string) error {
	snap, ok := tx.savepoints[name]
	if !ok {
		return fmt.Errorf("no savepoint %s", name)
	}
	tx.tables = cloneTables(snap)
	return nil
}

func (tx *fakeTx) Commit() error {
	if tx.done {
		return errors.New("transaction already finished")
	}
	tx.done = true
	tx.db.tables = tx.tables
	tx.db.alters = append(tx.db.alters, tx.alters...)
	tx.db.committed++
	return nil
}

func (tx *fakeTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.db.rolledBack++
	return nil
}

// fakeCatalog records descriptors per table.
type fakeCatalog struct {
	cols map[string]map[string]catalog.ColumnDescriptor
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{cols: map[string]map[string]catalog.ColumnDescriptor{}}
}

func (c *fakeCatalog) add(table, column, fullType string, nullable bool) {
	if c.cols[table] == nil {
		c.cols[table] = map[string]catalog.ColumnDescriptor{}
	}
	c.cols[table][strings.ToLower(column)] = catalog.ColumnDescriptor{
		TableName:  table,
		ColumnName: column,
		DataType:   strings.ToLower(strings.SplitN(fullType, "(", 2)[0]),
		FullType:   fullType,
		IsNullable: nullable,
	}
}

func (c *fakeCatalog) HasEntry(_ context.Context, table string) (bool, error) {
	return len(c.cols[table]) > 0, nil
}

func (c *fakeCatalog) Lookup(_ context.Context, table, column string) (catalog.ColumnDescriptor, bool, error) {
	d, ok := c.cols[table][strings.ToLower(column)]
	return d, ok, nil
}

func sp(s string) *string { return &s }
