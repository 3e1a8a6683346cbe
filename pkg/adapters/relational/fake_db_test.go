package relational

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB answers the catalog queries from an in-memory table map and records
// every other statement it receives.
type fakeDB struct {
	tables map[string][]string

	rows      [][]*string // rows returned for non-catalog queries
	execTag   pgconn.CommandTag
	execErr   error
	queryErr  error
	execs     []statement
	dataReads []statement
}

type statement struct {
	sql  string
	args []any
}

func newFakeDB(tables map[string][]string) *fakeDB {
	return &fakeDB{
		tables:  tables,
		execTag: pgconn.NewCommandTag("INSERT 0 1"),
	}
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, statement{sql: sql, args: args})
	return f.execTag, f.execErr
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	switch sql {
	case columnNamesQuery:
		cols := f.tables[args[1].(string)]
		out := make([][]any, len(cols))
		for i, c := range cols {
			out[i] = []any{c}
		}
		return &fakeRows{values: out}, nil
	case listTablesQuery:
		out := make([][]any, 0, len(f.tables))
		for name := range f.tables {
			out = append(out, []any{name})
		}
		return &fakeRows{values: out}, nil
	}

	f.dataReads = append(f.dataReads, statement{sql: sql, args: args})
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	out := make([][]any, len(f.rows))
	for i, r := range f.rows {
		vals := make([]any, len(r))
		for j, v := range r {
			vals[j] = v
		}
		out[i] = vals
	}
	return &fakeRows{values: out}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	switch sql {
	case columnCountQuery:
		return &fakeRows{values: [][]any{{len(f.tables[args[1].(string)])}}}
	case tableExistsQuery:
		_, ok := f.tables[args[1].(string)]
		return &fakeRows{values: [][]any{{ok}}}
	case indexExistsQuery:
		return &fakeRows{values: [][]any{{false}}}
	}
	return &fakeRows{err: fmt.Errorf("unexpected query: %s", sql)}
}

// fakeRows implements pgx.Rows and pgx.Row over fixed values.
type fakeRows struct {
	values [][]any
	pos    int
	err    error
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.err != nil || r.pos >= len(r.values) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	return r.values[r.pos-1], nil
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	// QueryRow path: Scan without Next.
	if r.pos == 0 {
		if len(r.values) == 0 {
			return pgx.ErrNoRows
		}
		r.pos = 1
	}
	row := r.values[r.pos-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(row))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case **string:
			*p = row[i].(*string)
		case *int:
			*p = row[i].(int)
		case *bool:
			*p = row[i].(bool)
		default:
			return errors.New("scan: unsupported destination")
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }
