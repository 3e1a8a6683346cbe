package relational

import (
	"fmt"
	"sort"

	"github.com/histograph/histograph-sink/pkg/apperrors"
)

// Row is the input to InsertRow: either a FullRow or a KeyedRow.
type Row interface {
	isRow()
}

// FullRow holds one value per live column, in live column order.
type FullRow []string

func (FullRow) isRow() {}

// Pair is a single column/value assignment.
type Pair struct {
	Column string
	Value  string
}

// KeyedRow assigns values to a subset of columns by name. Columns not named
// receive their default.
type KeyedRow []Pair

func (KeyedRow) isRow() {}

// Values builds a FullRow.
func Values(values ...string) FullRow {
	return FullRow(values)
}

// Pairs builds a KeyedRow from alternating column names and values.
func Pairs(kv ...string) (KeyedRow, error) {
	if len(kv)%2 != 0 {
		return nil, fmt.Errorf("%w: %d arguments cannot form column/value pairs", apperrors.ErrShape, len(kv))
	}
	row := make(KeyedRow, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		row = append(row, Pair{Column: kv[i], Value: kv[i+1]})
	}
	return row, nil
}

// FromMap builds a KeyedRow from a field map, ordered by column name.
func FromMap(fields map[string]string) KeyedRow {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	row := make(KeyedRow, len(keys))
	for i, k := range keys {
		row[i] = Pair{Column: k, Value: fields[k]}
	}
	return row
}

// Get returns the value assigned to column.
func (r KeyedRow) Get(column string) (string, bool) {
	for _, p := range r {
		if p.Column == column {
			return p.Value, true
		}
	}
	return "", false
}

// Record is a row read back from a table. NULL columns are absent.
type Record map[string]string
