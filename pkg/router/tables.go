package router

import (
	"github.com/jinzhu/inflection"

	"github.com/histograph/histograph-sink/pkg/adapters/relational"
	"github.com/histograph/histograph-sink/pkg/tokens"
)

// table describes a bookkeeping table the router writes to.
type table struct {
	name    string
	key     string
	columns []string // text columns, in creation order

	// uniqueKey makes key the primary key, so a second insert for the same
	// key fails with a conflict instead of adding a row.
	uniqueKey bool
}

// tableName derives the table for an entity type: pit -> pits.
func tableName(t tokens.EntityType) string {
	return inflection.Plural(t.String())
}

var (
	pitTable = table{
		name:      tableName(tokens.TypePIT),
		key:       tokens.HGID,
		uniqueKey: true,
		columns: []string{
			tokens.HGID,
			tokens.SourceID,
			tokens.PITName,
			tokens.PITType,
			tokens.PITURI,
			tokens.PITGeometry,
			tokens.PITHasBeginning,
			tokens.PITHasEnd,
			tokens.PITData,
		},
	}

	rejectedRelationTable = table{
		name: "rejected_" + tableName(tokens.TypeRelation),
		key:  tokens.HGID,
		columns: []string{
			tokens.HGID,
			tokens.SourceID,
			tokens.RelationFrom,
			tokens.RelationTo,
			tokens.RelationLabel,
			tokens.RelationFromIdentifyingMethod,
			tokens.RelationToIdentifyingMethod,
			tokens.RelationRejectionCause,
			tokens.RelationRejectionCauseIDMethod,
			tokens.Data,
		},
	}
)

// fieldTypes returns the column/type list passed to CreateTable.
func (t table) fieldTypes() []string {
	out := make([]string, 0, 2*len(t.columns))
	for _, c := range t.columns {
		columnType := "text"
		if t.uniqueKey && c == t.key {
			columnType = "text primary key"
		}
		out = append(out, c, columnType)
	}
	return out
}

// row projects fields onto the table's columns. Fields the table does not
// have are dropped; absent columns stay NULL.
func (t table) row(fields map[string]string) relational.KeyedRow {
	row := make(relational.KeyedRow, 0, len(t.columns))
	for _, c := range t.columns {
		if v, ok := fields[c]; ok {
			row = append(row, relational.Pair{Column: c, Value: v})
		}
	}
	return row
}
