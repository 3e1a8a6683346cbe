package relational

import (
	"fmt"
	"regexp"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
	"github.com/jackc/pgx/v5"

	"github.com/histograph/histograph-sink/pkg/apperrors"
)

// columnTypePattern accepts type names such as "text", "varchar(255)",
// "numeric(10, 2)", "double precision", "text[]" and "text not null".
var columnTypePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*( [A-Za-z][A-Za-z0-9_]*)*(\(\d+(, ?\d+)?\))?(\[\])?( (not null|null|unique|primary key))*$`)

// quoteIdent returns a double-quoted identifier.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// qualifiedTableName returns "schema"."table".
func qualifiedTableName(schemaName, tableName string) string {
	if schemaName == "" {
		return quoteIdent(tableName)
	}
	return pgx.Identifier{schemaName, tableName}.Sanitize()
}

// maxIdentifierLength is PostgreSQL's NAMEDATALEN-1. Longer identifiers are
// silently truncated by the server.
const maxIdentifierLength = 63

// checkIdentifier rejects names the server would truncate.
func checkIdentifier(kind, name string) error {
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("%w: %s name %q is %d bytes, longer than %d", apperrors.ErrSchema, kind, name, len(name), maxIdentifierLength)
	}
	return nil
}

// indexName is the name CreateIndex gives an index on table(column).
func indexName(tableName, column string) (string, error) {
	name := tableName + "_" + column + "_idx"
	if err := checkIdentifier("index", name); err != nil {
		return "", err
	}
	return name, nil
}

// quoteColumns quotes each column and joins them with commas.
func quoteColumns(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(ps, ", ")
}

// validateColumnType rejects column types that cannot be quoted and do not
// look like a plain PostgreSQL type declaration.
func validateColumnType(field, columnType string) error {
	t := strings.ToLower(strings.TrimSpace(columnType))
	if !columnTypePattern.MatchString(t) {
		return fmt.Errorf("%w: column %q has unsupported type %q", apperrors.ErrSchema, field, columnType)
	}
	if isSQLi, fingerprint := libinjection.IsSQLi(columnType); isSQLi {
		return fmt.Errorf("%w: column %q type %q rejected (fingerprint %s)", apperrors.ErrSchema, field, columnType, fingerprint)
	}
	return nil
}

// containsColumn reports whether key is one of the live columns.
func containsColumn(columns []string, key string) bool {
	for _, c := range columns {
		if c == key {
			return true
		}
	}
	return false
}
