package relational

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/histograph/histograph-sink/pkg/apperrors"
	"github.com/histograph/histograph-sink/pkg/logging"
)

const (
	listTablesQuery = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	tableExistsQuery = `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)`

	columnNamesQuery = `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

	columnCountQuery = `
		SELECT count(*)
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2`

	indexExistsQuery = `
		SELECT EXISTS (
			SELECT 1 FROM pg_indexes
			WHERE schemaname = $1 AND tablename = $2 AND indexname = $3
		)`
)

// ListTables returns the set of base tables in the store's schema.
func (s *Store) ListTables(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.Query(ctx, listTablesQuery, s.schema)
	if err != nil {
		return nil, fmt.Errorf("query tables in schema %q: %w", s.schema, err)
	}
	defer rows.Close()

	tables := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	return tables, nil
}

// TableExists reports whether tableName exists in the store's schema.
func (s *Store) TableExists(ctx context.Context, tableName string) (bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, tableExistsQuery, s.schema, tableName).Scan(&exists); err != nil {
		return false, fmt.Errorf("check table %q exists: %w", tableName, err)
	}
	return exists, nil
}

// CreateTable creates tableName with the given columns. fieldTypes holds
// alternating column names and types: "hgid", "text", "cause", "text".
func (s *Store) CreateTable(ctx context.Context, tableName string, fieldTypes ...string) error {
	if len(fieldTypes) == 0 {
		return fmt.Errorf("%w: table %q: at least one column must be specified", apperrors.ErrSchema, tableName)
	}
	if len(fieldTypes)%2 != 0 {
		return fmt.Errorf("%w: table %q: every column needs a type", apperrors.ErrSchema, tableName)
	}
	if tableName == "" {
		return fmt.Errorf("%w: table name is empty", apperrors.ErrSchema)
	}
	if err := checkIdentifier("table", tableName); err != nil {
		return err
	}

	defs := make([]string, 0, len(fieldTypes)/2)
	seen := make(map[string]bool, len(fieldTypes)/2)
	for i := 0; i < len(fieldTypes); i += 2 {
		field, columnType := fieldTypes[i], fieldTypes[i+1]
		if field == "" {
			return fmt.Errorf("%w: table %q: column %d has no name", apperrors.ErrSchema, tableName, i/2+1)
		}
		if err := checkIdentifier("column", field); err != nil {
			return err
		}
		if seen[field] {
			return fmt.Errorf("%w: table %q: column %q specified twice", apperrors.ErrSchema, tableName, field)
		}
		seen[field] = true
		if err := validateColumnType(field, columnType); err != nil {
			return err
		}
		defs = append(defs, quoteIdent(field)+" "+strings.TrimSpace(columnType))
	}

	query := fmt.Sprintf("CREATE TABLE %s (%s)", qualifiedTableName(s.schema, tableName), strings.Join(defs, ", "))

	s.logger.Debug("Creating table",
		zap.String("table", tableName),
		zap.String("query", logging.SanitizeQuery(query)))

	tag, err := s.db.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: could not create table %q (%s): %w", apperrors.ErrSchema, tableName, logging.SanitizeQuery(query), err)
	}
	if n := tag.RowsAffected(); n != 0 {
		return fmt.Errorf("%w: creating table %q affected %d rows", apperrors.ErrPersistence, tableName, n)
	}

	return nil
}

// ColumnNames returns the columns of tableName in ordinal order, read from the
// live catalog. A missing table yields an empty slice.
func (s *Store) ColumnNames(ctx context.Context, tableName string) ([]string, error) {
	rows, err := s.db.Query(ctx, columnNamesQuery, s.schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns of %q: %w", tableName, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan column of %q: %w", tableName, err)
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %q: %w", tableName, err)
	}

	return columns, nil
}

// ColumnCount returns the number of columns tableName currently has.
func (s *Store) ColumnCount(ctx context.Context, tableName string) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, columnCountQuery, s.schema, tableName).Scan(&n); err != nil {
		return 0, fmt.Errorf("count columns of %q: %w", tableName, err)
	}
	return n, nil
}

// IndexExists reports whether the index CreateIndex would create on
// tableName(column) exists.
func (s *Store) IndexExists(ctx context.Context, tableName, column string) (bool, error) {
	name, err := indexName(tableName, column)
	if err != nil {
		return false, err
	}

	var exists bool
	err = s.db.QueryRow(ctx, indexExistsQuery, s.schema, tableName, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check index on %q(%q) exists: %w", tableName, column, err)
	}
	return exists, nil
}

// CreateIndex creates the index <table>_<column>_idx on tableName(column). An
// index name longer than PostgreSQL's identifier limit fails with ErrSchema.
func (s *Store) CreateIndex(ctx context.Context, tableName, column string) error {
	name, err := indexName(tableName, column)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		quoteIdent(name),
		qualifiedTableName(s.schema, tableName),
		quoteIdent(column))

	s.logger.Debug("Creating index",
		zap.String("table", tableName),
		zap.String("column", column))

	tag, err := s.db.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: could not create index on %q(%q) (%s): %w", apperrors.ErrPersistence, tableName, column, logging.SanitizeQuery(query), err)
	}
	if n := tag.RowsAffected(); n != 0 {
		return fmt.Errorf("%w: creating index on %q(%q) affected %d rows", apperrors.ErrPersistence, tableName, column, n)
	}

	return nil
}
