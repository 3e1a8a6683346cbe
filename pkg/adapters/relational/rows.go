package relational

import (
	"context"
	"errors"
	"fmt"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/histograph/histograph-sink/pkg/apperrors"
	"github.com/histograph/histograph-sink/pkg/logging"
)

// uniqueViolation is the SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

// InsertRow inserts row into tableName. The insert column list is derived from
// the live catalog; values are bound as parameters. Exactly one row must be
// affected.
func (s *Store) InsertRow(ctx context.Context, tableName string, row Row) error {
	columns, err := s.liveColumns(ctx, tableName)
	if err != nil {
		return err
	}

	insertColumns, args, err := planInsert(tableName, columns, row)
	if err != nil {
		return err
	}

	return s.execInsert(ctx, tableName, insertColumns, args)
}

// InsertValues inserts a row given as plain strings. With n live columns, n
// values are a FullRow and 2n values are column/value pairs covering every
// column. Any other count fails with ErrShape before a statement is issued.
func (s *Store) InsertValues(ctx context.Context, tableName string, values ...string) error {
	columns, err := s.liveColumns(ctx, tableName)
	if err != nil {
		return err
	}

	var row Row
	switch n := len(columns); len(values) {
	case n:
		row = FullRow(values)
	case 2 * n:
		keyed, err := Pairs(values...)
		if err != nil {
			return err
		}
		if err := requireAllColumns(tableName, columns, keyed); err != nil {
			return err
		}
		row = keyed
	default:
		return fmt.Errorf("%w: table %q has %d columns, got %d values (want %d or %d)",
			apperrors.ErrShape, tableName, n, len(values), n, 2*n)
	}

	insertColumns, args, err := planInsert(tableName, columns, row)
	if err != nil {
		return err
	}

	return s.execInsert(ctx, tableName, insertColumns, args)
}

// RowsWhere returns the rows of tableName whose key column equals value. key
// must be a live column of tableName; otherwise ErrValidation is returned and
// no row query is issued.
func (s *Store) RowsWhere(ctx context.Context, tableName, key, value string) ([]Record, error) {
	columns, err := s.liveColumns(ctx, tableName)
	if err != nil {
		return nil, err
	}
	if !containsColumn(columns, key) {
		return nil, fmt.Errorf("%w: %q is not a column of table %q", apperrors.ErrValidation, key, tableName)
	}

	s.auditValue(tableName, key, value)

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		selectList(columns), qualifiedTableName(s.schema, tableName), quoteIdent(key))

	return s.queryRecords(ctx, tableName, columns, query, value)
}

// AllRows returns every row of tableName.
func (s *Store) AllRows(ctx context.Context, tableName string) ([]Record, error) {
	columns, err := s.liveColumns(ctx, tableName)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s", selectList(columns), qualifiedTableName(s.schema, tableName))

	return s.queryRecords(ctx, tableName, columns, query)
}

// DeleteRowsWhere physically deletes the rows of tableName whose key column
// equals value and returns how many were removed. key is checked against the
// live columns exactly as in RowsWhere.
func (s *Store) DeleteRowsWhere(ctx context.Context, tableName, key, value string) (int64, error) {
	columns, err := s.liveColumns(ctx, tableName)
	if err != nil {
		return 0, err
	}
	if !containsColumn(columns, key) {
		return 0, fmt.Errorf("%w: %q is not a column of table %q", apperrors.ErrValidation, key, tableName)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", qualifiedTableName(s.schema, tableName), quoteIdent(key))

	tag, err := s.db.Exec(ctx, query, value)
	if err != nil {
		return 0, fmt.Errorf("%w: delete from %q where %q matches (%s): %w", apperrors.ErrPersistence, tableName, key, logging.SanitizeQuery(query), err)
	}

	return tag.RowsAffected(), nil
}

// UpsertRow replaces the rows of tableName whose key column matches row's
// value for key with row. The delete and the insert are separate statements;
// a failed insert leaves no row for the key until the call is repeated.
func (s *Store) UpsertRow(ctx context.Context, tableName, key string, row KeyedRow) error {
	value, ok := row.Get(key)
	if !ok {
		return fmt.Errorf("%w: row for table %q has no value for key %q", apperrors.ErrShape, tableName, key)
	}

	removed, err := s.DeleteRowsWhere(ctx, tableName, key, value)
	if err != nil {
		return err
	}

	s.logger.Debug("Replacing row",
		zap.String("table", tableName),
		zap.String("key", key),
		zap.Int64("removed", removed))

	return s.InsertRow(ctx, tableName, row)
}

// liveColumns reads the column list of tableName and fails if it has none.
func (s *Store) liveColumns(ctx context.Context, tableName string) ([]string, error) {
	columns, err := s.ColumnNames(ctx, tableName)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: table %q does not exist or has no columns", apperrors.ErrValidation, tableName)
	}
	return columns, nil
}

func (s *Store) execInsert(ctx context.Context, tableName string, columns []string, args []any) error {
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualifiedTableName(s.schema, tableName), quoteColumns(columns), placeholders(len(columns)))

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %w: insert into %q: %s", apperrors.ErrPersistence, apperrors.ErrConflict, tableName, pgErr.Message)
		}
		return fmt.Errorf("%w: could not add row to %q (%s): %w", apperrors.ErrPersistence, tableName, logging.SanitizeQuery(query), err)
	}
	if n := tag.RowsAffected(); n != 1 {
		return fmt.Errorf("%w: insert into %q affected %d rows, want 1", apperrors.ErrPersistence, tableName, n)
	}

	return nil
}

func (s *Store) queryRecords(ctx context.Context, tableName string, columns []string, query string, args ...any) ([]Record, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %q (%s): %w", tableName, logging.SanitizeQuery(query), err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	values := make([]*string, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row of %q: %w", tableName, err)
		}
		record := make(Record, len(columns))
		for i, c := range columns {
			if values[i] != nil {
				record[c] = *values[i]
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows of %q: %w", tableName, err)
	}

	return records, nil
}

// auditValue logs lookup values that look like SQL injection. The value is
// bound as a parameter either way.
func (s *Store) auditValue(tableName, key, value string) {
	if isSQLi, fingerprint := libinjection.IsSQLi(value); isSQLi {
		s.logger.Warn("Lookup value matches SQL injection pattern",
			zap.String("table", tableName),
			zap.String("key", key),
			zap.String("fingerprint", string(fingerprint)))
	}
}

// planInsert resolves row against the live columns and returns the columns to
// insert, in live order, with their bound values.
func planInsert(tableName string, columns []string, row Row) ([]string, []any, error) {
	switch r := row.(type) {
	case FullRow:
		if len(r) != len(columns) {
			return nil, nil, fmt.Errorf("%w: table %q has %d columns, got %d values",
				apperrors.ErrShape, tableName, len(columns), len(r))
		}
		args := make([]any, len(r))
		for i, v := range r {
			args[i] = v
		}
		return columns, args, nil

	case KeyedRow:
		if len(r) == 0 {
			return nil, nil, fmt.Errorf("%w: no columns given for table %q", apperrors.ErrShape, tableName)
		}
		assigned := make(map[string]string, len(r))
		for _, p := range r {
			if !containsColumn(columns, p.Column) {
				return nil, nil, fmt.Errorf("%w: %q is not a column of table %q", apperrors.ErrValidation, p.Column, tableName)
			}
			if _, dup := assigned[p.Column]; dup {
				return nil, nil, fmt.Errorf("%w: column %q given twice for table %q", apperrors.ErrShape, p.Column, tableName)
			}
			assigned[p.Column] = p.Value
		}
		insertColumns := make([]string, 0, len(assigned))
		args := make([]any, 0, len(assigned))
		for _, c := range columns {
			if v, ok := assigned[c]; ok {
				insertColumns = append(insertColumns, c)
				args = append(args, v)
			}
		}
		return insertColumns, args, nil

	case nil:
		return nil, nil, fmt.Errorf("%w: nil row for table %q", apperrors.ErrShape, tableName)

	default:
		return nil, nil, fmt.Errorf("%w: unsupported row type %T", apperrors.ErrShape, row)
	}
}

// requireAllColumns checks that a count-based keyed row names every column.
func requireAllColumns(tableName string, columns []string, row KeyedRow) error {
	for _, p := range row {
		if !containsColumn(columns, p.Column) {
			return fmt.Errorf("%w: %q is not a column of table %q", apperrors.ErrValidation, p.Column, tableName)
		}
	}
	for _, c := range columns {
		if _, ok := row.Get(c); !ok {
			return fmt.Errorf("%w: keyed row for table %q is missing column %q", apperrors.ErrShape, tableName, c)
		}
	}
	return nil
}

// selectList casts every column to text so rows read back as strings.
func selectList(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = quoteIdent(c) + "::text"
	}
	return strings.Join(parts, ", ")
}
