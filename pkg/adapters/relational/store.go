// Package relational implements schema-introspecting CRUD over PostgreSQL.
//
// Column lists are read from the live catalog on every call and never cached,
// so tables may gain columns without code changes. Values are always bound as
// parameters. Table and column identifiers only come from the catalog or from
// caller-controlled constants and are quoted before use.
package relational

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DefaultSchema is the schema tables are discovered and created in.
const DefaultSchema = "public"

// DBTX is the subset of pgxpool.Pool, pgx.Conn and pgx.Tx used by Store.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides table, row and index operations over an open connection.
// It holds no per-call state and is safe for concurrent use when db is.
type Store struct {
	db     DBTX
	schema string
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithSchema overrides the schema used for discovery and DDL.
func WithSchema(schema string) Option {
	return func(s *Store) {
		if schema != "" {
			s.schema = schema
		}
	}
}

// NewStore creates a Store over db. If logger is nil, a no-op logger is used.
func NewStore(db DBTX, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		db:     db,
		schema: DefaultSchema,
		logger: logger.Named("relational"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schema returns the schema the store operates in.
func (s *Store) Schema() string {
	return s.schema
}
