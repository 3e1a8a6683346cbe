// Package router applies mutation records to the relational and document
// stores according to each record's type, action and target.
//
// The two backends are written independently. A record targeting both is
// applied to the relational store first and then to the document store; a
// failure in one does not stop the other.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/histograph/histograph-sink/pkg/adapters/document"
	"github.com/histograph/histograph-sink/pkg/adapters/relational"
	"github.com/histograph/histograph-sink/pkg/apperrors"
	"github.com/histograph/histograph-sink/pkg/retry"
	"github.com/histograph/histograph-sink/pkg/tokens"
)

// Record is one mutation in internal tokens.
type Record struct {
	// ID correlates log lines for one record. Handle assigns one if empty.
	ID     string
	Type   tokens.EntityType
	Action tokens.Action
	Target tokens.Target
	Fields map[string]string
}

// HGID returns the record's global identifier.
func (r Record) HGID() string {
	return r.Fields[tokens.HGID]
}

// Relational is the part of the relational store the router uses.
type Relational interface {
	TableExists(ctx context.Context, tableName string) (bool, error)
	CreateTable(ctx context.Context, tableName string, fieldTypes ...string) error
	IndexExists(ctx context.Context, tableName, column string) (bool, error)
	CreateIndex(ctx context.Context, tableName, column string) error
	InsertRow(ctx context.Context, tableName string, row relational.Row) error
	UpsertRow(ctx context.Context, tableName, key string, row relational.KeyedRow) error
	DeleteRowsWhere(ctx context.Context, tableName, key, value string) (int64, error)
}

// Documents is the part of the document store the router uses.
type Documents interface {
	IndexExists(ctx context.Context) (bool, error)
	CreateIndex(ctx context.Context) error
	AddDocument(ctx context.Context, fields map[string]string) (*document.Response, error)
	UpdateDocument(ctx context.Context, fields map[string]string) (*document.UpdateResult, error)
	DeleteDocument(ctx context.Context, fields map[string]string) (*document.Response, error)
}

// Router dispatches records to the stores.
type Router struct {
	relational Relational
	documents  Documents
	retry      *retry.Config
	logger     *zap.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithRetry sets the backoff used around each backend write. A nil config
// disables retries.
func WithRetry(cfg *retry.Config) Option {
	return func(r *Router) {
		if cfg == nil {
			cfg = &retry.Config{}
		}
		r.retry = cfg
	}
}

// New creates a Router. Either store may be nil, in which case records
// targeting it fail with ErrConfig.
func New(rel Relational, docs Documents, logger *zap.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		relational: rel,
		documents:  docs,
		retry:      retry.DefaultConfig(),
		logger:     logger.Named("router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bootstrap creates the bookkeeping tables, their key indexes and the
// document index when they do not exist yet. pits is keyed by hgid, so adding
// a PIT that is already stored fails with apperrors.ErrConflict.
func (r *Router) Bootstrap(ctx context.Context) error {
	if r.relational != nil {
		for _, t := range []table{pitTable, rejectedRelationTable} {
			if err := r.ensureTable(ctx, t); err != nil {
				return err
			}
		}
	}

	if r.documents != nil {
		exists, err := r.documents.IndexExists(ctx)
		if err != nil {
			return fmt.Errorf("probe document index: %w", err)
		}
		if !exists {
			if err := r.documents.CreateIndex(ctx); err != nil {
				return fmt.Errorf("create document index: %w", err)
			}
			r.logger.Info("Created document index")
		}
	}

	return nil
}

func (r *Router) ensureTable(ctx context.Context, t table) error {
	exists, err := r.relational.TableExists(ctx, t.name)
	if err != nil {
		return fmt.Errorf("probe table %s: %w", t.name, err)
	}
	if !exists {
		if err := r.relational.CreateTable(ctx, t.name, t.fieldTypes()...); err != nil {
			return fmt.Errorf("create table %s: %w", t.name, err)
		}
		r.logger.Info("Created table", zap.String("table", t.name))
	}

	// The primary key brings its own index.
	if t.uniqueKey {
		return nil
	}

	exists, err = r.relational.IndexExists(ctx, t.name, t.key)
	if err != nil {
		return fmt.Errorf("probe index on %s(%s): %w", t.name, t.key, err)
	}
	if !exists {
		if err := r.relational.CreateIndex(ctx, t.name, t.key); err != nil {
			return fmt.Errorf("create index on %s(%s): %w", t.name, t.key, err)
		}
	}

	return nil
}

// Handle applies rec to every backend its target includes. Errors from the
// relational and document writes are joined.
func (r *Router) Handle(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Target == "" {
		rec.Target = tokens.TargetBoth
	}

	logger := r.logger.With(
		zap.String("record_id", rec.ID),
		zap.String("type", rec.Type.String()),
		zap.String("action", rec.Action.String()),
		zap.String("target", rec.Target.String()),
		zap.String("hgid", rec.HGID()))

	if err := validate(rec); err != nil {
		return err
	}

	if rec.Type == tokens.TypeRelation && rec.Action != tokens.ActionAddToRejected {
		logger.Debug("Relation mutation belongs to the graph path, skipping")
		return nil
	}

	var errs []error
	if rec.Target.Includes(tokens.TargetRelational) {
		if err := r.withRetry(ctx, func() error { return r.applyRelational(ctx, rec, logger) }); err != nil {
			errs = append(errs, fmt.Errorf("relational %s %s %q: %w", rec.Action, rec.Type, rec.HGID(), err))
		}
	}
	if rec.Target.Includes(tokens.TargetDocument) {
		if rec.Type == tokens.TypeRelation {
			logger.Debug("Rejected relations are not indexed")
		} else if err := r.withRetry(ctx, func() error { return r.applyDocument(ctx, rec, logger) }); err != nil {
			errs = append(errs, fmt.Errorf("document %s %s %q: %w", rec.Action, rec.Type, rec.HGID(), err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		logger.Error("Failed to apply record", zap.Error(err))
		return err
	}

	logger.Debug("Applied record")
	return nil
}

func validate(rec Record) error {
	if !rec.Type.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", apperrors.ErrValidation, rec.Type)
	}
	if !rec.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", apperrors.ErrValidation, rec.Action)
	}
	if !rec.Target.Valid() {
		return fmt.Errorf("%w: unknown target %q", apperrors.ErrValidation, rec.Target)
	}
	if rec.Type == tokens.TypePIT && rec.Action == tokens.ActionAddToRejected {
		return fmt.Errorf("%w: action %s only applies to relations", apperrors.ErrValidation, rec.Action)
	}
	if rec.HGID() == "" {
		return fmt.Errorf("%w: record has no %s", apperrors.ErrValidation, tokens.HGID)
	}
	return nil
}

func (r *Router) withRetry(ctx context.Context, fn func() error) error {
	return retry.DoIfRetryable(ctx, r.retry, fn)
}

func (r *Router) applyRelational(ctx context.Context, rec Record, logger *zap.Logger) error {
	if r.relational == nil {
		return fmt.Errorf("%w: no relational store configured", apperrors.ErrConfig)
	}

	if rec.Type == tokens.TypeRelation {
		return r.relational.InsertRow(ctx, rejectedRelationTable.name, rejectedRelationTable.row(rec.Fields))
	}

	switch rec.Action {
	case tokens.ActionAdd:
		return r.relational.InsertRow(ctx, pitTable.name, pitTable.row(rec.Fields))
	case tokens.ActionUpdate:
		return r.relational.UpsertRow(ctx, pitTable.name, pitTable.key, pitTable.row(rec.Fields))
	case tokens.ActionDelete:
		n, err := r.relational.DeleteRowsWhere(ctx, pitTable.name, pitTable.key, rec.HGID())
		if err != nil {
			return err
		}
		if n == 0 {
			logger.Debug("No row to delete")
		}
		return nil
	}

	return fmt.Errorf("%w: action %s not supported for %s", apperrors.ErrValidation, rec.Action, rec.Type)
}

func (r *Router) applyDocument(ctx context.Context, rec Record, logger *zap.Logger) error {
	if r.documents == nil {
		return fmt.Errorf("%w: no document store configured", apperrors.ErrConfig)
	}

	switch rec.Action {
	case tokens.ActionAdd:
		_, err := r.documents.AddDocument(ctx, rec.Fields)
		return err
	case tokens.ActionUpdate:
		result, err := r.documents.UpdateDocument(ctx, rec.Fields)
		if err != nil && result != nil && result.State == document.UpdateDeleted {
			logger.Warn("Document is absent until the update is repeated")
		}
		return err
	case tokens.ActionDelete:
		resp, err := r.documents.DeleteDocument(ctx, rec.Fields)
		if err == nil && resp.NotFound() {
			logger.Debug("No document to delete")
		}
		return err
	}

	return fmt.Errorf("%w: action %s not supported for %s", apperrors.ErrValidation, rec.Action, rec.Type)
}
