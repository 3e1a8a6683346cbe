//go:build integration

package relational

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/histograph/histograph-sink/pkg/apperrors"
	"github.com/histograph/histograph-sink/pkg/testhelpers"
)

func setupStoreTest(t *testing.T) (*Store, context.Context) {
	t.Helper()

	testDB := testhelpers.GetTestDB(t)
	schema := testDB.FreshSchema(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	return NewStore(testDB.Pool, nil, WithSchema(schema)), ctx
}

func TestStore_CreateTableThenColumnNames(t *testing.T) {
	store, ctx := setupStoreTest(t)

	fieldSets := map[string][]string{
		"one":   {"hgid", "text"},
		"two":   {"hgid", "text", "cause", "text"},
		"mixed": {"zeta", "text", "alpha", "integer", "mid", "bigint"},
	}

	for table, fields := range fieldSets {
		require.NoError(t, store.CreateTable(ctx, table, fields...))

		cols, err := store.ColumnNames(ctx, table)
		require.NoError(t, err)

		var want []string
		for i := 0; i < len(fields); i += 2 {
			want = append(want, fields[i])
		}
		assert.Equal(t, want, cols, "table %s", table)

		n, err := store.ColumnCount(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, len(want), n)
	}

	tables, err := store.ListTables(ctx)
	require.NoError(t, err)
	assert.Len(t, tables, len(fieldSets))
}

func TestStore_RejectsScenario(t *testing.T) {
	store, ctx := setupStoreTest(t)

	require.NoError(t, store.CreateTable(ctx, "rejects", "hgid", "text", "cause", "text"))
	require.NoError(t, store.InsertValues(ctx, "rejects", "pit/1", "bad-geometry"))

	records, err := store.RowsWhere(ctx, "rejects", "hgid", "pit/1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, Record{"hgid": "pit/1", "cause": "bad-geometry"}, records[0])
}

func TestStore_KeyedInsertRoundTrip(t *testing.T) {
	store, ctx := setupStoreTest(t)

	require.NoError(t, store.CreateTable(ctx, "rejects", "hgid", "text", "cause", "text"))
	require.NoError(t, store.InsertValues(ctx, "rejects", "cause", "unresolved", "hgid", "pit/2"))

	records, err := store.RowsWhere(ctx, "rejects", "cause", "unresolved")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "pit/2", records[0]["hgid"])
}

func TestStore_WrongShapeNeverWrites(t *testing.T) {
	store, ctx := setupStoreTest(t)

	require.NoError(t, store.CreateTable(ctx, "rejects", "hgid", "text", "cause", "text"))

	err := store.InsertValues(ctx, "rejects", "pit/1", "x", "y")
	assert.ErrorIs(t, err, apperrors.ErrShape)

	records, err := store.AllRows(ctx, "rejects")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStore_RowsWhereInvalidKey(t *testing.T) {
	store, ctx := setupStoreTest(t)

	require.NoError(t, store.CreateTable(ctx, "rejects", "hgid", "text"))

	_, err := store.RowsWhere(ctx, "rejects", "hgid = hgid OR 1", "x")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestStore_SchemaAdditionsAreSeen(t *testing.T) {
	store, ctx := setupStoreTest(t)
	testDB := testhelpers.GetTestDB(t)

	require.NoError(t, store.CreateTable(ctx, "pits", "hgid", "text"))
	require.NoError(t, store.InsertValues(ctx, "pits", "pit/1"))

	_, err := testDB.Pool.Exec(ctx, "ALTER TABLE "+qualifiedTableName(store.Schema(), "pits")+" ADD COLUMN name text")
	require.NoError(t, err)

	require.NoError(t, store.InsertValues(ctx, "pits", "pit/2", "Amsterdam"))

	records, err := store.RowsWhere(ctx, "pits", "hgid", "pit/2")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, Record{"hgid": "pit/2", "name": "Amsterdam"}, records[0])
}

func TestStore_IndexLifecycle(t *testing.T) {
	store, ctx := setupStoreTest(t)

	require.NoError(t, store.CreateTable(ctx, "pits", "hgid", "text"))

	exists, err := store.IndexExists(ctx, "pits", "hgid")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.CreateIndex(ctx, "pits", "hgid"))

	exists, err = store.IndexExists(ctx, "pits", "hgid")
	require.NoError(t, err)
	assert.True(t, exists)

	err = store.CreateIndex(ctx, "pits", "hgid")
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
}

func TestStore_UpsertAndDelete(t *testing.T) {
	store, ctx := setupStoreTest(t)

	require.NoError(t, store.CreateTable(ctx, "pits", "hgid", "text", "name", "text"))
	require.NoError(t, store.InsertRow(ctx, "pits", FromMap(map[string]string{"hgid": "pit/1", "name": "Old"})))

	require.NoError(t, store.UpsertRow(ctx, "pits", "hgid", FromMap(map[string]string{"hgid": "pit/1", "name": "New"})))

	records, err := store.RowsWhere(ctx, "pits", "hgid", "pit/1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "New", records[0]["name"])

	n, err := store.DeleteRowsWhere(ctx, "pits", "hgid", "pit/1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, err = store.AllRows(ctx, "pits")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStore_ConcurrentInsertSameKey(t *testing.T) {
	store, ctx := setupStoreTest(t)

	require.NoError(t, store.CreateTable(ctx, "pits", "hgid", "text primary key"))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.InsertValues(ctx, "pits", "pit/1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrPersistence)
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	}
	assert.Equal(t, 1, succeeded)
}
