package store

import (
	"context"
	"strings"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savagescraper/savage/internal/scrape"
)

func TestPostgresAppendInsertsKeyedRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresStoreWithPool(mock, "products_results", "product_url")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO products_results").
		WithArgs("https://example.com/p1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = s.Append(context.Background(), scrape.Result{
		"product_url": "https://example.com/p1",
		"price":       "9.99",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendEmptyKeyGetsSurrogate(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresStoreWithPool(mock, "results", "product_url")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO results").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Append(context.Background(), scrape.Result{"product_url": ""}))
	require.NoError(t, mock.ExpectationsWereMet())

	// A second placeholder must not collide with the first.
	mock.ExpectExec("INSERT INTO results").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.Append(context.Background(), scrape.Result{"product_url": ""}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresExistingKeysFiltersSurrogates(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresStoreWithPool(mock, "results", "product_url")
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"resume_key"}).
		AddRow("https://example.com/p1").
		AddRow(emptyKeyPrefix + "abc").
		AddRow("https://example.com/p2")
	mock.ExpectQuery("SELECT resume_key FROM results").WillReturnRows(rows)

	keys, malformed, err := s.ExistingKeys(context.Background(), "product_url")
	require.NoError(t, err)
	assert.Zero(t, malformed)
	assert.Len(t, keys, 2)
	assert.True(t, keys.Has("https://example.com/p1"))
	assert.False(t, keys.Has(emptyKeyPrefix+"abc"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresExistingKeysRejectsWrongField(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresStoreWithPool(mock, "results", "product_url")
	require.NoError(t, err)

	_, _, err = s.ExistingKeys(context.Background(), "category_url")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "keyed by"))
}

func TestPostgresRejectsInvalidTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresStoreWithPool(mock, "results; DROP TABLE x", "url")
	require.Error(t, err)
}

func TestPostgresBackupIsNoop(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresStoreWithPool(mock, "results", "url")
	require.NoError(t, err)

	path, err := s.Backup(context.Background())
	require.NoError(t, err)
	assert.Empty(t, path)
}
