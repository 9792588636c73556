package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/github-crawler/internal/clock"
	"github.com/JakeFAU/github-crawler/internal/crawler"
)

func TestOutputUpsertsOneRowPerBranch(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	s, err := NewWithPool(mock, "records", clock.NewFixed(now))
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO records").
		WithArgs("run-1", "acme/svc", "dev", false, false, false, pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO records").
		WithArgs("run-1", "acme/svc", "main", true, false, false, pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = s.Output(context.Background(), crawler.Repository{
		Name: "svc", FullName: "acme/svc", DefaultBranch: "main", CrawlerRunID: "run-1",
		Indicators: map[string]map[string]string{"main": {"v": "1"}, "dev": {"v": "2"}},
	})
	require.NoError(t, err)
	require.NoError(t, s.Finalize(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutputReturnsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock, "", nil)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO crawl_records").WillReturnError(errors.New("connection reset"))

	err = s.Output(context.Background(), crawler.Repository{Name: "svc", FullName: "acme/svc", DefaultBranch: "main"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acme/svc@main")
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock, "records", nil)
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS records").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "records; drop table x", nil)
	require.Error(t, err)
	_, err = NewWithPool(nil, "records", nil)
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
