//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/etlerr"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/storage"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/pkg/records"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithUsername("etl"),
		tcpostgres.WithPassword("etl"),
		tcpostgres.WithDatabase("disaster"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func cleanedTable(n int) *records.Table {
	t := records.NewTable("id", "message", "original", "related", "offer")
	for i := 0; i < n; i++ {
		t.Rows = append(t.Rows, records.Record{
			"id": int64(i + 1), "message": "help", "original": nil, "related": int64(1), "offer": int64(0),
		})
	}
	return t
}

func TestSinkPolicies(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	s, err := storage.Open(ctx, dsn, storage.Options{BatchSize: 2})
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Save(ctx, cleanedTable(5), "Messages", storage.Overwrite)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	_, err = s.Save(ctx, cleanedTable(2), "Messages", storage.Overwrite)
	require.NoError(t, err)
	assert.Equal(t, 2, countRows(t, s.(*Sink), "Messages"))

	_, err = s.Save(ctx, cleanedTable(3), "Messages", storage.Append)
	require.NoError(t, err)
	assert.Equal(t, 5, countRows(t, s.(*Sink), "Messages"))

	_, err = s.Save(ctx, cleanedTable(1), "Messages", storage.FailIfExists)
	require.ErrorIs(t, err, storage.ErrTableExists)
	require.ErrorIs(t, err, etlerr.ErrIO)
	assert.Equal(t, 5, countRows(t, s.(*Sink), "Messages"))
}

func TestSinkColumnTypes(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	s, err := NewSink(ctx, dsn, storage.Options{})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Save(ctx, cleanedTable(1), "messages", storage.Overwrite)
	require.NoError(t, err)

	rows, err := s.pool.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_name = 'messages' ORDER BY ordinal_position`)
	require.NoError(t, err)
	defer rows.Close()

	got := map[string]string{}
	for rows.Next() {
		var name, typ string
		require.NoError(t, rows.Scan(&name, &typ))
		got[name] = typ
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, map[string]string{
		"id": "bigint", "message": "text", "original": "text", "related": "bigint", "offer": "bigint",
	}, got)
}

func countRows(t *testing.T, s *Sink, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM "`+table+`"`).Scan(&n))
	return n
}
