// Package postgres implements the PostgreSQL backend on pgx v5. Each Save
// runs drop/create and a COPY of every batch inside one transaction, so a
// failed save leaves the previous table untouched.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	gddl "github.com/Meng-nanco/Disaster-Response-Pipelines/internal/ddl"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/etlerr"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/storage"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/pkg/records"
)

const existsSQL = `SELECT EXISTS (
  SELECT 1 FROM information_schema.tables
  WHERE table_schema = current_schema() AND table_name = $1
)`

// IdentRules holds PostgreSQL's limit on identifier length. Longer names are
// truncated by the server, which can make two columns collide.
var IdentRules = []storage.IdentRule{storage.MaxBytes(63)}

// MapType maps a logical column kind to a PostgreSQL type.
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case storage.KindInt, "integer", "bigint":
		return "BIGINT"
	case storage.KindReal, "float", "double":
		return "DOUBLE PRECISION"
	case "bool", "boolean":
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// Sink is a storage.Sink backed by a pgx connection pool.
type Sink struct {
	pool *pgxpool.Pool
	opt  storage.Options
}

var _ storage.Sink = (*Sink)(nil)

// NewSink connects to dsn and pings the server.
func NewSink(ctx context.Context, dsn string, opt storage.Options) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Sink{pool: pool, opt: opt}, nil
}

// Close releases the pool.
func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}

// Save implements storage.Sink.
func (s *Sink) Save(ctx context.Context, t *records.Table, tableName string, policy storage.Policy) (int64, error) {
	const op = "postgres: save"
	if err := storage.ValidateIdentifiers(tableName, t.Columns, IdentRules...); err != nil {
		return 0, err
	}
	fail := func(err error) error {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &etlerr.Error{Kind: etlerr.KindIO, Op: op, Path: tableName, Err: err}
	}

	def, kinds := storage.TableDef(tableName, t, MapType)
	createSQL, err := gddl.BuildCreateTableSQL(def, gddl.DoubleQuote)
	if err != nil {
		return 0, fail(err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fail(fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, existsSQL, tableName).Scan(&exists); err != nil {
		return 0, fail(fmt.Errorf("check table: %w", err))
	}

	create := !exists
	switch policy {
	case storage.FailIfExists:
		if exists {
			return 0, fail(storage.ErrTableExists)
		}
	case storage.Append:
	default:
		if exists {
			if _, err := tx.Exec(ctx, "DROP TABLE "+gddl.DoubleQuote(tableName)); err != nil {
				return 0, fail(fmt.Errorf("drop table: %w", err))
			}
			create = true
		}
	}
	if create {
		if _, err := tx.Exec(ctx, createSQL); err != nil {
			return 0, fail(fmt.Errorf("create table: %w", err))
		}
	}

	ident := pgx.Identifier{tableName}
	copyFn := func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		n, err := tx.CopyFrom(ctx, ident, columns, pgx.CopyFromRows(rows))
		if err != nil {
			return n, fmt.Errorf("copy: %w", err)
		}
		return n, nil
	}

	n, err := storage.LoadBatches(ctx, t.Columns, storage.RowValues(t, kinds),
		s.opt.BatchSizeOrDefault(), copyFn, s.opt.Job, s.opt.LoggerOrNop())
	if err != nil {
		return 0, fail(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fail(fmt.Errorf("commit: %w", err))
	}
	return n, nil
}
