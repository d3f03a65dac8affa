package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	gddl "github.com/Meng-nanco/Disaster-Response-Pipelines/internal/ddl"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/etlerr"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/pkg/records"
)

// Dialect is what SQLSink needs to know about one database/sql backend.
type Dialect struct {
	// Name is used in error messages, e.g. "sqlite".
	Name string

	// QuoteIdent quotes a single identifier.
	QuoteIdent func(string) string

	// MapType maps a logical kind (KindInt, KindReal, KindText) to a column
	// type.
	MapType func(kind string) string

	// CreateTable renders CREATE TABLE for def.
	CreateTable func(def gddl.TableDef) (string, error)

	// ExistsQuery counts tables named by its single bind parameter, written
	// with '?' placeholders; SQLSink rebinds it for the driver.
	ExistsQuery string

	// IdentRules are the store's limits on table and column names.
	IdentRules []IdentRule

	// BulkCopy, when set, replaces the prepared INSERT path.
	BulkCopy func(ctx context.Context, tx *sqlx.Tx, table string, columns []string, rows [][]any) (int64, error)
}

// SQLSink is a Sink over database/sql (through sqlx) shared by the SQLite,
// SQL Server and MySQL backends. Each Save runs in one transaction.
type SQLSink struct {
	db  *sqlx.DB
	d   Dialect
	opt Options
}

// NewSQLSink wraps an open database handle.
func NewSQLSink(db *sqlx.DB, d Dialect, opt Options) *SQLSink {
	return &SQLSink{db: db, d: d, opt: opt}
}

// DB exposes the underlying handle, mainly for tests.
func (s *SQLSink) DB() *sqlx.DB { return s.db }

// Close closes the database handle.
func (s *SQLSink) Close() error { return s.db.Close() }

// Save implements Sink.
func (s *SQLSink) Save(ctx context.Context, t *records.Table, tableName string, policy Policy) (int64, error) {
	op := s.d.Name + ": save"
	if err := ValidateIdentifiers(tableName, t.Columns, s.d.IdentRules...); err != nil {
		return 0, err
	}
	fail := func(err error) error {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &etlerr.Error{Kind: etlerr.KindIO, Op: op, Path: tableName, Err: err}
	}

	def, kinds := TableDef(tableName, t, s.d.MapType)
	createSQL, err := s.d.CreateTable(def)
	if err != nil {
		return 0, fail(err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fail(fmt.Errorf("begin tx: %w", err))
	}
	rollback := func() { _ = tx.Rollback() }

	exists, err := s.tableExists(ctx, tx, tableName)
	if err != nil {
		rollback()
		return 0, fail(err)
	}
	create := !exists
	switch policy {
	case FailIfExists:
		if exists {
			rollback()
			return 0, fail(ErrTableExists)
		}
	case Append:
	default:
		if exists {
			if _, err := tx.ExecContext(ctx, "DROP TABLE "+s.d.QuoteIdent(tableName)); err != nil {
				rollback()
				return 0, fail(fmt.Errorf("drop table: %w", err))
			}
			create = true
		}
	}
	if create {
		if _, err := tx.ExecContext(ctx, createSQL); err != nil {
			rollback()
			return 0, fail(fmt.Errorf("create table: %w", err))
		}
	}

	copyFn := s.insertFn(tx, tableName)
	if s.d.BulkCopy != nil {
		copyFn = func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
			return s.d.BulkCopy(ctx, tx, tableName, columns, rows)
		}
	}
	n, err := LoadBatches(ctx, t.Columns, RowValues(t, kinds), s.opt.BatchSizeOrDefault(), copyFn, s.opt.Job, s.opt.LoggerOrNop())
	if err != nil {
		rollback()
		return 0, fail(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fail(fmt.Errorf("commit: %w", err))
	}
	return n, nil
}

func (s *SQLSink) tableExists(ctx context.Context, tx *sqlx.Tx, name string) (bool, error) {
	var n int
	if err := tx.QueryRowxContext(ctx, tx.Rebind(s.d.ExistsQuery), name).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check table: %w", err)
	}
	return n > 0, nil
}

// insertFn returns a CopyFn running one prepared INSERT per row inside tx.
func (s *SQLSink) insertFn(tx *sqlx.Tx, table string) CopyFn {
	return func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		if len(rows) == 0 {
			return 0, nil
		}
		quoted := make([]string, len(columns))
		marks := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = s.d.QuoteIdent(c)
			marks[i] = "?"
		}
		query := tx.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			s.d.QuoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", ")))

		stmt, err := tx.PreparexContext(ctx, query)
		if err != nil {
			return 0, fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		var inserted int64
		for _, row := range rows {
			if len(row) != len(columns) {
				return inserted, fmt.Errorf("row length %d != columns length %d", len(row), len(columns))
			}
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return inserted, fmt.Errorf("insert: %w", err)
			}
			inserted++
		}
		return inserted, nil
	}
}
