// Package mssql implements the Microsoft SQL Server backend on go-mssqldb.
// Rows are loaded with the driver's bulk copy API inside the save
// transaction.
package mssql

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	gddl "github.com/Meng-nanco/Disaster-Response-Pipelines/internal/ddl"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/storage"
)

// Dialect describes SQL Server to storage.SQLSink.
var Dialect = storage.Dialect{
	Name:       "mssql",
	QuoteIdent: QuoteIdent,
	MapType:    MapType,
	CreateTable: func(def gddl.TableDef) (string, error) {
		return gddl.BuildCreateTableSQL(def, QuoteIdent)
	},
	ExistsQuery: "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = SCHEMA_NAME() AND TABLE_NAME = ?",
	IdentRules:  []storage.IdentRule{storage.MaxRunes(128)},
	BulkCopy:    bulkCopy,
}

// QuoteIdent quotes a single identifier as [name].
func QuoteIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

// MapType maps a logical column kind to a SQL Server type.
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case storage.KindInt, "integer", "bigint":
		return "BIGINT"
	case storage.KindReal, "float", "double":
		return "FLOAT"
	case "bool", "boolean":
		return "BIT"
	default:
		return "NVARCHAR(MAX)"
	}
}

// Open validates dsn, connects and pings the server.
func Open(ctx context.Context, dsn string, opt storage.Options) (*storage.SQLSink, error) {
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sqlx.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlx.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return storage.NewSQLSink(db, Dialect, opt), nil
}

// bulkCopy streams one batch through mssql.CopyIn on the save transaction.
func bulkCopy(ctx context.Context, tx *sqlx.Tx, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(QuoteIdent(table), mssql.BulkOptions{}, columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
