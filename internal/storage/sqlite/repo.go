// Package sqlite implements the embedded SQLite backend on modernc.org/sqlite
// (pure Go, no cgo). SQLite has no bulk-load API like Postgres COPY, so rows
// go through a prepared INSERT inside one transaction.
package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	gddl "github.com/Meng-nanco/Disaster-Response-Pipelines/internal/ddl"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/storage"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// Dialect describes SQLite to storage.SQLSink.
var Dialect = storage.Dialect{
	Name:       "sqlite",
	QuoteIdent: gddl.DoubleQuote,
	MapType:    MapType,
	CreateTable: func(def gddl.TableDef) (string, error) {
		return gddl.BuildCreateTableSQL(def, gddl.DoubleQuote)
	},
	ExistsQuery: "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ? COLLATE NOCASE",
}

// MapType maps a logical column kind to a SQLite type affinity.
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case storage.KindInt, "integer", "bigint", "bool", "boolean":
		return "INTEGER"
	case storage.KindReal, "float", "double":
		return "REAL"
	default:
		return "TEXT"
	}
}

// Open opens the database file at dsn (created if missing) and pings it.
// dsn is a file path or a "file:" URI understood by the driver.
func Open(ctx context.Context, dsn string, opt storage.Options) (*storage.SQLSink, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sqlx.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer connection; SQLite serializes writes anyway and a single
	// connection keeps ":memory:" databases consistent.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	// The driver opens lazily; touch the schema so an unwritable path fails
	// here rather than mid-save.
	if _, err := db.ExecContext(ctx, "PRAGMA user_version"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}
	return storage.NewSQLSink(db, Dialect, opt), nil
}
