// Package mysql implements the MySQL backend on go-sql-driver/mysql.
//
// MySQL commits DDL implicitly, so under the overwrite policy the DROP and
// CREATE are not rolled back if a later insert fails; the inserts themselves
// are still transactional (InnoDB).
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	gddl "github.com/Meng-nanco/Disaster-Response-Pipelines/internal/ddl"
	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/storage"
)

// Dialect describes MySQL to storage.SQLSink.
var Dialect = storage.Dialect{
	Name:       "mysql",
	QuoteIdent: QuoteIdent,
	MapType:    MapType,
	CreateTable: func(def gddl.TableDef) (string, error) {
		return gddl.BuildCreateTableSQL(def, QuoteIdent)
	},
	ExistsQuery: "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?",
	IdentRules:  []storage.IdentRule{storage.MaxRunes(64), storage.NoTrailingSpace},
}

// QuoteIdent quotes a single identifier with backticks.
func QuoteIdent(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}

// MapType maps a logical column kind to a MySQL type.
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case storage.KindInt, "integer", "bigint":
		return "BIGINT"
	case storage.KindReal, "float", "double":
		return "DOUBLE"
	case "bool", "boolean":
		return "TINYINT(1)"
	default:
		return "LONGTEXT"
	}
}

// Open parses dsn (the driver's user:pass@tcp(host:port)/db form), connects
// and pings the server.
func Open(ctx context.Context, dsn string, opt storage.Options) (*storage.SQLSink, error) {
	cfg, err := mysqldrv.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	if cfg.DBName == "" {
		return nil, fmt.Errorf("mysql dsn: database name is required")
	}
	connector, err := mysqldrv.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sqlx.NewDb(sql.OpenDB(connector), "mysql")
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return storage.NewSQLSink(db, Dialect, opt), nil
}
