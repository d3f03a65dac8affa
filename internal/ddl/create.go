// Package ddl is a small, backend-agnostic model for CREATE TABLE statements.
// Backends supply a Quoter for their identifier syntax; everything else about
// the statement is shared.
package ddl

import (
	"fmt"
	"strings"
)

// Quoter quotes one identifier, e.g. "name" for SQLite/Postgres or [name]
// for SQL Server.
type Quoter func(string) string

// DoubleQuote is the ANSI SQL Quoter: "ident" with embedded quotes doubled.
func DoubleQuote(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// BuildCreateTableSQL renders:
//
//	CREATE TABLE <table> (
//	  <col> <type> [NOT NULL] [DEFAULT <expr>],
//	  ...,
//	  [PRIMARY KEY (<pk-cols>)]
//	);
//
// The table and column names pass through quote; a nil quote emits them
// verbatim.
func BuildCreateTableSQL(t TableDef, quote Quoter) (string, error) {
	if quote == nil {
		quote = func(s string) string { return s }
	}
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}

	cols := make([]string, 0, len(t.Columns))

	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("ddl: column %s missing SQLType", c.Name)
		}

		var sb strings.Builder
		sb.WriteString(quote(c.Name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable {
			sb.WriteString(" NOT NULL")
		}
		cols = append(cols, sb.String())
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", quote(t.FQN), strings.Join(cols, ",\n  ")), nil
}
