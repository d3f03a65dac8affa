package ddl

// ColumnDef describes one column of a table to be created.
//
// Name is the logical, unquoted name; quoting happens at render time through
// the backend's Quoter.
type ColumnDef struct {
	Name     string
	SQLType  string
	Nullable bool
}

// TableDef is a table name (a single identifier) plus its ordered columns.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}
