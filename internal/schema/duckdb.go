package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// DuckDB introspects a DuckDB database. Tables and columns come from
// information_schema (DuckDB exposes its catalog under the "main"
// schema); key constraints come from duckdb_constraints(), which is the
// only place DuckDB reports foreign-key targets.
type DuckDB struct {
	log    *slog.Logger
	db     *sql.DB
	search string
}

func NewDuckDB(log *slog.Logger, db *sql.DB) *DuckDB {
	return &DuckDB{log: log, db: db, search: "main"}
}

func (d *DuckDB) Describe(ctx context.Context) (*Description, error) {
	tables, err := d.tablesWithColumns(ctx)
	if err != nil {
		return nil, fmt.Errorf("describe tables: %w", err)
	}
	if err := d.applyConstraints(ctx, tables); err != nil {
		return nil, fmt.Errorf("describe constraints: %w", err)
	}

	desc := &Description{Tables: tables}
	if len(desc.Tables) == 0 {
		d.log.Warn("schema: no user tables found", "search_schema", d.search)
	} else {
		d.log.Debug("schema: introspected database", "tables", len(desc.Tables))
	}
	return desc, nil
}

func (d *DuckDB) tablesWithColumns(ctx context.Context) ([]Table, error) {
	query := `
		SELECT c.table_name, c.column_name, c.data_type, c.is_nullable
		FROM information_schema.columns c
		JOIN information_schema.tables t
			ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE c.table_schema = ? AND t.table_type = 'BASE TABLE'
		ORDER BY c.table_name, c.ordinal_position
	`
	rows, err := d.db.QueryContext(ctx, query, d.search)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var table, nullable string
		var col Column
		if err := rows.Scan(&table, &col.Name, &col.Type, &nullable); err != nil {
			return nil, err
		}
		col.Nullable = nullable == "YES"
		if len(tables) == 0 || tables[len(tables)-1].Name != table {
			tables = append(tables, Table{Name: table})
		}
		last := &tables[len(tables)-1]
		last.Columns = append(last.Columns, col)
	}
	return tables, rows.Err()
}

func (d *DuckDB) applyConstraints(ctx context.Context, tables []Table) error {
	query := `
		SELECT
			table_name,
			constraint_type,
			constraint_column_names::VARCHAR,
			referenced_table,
			referenced_column_names::VARCHAR
		FROM duckdb_constraints()
		WHERE schema_name = ? AND constraint_type IN ('PRIMARY KEY', 'FOREIGN KEY')
	`
	rows, err := d.db.QueryContext(ctx, query, d.search)
	if err != nil {
		return err
	}
	defer rows.Close()

	byName := make(map[string]*Table, len(tables))
	for i := range tables {
		byName[tables[i].Name] = &tables[i]
	}

	for rows.Next() {
		var table, kind, colList string
		var refTable, refColList sql.NullString
		if err := rows.Scan(&table, &kind, &colList, &refTable, &refColList); err != nil {
			return err
		}
		t, ok := byName[table]
		if !ok {
			continue
		}
		cols := parseNameList(colList)
		switch kind {
		case "PRIMARY KEY":
			for _, name := range cols {
				if c, ok := t.Lookup(name); ok {
					c.PrimaryKey = true
				}
			}
		case "FOREIGN KEY":
			refCols := parseNameList(refColList.String)
			for i, name := range cols {
				c, ok := t.Lookup(name)
				if !ok || i >= len(refCols) {
					continue
				}
				c.References = &Ref{Table: refTable.String, Column: refCols[i]}
			}
		}
	}
	return rows.Err()
}

// parseNameList unpacks DuckDB's textual list form, e.g. "[patient_id]"
// or "[a, b]".
func parseNameList(s string) []string {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

var _ Introspector = (*DuckDB)(nil)
