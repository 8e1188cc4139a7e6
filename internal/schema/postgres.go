package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// PG introspects a PostgreSQL database through information_schema. Only
// base tables in the given schema (default "public") are described.
type PG struct {
	log    *slog.Logger
	db     *sql.DB
	search string
}

func NewPG(log *slog.Logger, db *sql.DB) *PG {
	return &PG{log: log, db: db, search: "public"}
}

func (p *PG) Describe(ctx context.Context) (*Description, error) {
	names, err := p.tableNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	desc := &Description{}
	for _, name := range names {
		cols, err := p.columns(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("describe columns of %s: %w", name, err)
		}
		pks, err := p.primaryKeys(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("describe primary key of %s: %w", name, err)
		}
		fks, err := p.foreignKeys(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("describe foreign keys of %s: %w", name, err)
		}
		for i := range cols {
			if _, ok := pks[cols[i].Name]; ok {
				cols[i].PrimaryKey = true
			}
			if ref, ok := fks[cols[i].Name]; ok {
				cols[i].References = &Ref{Table: ref.Table, Column: ref.Column}
			}
		}
		desc.Tables = append(desc.Tables, Table{Name: name, Columns: cols})
	}

	if len(desc.Tables) == 0 {
		p.log.Warn("schema: no user tables found", "search_schema", p.search)
	} else {
		p.log.Debug("schema: introspected database", "tables", len(desc.Tables))
	}
	return desc, nil
}

func (p *PG) tableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`
	rows, err := p.db.QueryContext(ctx, query, p.search)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (p *PG) columns(ctx context.Context, table string) ([]Column, error) {
	query := `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`
	rows, err := p.db.QueryContext(ctx, query, p.search, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var col Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable); err != nil {
			return nil, err
		}
		col.Nullable = nullable == "YES"
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (p *PG) primaryKeys(ctx context.Context, table string) (map[string]struct{}, error) {
	query := `
		SELECT kcu.column_name
		FROM information_schema.key_column_usage kcu
		JOIN information_schema.table_constraints tc
			ON kcu.constraint_name = tc.constraint_name
			AND kcu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND kcu.table_schema = $1
			AND kcu.table_name = $2
		ORDER BY kcu.ordinal_position
	`
	rows, err := p.db.QueryContext(ctx, query, p.search, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pks := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		pks[name] = struct{}{}
	}
	return pks, rows.Err()
}

func (p *PG) foreignKeys(ctx context.Context, table string) (map[string]Ref, error) {
	query := `
		SELECT DISTINCT
			kcu1.column_name,
			kcu2.table_name AS referenced_table,
			kcu2.column_name AS referenced_column
		FROM information_schema.referential_constraints rc
		JOIN information_schema.key_column_usage kcu1
			ON kcu1.constraint_name = rc.constraint_name
			AND kcu1.table_schema = rc.constraint_schema
		JOIN information_schema.key_column_usage kcu2
			ON kcu2.constraint_name = rc.unique_constraint_name
			AND kcu2.table_schema = rc.unique_constraint_schema
			AND kcu2.ordinal_position = kcu1.ordinal_position
		WHERE kcu1.table_schema = $1 AND kcu1.table_name = $2
	`
	rows, err := p.db.QueryContext(ctx, query, p.search, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fks := make(map[string]Ref)
	for rows.Next() {
		var col string
		var ref Ref
		if err := rows.Scan(&col, &ref.Table, &ref.Column); err != nil {
			return nil, err
		}
		fks[col] = ref
	}
	return fks, rows.Err()
}

var _ Introspector = (*PG)(nil)
