// Package schema introspects a relational database into a compact,
// immutable description of its tables, columns, and key relationships.
// The description grounds SQL generation and validation: the generator
// sees it rendered as text, the validator checks identifiers against it.
package schema

import (
	"context"
	"fmt"
	"strings"
)

// Introspector reads table and column metadata from a live database.
// Implementations must return a complete description or an error, never
// a partial one: generation quality degrades silently on missing tables,
// so metadata failures are surfaced instead of papered over.
type Introspector interface {
	Describe(ctx context.Context) (*Description, error)
}

// Description is the full schema of one database. It is built once per
// session and never mutated afterwards, so concurrent sessions may share
// a single instance by read-only reference.
type Description struct {
	Tables []Table `json:"tables"`
}

// Table describes one user table with its columns in ordinal order.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Column describes one column, including whether it participates in the
// primary key and, for foreign keys, the referenced table and column.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
	References *Ref   `json:"references,omitempty"`
}

// Ref identifies the target of a foreign-key edge.
type Ref struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// Lookup returns the table with the given name, matched
// case-insensitively.
func (d *Description) Lookup(name string) (*Table, bool) {
	for i := range d.Tables {
		if strings.EqualFold(d.Tables[i].Name, name) {
			return &d.Tables[i], true
		}
	}
	return nil, false
}

// HasTable reports whether a table with the given name exists,
// case-insensitively.
func (d *Description) HasTable(name string) bool {
	_, ok := d.Lookup(name)
	return ok
}

// HasColumn reports whether any table has a column with the given name,
// case-insensitively.
func (d *Description) HasColumn(name string) bool {
	for i := range d.Tables {
		if _, ok := d.Tables[i].Lookup(name); ok {
			return true
		}
	}
	return false
}

// Lookup returns the column with the given name, matched
// case-insensitively.
func (t *Table) Lookup(name string) (*Column, bool) {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Render produces the textual form of the description used as grounding
// context in prompts. One line per column, with key relationships spelled
// out so the model can join correctly:
//
//	Patients:
//	  - patient_id (integer), primary key
//	  - date_of_birth (date)
//	  - department_id (integer), nullable, references Departments(department_id)
func (d *Description) Render() string {
	var b strings.Builder
	for _, t := range d.Tables {
		fmt.Fprintf(&b, "%s:\n", t.Name)
		for _, c := range t.Columns {
			fmt.Fprintf(&b, "  - %s (%s)%s\n", c.Name, c.Type, c.attrs())
		}
	}
	return b.String()
}

func (c *Column) attrs() string {
	var parts []string
	if c.PrimaryKey {
		parts = append(parts, "primary key")
	}
	if c.Nullable {
		parts = append(parts, "nullable")
	}
	if c.References != nil {
		parts = append(parts, fmt.Sprintf("references %s(%s)", c.References.Table, c.References.Column))
	}
	if len(parts) == 0 {
		return ""
	}
	return ", " + strings.Join(parts, ", ")
}
