// Package migrations bundles the hospital fixture: the relational
// layout the assistant is built for, plus enough seed rows to make
// demo questions return data. The SQL sticks to the dialect both
// DuckDB and Postgres accept.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
)

//go:embed *.sql
var FS embed.FS

// Apply runs every bundled migration in file order, statement by
// statement. Statements are split on semicolons; the fixture keeps
// semicolons out of string literals so the split stays trivial.
func Apply(ctx context.Context, db *sql.DB) error {
	entries, err := FS.ReadDir(".")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		data, err := FS.ReadFile(entry.Name())
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}
		for _, stmt := range strings.Split(string(data), ";") {
			stmt = stripLineComments(stmt)
			if stmt == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				preview := stmt
				if len(preview) > 120 {
					preview = preview[:120] + "..."
				}
				return fmt.Errorf("failed to apply %s at %q: %w", entry.Name(), preview, err)
			}
		}
	}
	return nil
}

// stripLineComments drops full-line -- comments so a chunk that is
// only commentary does not reach the database as an empty statement.
func stripLineComments(stmt string) string {
	var kept []string
	for _, line := range strings.Split(stmt, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
