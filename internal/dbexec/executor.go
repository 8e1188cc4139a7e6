// Package dbexec runs validated, read-only SQL against a database/sql
// handle. Database-level failures are part of the result value rather
// than Go errors: the repair loop treats a failed execution as attempt
// data the generator can learn from, not as a reason to abort.
package dbexec

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const defaultMaxRows = 1000

// Result is the outcome of executing one statement. Exactly one of Rows
// or Error is meaningful: on failure Error carries the database's
// message and Rows is empty. Truncated is set when the row cap cut the
// result short.
type Result struct {
	SQL       string           `json:"sql"`
	Columns   []string         `json:"columns,omitempty"`
	Rows      []map[string]any `json:"rows,omitempty"`
	Count     int              `json:"count"`
	Truncated bool             `json:"truncated,omitempty"`
	Error     string           `json:"error,omitempty"`
	Duration  time.Duration    `json:"-"`
}

// Failed reports whether execution hit a database-level error.
func (r *Result) Failed() bool { return r.Error != "" }

type Config struct {
	Logger *slog.Logger
	DB     *sql.DB

	// MaxRows caps how many rows are scanned into a Result. Defaults to
	// 1000; results past the cap are marked Truncated.
	MaxRows int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.DB == nil {
		return fmt.Errorf("database is required")
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	return nil
}

// Executor runs statements inside read-only transactions that are
// always rolled back, so even an engine that permits implicit writes
// never commits one.
type Executor struct {
	log     *slog.Logger
	db      *sql.DB
	maxRows int
}

func New(cfg Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate executor config: %w", err)
	}
	return &Executor{
		log:     cfg.Logger,
		db:      cfg.DB,
		maxRows: cfg.MaxRows,
	}, nil
}

// Execute runs one statement and returns its result. The error field of
// the result captures every database-level failure, including context
// timeouts surfaced by the driver. The transaction is rolled back on
// every exit path.
func (e *Executor) Execute(ctx context.Context, sqlText string) Result {
	start := time.Now()
	res := Result{SQL: sqlText}

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		// DuckDB's driver rejects the read-only option; an uncommitted
		// ordinary transaction still discards any implicit write.
		if strings.Contains(err.Error(), "read-only") {
			tx, err = e.db.BeginTx(ctx, nil)
		}
		if err != nil {
			res.Error = err.Error()
			res.Duration = time.Since(start)
			e.log.Debug("dbexec: begin failed", "error", err)
			return res
		}
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		res.Error = err.Error()
		res.Duration = time.Since(start)
		e.log.Debug("dbexec: query failed", "error", err, "duration", res.Duration)
		return res
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		res.Error = err.Error()
		res.Duration = time.Since(start)
		return res
	}
	res.Columns = cols

	for rows.Next() {
		if len(res.Rows) >= e.maxRows {
			res.Truncated = true
			break
		}
		values := make([]any, len(cols))
		valuePtrs := make([]any, len(cols))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			res.Error = err.Error()
			res.Duration = time.Since(start)
			return res
		}
		rowMap := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			rowMap[col] = v
		}
		res.Rows = append(res.Rows, rowMap)
	}
	if err := rows.Err(); err != nil {
		res.Error = err.Error()
		res.Duration = time.Since(start)
		return res
	}

	res.Count = len(res.Rows)
	res.Duration = time.Since(start)
	e.log.Debug("dbexec: query executed", "rows", res.Count, "truncated", res.Truncated, "duration", res.Duration)
	return res
}
