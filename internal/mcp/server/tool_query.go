package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sqlmedic/sqlmedic/internal/metrics"
	"github.com/sqlmedic/sqlmedic/internal/schema"
	"github.com/sqlmedic/sqlmedic/internal/session"
)

type QueryInput struct {
	SQL string `json:"sql"`
}

type QueryRow map[string]any

type QueryOutput struct {
	Columns   []string   `json:"columns"`
	Rows      []QueryRow `json:"rows"`
	Count     int        `json:"count"`
	Truncated bool       `json:"truncated,omitempty"`
}

func RegisterQueryTool(log *slog.Logger, server *mcp.Server, introspector schema.Introspector, validator session.Validator, executor session.Executor, name string, description string) error {
	req, err := jsonschema.For[QueryInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create query input schema: %w", err)
	}

	res, err := jsonschema.For[QueryOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create query output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         name,
		Description:  description,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, req QueryInput) (*mcp.CallToolResult, QueryOutput, error) {
		startTime := time.Now()
		out, err := handleQuery(ctx, log, introspector, validator, executor, req)
		duration := time.Since(startTime).Seconds()

		if err != nil {
			metrics.ToolCallsTotal.WithLabelValues(name, "error").Inc()
			metrics.ToolCallDuration.WithLabelValues(name).Observe(duration)
			return nil, QueryOutput{}, err
		}
		metrics.ToolCallsTotal.WithLabelValues(name, "success").Inc()
		metrics.ToolCallDuration.WithLabelValues(name).Observe(duration)
		return nil, out, nil
	})
	return nil
}

// handleQuery runs a caller-supplied statement through the same safety
// gate as generated SQL: validated against the live schema first, and
// executed read-only only when the validator allows it.
func handleQuery(ctx context.Context, log *slog.Logger, introspector schema.Introspector, validator session.Validator, executor session.Executor, req QueryInput) (QueryOutput, error) {
	desc, err := introspector.Describe(ctx)
	if err != nil {
		return QueryOutput{}, fmt.Errorf("failed to introspect schema: %w", err)
	}

	log.Debug("mcp/tool: handling query", "sql", req.SQL)

	outcome := validator.Validate(req.SQL, desc)
	if !outcome.Allowed {
		return QueryOutput{}, fmt.Errorf("query rejected (%s): %s", outcome.Rule, outcome.Reason)
	}

	result := executor.Execute(ctx, req.SQL)
	if result.Failed() {
		return QueryOutput{}, fmt.Errorf("query failed: %s", result.Error)
	}

	rows := make([]QueryRow, 0, len(result.Rows))
	for _, row := range result.Rows {
		rows = append(rows, QueryRow(row))
	}

	return QueryOutput{
		Columns:   result.Columns,
		Rows:      rows,
		Count:     result.Count,
		Truncated: result.Truncated,
	}, nil
}
