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
)

type SchemaInput struct{}

type SchemaOutput struct {
	// Schema is the rendered one-line-per-column form, the same text the
	// SQL generator is grounded on.
	Schema string `json:"schema"`

	// Tables is the structured form, for clients that want to walk the
	// relationships programmatically.
	Tables []schema.Table `json:"tables"`
}

func RegisterSchemaTool(log *slog.Logger, server *mcp.Server, introspector schema.Introspector, name string, description string) error {
	req, err := jsonschema.For[SchemaInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create schema input schema: %w", err)
	}

	res, err := jsonschema.For[SchemaOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create schema output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         name,
		Description:  description,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ SchemaInput) (*mcp.CallToolResult, SchemaOutput, error) {
		startTime := time.Now()
		out, err := handleSchema(ctx, log, introspector)
		duration := time.Since(startTime).Seconds()

		if err != nil {
			metrics.ToolCallsTotal.WithLabelValues(name, "error").Inc()
			metrics.ToolCallDuration.WithLabelValues(name).Observe(duration)
			return nil, SchemaOutput{}, err
		}
		metrics.ToolCallsTotal.WithLabelValues(name, "success").Inc()
		metrics.ToolCallDuration.WithLabelValues(name).Observe(duration)
		return nil, out, nil
	})
	return nil
}

func handleSchema(ctx context.Context, log *slog.Logger, introspector schema.Introspector) (SchemaOutput, error) {
	desc, err := introspector.Describe(ctx)
	if err != nil {
		return SchemaOutput{}, fmt.Errorf("failed to introspect schema: %w", err)
	}

	log.Debug("mcp/tool: described schema", "tables", len(desc.Tables))
	return SchemaOutput{
		Schema: desc.Render(),
		Tables: desc.Tables,
	}, nil
}
