package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sqlmedic/sqlmedic/internal/metrics"
	"github.com/sqlmedic/sqlmedic/internal/session"
)

type AskInput struct {
	Question string `json:"question"`
}

// AskAttempt summarizes one loop attempt for the client, without the
// raw result payloads of intermediate attempts.
type AskAttempt struct {
	Number   int    `json:"number"`
	SQL      string `json:"sql"`
	Approved bool   `json:"approved"`
	Category string `json:"category,omitempty"`
	Feedback string `json:"feedback,omitempty"`
}

type AskOutput struct {
	SessionID     string       `json:"session_id"`
	Accepted      bool         `json:"accepted"`
	SQL           string       `json:"sql,omitempty"`
	Rationale     string       `json:"rationale,omitempty"`
	Columns       []string     `json:"columns,omitempty"`
	Rows          []QueryRow   `json:"rows,omitempty"`
	Count         int          `json:"count"`
	Truncated     bool         `json:"truncated,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty"`
	Attempts      []AskAttempt `json:"attempts"`
}

func RegisterAskTool(log *slog.Logger, server *mcp.Server, runner *session.Runner, name string, description string) error {
	req, err := jsonschema.For[AskInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create ask input schema: %w", err)
	}

	res, err := jsonschema.For[AskOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create ask output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         name,
		Description:  description,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, req AskInput) (*mcp.CallToolResult, AskOutput, error) {
		startTime := time.Now()
		out, err := handleAsk(ctx, log, runner, req)
		duration := time.Since(startTime).Seconds()

		if err != nil {
			metrics.ToolCallsTotal.WithLabelValues(name, "error").Inc()
			metrics.ToolCallDuration.WithLabelValues(name).Observe(duration)
			return nil, AskOutput{}, err
		}
		metrics.ToolCallsTotal.WithLabelValues(name, "success").Inc()
		metrics.ToolCallDuration.WithLabelValues(name).Observe(duration)
		return nil, out, nil
	})
	return nil
}

func handleAsk(ctx context.Context, log *slog.Logger, runner *session.Runner, req AskInput) (AskOutput, error) {
	log.Debug("mcp/tool: handling question", "question", req.Question)

	result, err := runner.Run(ctx, req.Question)
	if err != nil {
		return AskOutput{}, fmt.Errorf("failed to run session: %w", err)
	}

	attempts := make([]AskAttempt, 0, len(result.Attempts))
	for _, a := range result.Attempts {
		attempts = append(attempts, AskAttempt{
			Number:   a.Number,
			SQL:      a.Candidate.SQL,
			Approved: a.Verdict.Approved,
			Category: a.Verdict.Category,
			Feedback: a.Verdict.Feedback,
		})
	}

	rows := make([]QueryRow, 0, len(result.Rows))
	for _, row := range result.Rows {
		rows = append(rows, QueryRow(row))
	}

	return AskOutput{
		SessionID:     result.ID.String(),
		Accepted:      result.Accepted,
		SQL:           result.SQL,
		Rationale:     result.Rationale,
		Columns:       result.Columns,
		Rows:          rows,
		Count:         len(rows),
		Truncated:     result.Truncated,
		FailureReason: result.FailureReason,
		Attempts:      attempts,
	}, nil
}
