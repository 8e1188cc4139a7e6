package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqlmedic/sqlmedic/internal/llm"
)

// CriticConfig configures the LLM-backed critic.
type CriticConfig struct {
	Logger *slog.Logger
	Client llm.Client

	// Prompts to use. Defaults to the embedded prompt files.
	Prompts *Prompts
}

// Validate checks the configuration and fills defaults.
func (c *CriticConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Client == nil {
		return errors.New("llm client is required")
	}
	if c.Prompts == nil {
		prompts, err := LoadPrompts()
		if err != nil {
			return fmt.Errorf("failed to load prompts: %w", err)
		}
		c.Prompts = prompts
	}
	return nil
}

// LLMCritic judges attempts. Structural failures never reach the model:
// a validation rejection is mirrored under the validator's rule with
// its reason verbatim, and a failed execution is classified as an
// execution error. Only candidates that executed cleanly get a semantic
// judgment.
type LLMCritic struct {
	log     *slog.Logger
	client  llm.Client
	prompts *Prompts
}

// NewCritic creates a critic with the given configuration.
func NewCritic(cfg CriticConfig) (*LLMCritic, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate critic config: %w", err)
	}
	return &LLMCritic{
		log:     cfg.Logger,
		client:  cfg.Client,
		prompts: cfg.Prompts,
	}, nil
}

// Critique judges one attempt.
func (c *LLMCritic) Critique(ctx context.Context, req CritiqueRequest) (Verdict, error) {
	if !req.Validation.Allowed {
		c.log.Debug("critic: mirroring validation rejection", "rule", req.Validation.Rule)
		return Rejected(string(req.Validation.Rule), req.Validation.Reason), nil
	}
	if req.Execution == nil {
		return Rejected(CategoryExecutionError, "statement was not executed"), nil
	}
	if req.Execution.Failed() {
		c.log.Debug("critic: classifying execution error", "error", req.Execution.Error)
		return Rejected(CategoryExecutionError, req.Execution.Error), nil
	}

	systemPrompt := buildSystemPrompt(c.prompts.Critique, req.Schema.Render())
	userPrompt := buildCritiqueUserPrompt(req)

	// Same cacheable system prompt across the attempts of a session.
	response, err := c.client.Complete(ctx, systemPrompt, userPrompt, llm.WithCacheControl())
	if err != nil {
		return Verdict{}, fmt.Errorf("LLM completion failed: %w", err)
	}

	verdict, err := parseVerdict(response)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to parse critique response: %w", err)
	}

	c.log.Debug("critic: judged result",
		"approved", verdict.Approved,
		"category", verdict.Category,
	)
	return verdict, nil
}

// buildCritiqueUserPrompt renders the question, the candidate, and a
// sample of the execution result.
func buildCritiqueUserPrompt(req CritiqueRequest) string {
	var sb strings.Builder
	sb.WriteString("## Question\n\n")
	sb.WriteString(req.Question)
	sb.WriteString("\n\n## Candidate Query\n\n")
	sb.WriteString("```sql\n")
	sb.WriteString(req.Candidate.SQL)
	sb.WriteString("\n```\n\n")
	if req.Candidate.Rationale != "" {
		sb.WriteString(fmt.Sprintf("Rationale: %s\n\n", req.Candidate.Rationale))
	}

	result := req.Execution
	sb.WriteString("## Execution Result\n\n")
	if len(result.Columns) > 0 {
		sb.WriteString(fmt.Sprintf("Columns: %s\n", strings.Join(result.Columns, ", ")))
	}
	sb.WriteString(fmt.Sprintf("Rows returned: %d", result.Count))
	if result.Truncated {
		sb.WriteString(" (truncated)")
	}
	sb.WriteString("\n\n")

	if len(result.Rows) > 0 {
		// Show first few rows as sample
		sb.WriteString("Sample data:\n```json\n")
		sampleRows := result.Rows[:min(5, len(result.Rows))]
		jsonData, _ := json.MarshalIndent(sampleRows, "", "  ")
		sb.Write(jsonData)
		sb.WriteString("\n```\n\n")
	}

	sb.WriteString("Respond with JSON only.")
	return sb.String()
}

var _ Critic = (*LLMCritic)(nil)
