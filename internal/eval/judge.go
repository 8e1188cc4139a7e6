package eval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqlmedic/sqlmedic/internal/llm"
)

// Judge decides whether two SQL queries answer the same question. The
// harness only consults it when exact matching fails.
type Judge interface {
	Equivalent(ctx context.Context, question, expectedSQL, generatedSQL string) (bool, error)
}

const judgeSystemPrompt = `You are a SQL expert. A user asked a question, and two SQL queries were generated in response. Judge whether both queries are equivalent in meaning and would produce a similar result when executed. Extra columns such as ID columns are fine. For instance, if the question asks for all doctor names, returning doctor names together with doctor IDs is fine, but returning the appointments of doctors is not.

Respond ONLY with one of the following:
- "Equivalent"
- "Not Equivalent"`

// JudgeConfig configures the LLM-backed judge.
type JudgeConfig struct {
	Logger *slog.Logger
	Client llm.Client
}

func (c *JudgeConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Client == nil {
		return fmt.Errorf("llm client is required")
	}
	return nil
}

// LLMJudge asks a model for the equivalence verdict.
type LLMJudge struct {
	log    *slog.Logger
	client llm.Client
}

func NewJudge(cfg JudgeConfig) (*LLMJudge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate judge config: %w", err)
	}
	return &LLMJudge{log: cfg.Logger, client: cfg.Client}, nil
}

func (j *LLMJudge) Equivalent(ctx context.Context, question, expectedSQL, generatedSQL string) (bool, error) {
	userPrompt := buildJudgeUserPrompt(question, expectedSQL, generatedSQL)

	response, err := j.client.Complete(ctx, judgeSystemPrompt, userPrompt, llm.WithCacheControl())
	if err != nil {
		return false, fmt.Errorf("judge completion failed: %w", err)
	}

	verdict, err := parseJudgeResponse(response)
	if err != nil {
		return false, err
	}

	j.log.Debug("judge: ruled on equivalence", "question", question, "equivalent", verdict)
	return verdict, nil
}

func buildJudgeUserPrompt(question, expectedSQL, generatedSQL string) string {
	var sb strings.Builder
	sb.WriteString("User Question: ")
	sb.WriteString(question)
	sb.WriteString("\n\nQuery 1:\n")
	sb.WriteString(expectedSQL)
	sb.WriteString("\n\nQuery 2:\n")
	sb.WriteString(generatedSQL)
	sb.WriteString("\n\nAre the queries equivalent?")
	return sb.String()
}

func parseJudgeResponse(response string) (bool, error) {
	text := strings.ToUpper(strings.TrimSpace(response))
	text = strings.Trim(text, `"'`)
	switch {
	case strings.HasPrefix(text, "NOT EQUIVALENT"):
		return false, nil
	case strings.HasPrefix(text, "EQUIVALENT"):
		return true, nil
	}
	if len(response) > 120 {
		response = response[:120] + "..."
	}
	return false, fmt.Errorf("unexpected judge response: %q", response)
}

var _ Judge = (*LLMJudge)(nil)
