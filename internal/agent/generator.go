package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqlmedic/sqlmedic/internal/llm"
)

// GeneratorConfig configures the LLM-backed generator.
type GeneratorConfig struct {
	Logger *slog.Logger
	Client llm.Client

	// Prompts to use. Defaults to the embedded prompt files.
	Prompts *Prompts
}

// Validate checks the configuration and fills defaults.
func (c *GeneratorConfig) Validate() error {
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

// LLMGenerator asks an LLM for candidate SQL grounded on the rendered
// schema. It makes no safety or correctness claims about what it
// returns; the validator and critic do.
type LLMGenerator struct {
	log     *slog.Logger
	client  llm.Client
	prompts *Prompts
}

// NewGenerator creates a generator with the given configuration.
func NewGenerator(cfg GeneratorConfig) (*LLMGenerator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate generator config: %w", err)
	}
	return &LLMGenerator{
		log:     cfg.Logger,
		client:  cfg.Client,
		prompts: cfg.Prompts,
	}, nil
}

// Generate produces one candidate for the question. On retries the
// request carries every prior rejection, most recent last, so the model
// sees the full history of what already failed.
func (g *LLMGenerator) Generate(ctx context.Context, req GenerateRequest) (Candidate, error) {
	// Schema goes in the system prompt for prompt caching: it is large
	// and identical across the attempts of a session.
	systemPrompt := buildSystemPrompt(g.prompts.Generate, req.Schema.Render())
	userPrompt := buildGenerateUserPrompt(req)

	response, err := g.client.Complete(ctx, systemPrompt, userPrompt, llm.WithCacheControl())
	if err != nil {
		return Candidate{}, fmt.Errorf("LLM completion failed: %w", err)
	}

	candidate, err := parseCandidate(response)
	if err != nil {
		return Candidate{}, fmt.Errorf("failed to parse generate response: %w", err)
	}

	g.log.Debug("generator: produced candidate",
		"sql", candidate.SQL,
		"prior_rejections", len(req.Feedback),
	)
	return candidate, nil
}

// buildGenerateUserPrompt renders the question plus the rejection
// history for retries.
func buildGenerateUserPrompt(req GenerateRequest) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Question: %s\n", req.Question))

	if len(req.Feedback) > 0 {
		sb.WriteString("\nEvery previous attempt below was rejected. Fix the problem each rejection names and do not repeat a rejected approach.\n")
		for i, fb := range req.Feedback {
			sb.WriteString(fmt.Sprintf("\nAttempt %d:\n```sql\n%s\n```\n", i+1, fb.SQL))
			if fb.Verdict.Category != "" {
				sb.WriteString(fmt.Sprintf("Rejected (%s): %s\n", fb.Verdict.Category, fb.Verdict.Feedback))
			} else {
				sb.WriteString(fmt.Sprintf("Rejected: %s\n", fb.Verdict.Feedback))
			}
		}
	}

	sb.WriteString("\nRespond with JSON only.")
	return sb.String()
}

var _ Generator = (*LLMGenerator)(nil)
