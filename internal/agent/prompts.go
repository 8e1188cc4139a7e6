package agent

import (
	"fmt"
	"strings"

	"github.com/sqlmedic/sqlmedic/internal/agent/prompts"
)

// Prompts contains the agent prompts loaded from embedded files.
type Prompts struct {
	Generate string // Prompt for SQL generation
	Critique string // Prompt for result critique
}

// LoadPrompts loads all agent prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.Generate, err = loadPrompt("GENERATE.md"); err != nil {
		return nil, fmt.Errorf("failed to load GENERATE: %w", err)
	}
	if p.Critique, err = loadPrompt("CRITIQUE.md"); err != nil {
		return nil, fmt.Errorf("failed to load CRITIQUE: %w", err)
	}

	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.FS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// buildSystemPrompt appends the rendered schema to a base prompt so the
// stable part of every call is a single cacheable block.
func buildSystemPrompt(basePrompt, schema string) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)
	sb.WriteString("\n\n## Database Schema\n\n```\n")
	sb.WriteString(schema)
	sb.WriteString("\n```\n")
	return sb.String()
}
