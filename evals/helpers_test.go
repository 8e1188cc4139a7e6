//go:build evals

package evals_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/sqlmedic/sqlmedic/internal/agent"
	"github.com/sqlmedic/sqlmedic/internal/dbexec"
	"github.com/sqlmedic/sqlmedic/internal/llm"
	"github.com/sqlmedic/sqlmedic/internal/safety"
	"github.com/sqlmedic/sqlmedic/internal/schema"
	"github.com/sqlmedic/sqlmedic/internal/session"
	"github.com/sqlmedic/sqlmedic/migrations"
)

func init() {
	possiblePaths := []string{".env", filepath.Join("..", ".env")}

	for _, path := range possiblePaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}
}

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// getDebugLevel reads the DEBUG environment variable
func getDebugLevel() (int, bool) {
	debugLevel := 0
	debugEnv := os.Getenv("DEBUG")
	switch debugEnv {
	case "1", "true", "TRUE":
		debugLevel = 1
	case "2":
		debugLevel = 2
	}
	return debugLevel, debugLevel > 0
}

// LLMClientFactory creates an LLM client for a scenario
type LLMClientFactory func(t *testing.T) llm.Client

// newAnthropicLLMClient creates an Anthropic-backed client
func newAnthropicLLMClient(t *testing.T) llm.Client {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	require.NotEmpty(t, apiKey, "ANTHROPIC_API_KEY must be set for Anthropic tests")

	return llm.NewAnthropicClient(
		testLogger(t),
		anthropic.ModelClaudeHaiku4_5_20251001, // Use Haiku for faster/cheaper eval tests
		4096,
	)
}

// newOpenAILLMClient creates a client for an OpenAI-compatible endpoint.
// A local Ollama or vLLM server works; those ignore the bearer token.
func newOpenAILLMClient(t *testing.T) llm.Client {
	baseURL := os.Getenv("OPENAI_BASE_URL")
	require.NotEmpty(t, baseURL, "OPENAI_BASE_URL must be set for OpenAI-compatible tests")

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = "unused" // local endpoints do not check it
	}

	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		Logger:  testLogger(t),
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   os.Getenv("OPENAI_MODEL"),
	})
	require.NoError(t, err)
	return client
}

// openFixtureDB opens an in-memory DuckDB instance and applies the
// hospital schema and seed rows
func openFixtureDB(t *testing.T, ctx context.Context) *sql.DB {
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	err = migrations.Apply(ctx, db)
	require.NoError(t, err, "Failed to apply hospital fixture")
	return db
}

// setupRunner wires the full session stack over the fixture database
func setupRunner(t *testing.T, db *sql.DB, llmFactory LLMClientFactory, debug bool) *session.Runner {
	// Create logger with appropriate level
	var logger *slog.Logger
	if debug {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	} else {
		logger = testLogger(t)
	}

	client := llmFactory(t)

	generator, err := agent.NewGenerator(agent.GeneratorConfig{Logger: logger, Client: client})
	require.NoError(t, err)

	critic, err := agent.NewCritic(agent.CriticConfig{Logger: logger, Client: client})
	require.NoError(t, err)

	executor, err := dbexec.New(dbexec.Config{Logger: logger, DB: db})
	require.NoError(t, err)

	runner, err := session.New(session.Config{
		Logger:       logger,
		Introspector: schema.NewDuckDB(logger, db),
		Validator:    safety.New(logger),
		Executor:     executor,
		Generator:    generator,
		Critic:       critic,
	})
	require.NoError(t, err)
	return runner
}

// singleCell returns the lone cell of a one-row, one-column result
func singleCell(t *testing.T, result *session.Result) any {
	require.Len(t, result.Rows, 1, "expected a single row (sql: %s)", result.SQL)
	row := result.Rows[0]
	require.Len(t, row, 1, "expected a single column, got %v (sql: %s)", result.Columns, result.SQL)
	for _, v := range row {
		return v
	}
	return nil
}

// cellFloat converts the numeric types database/sql hands back into a
// float64 for assertions
func cellFloat(t *testing.T, v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(n, 64)
		require.NoError(t, err, "non-numeric cell %q", n)
		return f
	default:
		t.Fatalf("non-numeric cell %v (%T)", v, v)
		return 0
	}
}

// findRow returns the first result row with a string cell containing want
func findRow(result *session.Result, want string) (map[string]any, bool) {
	for _, row := range result.Rows {
		for _, v := range row {
			if s, ok := v.(string); ok && strings.Contains(s, want) {
				return row, true
			}
		}
	}
	return nil, false
}

// tableCount counts the rows of a fixture table directly, bypassing the
// session stack
func tableCount(t *testing.T, ctx context.Context, db *sql.DB, table string) int {
	var n int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	require.NoError(t, err)
	return n
}
