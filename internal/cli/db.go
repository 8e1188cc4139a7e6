package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/sqlmedic/sqlmedic/internal/agent"
	"github.com/sqlmedic/sqlmedic/internal/dbexec"
	"github.com/sqlmedic/sqlmedic/internal/llm"
	"github.com/sqlmedic/sqlmedic/internal/safety"
	"github.com/sqlmedic/sqlmedic/internal/schema"
	"github.com/sqlmedic/sqlmedic/internal/session"
	"github.com/sqlmedic/sqlmedic/migrations"
)

const (
	DriverPostgres = "pgx"
	DriverDuckDB   = "duckdb"

	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	dsnEnvVar           = "SQLMEDIC_DSN"
	openAIAPIKeyEnvVar  = "OPENAI_API_KEY"
	openAIBaseURLEnvVar = "OPENAI_BASE_URL"
)

// openDatabase opens the target database and pairs it with the
// introspector for its dialect. An empty DuckDB DSN opens an in-memory
// database.
func openDatabase(log *slog.Logger, driver, dsn string) (*sql.DB, schema.Introspector, error) {
	switch driver {
	case DriverPostgres:
		if dsn == "" {
			return nil, nil, fmt.Errorf("postgres DSN is required (set --dsn or %s)", dsnEnvVar)
		}
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
		return db, schema.NewPG(log, db), nil
	case DriverDuckDB:
		db, err := sql.Open("duckdb", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open duckdb database: %w", err)
		}
		return db, schema.NewDuckDB(log, db), nil
	}
	return nil, nil, fmt.Errorf("unsupported driver %q (use %s or %s)", driver, DriverPostgres, DriverDuckDB)
}

// newLLMClient builds the model client for the chosen provider. The
// Anthropic key comes from ANTHROPIC_API_KEY; the OpenAI-compatible
// provider reads OPENAI_API_KEY and honors OPENAI_BASE_URL for local
// gateways.
func newLLMClient(log *slog.Logger, provider, model string) (llm.Client, error) {
	switch provider {
	case ProviderAnthropic:
		return llm.NewAnthropicClient(log, anthropic.Model(model), 0), nil
	case ProviderOpenAI:
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			Logger:  log,
			BaseURL: os.Getenv(openAIBaseURLEnvVar),
			APIKey:  os.Getenv(openAIAPIKeyEnvVar),
			Model:   model,
		})
	}
	return nil, fmt.Errorf("unsupported provider %q (use %s or %s)", provider, ProviderAnthropic, ProviderOpenAI)
}

// newSessionRunner wires the full loop over an open database: one LLM
// client shared by generator and critic, the textual validator, and the
// read-only executor.
func newSessionRunner(log *slog.Logger, db *sql.DB, introspector schema.Introspector, client llm.Client, maxAttempts, maxRows int) (*session.Runner, error) {
	generator, err := agent.NewGenerator(agent.GeneratorConfig{Logger: log, Client: client})
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	critic, err := agent.NewCritic(agent.CriticConfig{Logger: log, Client: client})
	if err != nil {
		return nil, fmt.Errorf("failed to create critic: %w", err)
	}
	executor, err := dbexec.New(dbexec.Config{Logger: log, DB: db, MaxRows: maxRows})
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	runner, err := session.New(session.Config{
		Logger:       log,
		Introspector: introspector,
		Validator:    safety.New(log),
		Executor:     executor,
		Generator:    generator,
		Critic:       critic,
		MaxAttempts:  maxAttempts,
		OnProgress: func(ev session.ProgressEvent) {
			log.Debug("session progress", "stage", ev.Stage, "attempt", ev.Attempt)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session runner: %w", err)
	}
	return runner, nil
}

// seedFixture applies the embedded hospital fixture: DDL first, then
// seed rows, in file order.
func seedFixture(ctx context.Context, log *slog.Logger, db *sql.DB) error {
	if err := migrations.Apply(ctx, db); err != nil {
		return err
	}
	log.Debug("applied hospital fixture")
	return nil
}
