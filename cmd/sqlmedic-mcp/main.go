package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	flag "github.com/spf13/pflag"

	"github.com/sqlmedic/sqlmedic/internal/agent"
	"github.com/sqlmedic/sqlmedic/internal/dbexec"
	"github.com/sqlmedic/sqlmedic/internal/llm"
	"github.com/sqlmedic/sqlmedic/internal/mcp/server"
	"github.com/sqlmedic/sqlmedic/internal/metrics"
	"github.com/sqlmedic/sqlmedic/internal/safety"
	"github.com/sqlmedic/sqlmedic/internal/schema"
	"github.com/sqlmedic/sqlmedic/internal/session"
	"github.com/sqlmedic/sqlmedic/migrations"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:8020"
	defaultDriver      = "pgx"
	defaultMaxAttempts = session.DefaultMaxAttempts

	dsnEnvVar           = "SQLMEDIC_DSN"
	allowedTokensEnvVar = "MCP_ALLOWED_TOKENS"
	authDisabledEnvVar  = "MCP_AUTH_DISABLED"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP server listen address")
	driverFlag := flag.String("driver", defaultDriver, "database driver (pgx, duckdb)")
	dsnFlag := flag.String("dsn", "", "database connection string (or set "+dsnEnvVar+")")
	seedFlag := flag.Bool("seed", false, "apply the bundled hospital fixture on startup (duckdb)")
	providerFlag := flag.String("provider", "anthropic", "LLM provider (anthropic, openai)")
	modelFlag := flag.String("model", "", "model name (empty for the provider default)")
	maxAttemptsFlag := flag.Int("max-attempts", defaultMaxAttempts, "maximum attempts per session")
	maxRowsFlag := flag.Int("max-rows", 0, "row cap for query results (0 for the default)")
	flag.Parse()

	// Values already present in the environment win over .env entries.
	_ = godotenv.Load()

	if *dsnFlag == "" {
		*dsnFlag = os.Getenv(dsnEnvVar)
	}

	log := newLogger(*verboseFlag)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigCh
		log.Info("server: received signal", "signal", sig.String())
		cancel()
	}()

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	// Parse allowed tokens from environment variable (comma-separated).
	// Auth can be explicitly disabled with MCP_AUTH_DISABLED=true.
	var allowedTokens []string
	if os.Getenv(authDisabledEnvVar) == "true" {
		log.Info("mcp server: authentication explicitly disabled")
	} else if tokensEnv := os.Getenv(allowedTokensEnvVar); tokensEnv != "" {
		for token := range strings.SplitSeq(tokensEnv, ",") {
			token = strings.TrimSpace(token)
			if token != "" {
				allowedTokens = append(allowedTokens, token)
			}
		}
		if len(allowedTokens) > 0 {
			log.Info("mcp server: token authentication enabled", "token_count", len(allowedTokens))
		}
	} else {
		log.Info("mcp server: authentication disabled (no tokens configured)")
	}

	db, introspector, err := openDatabase(log, *driverFlag, *dsnFlag)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database", "error", err)
		}
	}()

	if *seedFlag {
		if err := migrations.Apply(ctx, db); err != nil {
			return err
		}
		log.Info("applied hospital fixture")
	}

	client, err := newLLMClient(log, *providerFlag, *modelFlag)
	if err != nil {
		return err
	}

	generator, err := agent.NewGenerator(agent.GeneratorConfig{Logger: log, Client: client})
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}
	critic, err := agent.NewCritic(agent.CriticConfig{Logger: log, Client: client})
	if err != nil {
		return fmt.Errorf("failed to create critic: %w", err)
	}
	executor, err := dbexec.New(dbexec.Config{Logger: log, DB: db, MaxRows: *maxRowsFlag})
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}
	validator := safety.New(log)

	runner, err := session.New(session.Config{
		Logger:       log,
		Introspector: introspector,
		Validator:    validator,
		Executor:     executor,
		Generator:    generator,
		Critic:       critic,
		MaxAttempts:  *maxAttemptsFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create session runner: %w", err)
	}

	srv, err := server.New(server.Config{
		Logger:        log,
		Runner:        runner,
		Introspector:  introspector,
		Validator:     validator,
		Executor:      executor,
		DB:            db,
		Version:       version,
		ListenAddr:    *listenAddrFlag,
		AllowedTokens: allowedTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.Run(ctx); err != nil {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("server: shutting down", "reason", ctx.Err())
		return nil
	case err := <-serverErrCh:
		log.Error("server: server error causing shutdown", "error", err)
		return err
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func openDatabase(log *slog.Logger, driver, dsn string) (*sql.DB, schema.Introspector, error) {
	switch driver {
	case "pgx":
		if dsn == "" {
			return nil, nil, fmt.Errorf("postgres DSN is required (set --dsn or %s)", dsnEnvVar)
		}
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
		return db, schema.NewPG(log, db), nil
	case "duckdb":
		db, err := sql.Open("duckdb", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open duckdb database: %w", err)
		}
		return db, schema.NewDuckDB(log, db), nil
	}
	return nil, nil, fmt.Errorf("unsupported driver %q (use pgx or duckdb)", driver)
}

func newLLMClient(log *slog.Logger, provider, model string) (llm.Client, error) {
	switch provider {
	case "anthropic":
		return llm.NewAnthropicClient(log, anthropic.Model(model), 0), nil
	case "openai":
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			Logger:  log,
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   model,
		})
	}
	return nil, fmt.Errorf("unsupported provider %q (use anthropic or openai)", provider)
}
