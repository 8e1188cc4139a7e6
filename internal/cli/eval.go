package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sqlmedic/sqlmedic/internal/eval"
	"github.com/sqlmedic/sqlmedic/internal/session"
)

type EvalCmd struct{}

func NewEvalCmd() *EvalCmd {
	return &EvalCmd{}
}

func (c *EvalCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Score the loop against a JSONL file of reference cases",
		Long: `Runs every case in the file through a full session and compares the
generated SQL to the reference: first by normalized exact match, then by
an LLM judge. Each line of the case file is one JSON object with
"question" and "expected_sql" fields and an optional "id".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
			if err != nil {
				return fmt.Errorf("failed to get verbose flag: %w", err)
			}
			casesPath, err := cmd.Flags().GetString("cases")
			if err != nil {
				return fmt.Errorf("failed to get cases flag: %w", err)
			}
			driver, err := cmd.Flags().GetString("driver")
			if err != nil {
				return fmt.Errorf("failed to get driver flag: %w", err)
			}
			dsn, err := cmd.Flags().GetString("dsn")
			if err != nil {
				return fmt.Errorf("failed to get dsn flag: %w", err)
			}
			seed, err := cmd.Flags().GetBool("seed")
			if err != nil {
				return fmt.Errorf("failed to get seed flag: %w", err)
			}
			provider, err := cmd.Flags().GetString("provider")
			if err != nil {
				return fmt.Errorf("failed to get provider flag: %w", err)
			}
			model, err := cmd.Flags().GetString("model")
			if err != nil {
				return fmt.Errorf("failed to get model flag: %w", err)
			}
			maxAttempts, err := cmd.Flags().GetInt("max-attempts")
			if err != nil {
				return fmt.Errorf("failed to get max-attempts flag: %w", err)
			}
			concurrency, err := cmd.Flags().GetInt("concurrency")
			if err != nil {
				return fmt.Errorf("failed to get concurrency flag: %w", err)
			}

			log := newLogger(verbose)

			cases, err := eval.LoadCases(casesPath)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			db, introspector, err := openDatabase(log, driver, dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			if seed {
				if err := seedFixture(ctx, log, db); err != nil {
					return err
				}
			}

			client, err := newLLMClient(log, provider, model)
			if err != nil {
				return err
			}
			runner, err := newSessionRunner(log, db, introspector, client, maxAttempts, 0)
			if err != nil {
				return err
			}
			judge, err := eval.NewJudge(eval.JudgeConfig{Logger: log, Client: client})
			if err != nil {
				return err
			}
			harness, err := eval.New(eval.Config{
				Logger:      log,
				Runner:      runner,
				Judge:       judge,
				Concurrency: concurrency,
			})
			if err != nil {
				return err
			}

			summary, err := harness.Run(ctx, cases)
			if err != nil {
				return err
			}

			eval.WriteSummary(os.Stdout, summary)
			if summary.Errors > 0 {
				return fmt.Errorf("%d of %d cases errored", summary.Errors, summary.Total())
			}
			return nil
		},
	}

	cmd.Flags().String("cases", "", "Path to the JSONL case file (required)")
	cmd.Flags().String("driver", DriverDuckDB, "Database driver (pgx, duckdb)")
	cmd.Flags().String("dsn", envWithDefault(dsnEnvVar, ""), "Database connection string (env: "+dsnEnvVar+")")
	cmd.Flags().Bool("seed", false, "Apply the bundled hospital fixture before evaluating")
	cmd.Flags().String("provider", ProviderAnthropic, "LLM provider (anthropic, openai)")
	cmd.Flags().String("model", "", "Model name (empty for the provider default)")
	cmd.Flags().Int("max-attempts", session.DefaultMaxAttempts, "Maximum generate-validate-critique attempts per case")
	cmd.Flags().Int("concurrency", 0, "Concurrent sessions (0 for the default)")
	_ = cmd.MarkFlagRequired("cases")

	return cmd
}
