package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sqlmedic/sqlmedic/internal/session"
)

const defaultDemoQuestion = "How many appointments does each doctor have?"

type DemoCmd struct{}

func NewDemoCmd() *DemoCmd {
	return &DemoCmd{}
}

func (c *DemoCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo [question]",
		Short: "Run a question against an in-memory hospital database",
		Long: `Opens an in-memory DuckDB database, applies the bundled hospital
fixture (tables plus seed rows), and runs the full loop against it.
Needs an LLM API key but no database setup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
			if err != nil {
				return fmt.Errorf("failed to get verbose flag: %w", err)
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

			log := newLogger(verbose)

			question := defaultDemoQuestion
			if len(args) > 0 {
				question = strings.Join(args, " ")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			db, introspector, err := openDatabase(log, DriverDuckDB, "")
			if err != nil {
				return err
			}
			defer db.Close()

			if err := seedFixture(ctx, log, db); err != nil {
				return err
			}
			log.Info("demo database ready", "question", question)

			client, err := newLLMClient(log, provider, model)
			if err != nil {
				return err
			}
			runner, err := newSessionRunner(log, db, introspector, client, maxAttempts, 0)
			if err != nil {
				return err
			}

			result, err := runner.Run(ctx, question)
			if err != nil {
				return err
			}

			printResult(result, verbose)
			if !result.Accepted {
				return fmt.Errorf("no acceptable query: %s", result.FailureReason)
			}
			return nil
		},
	}

	cmd.Flags().String("provider", ProviderAnthropic, "LLM provider (anthropic, openai)")
	cmd.Flags().String("model", "", "Model name (empty for the provider default)")
	cmd.Flags().Int("max-attempts", session.DefaultMaxAttempts, "Maximum generate-validate-critique attempts")

	return cmd
}
