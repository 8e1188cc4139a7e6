package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sqlmedic/sqlmedic/internal/session"
)

type AskCmd struct{}

func NewAskCmd() *AskCmd {
	return &AskCmd{}
}

func (c *AskCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a natural-language question with a validated read-only query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
			if err != nil {
				return fmt.Errorf("failed to get verbose flag: %w", err)
			}
			driver, err := cmd.Flags().GetString("driver")
			if err != nil {
				return fmt.Errorf("failed to get driver flag: %w", err)
			}
			dsn, err := cmd.Flags().GetString("dsn")
			if err != nil {
				return fmt.Errorf("failed to get dsn flag: %w", err)
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
			maxRows, err := cmd.Flags().GetInt("max-rows")
			if err != nil {
				return fmt.Errorf("failed to get max-rows flag: %w", err)
			}
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return fmt.Errorf("failed to get json flag: %w", err)
			}

			log := newLogger(verbose)
			question := strings.Join(args, " ")

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			db, introspector, err := openDatabase(log, driver, dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			client, err := newLLMClient(log, provider, model)
			if err != nil {
				return err
			}
			runner, err := newSessionRunner(log, db, introspector, client, maxAttempts, maxRows)
			if err != nil {
				return err
			}

			result, err := runner.Run(ctx, question)
			if err != nil {
				return err
			}

			if asJSON {
				data, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal result: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			printResult(result, verbose)
			if !result.Accepted {
				return fmt.Errorf("no acceptable query: %s", result.FailureReason)
			}
			return nil
		},
	}

	cmd.Flags().String("driver", DriverPostgres, "Database driver (pgx, duckdb)")
	cmd.Flags().String("dsn", envWithDefault(dsnEnvVar, ""), "Database connection string (env: "+dsnEnvVar+")")
	cmd.Flags().String("provider", ProviderAnthropic, "LLM provider (anthropic, openai)")
	cmd.Flags().String("model", "", "Model name (empty for the provider default)")
	cmd.Flags().Int("max-attempts", session.DefaultMaxAttempts, "Maximum generate-validate-critique attempts")
	cmd.Flags().Int("max-rows", 0, "Row cap for query results (0 for the default)")
	cmd.Flags().Bool("json", false, "Print the full session result as JSON")

	return cmd
}

func printResult(result *session.Result, showDiffs bool) {
	fmt.Println("Question:", result.Question)

	if len(result.Attempts) > 1 || !result.Accepted {
		printAttempts(result.Attempts, showDiffs)
	}

	if !result.Accepted {
		fmt.Println("Failed:", result.FailureReason)
		return
	}

	fmt.Println("SQL:", result.SQL)
	if result.Rationale != "" {
		fmt.Println("Rationale:", result.Rationale)
	}
	fmt.Println()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader(result.Columns)
	for _, row := range result.Rows {
		cells := make([]string, 0, len(result.Columns))
		for _, col := range result.Columns {
			cells = append(cells, fmt.Sprintf("%v", row[col]))
		}
		table.Append(cells)
	}
	table.Render()

	if result.Truncated {
		fmt.Printf("%d rows (truncated)\n", len(result.Rows))
	} else {
		fmt.Printf("%d rows\n", len(result.Rows))
	}
}

func printAttempts(attempts []session.Attempt, showDiffs bool) {
	for i, a := range attempts {
		if a.Verdict.Approved {
			fmt.Printf("Attempt %d: accepted\n", a.Number)
			continue
		}
		if a.Verdict.Category != "" {
			fmt.Printf("Attempt %d: rejected (%s): %s\n", a.Number, a.Verdict.Category, a.Verdict.Feedback)
		} else {
			fmt.Printf("Attempt %d: rejected: %s\n", a.Number, a.Verdict.Feedback)
		}
		fmt.Printf("  %s\n", strings.ReplaceAll(a.Candidate.SQL, "\n", "\n  "))

		if showDiffs && i+1 < len(attempts) {
			fmt.Println(attemptDiff(a.Candidate.SQL, attempts[i+1].Candidate.SQL))
		}
	}
}

// attemptDiff shows what the repair changed between two candidates.
func attemptDiff(before, after string) string {
	if before != "" && before[len(before)-1] != '\n' {
		before += "\n"
	}
	if after != "" && after[len(after)-1] != '\n' {
		after += "\n"
	}
	edits := myers.ComputeEdits(span.URIFromPath("rejected"), before, after)
	return fmt.Sprint(gotextdiff.ToUnified("rejected", "repaired", before, edits))
}
