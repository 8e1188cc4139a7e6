package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type SchemaCmd struct{}

func NewSchemaCmd() *SchemaCmd {
	return &SchemaCmd{}
}

func (c *SchemaCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the introspected schema as the generator sees it",
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

			log := newLogger(verbose)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			db, introspector, err := openDatabase(log, driver, dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			desc, err := introspector.Describe(ctx)
			if err != nil {
				return fmt.Errorf("failed to introspect schema: %w", err)
			}

			fmt.Print(desc.Render())
			return nil
		},
	}

	cmd.Flags().String("driver", DriverPostgres, "Database driver (pgx, duckdb)")
	cmd.Flags().String("dsn", envWithDefault(dsnEnvVar, ""), "Database connection string (env: "+dsnEnvVar+")")

	return cmd
}
