package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

func newMigrateCmd(load func() (*config.Config, error)) *cobra.Command {
	var dbType, dbURL string

	cmd := &cobra.Command{
		Use:   "migrate <subcommand> [n]",
		Short: "Database migration commands for the database checkpoint store",
		Long: `Manage the workflow_runs and node_checkpoints tables.

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  down-all    Rollback all migrations (alias: reset)
  steps <n>   Apply n migrations; negative n rolls back (pass it after --)
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  version     Show current migration version
  status      Show migration status
  info        Show database and version info`,
		Example: `  nodeflow migrate up
  nodeflow migrate up --config /etc/nodeflow/nodeflow.yaml
  nodeflow migrate status --db-type sqlite --db-url sqlite://nodeflow.db
  nodeflow migrate steps -- -1
  nodeflow migrate goto 1`,
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: migration.Commands,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zap.NewNop()

			var (
				m   *migration.DefaultMigrator
				err error
			)
			// 同时给出 db-type 和 db-url 时不读取配置
			if dbType != "" && dbURL != "" {
				m, err = migration.NewMigratorFromURL(dbType, dbURL, logger)
			} else {
				cfg, lerr := load()
				if lerr != nil {
					return lerr
				}
				if dbType != "" {
					cfg.Database.Driver = dbType
				}
				m, err = migration.NewMigratorFromConfig(cfg, logger)
			}
			if err != nil {
				return fmt.Errorf("failed to create migrator: %w", err)
			}
			defer m.Close()

			cli := migration.NewCLI(m)
			cli.SetOutput(cmd.OutOrStdout())
			return cli.Run(cmd.Context(), strings.ToLower(args[0]), args[1:])
		},
	}
	cmd.Flags().StringVar(&dbType, "db-type", "", "Database type: postgres, mysql, sqlite (default: from config)")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "Database connection URL (default: from config)")
	return cmd
}
