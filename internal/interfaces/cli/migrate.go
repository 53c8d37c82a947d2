package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/loan-portal/internal/config"
	"github.com/turtacn/loan-portal/internal/infrastructure/database/postgres"
	"github.com/turtacn/loan-portal/pkg/errors"
)

// MigrationRunner applies schema migrations to the deal mirror.
type MigrationRunner interface {
	Up() error
	Down(steps int) error
	Status() (version uint, dirty bool, err error)
	Force(version int) error
}

// newMigrationRunner is replaced in tests.
var newMigrationRunner = func(cfg config.DatabaseConfig, dir string) MigrationRunner {
	return postgres.NewMigrator(postgres.DSN(cfg), dir)
}

// NewMigrateCmd returns "loanctl migrate".
func NewMigrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the deal mirror schema",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory (default: database.migration_path or ./migrations)")

	runner := func(cmd *cobra.Command) (MigrationRunner, error) {
		cc, err := GetCLIContext(cmd)
		if err != nil {
			return nil, err
		}
		if cc.Config == nil {
			return nil, errors.New(errors.ErrCodeConfigInvalid, "migrate needs a configuration file with a database section")
		}
		d := dir
		if d == "" {
			d = cc.Config.Database.MigrationPath
		}
		if d == "" {
			d = "./migrations"
		}
		return newMigrationRunner(cc.Config.Database, d), nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := runner(cmd)
				if err != nil {
					return err
				}
				if err := m.Up(); err != nil {
					return err
				}
				PrintSuccess(cmd, "migrations applied")
				return nil
			},
		},
		&cobra.Command{
			Use:   "down [STEPS]",
			Short: "Roll back migrations (default one step)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n < 1 {
						return errors.InvalidParam("steps must be a positive integer").WithDetail(args[0])
					}
					steps = n
				}
				m, err := runner(cmd)
				if err != nil {
					return err
				}
				if err := m.Down(steps); err != nil {
					return err
				}
				PrintSuccess(cmd, fmt.Sprintf("rolled back %d migration(s)", steps))
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := runner(cmd)
				if err != nil {
					return err
				}
				v, dirty, err := m.Status()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version: %d\ndirty:   %t\n", v, dirty)
				return nil
			},
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Record VERSION as applied without running it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return errors.InvalidParam("version must be an integer").WithDetail(args[0])
				}
				m, err := runner(cmd)
				if err != nil {
					return err
				}
				if err := m.Force(v); err != nil {
					return err
				}
				PrintSuccess(cmd, fmt.Sprintf("forced version %d", v))
				return nil
			},
		},
	)
	return cmd
}
