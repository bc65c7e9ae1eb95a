package main

import (
	"fmt"
	"strconv"

	"github.com/jmerrifield20/picshare/migrations"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|steps N|version]",
	Short: "Apply or revert database migrations",
	Long: `migrate manages the schema in database.url.

  picshare migrate            apply all pending migrations
  picshare migrate down       revert all migrations
  picshare migrate steps -1   revert the last migration
  picshare migrate version    print the current schema version`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := migrations.New(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer m.Close()

	action := "up"
	if len(args) > 0 {
		action = args[0]
	}
	out := cmd.OutOrStdout()

	switch action {
	case "up":
		if err := m.Up(); err != nil {
			return err
		}
		fmt.Fprintln(out, "migrations applied successfully")
	case "down":
		if err := m.Down(); err != nil {
			return err
		}
		fmt.Fprintln(out, "migrations reverted successfully")
	case "steps":
		if len(args) < 2 {
			return fmt.Errorf("steps requires a number argument")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid steps argument: %w", err)
		}
		if err := m.Steps(n); err != nil {
			return err
		}
		fmt.Fprintf(out, "applied %d migration steps\n", n)
	case "version":
		v, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "version: %d, dirty: %v\n", v, dirty)
	default:
		return fmt.Errorf("unknown migrate command %q", action)
	}
	return nil
}
