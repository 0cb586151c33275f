package db

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ErrUsage is returned by RunMigrateCommand for a bad invocation; the help
// text has already been written.
var ErrUsage = errors.New("invalid migrate usage")

// RunMigrateCommand handles the 'migrate' subcommand. The database is opened
// without applying migrations so the schema can be inspected or repaired.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return ErrUsage
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch args[0] {
	case "up":
		if err := database.MigrateUp(); err != nil {
			return err
		}
		fmt.Fprintln(out, "All migrations applied")
	case "down":
		if err := database.MigrateDown(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Rolled back one migration")
	case "status":
	case "force":
		if len(args) < 2 {
			PrintMigrateHelp(out)
			return ErrUsage
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number %q: %w", args[1], err)
		}
		if err := database.MigrateForce(v); err != nil {
			return err
		}
		fmt.Fprintf(out, "Migration version forced to %d\n", v)
	case "help":
		PrintMigrateHelp(out)
		return nil
	default:
		fmt.Fprintf(out, "Unknown migrate action: %s\n\n", args[0])
		PrintMigrateHelp(out)
		return ErrUsage
	}
	return printMigrateStatus(database, out)
}

func printMigrateStatus(database *DB, out io.Writer) error {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := LatestMigrationVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d (latest %d)\n", version, latest)
	fmt.Fprintf(out, "Dirty: %v\n", dirty)
	if dirty {
		fmt.Fprintln(out, "A migration failed mid-execution. Inspect the database, then run: crossing migrate force <version>")
	}
	return nil
}

// PrintMigrateHelp writes the migrate subcommand usage.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: crossing migrate <action> [args]

Actions:
  up              apply all pending migrations
  down            roll back the most recent migration
  status          show the current schema version
  force <version> set the version without running migrations (recovery only)
  help            show this help
`)
}
