package db

import (
	"fmt"
	"log"
	"os"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand dispatching.
func RunMigrateCommand(args []string, dbPath string) {
	if len(args) < 1 {
		PrintMigrateHelp()
		os.Exit(1)
	}

	action := args[0]

	// Open database connection without running schema initialization
	// (migrations manage the schema).
	database, err := OpenDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	switch action {
	case "up":
		if err := database.MigrateUp(); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		log.Printf("Migrations applied")

	case "down":
		if err := database.MigrateDown(); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Printf("Rolled back one migration")

	case "status", "version":
		version, dirty, err := database.MigrateVersion()
		if err != nil {
			log.Fatalf("Failed to read migration version: %v", err)
		}
		state := "clean"
		if dirty {
			state = "dirty"
		}
		fmt.Printf("version %d (%s)\n", version, state)

	case "force":
		if len(args) < 2 {
			log.Fatal("Usage: drift-report migrate force <version_number>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatalf("Invalid version number %q: %v", args[1], err)
		}
		if err := database.MigrateForce(v); err != nil {
			log.Fatalf("Force migration failed: %v", err)
		}
		log.Printf("Forced migration version to %d", v)

	default:
		PrintMigrateHelp()
		os.Exit(1)
	}
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp() {
	fmt.Println(`Usage: drift-report migrate <action>

Actions:
  up       apply all pending migrations
  down     roll back the most recent migration
  status   show current migration version and dirty state
  force N  force the migration version (recovery only)`)
}
