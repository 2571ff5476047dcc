// The migrate binary applies the ledger schema with golang-migrate.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/config"
)

var (
	configPath    = flag.String("config", "", "path to configuration file")
	migrationsDir = flag.String("dir", "migrations", "path to migration files")
	action        = flag.String("action", "up", "migration action: up, down, version, force")
	steps         = flag.Int("steps", 0, "number of migrations to run (0 = all)")
	forceVersion  = flag.Int("version", -1, "version to force (force action)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	m, err := migrate.New("file://"+*migrationsDir, cfg.Database.URL)
	if err != nil {
		log.Fatalf("failed to initialize migrator: %v", err)
	}
	defer m.Close()

	switch *action {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "version":
		err = printVersion(m)
	case "force":
		if *forceVersion < 0 {
			log.Fatal("force action requires -version")
		}
		err = m.Force(*forceVersion)
	default:
		fmt.Fprintf(os.Stderr, "unknown action: %s\n", *action)
		os.Exit(1)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("no schema changes to apply")
		return
	}
	if err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Printf("migration %s completed", *action)
}

func printVersion(m *migrate.Migrate) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("no migrations applied")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("version %d, dirty=%t\n", version, dirty)
	return nil
}
