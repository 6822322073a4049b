package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/logging"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "migrate",
		Usage: "apply storefront schema migrations",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply all pending migrations",
				Action: withMigrator(func(m *migrate.Migrate) error {
					return ignoreNoChange(m.Up())
				}),
			},
			{
				Name:  "down",
				Usage: "roll back migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "steps", Value: 1, Usage: "number of migrations to roll back, 0 rolls back everything"},
				},
				Action: func(c *cli.Context) error {
					steps := c.Int("steps")
					return withMigrator(func(m *migrate.Migrate) error {
						if steps <= 0 {
							return ignoreNoChange(m.Down())
						}
						return ignoreNoChange(m.Steps(-steps))
					})(c)
				},
			},
			{
				Name:  "version",
				Usage: "print the current schema version",
				Action: withMigrator(func(m *migrate.Migrate) error {
					version, dirty, err := m.Version()
					if errors.Is(err, migrate.ErrNilVersion) {
						fmt.Println("no migrations applied")
						return nil
					}
					if err != nil {
						return err
					}
					fmt.Printf("version %d (dirty: %t)\n", version, dirty)
					return nil
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func withMigrator(fn func(*migrate.Migrate) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger, err := logging.New(cfg.Log.Level, "console")
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		db, err := database.NewConnection(&cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		m, err := database.NewMigrator(db.DB)
		if err != nil {
			return err
		}

		if err := fn(m); err != nil {
			return err
		}
		logger.Info("migration command finished", zap.String("command", c.Command.Name))
		return nil
	}
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
