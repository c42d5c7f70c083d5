package main

import (
	"goalsync/api/internal/store"
)

type MigrateCmd struct {
	Down bool   `help:"Roll back every applied migration instead of applying them"`
	Dir  string `help:"Migrations directory; overrides GOALS_MIGRATIONS_DIR" type:"path"`
}

func (c *MigrateCmd) Run(rc *runContext) error {
	dir := rc.cfg.MigrationsDir
	if c.Dir != "" {
		dir = c.Dir
	}
	db, err := store.Open(rc, rc.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if c.Down {
		if err := store.RollbackMigrations(rc, db, dir); err != nil {
			return err
		}
		rc.logger.Info("migrations rolled back", "dir", dir)
		return nil
	}
	if err := store.ApplyMigrations(rc, db, dir); err != nil {
		return err
	}
	rc.logger.Info("migrations applied", "dir", dir)
	return nil
}
