package cli

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/candleclock"
	"github.com/nextlevelbuilder/candleclock/internal/config"
	"github.com/nextlevelbuilder/candleclock/store/pg"
	"github.com/nextlevelbuilder/candleclock/store/sqlite"
)

// openStore opens the configured database, runs migrations on the
// default schema, and returns the store plus the underlying handle for
// transports that ride on it.
func openStore(cfg *config.Config) (candleclock.Store, *sql.DB, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := sql.Open("pgx", cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.Database.Table == "" || cfg.Database.Table == pg.DefaultTable {
			if err := pg.Migrate(db); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		var opts []pg.Option
		if cfg.Database.Table != "" {
			opts = append(opts, pg.WithTable(cfg.Database.Table))
		}
		st, err := pg.NewTimerStore(db, opts...)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return st, db, nil

	case "sqlite":
		db, err := sqlite.Open(cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return sqlite.NewTimerStore(db), db, nil
	}
	return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}
