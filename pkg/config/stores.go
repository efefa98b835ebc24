package config

import (
	"fmt"

	"github.com/satchel-edu/satchel/pkg/cache"
	badgerstore "github.com/satchel-edu/satchel/pkg/cache/store/badger"
	"github.com/satchel-edu/satchel/pkg/cache/store/memory"
	sqlstore "github.com/satchel-edu/satchel/pkg/cache/store/sql"
)

// OpenStore opens the metadata store selected by the configuration.
func OpenStore(cfg StoreConfig) (cache.Store, error) {
	switch cfg.Backend {
	case "badger":
		return badgerstore.Open(badgerstore.Options{Path: cfg.Path})

	case "sqlite":
		return sqlstore.Open(sqlstore.Options{
			Dialect: sqlstore.DialectSQLite,
			Path:    cfg.Path,
		})

	case "postgres":
		return sqlstore.Open(sqlstore.Options{
			Dialect: sqlstore.DialectPostgres,
			Postgres: sqlstore.PostgresOptions{
				Host:     cfg.Postgres.Host,
				Port:     cfg.Postgres.Port,
				Database: cfg.Postgres.Database,
				User:     cfg.Postgres.User,
				Password: cfg.Postgres.Password,
				SSLMode:  cfg.Postgres.SSLMode,
			},
		})

	case "memory":
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}
