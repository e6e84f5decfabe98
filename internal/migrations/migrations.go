package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/goran-ethernal/StarboardIndexor/internal/db"
	"github.com/goran-ethernal/StarboardIndexor/internal/logger"
)

//go:embed 001_entities.sql
var mig001 string

//go:embed 002_checkpoint.sql
var mig002 string

// All returns the schema migrations in order.
func All() []db.Migration {
	return []db.Migration{
		{ID: "001_entities.sql", SQL: mig001},
		{ID: "002_checkpoint.sql", SQL: mig002},
	}
}

// RunMigrations brings the schema of sqlDB up to date.
func RunMigrations(log *logger.Logger, sqlDB *sql.DB) error {
	return db.RunMigrations(log, sqlDB, All())
}
