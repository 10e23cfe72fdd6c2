package migrations

import "github.com/uptrace/bun/migrate"

// Migrations is the Postgres schema history, applied by `migrate` and on server start.
var Migrations = migrate.NewMigrations()
