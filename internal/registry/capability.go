package registry

import "context"

// DB is the database surface migrations run against. The engine adapts
// its connection pool to this; tests substitute an in-memory recorder.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) error
}

// Migration is one step in a unit's ordered migration set. Name ordering
// is apply ordering; Version is the unit version the step belongs to.
// Up may return an informational notice for the operator.
type Migration struct {
	Name    string
	Version string
	Up      func(ctx context.Context, db DB) (string, error)
	Down    func(ctx context.Context, db DB) error
}

// Migratable is registered by units that carry database migrations.
type Migratable interface {
	// UnitPath is the ledger key for this unit, e.g. "plugins/acme/blog".
	UnitPath() string
	Migrations() []Migration
}

// Seedable is registered by units that seed initial data after first
// installation. Returned strings are collected as notices.
type Seedable interface {
	Seed(ctx context.Context, db DB) ([]string, error)
}
