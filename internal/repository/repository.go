// Package repository defines the persistence interfaces consumed by the
// migration engine and the negotiator. Postgres implementations live in
// the postgres subpackage.
package repository

import (
	"context"
	"errors"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("repository: not found")

// LedgerEntry records one applied migration. Entries are append-only on
// apply; rollback removes whole batches, highest batch first.
type LedgerEntry struct {
	UnitPath  string
	Migration string
	Batch     int
}

// Ledger is the persisted migration ledger. Existence of its table is the
// signal that the installation has been initialized.
type Ledger interface {
	// EnsureTable creates the ledger table if missing and reports whether
	// it had to be created.
	EnsureTable(ctx context.Context) (created bool, err error)
	DropTable(ctx context.Context) error

	Applied(ctx context.Context, unitPath string) ([]LedgerEntry, error)
	// NextBatch returns the batch number an apply pass should record under.
	NextBatch(ctx context.Context) (int, error)
	Record(ctx context.Context, entry LedgerEntry) error
	// LastBatch returns all entries of the highest batch number across the
	// given unit paths, newest migration first. Empty when nothing remains.
	LastBatch(ctx context.Context, unitPaths []string) ([]LedgerEntry, error)
	Remove(ctx context.Context, entry LedgerEntry) error
}

// Params is the persisted key/value parameter store (core build, cached
// update count, retry timestamps, project identifier).
type Params interface {
	EnsureTable(ctx context.Context) error
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
