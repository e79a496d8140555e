package postgres

import (
	"context"
	"fmt"

	"github.com/lattice-cms/updater/internal/repository"
)

// LedgerRepo persists migration ledger entries. The table name is
// configurable; config validation restricts it to identifier characters.
type LedgerRepo struct {
	db    *DB
	table string
}

// NewLedgerRepo creates a ledger repository using the given table name.
func NewLedgerRepo(db *DB, table string) *LedgerRepo {
	return &LedgerRepo{db: db, table: table}
}

// EnsureTable creates the ledger table if missing. Creation is the
// "first run" signal for the coordinator.
func (r *LedgerRepo) EnsureTable(ctx context.Context) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`,
		r.table,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check ledger table: %w", err)
	}
	if exists {
		return false, nil
	}

	_, err = r.db.Pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE %s (
			unit_path text NOT NULL,
			migration text NOT NULL,
			batch integer NOT NULL,
			PRIMARY KEY (unit_path, migration)
		)`, r.table))
	if err != nil {
		return false, fmt.Errorf("create ledger table: %w", err)
	}
	return true, nil
}

// DropTable removes the ledger table entirely (full uninstall).
func (r *LedgerRepo) DropTable(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, r.table))
	return err
}

// Applied returns the unit's recorded migrations in name order.
func (r *LedgerRepo) Applied(ctx context.Context, unitPath string) ([]repository.LedgerEntry, error) {
	rows, err := r.db.Pool.Query(ctx, fmt.Sprintf(
		`SELECT unit_path, migration, batch FROM %s WHERE unit_path = $1 ORDER BY migration`, r.table),
		unitPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.LedgerEntry
	for rows.Next() {
		var e repository.LedgerEntry
		if err := rows.Scan(&e.UnitPath, &e.Migration, &e.Batch); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// NextBatch returns the batch number for a new apply pass.
func (r *LedgerRepo) NextBatch(ctx context.Context) (int, error) {
	var next int
	err := r.db.Pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT COALESCE(MAX(batch), 0) + 1 FROM %s`, r.table)).Scan(&next)
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Record appends one ledger entry. Writes are per-migration so a crash
// mid-batch leaves exactly the completed migrations recorded.
func (r *LedgerRepo) Record(ctx context.Context, entry repository.LedgerEntry) error {
	_, err := r.db.Pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (unit_path, migration, batch) VALUES ($1, $2, $3)`, r.table),
		entry.UnitPath, entry.Migration, entry.Batch)
	return err
}

// LastBatch returns the entries of the highest batch across the given unit
// paths, newest migration first.
func (r *LedgerRepo) LastBatch(ctx context.Context, unitPaths []string) ([]repository.LedgerEntry, error) {
	rows, err := r.db.Pool.Query(ctx, fmt.Sprintf(
		`SELECT unit_path, migration, batch FROM %s
		 WHERE unit_path = ANY($1)
		   AND batch = (SELECT MAX(batch) FROM %s WHERE unit_path = ANY($1))
		 ORDER BY migration DESC`, r.table, r.table),
		unitPaths)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.LedgerEntry
	for rows.Next() {
		var e repository.LedgerEntry
		if err := rows.Scan(&e.UnitPath, &e.Migration, &e.Batch); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Remove deletes a single ledger entry after its migration is rolled back.
func (r *LedgerRepo) Remove(ctx context.Context, entry repository.LedgerEntry) error {
	_, err := r.db.Pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE unit_path = $1 AND migration = $2`, r.table),
		entry.UnitPath, entry.Migration)
	return err
}
