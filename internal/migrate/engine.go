// Package migrate is the ordered migration/rollback engine. It applies or
// reverts per-unit migration sets, tracks applied state in the persisted
// ledger, and collects human-readable notices along the way.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/lattice-cms/updater/internal/logging"
	"github.com/lattice-cms/updater/internal/registry"
	"github.com/lattice-cms/updater/internal/repository"
)

var log = logging.L("migrate")

// ErrVersionNotFound indicates a rollback target version absent from the
// unit's ledger.
var ErrVersionNotFound = errors.New("migrate: version not found in ledger")

// Engine drives migration apply and rollback for registered units.
// Capabilities come from the registry; units without a Migratable or
// Seedable capability are skipped, which is not an error.
type Engine struct {
	db      registry.DB
	ledger  repository.Ledger
	reg     *registry.Registry
	notices *Notices
}

// NewEngine wires the engine with its database, ledger, and registry.
func NewEngine(db registry.DB, ledger repository.Ledger, reg *registry.Registry, notices *Notices) *Engine {
	return &Engine{db: db, ledger: ledger, reg: reg, notices: notices}
}

// Notices exposes the shared notice collection.
func (e *Engine) Notices() *Notices { return e.notices }

// Apply runs the unit's not-yet-applied migrations in ascending name
// order, recording each in the current batch. Ledger writes are
// per-migration: a crash mid-batch leaves exactly the completed
// migrations recorded. A failing migration aborts and propagates.
func (e *Engine) Apply(ctx context.Context, code string) error {
	unit, ok := e.reg.MigratableFor(code)
	if !ok {
		log.Debug("unit has no migrations, skipping", logging.KeyUnit, code)
		return nil
	}

	path := unit.UnitPath()
	applied, err := e.ledger.Applied(ctx, path)
	if err != nil {
		return fmt.Errorf("read ledger for %s: %w", path, err)
	}
	appliedSet := make(map[string]bool, len(applied))
	for _, entry := range applied {
		appliedSet[entry.Migration] = true
	}

	migrations := orderedMigrations(unit)
	var pending []registry.Migration
	for _, m := range migrations {
		if !appliedSet[m.Name] {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	batch, err := e.ledger.NextBatch(ctx)
	if err != nil {
		return fmt.Errorf("next batch: %w", err)
	}

	for _, m := range pending {
		log.Info("applying migration", logging.KeyUnit, code, "migration", m.Name)
		notice, err := m.Up(ctx, e.db)
		if err != nil {
			return fmt.Errorf("migration %s for %s: %w", m.Name, path, err)
		}
		if err := e.ledger.Record(ctx, repository.LedgerEntry{
			UnitPath:  path,
			Migration: m.Name,
			Batch:     batch,
		}); err != nil {
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}
		e.notices.Add(code, m.Name, notice)
	}

	if v := pending[len(pending)-1].Version; v != "" {
		if err := e.reg.SetVersion(code, v); err != nil {
			return err
		}
	}
	return nil
}

// Seed invokes the unit's seeding entry point once, if it has one,
// capturing any returned messages as notices.
func (e *Engine) Seed(ctx context.Context, code string) error {
	seeder, ok := e.reg.SeedableFor(code)
	if !ok {
		return nil
	}
	log.Info("seeding unit", logging.KeyUnit, code)
	messages, err := seeder.Seed(ctx, e.db)
	if err != nil {
		return fmt.Errorf("seed %s: %w", code, err)
	}
	for _, msg := range messages {
		e.notices.Add(code, "seed", msg)
	}
	return nil
}

// Rollback reverts the most recent batch across the given units,
// repeatedly, until a pass affects zero entries. Iterating batch-by-batch
// to a fixed point guarantees full reversal regardless of batch count.
func (e *Engine) Rollback(ctx context.Context, codes []string) error {
	paths, byPath := e.migratablePaths(codes)
	if len(paths) == 0 {
		return nil
	}

	for {
		entries, err := e.ledger.LastBatch(ctx, paths)
		if err != nil {
			return fmt.Errorf("read last batch: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}
		for _, entry := range entries {
			if err := e.revert(ctx, byPath[entry.UnitPath], entry); err != nil {
				return err
			}
		}
	}
}

// RollbackToVersion reverts migrations newer than the target version,
// leaving the unit at exactly that version. The target must exist in the
// unit's ledger.
func (e *Engine) RollbackToVersion(ctx context.Context, code, targetVersion string) error {
	unit, ok := e.reg.MigratableFor(code)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrUnitNotFound, code)
	}
	path := unit.UnitPath()

	applied, err := e.ledger.Applied(ctx, path)
	if err != nil {
		return fmt.Errorf("read ledger for %s: %w", path, err)
	}

	byName := make(map[string]registry.Migration)
	for _, m := range unit.Migrations() {
		byName[m.Name] = m
	}

	// Locate the last applied migration belonging to the target version.
	targetIdx := -1
	for i, entry := range applied {
		if m, ok := byName[entry.Migration]; ok && m.Version == targetVersion {
			targetIdx = i
		}
	}
	if targetIdx < 0 {
		return fmt.Errorf("%w: %s at %s", ErrVersionNotFound, code, targetVersion)
	}

	for i := len(applied) - 1; i > targetIdx; i-- {
		if err := e.revert(ctx, unit, applied[i]); err != nil {
			return err
		}
	}
	return e.reg.SetVersion(code, targetVersion)
}

func (e *Engine) revert(ctx context.Context, unit registry.Migratable, entry repository.LedgerEntry) error {
	var found bool
	if unit != nil {
		for _, m := range unit.Migrations() {
			if m.Name != entry.Migration {
				continue
			}
			found = true
			if m.Down != nil {
				log.Info("rolling back migration", logging.KeyUnit, entry.UnitPath, "migration", m.Name)
				if err := m.Down(ctx, e.db); err != nil {
					return fmt.Errorf("rollback %s for %s: %w", m.Name, entry.UnitPath, err)
				}
			}
			break
		}
	}
	if !found {
		log.Warn("ledger entry has no matching migration, removing",
			logging.KeyUnit, entry.UnitPath, "migration", entry.Migration)
	}
	return e.ledger.Remove(ctx, entry)
}

func (e *Engine) migratablePaths(codes []string) ([]string, map[string]registry.Migratable) {
	var paths []string
	byPath := make(map[string]registry.Migratable)
	for _, code := range codes {
		if unit, ok := e.reg.MigratableFor(code); ok {
			paths = append(paths, unit.UnitPath())
			byPath[unit.UnitPath()] = unit
		}
	}
	return paths, byPath
}

func orderedMigrations(unit registry.Migratable) []registry.Migration {
	migrations := unit.Migrations()
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Name < migrations[j].Name
	})
	return migrations
}
