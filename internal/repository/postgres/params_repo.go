package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lattice-cms/updater/internal/repository"
)

const paramsTable = "lattice_params"

// ParamsRepo persists the updater's key/value parameters.
type ParamsRepo struct {
	db *DB
}

// NewParamsRepo creates a params repository.
func NewParamsRepo(db *DB) *ParamsRepo {
	return &ParamsRepo{db: db}
}

// EnsureTable creates the params table if missing.
func (r *ParamsRepo) EnsureTable(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			key text PRIMARY KEY,
			value text NOT NULL
		)`, paramsTable))
	return err
}

// Get returns the value for key, or repository.ErrNotFound.
func (r *ParamsRepo) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.Pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT value FROM %s WHERE key = $1`, paramsTable), key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", repository.ErrNotFound, key)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set stores the value for key, replacing any previous value.
func (r *ParamsRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.Pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, paramsTable),
		key, value)
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (r *ParamsRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.Pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE key = $1`, paramsTable), key)
	return err
}
