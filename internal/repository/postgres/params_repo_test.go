package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/lattice-cms/updater/internal/repository"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func TestParamsRepo_Get_OK_and_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewParamsRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT value FROM lattice_params WHERE key = \$1`).
		WithArgs("updates.count").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("3"))
	value, err := r.Get(ctx, "updates.count")
	require.NoError(t, err)
	require.Equal(t, "3", value)

	mock.ExpectQuery(`SELECT value FROM lattice_params WHERE key = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(ctx, "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParamsRepo_Set_Upserts(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewParamsRepo(db)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO lattice_params \(key, value\) VALUES \(\$1, \$2\)`).
		WithArgs("core.build", "462").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Set(ctx, "core.build", "462"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParamsRepo_Delete_MissingKeyIsNoError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewParamsRepo(db)
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM lattice_params WHERE key = \$1`).
		WithArgs("gone").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.NoError(t, r.Delete(ctx, "gone"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParamsRepo_EnsureTable(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewParamsRepo(db)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS lattice_params`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, r.EnsureTable(context.Background()))

	require.NoError(t, mock.ExpectationsWereMet())
}
