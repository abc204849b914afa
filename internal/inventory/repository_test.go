package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_Reserve(t *testing.T) {
	orderID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE inventory`).
			WithArgs("p1", 3).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO inventory_reservations`).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		reservationID, err := repo.Reserve(context.Background(), "p1", 3, orderID, 15*time.Minute)
		assert.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, reservationID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InsufficientStock", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)

		// Conditional decrement touches no row when available < qty.
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE inventory`).
			WithArgs("p1", 999).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err = repo.Reserve(context.Background(), "p1", 999, orderID, 15*time.Minute)
		assert.ErrorIs(t, err, ErrInsufficientStock)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_CommitIsIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	reservationID := uuid.New()

	mock.ExpectExec(`UPDATE inventory_reservations`).
		WithArgs(reservationID, ReservationCommitted, ReservationActive).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Second commit matches nothing because the status guard fails.
	mock.ExpectExec(`UPDATE inventory_reservations`).
		WithArgs(reservationID, ReservationCommitted, ReservationActive).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.Commit(context.Background(), reservationID))
	assert.NoError(t, repo.Commit(context.Background(), reservationID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ReleaseForOrderRestocks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	orderID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE inventory_reservations`).
		WithArgs(ReservationReleased, ReservationActive, orderID).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity"}).
			AddRow("p1", 2).
			AddRow("p2", 1))
	mock.ExpectExec(`UPDATE inventory`).
		WithArgs("p1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE inventory`).
		WithArgs("p2", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = repo.ReleaseForOrder(context.Background(), orderID)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ReleaseExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE inventory_reservations`).
		WithArgs(ReservationReleased, ReservationActive, now).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity"}).
			AddRow("p1", 4))
	mock.ExpectExec(`UPDATE inventory`).
		WithArgs("p1", 4).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	released, err := repo.ReleaseExpired(context.Background(), now)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), released)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Restock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectExec(`UPDATE inventory`).
		WithArgs("p1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE inventory`).
		WithArgs("ghost", 2).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.Restock(context.Background(), "p1", 2))
	assert.ErrorIs(t, repo.Restock(context.Background(), "ghost", 2), ErrProductNotFound)
}
