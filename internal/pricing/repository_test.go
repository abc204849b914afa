package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCouponRepository_GetCoupon(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewCouponRepository(db)
	expires := time.Now().Add(24 * time.Hour)

	t.Run("Found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT code, percent_off, min_spend, expires_at, usage_limit, used_count`).
			WithArgs("SAVE10").
			WillReturnRows(sqlmock.NewRows(
				[]string{"code", "percent_off", "min_spend", "expires_at", "usage_limit", "used_count"},
			).AddRow("SAVE10", "10", "0", expires, 100, 3))

		c, err := repo.GetCoupon(context.Background(), "SAVE10")
		require.NoError(t, err)
		assert.Equal(t, "SAVE10", c.Code)
		assert.Equal(t, 100, c.UsageLimit)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(`SELECT code, percent_off`).
			WithArgs("NOPE").
			WillReturnRows(sqlmock.NewRows([]string{"code"}))

		_, err := repo.GetCoupon(context.Background(), "NOPE")
		assert.ErrorIs(t, err, ErrCouponNotFound)
	})
}

func TestCouponRepository_ConsumeCoupon(t *testing.T) {
	// Consumption must accept the same coupons validation accepts: a zero
	// usage_limit is unlimited, not permanently exhausted.
	consumeQuery := `usage_limit = 0 OR used_count < usage_limit`

	t.Run("IncrementsWithinLimit", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewCouponRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(consumeQuery).
			WithArgs("SAVE10").
			WillReturnResult(sqlmock.NewResult(0, 1))

		tx, err := db.Begin()
		require.NoError(t, err)

		err = repo.ConsumeCoupon(context.Background(), tx, "SAVE10")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Exhausted", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewCouponRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(consumeQuery).
			WithArgs("SOLDOUT").
			WillReturnResult(sqlmock.NewResult(0, 0))

		tx, err := db.Begin()
		require.NoError(t, err)

		err = repo.ConsumeCoupon(context.Background(), tx, "SOLDOUT")
		assert.ErrorIs(t, err, ErrCouponExhausted)
	})
}
