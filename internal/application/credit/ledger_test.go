package credit

import (
	"context"
	"testing"

	"apolice-backend/internal/domain"
	"apolice-backend/internal/pkg/apperrors"
	"apolice-backend/internal/pkg/testdb"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedTomador(t *testing.T, db *gorm.DB, approved, available string) domain.Tomador {
	t.Helper()
	tm := domain.Tomador{
		CNPJ:            "11222333000181",
		Name:            "Solar Ltda",
		ApprovedCredit:  decimal.RequireFromString(approved),
		AvailableCredit: decimal.RequireFromString(available),
	}
	require.NoError(t, db.Create(&tm).Error)
	return tm
}

func reserve(t *testing.T, l *Ledger, tomadorID, proposalID uint, amount string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := l.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = l.Reserve(context.Background(), tx, tomadorID, proposalID, decimal.RequireFromString(amount))
		return err
	})
	return balance, err
}

func TestReserve_DebitsToZeroThenRejects(t *testing.T) {
	db := testdb.Open(t)
	l := &Ledger{DB: db}
	tm := seedTomador(t, db, "10000", "10000")

	balance, err := reserve(t, l, tm.ID, 1, "10000")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	_, err = reserve(t, l, tm.ID, 2, "1")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.ErrorIs(t, err, ErrInsufficientCredit)

	_, available, err := l.Balance(context.Background(), tm.ID)
	require.NoError(t, err)
	assert.True(t, available.IsZero(), "available must never go negative")
}

func TestReserve_UnknownTomador(t *testing.T) {
	db := testdb.Open(t)
	l := &Ledger{DB: db}
	_, err := reserve(t, l, 999, 1, "10")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestReserve_RejectsNonPositive(t *testing.T) {
	db := testdb.Open(t)
	l := &Ledger{DB: db}
	tm := seedTomador(t, db, "100", "100")
	_, err := reserve(t, l, tm.ID, 1, "0")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestReserve_RollsBackWithCallerTransaction(t *testing.T) {
	db := testdb.Open(t)
	l := &Ledger{DB: db}
	tm := seedTomador(t, db, "500", "500")

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := l.Reserve(context.Background(), tx, tm.ID, 1, decimal.NewFromInt(200)); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, available, err := l.Balance(context.Background(), tm.ID)
	require.NoError(t, err)
	assert.Equal(t, "500.00", available.StringFixed(2))
	var count int64
	db.Model(&domain.CreditMovement{}).Count(&count)
	assert.Zero(t, count)
}

func TestRelease_CappedAtApproved(t *testing.T) {
	db := testdb.Open(t)
	l := &Ledger{DB: db}
	tm := seedTomador(t, db, "1000", "900")

	var balance decimal.Decimal
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		balance, err = l.Release(context.Background(), tx, tm.ID, 1, decimal.NewFromInt(500))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "1000.00", balance.StringFixed(2))

	moves, err := l.Movements(context.Background(), tm.ID)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, domain.MovementRelease, moves[0].Kind)
	assert.Equal(t, "100.00", moves[0].Amount.StringFixed(2))
}

func TestSetLimit_ShiftsAvailableByDelta(t *testing.T) {
	db := testdb.Open(t)
	l := &Ledger{DB: db}
	tm := seedTomador(t, db, "1000", "400")

	out, err := l.SetLimit(context.Background(), tm.ID, decimal.NewFromInt(1500))
	require.NoError(t, err)
	assert.Equal(t, "900.00", out.AvailableCredit.StringFixed(2))

	out, err = l.SetLimit(context.Background(), tm.ID, decimal.NewFromInt(200))
	require.NoError(t, err)
	assert.True(t, out.AvailableCredit.IsZero())
	assert.Equal(t, "200.00", out.ApprovedCredit.StringFixed(2))
}

func TestWithTomadorLock_BusyWhenHeld(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	locker := redislock.New(rdb)
	l := &Ledger{Locker: locker}

	held, err := locker.Obtain(context.Background(), "credit:tomador:7", lockTTL, nil)
	require.NoError(t, err)
	defer held.Release(context.Background())

	called := false
	err = l.WithTomadorLock(context.Background(), 7, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCreditLineBusy)
	assert.False(t, called)

	err = l.WithTomadorLock(context.Background(), 8, func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
