package credit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"apolice-backend/internal/domain"
	"apolice-backend/internal/pkg/apperrors"

	"github.com/bsm/redislock"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInsufficientCredit = errors.New("insufficient available credit")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrTomadorNotFound    = errors.New("tomador not found")
	ErrCreditLineBusy     = errors.New("credit line busy")
)

const lockTTL = 30 * time.Second

// Ledger owns Tomador.AvailableCredit. Reserve and Release run inside the caller's
// transaction so the balance change commits together with the proposal status.
type Ledger struct {
	DB     *gorm.DB
	Locker *redislock.Client
}

// Reserve decrements available credit by amount, failing when amount exceeds it.
// The decrement is a single conditional UPDATE so concurrent reservations cannot
// both pass the check against a stale read.
func (l *Ledger) Reserve(ctx context.Context, tx *gorm.DB, tomadorID, proposalID uint, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, apperrors.Validation("Reservation amount must be positive", ErrInvalidAmount)
	}
	res := tx.WithContext(ctx).Model(&domain.Tomador{}).
		Where("id = ? AND available_credit >= ?", tomadorID, amount).
		Update("available_credit", gorm.Expr("available_credit - ?", amount))
	if res.Error != nil {
		return decimal.Zero, res.Error
	}
	if res.RowsAffected == 0 {
		var t domain.Tomador
		if err := tx.WithContext(ctx).Select("id").First(&t, tomadorID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return decimal.Zero, apperrors.NotFound("Tomador not found", ErrTomadorNotFound)
			}
			return decimal.Zero, err
		}
		return decimal.Zero, apperrors.Validation("Insufficient available credit", ErrInsufficientCredit)
	}

	balance, err := l.balance(ctx, tx, tomadorID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := recordMovement(ctx, tx, tomadorID, &proposalID, domain.MovementReserve, amount, balance); err != nil {
		return decimal.Zero, err
	}
	log.Info().Uint("tomador_id", tomadorID).Uint("proposal_id", proposalID).
		Str("amount", amount.StringFixed(2)).Str("available", balance.StringFixed(2)).Msg("credit reserved")
	return balance, nil
}

// Release returns amount to the available credit, capped at the approved limit.
func (l *Ledger) Release(ctx context.Context, tx *gorm.DB, tomadorID, proposalID uint, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, apperrors.Validation("Release amount must be positive", ErrInvalidAmount)
	}
	var t domain.Tomador
	err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&t, tomadorID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, apperrors.NotFound("Tomador not found", ErrTomadorNotFound)
		}
		return decimal.Zero, err
	}
	next := decimal.Min(t.AvailableCredit.Add(amount), t.ApprovedCredit)
	released := next.Sub(t.AvailableCredit)
	if err := tx.WithContext(ctx).Model(&t).Update("available_credit", next).Error; err != nil {
		return decimal.Zero, err
	}
	if err := recordMovement(ctx, tx, tomadorID, &proposalID, domain.MovementRelease, released, next); err != nil {
		return decimal.Zero, err
	}
	log.Info().Uint("tomador_id", tomadorID).Uint("proposal_id", proposalID).
		Str("amount", released.StringFixed(2)).Str("available", next.StringFixed(2)).Msg("credit released")
	return next, nil
}

// SetLimit changes the approved credit line and shifts available credit by the same delta,
// never below zero.
func (l *Ledger) SetLimit(ctx context.Context, tomadorID uint, approved decimal.Decimal) (*domain.Tomador, error) {
	if approved.IsNegative() {
		return nil, apperrors.Validation("Approved credit cannot be negative", ErrInvalidAmount)
	}
	var out domain.Tomador
	err := l.WithTomadorLock(ctx, tomadorID, func() error {
		return l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&out, tomadorID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperrors.NotFound("Tomador not found", ErrTomadorNotFound)
				}
				return err
			}
			delta := approved.Sub(out.ApprovedCredit)
			available := decimal.Max(out.AvailableCredit.Add(delta), decimal.Zero)
			available = decimal.Min(available, approved)
			if err := tx.Model(&out).Updates(map[string]interface{}{
				"approved_credit":  approved,
				"available_credit": available,
			}).Error; err != nil {
				return err
			}
			out.ApprovedCredit = approved
			out.AvailableCredit = available
			return recordMovement(ctx, tx, tomadorID, nil, domain.MovementLimit, delta, available)
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance returns approved and available credit.
func (l *Ledger) Balance(ctx context.Context, tomadorID uint) (approved, available decimal.Decimal, err error) {
	var t domain.Tomador
	if err := l.DB.WithContext(ctx).Select("id", "approved_credit", "available_credit").First(&t, tomadorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, decimal.Zero, apperrors.NotFound("Tomador not found", ErrTomadorNotFound)
		}
		return decimal.Zero, decimal.Zero, err
	}
	return t.ApprovedCredit, t.AvailableCredit, nil
}

// Movements lists ledger entries for a tomador, newest first.
func (l *Ledger) Movements(ctx context.Context, tomadorID uint) ([]domain.CreditMovement, error) {
	var out []domain.CreditMovement
	err := l.DB.WithContext(ctx).Where("tomador_id = ?", tomadorID).Order("id DESC").Find(&out).Error
	return out, err
}

// WithTomadorLock serialises fn per tomador through Redis when a locker is configured.
func (l *Ledger) WithTomadorLock(ctx context.Context, tomadorID uint, fn func() error) error {
	if l.Locker == nil {
		return fn()
	}
	key := "credit:tomador:" + strconv.FormatUint(uint64(tomadorID), 10)
	lock, err := l.Locker.Obtain(ctx, key, lockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 20),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return apperrors.Validation("Credit line busy, retry", ErrCreditLineBusy)
	}
	if err != nil {
		return fmt.Errorf("obtain credit lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			log.Warn().Err(err).Str("key", key).Msg("credit lock release failed")
		}
	}()
	return fn()
}

func (l *Ledger) balance(ctx context.Context, tx *gorm.DB, tomadorID uint) (decimal.Decimal, error) {
	var t domain.Tomador
	if err := tx.WithContext(ctx).Select("id", "available_credit").First(&t, tomadorID).Error; err != nil {
		return decimal.Zero, err
	}
	return t.AvailableCredit, nil
}

func recordMovement(ctx context.Context, tx *gorm.DB, tomadorID uint, proposalID *uint, kind string, amount, balance decimal.Decimal) error {
	return tx.WithContext(ctx).Create(&domain.CreditMovement{
		TomadorID:    tomadorID,
		ProposalID:   proposalID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: balance,
	}).Error
}
