package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"loyalty-engine/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerService appends earn/redeem/adjust transactions and computes balances
// from non-expired entries. Every write runs inside a single DB transaction
// holding a row lock on the account profile, so the balance check and the
// insert serialize per account.
type LedgerService struct {
	DB        *gorm.DB
	Policy    *Policy
	Directory AccountDirectory
	Tiers     *TierEngine

	now func() time.Time
}

// NewLedgerService constructs the ledger. A nil now falls back to time.Now.
func NewLedgerService(db *gorm.DB, policy *Policy, directory AccountDirectory, tiers *TierEngine, now func() time.Time) *LedgerService {
	if now == nil {
		now = time.Now
	}
	return &LedgerService{DB: db, Policy: policy, Directory: directory, Tiers: tiers, now: now}
}

// EarnPoints appends an earn transaction for the account. The base amount is
// scaled by the policy's reward modifier (rounded half away from zero) and
// stamped with the configured expiry window. The account's tier is re-derived
// in the same atomic unit.
func (s *LedgerService) EarnPoints(ctx context.Context, ref models.OwnerRef, baseAmount int64, event models.JSONMap) (*models.Transaction, error) {
	if ref.IsZero() || baseAmount <= 0 {
		return nil, ErrInvalidInput
	}

	var created *models.Transaction
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profile, err := s.Directory.Lock(tx, ref)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidInput
			}
			return err
		}

		modifier := 1.0
		if s.Policy.RewardModifier != nil {
			modifier = s.Policy.RewardModifier(profile)
		}
		finalAmount := int64(math.Round(float64(baseAmount) * modifier))

		now := s.now()
		var expiresAt *time.Time
		if s.Policy.PointsExpiryDays > 0 {
			e := now.AddDate(0, 0, s.Policy.PointsExpiryDays)
			expiresAt = &e
		}

		txn := &models.Transaction{
			ID:          uuid.NewString(),
			OwnerKind:   ref.OwnerKind,
			OwnerID:     ref.OwnerID,
			Points:      finalAmount,
			Kind:        models.TransactionKindEarn,
			EventData:   event,
			ExpiresAt:   expiresAt,
			Description: fmt.Sprintf("Earned %d points", finalAmount),
		}
		if err := tx.Create(txn).Error; err != nil {
			return err
		}

		balance, err := s.activeBalance(tx, ref, now)
		if err != nil {
			return err
		}
		if err := s.Tiers.UpdateTier(tx, profile, balance); err != nil {
			return err
		}

		created = txn
		return nil
	})
	if err != nil {
		return nil, persistence(err)
	}
	return created, nil
}

// EarnForEvent derives the base amount from the policy's earning rule
// (default 1 point per event) and delegates to EarnPoints.
func (s *LedgerService) EarnForEvent(ctx context.Context, ref models.OwnerRef, event models.JSONMap) (*models.Transaction, error) {
	if ref.IsZero() {
		return nil, ErrInvalidInput
	}

	base := int64(1)
	if s.Policy.EarningRule != nil {
		profile, err := s.Directory.Find(s.DB.WithContext(ctx), ref)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrInvalidInput
			}
			return nil, persistence(err)
		}
		base = s.Policy.EarningRule(profile, event)
	}
	return s.EarnPoints(ctx, ref, base, event)
}

// RedeemPoints appends a redeem transaction. The balance check uses the
// requested point count; the debited amount is the policy-computed cost,
// which may legitimately differ (see DESIGN.md).
func (s *LedgerService) RedeemPoints(ctx context.Context, ref models.OwnerRef, points int64, offer models.JSONMap) (*models.Transaction, error) {
	if ref.IsZero() || points <= 0 {
		return nil, ErrInvalidInput
	}

	var created *models.Transaction
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profile, err := s.Directory.Lock(tx, ref)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidInput
			}
			return err
		}

		now := s.now()
		balance, err := s.activeBalance(tx, ref, now)
		if err != nil {
			return err
		}
		if balance < points {
			return ErrInsufficientBalance
		}

		cost := points
		if s.Policy.RedeemRule != nil {
			cost = s.Policy.RedeemRule(profile, offer)
		}

		txn := &models.Transaction{
			ID:          uuid.NewString(),
			OwnerKind:   ref.OwnerKind,
			OwnerID:     ref.OwnerID,
			Points:      -cost,
			Kind:        models.TransactionKindRedeem,
			OfferData:   offer,
			Description: fmt.Sprintf("Redeemed %d points", cost),
		}
		if err := tx.Create(txn).Error; err != nil {
			return err
		}

		created = txn
		return nil
	})
	if err != nil {
		return nil, persistence(err)
	}
	return created, nil
}

// AdjustPoints appends a signed manual correction. No balance check applies;
// the tier is re-derived since an adjustment can cross a threshold either way.
func (s *LedgerService) AdjustPoints(ctx context.Context, ref models.OwnerRef, delta int64, description string) (*models.Transaction, error) {
	if ref.IsZero() || delta == 0 {
		return nil, ErrInvalidInput
	}
	if description == "" {
		description = fmt.Sprintf("Adjusted by %d points", delta)
	}

	var created *models.Transaction
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profile, err := s.Directory.Lock(tx, ref)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidInput
			}
			return err
		}

		txn := &models.Transaction{
			ID:          uuid.NewString(),
			OwnerKind:   ref.OwnerKind,
			OwnerID:     ref.OwnerID,
			Points:      delta,
			Kind:        models.TransactionKindAdjust,
			Description: description,
		}
		if err := tx.Create(txn).Error; err != nil {
			return err
		}

		now := s.now()
		balance, err := s.activeBalance(tx, ref, now)
		if err != nil {
			return err
		}
		if err := s.Tiers.UpdateTier(tx, profile, balance); err != nil {
			return err
		}

		created = txn
		return nil
	})
	if err != nil {
		return nil, persistence(err)
	}
	return created, nil
}

// Balance sums the account's non-expired transactions. Pure read.
func (s *LedgerService) Balance(ctx context.Context, ref models.OwnerRef) (int64, error) {
	if ref.IsZero() {
		return 0, ErrInvalidInput
	}
	balance, err := s.activeBalance(s.DB.WithContext(ctx), ref, s.now())
	if err != nil {
		return 0, persistence(err)
	}
	return balance, nil
}

// History returns the account's transactions, newest first.
func (s *LedgerService) History(ctx context.Context, ref models.OwnerRef, page, size int) ([]models.Transaction, error) {
	if ref.IsZero() {
		return nil, ErrInvalidInput
	}
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	var txns []models.Transaction
	err := s.DB.WithContext(ctx).
		Where("owner_kind = ? AND owner_id = ?", ref.OwnerKind, ref.OwnerID).
		Order("created_at DESC").
		Limit(size).Offset((page - 1) * size).
		Find(&txns).Error
	if err != nil {
		return nil, persistence(err)
	}
	return txns, nil
}

func (s *LedgerService) activeBalance(tx *gorm.DB, ref models.OwnerRef, now time.Time) (int64, error) {
	var balance int64
	err := models.ActiveTransactions(tx, now).
		Where("owner_kind = ? AND owner_id = ?", ref.OwnerKind, ref.OwnerID).
		Select("COALESCE(SUM(points), 0)").
		Scan(&balance).Error
	return balance, err
}
