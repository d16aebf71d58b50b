package services

import (
	"loyalty-engine/models"

	"gorm.io/gorm"
)

// TierEngine derives an account's tier from its active balance against the
// configured thresholds. UpdateTier is the only writer of the cached tier
// field.
type TierEngine struct {
	Policy *Policy
}

func NewTierEngine(policy *Policy) *TierEngine {
	return &TierEngine{Policy: policy}
}

// Tier returns the highest-requirement tier whose threshold is at most
// balance, or "" when none qualifies.
func (e *TierEngine) Tier(balance int64) string {
	for _, t := range e.Policy.sortedThresholds() {
		if balance >= t.Points {
			return t.Name
		}
	}
	return ""
}

// UpdateTier recomputes the tier for the locked profile from balance. When it
// differs from the cached value the change is persisted and the tier-change
// hook fires exactly once; equal tiers are a no-op.
func (e *TierEngine) UpdateTier(tx *gorm.DB, profile *models.AccountProfile, balance int64) error {
	newTier := e.Tier(balance)
	if newTier == profile.Tier {
		return nil
	}

	oldTier := profile.Tier
	if err := tx.Model(&models.AccountProfile{}).
		Where("id = ?", profile.ID).
		Update("tier", newTier).Error; err != nil {
		return err
	}
	profile.Tier = newTier

	if e.Policy.OnTierChanged != nil {
		e.Policy.OnTierChanged(profile, oldTier, newTier)
	}
	return nil
}
