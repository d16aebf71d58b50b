package services

import (
	"errors"
	"math/rand"

	"loyalty-engine/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountDirectory is the collaborator owning account lookups. The engine
// only needs the narrow slice modeled by AccountProfile; the embedding
// application may swap in its own implementation.
//
// All methods take the caller's *gorm.DB so they participate in the caller's
// transaction.
type AccountDirectory interface {
	// Ensure returns the profile for ref, creating it (with a fresh unique
	// referral code) when absent.
	Ensure(tx *gorm.DB, ref models.OwnerRef) (*models.AccountProfile, error)
	// Find returns the profile for ref or gorm.ErrRecordNotFound.
	Find(tx *gorm.DB, ref models.OwnerRef) (*models.AccountProfile, error)
	// Lock returns the profile for ref under a row lock, serializing
	// concurrent ledger operations on the same account.
	Lock(tx *gorm.DB, ref models.OwnerRef) (*models.AccountProfile, error)
	// FindByReferralCode resolves a referral code to its owning profile.
	FindByReferralCode(tx *gorm.DB, code string) (*models.AccountProfile, error)
	// SetReferrer records ref's referrer. The first successful attribution
	// wins; it reports false when a referrer was already set.
	SetReferrer(tx *gorm.DB, ref, referrer models.OwnerRef) (bool, error)
}

const referralCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GormAccountDirectory is the default directory backed by the engine's own
// account_profiles table.
type GormAccountDirectory struct {
	Policy *Policy
}

func NewGormAccountDirectory(policy *Policy) *GormAccountDirectory {
	return &GormAccountDirectory{Policy: policy}
}

func (d *GormAccountDirectory) Ensure(tx *gorm.DB, ref models.OwnerRef) (*models.AccountProfile, error) {
	profile, err := d.Find(tx, ref)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	code, err := d.generateReferralCode(tx)
	if err != nil {
		return nil, err
	}
	profile = &models.AccountProfile{
		ID:           uuid.NewString(),
		OwnerKind:    ref.OwnerKind,
		OwnerID:      ref.OwnerID,
		ReferralCode: code,
	}
	if err := tx.Create(profile).Error; err != nil {
		return nil, err
	}
	return profile, nil
}

func (d *GormAccountDirectory) Find(tx *gorm.DB, ref models.OwnerRef) (*models.AccountProfile, error) {
	var profile models.AccountProfile
	err := tx.Where("owner_kind = ? AND owner_id = ?", ref.OwnerKind, ref.OwnerID).
		First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (d *GormAccountDirectory) Lock(tx *gorm.DB, ref models.OwnerRef) (*models.AccountProfile, error) {
	var profile models.AccountProfile
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_kind = ? AND owner_id = ?", ref.OwnerKind, ref.OwnerID).
		First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (d *GormAccountDirectory) FindByReferralCode(tx *gorm.DB, code string) (*models.AccountProfile, error) {
	var profile models.AccountProfile
	if err := tx.Where("referral_code = ?", code).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

func (d *GormAccountDirectory) SetReferrer(tx *gorm.DB, ref, referrer models.OwnerRef) (bool, error) {
	res := tx.Model(&models.AccountProfile{}).
		Where("owner_kind = ? AND owner_id = ? AND referrer_id IS NULL", ref.OwnerKind, ref.OwnerID).
		Updates(map[string]interface{}{
			"referrer_kind": referrer.OwnerKind,
			"referrer_id":   referrer.OwnerID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// generateReferralCode draws fixed-length uppercase alphanumeric codes until
// one is free. Codes are public slugs, not secrets.
func (d *GormAccountDirectory) generateReferralCode(tx *gorm.DB) (string, error) {
	length := 8
	if d.Policy != nil && d.Policy.ReferralCodeLength > 0 {
		length = d.Policy.ReferralCodeLength
	}

	for {
		b := make([]byte, length)
		for i := range b {
			b[i] = referralCodeCharset[rand.Intn(len(referralCodeCharset))]
		}
		code := string(b)

		var count int64
		if err := tx.Model(&models.AccountProfile{}).
			Where("referral_code = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
}
