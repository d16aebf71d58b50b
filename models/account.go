package models

import "time"

// OwnerRef is the opaque key identifying an account owned by the embedding
// application. The engine stores and compares it but never interprets it; any
// account-specific behavior lives behind the AccountDirectory collaborator.
type OwnerRef struct {
	OwnerKind string `json:"owner_kind"`
	OwnerID   string `json:"owner_id"`
}

func (r OwnerRef) IsZero() bool {
	return r.OwnerKind == "" || r.OwnerID == ""
}

// AccountProfile is the narrow, engine-owned slice of an external account:
// its unique referral code, the cached derived tier, and the back-reference to
// the account that referred it. Everything else about the account stays with
// the embedding application.
type AccountProfile struct {
	ID           string  `gorm:"primaryKey;type:uuid" json:"id"`
	OwnerKind    string  `gorm:"size:64;not null;uniqueIndex:idx_account_profiles_owner" json:"owner_kind"`
	OwnerID      string  `gorm:"size:128;not null;uniqueIndex:idx_account_profiles_owner" json:"owner_id"`
	ReferralCode string  `gorm:"size:32;not null;uniqueIndex" json:"referral_code"`
	Tier         string  `gorm:"size:64;index" json:"tier"`
	ReferrerKind *string `gorm:"size:64" json:"referrer_kind,omitempty"`
	ReferrerID   *string `gorm:"size:128;index" json:"referrer_id,omitempty"`

	Timestamps
}

// Owner returns the profile's opaque account key.
func (p *AccountProfile) Owner() OwnerRef {
	return OwnerRef{OwnerKind: p.OwnerKind, OwnerID: p.OwnerID}
}

// Referrer returns the referring account's key, or nil when the profile has
// not been attributed yet.
func (p *AccountProfile) Referrer() *OwnerRef {
	if p.ReferrerKind == nil || p.ReferrerID == nil {
		return nil
	}
	return &OwnerRef{OwnerKind: *p.ReferrerKind, OwnerID: *p.ReferrerID}
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
