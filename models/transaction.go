package models

import (
	"time"

	"gorm.io/gorm"
)

// TransactionKind classifies a ledger entry
type TransactionKind string

const (
	TransactionKindEarn   TransactionKind = "earn"
	TransactionKindRedeem TransactionKind = "redeem"
	TransactionKindAdjust TransactionKind = "adjust"
)

// Transaction is one immutable entry in the points ledger. Earn entries carry
// positive points and optionally an expiry; redeem entries carry the negated
// computed cost. Rows are never updated after creation.
type Transaction struct {
	ID          string          `gorm:"primaryKey;type:uuid" json:"id"`
	OwnerKind   string          `gorm:"size:64;not null;index:idx_transactions_owner" json:"owner_kind"`
	OwnerID     string          `gorm:"size:128;not null;index:idx_transactions_owner" json:"owner_id"`
	Points      int64           `gorm:"not null" json:"points"`
	Kind        TransactionKind `gorm:"size:16;not null;index" json:"kind"`
	EventData   JSONMap         `gorm:"type:json" json:"event_data,omitempty"`
	OfferData   JSONMap         `gorm:"type:json" json:"offer_data,omitempty"`
	ExpiresAt   *time.Time      `gorm:"index" json:"expires_at,omitempty"`
	Description string          `gorm:"type:text" json:"description"`

	Timestamps
}

// Owner returns the entry's opaque account key.
func (t *Transaction) Owner() OwnerRef {
	return OwnerRef{OwnerKind: t.OwnerKind, OwnerID: t.OwnerID}
}

// Expired reports whether the entry's points have lapsed at time now.
func (t *Transaction) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// ActiveTransactions scopes a query to entries still counting toward a
// balance at time now.
func ActiveTransactions(db *gorm.DB, now time.Time) *gorm.DB {
	return db.Model(&Transaction{}).Where("expires_at IS NULL OR expires_at > ?", now)
}
