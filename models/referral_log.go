package models

import "time"

// ReferralLog records one click on a referral link. Rows start unclaimed
// (referee null) and are claimed at most once, irreversibly, when a signup is
// attributed to the code. Clicks are never deduplicated.
type ReferralLog struct {
	ID           string     `gorm:"primaryKey;type:uuid" json:"id"`
	ReferralCode string     `gorm:"size:32;not null;index" json:"referral_code"`
	RefereeKind  *string    `gorm:"size:64" json:"referee_kind,omitempty"`
	RefereeID    *string    `gorm:"size:128;index" json:"referee_id,omitempty"`
	UserAgent    string     `gorm:"size:1024" json:"user_agent"`
	IPAddress    string     `gorm:"size:64;index" json:"ip_address"`
	Referrer     string     `gorm:"size:1024" json:"referrer"`
	ClickedAt    time.Time  `gorm:"not null;index" json:"clicked_at"`
	SignedUpAt   *time.Time `gorm:"index" json:"signed_up_at,omitempty"`
	DeviceType   string     `gorm:"size:32;index" json:"device_type"`
	Browser      string     `gorm:"size:32;index" json:"browser"`
	GeoData      JSONMap    `gorm:"type:json" json:"geo_data,omitempty"`
	DeviceData   JSONMap    `gorm:"type:json" json:"device_data,omitempty"`

	Timestamps
}

// Converted reports whether the click has been attributed to a signup.
func (l *ReferralLog) Converted() bool {
	return l.SignedUpAt != nil && l.RefereeID != nil
}

// Referee returns the attributed account's key, or nil while unclaimed.
func (l *ReferralLog) Referee() *OwnerRef {
	if l.RefereeKind == nil || l.RefereeID == nil {
		return nil
	}
	return &OwnerRef{OwnerKind: *l.RefereeKind, OwnerID: *l.RefereeID}
}
