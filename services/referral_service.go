package services

import (
	"context"
	"errors"
	"log"
	"time"

	"loyalty-engine/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReferralService records referral link clicks and attributes signups to
// them, granting the one-time reward pair exactly once per attribution.
type ReferralService struct {
	DB        *gorm.DB
	Policy    *Policy
	Ledger    *LedgerService
	Directory AccountDirectory

	now func() time.Time
}

func NewReferralService(db *gorm.DB, policy *Policy, ledger *LedgerService, directory AccountDirectory, now func() time.Time) *ReferralService {
	if now == nil {
		now = time.Now
	}
	return &ReferralService{DB: db, Policy: policy, Ledger: ledger, Directory: directory, now: now}
}

// RecordClick inserts a new unclaimed referral log row. Repeated clicks on
// the same code are never deduplicated. Device and browser come from the
// snapshot when present, else from pattern-matching the user-agent; the
// snapshot's failure or absence only leaves optional fields empty.
func (s *ReferralService) RecordClick(ctx context.Context, code, userAgent, ip, referrerURL string, deviceData models.JSONMap) (*models.ReferralLog, error) {
	if code == "" {
		return nil, ErrInvalidInput
	}

	deviceType, browser, geo, device := splitDeviceData(deviceData)
	if deviceType == "" {
		deviceType = DetectDeviceType(userAgent)
	}
	if browser == "" {
		browser = DetectBrowser(userAgent)
	}

	entry := &models.ReferralLog{
		ID:           uuid.NewString(),
		ReferralCode: code,
		UserAgent:    userAgent,
		IPAddress:    ip,
		Referrer:     referrerURL,
		ClickedAt:    s.now(),
		DeviceType:   deviceType,
		Browser:      browser,
		GeoData:      geo,
		DeviceData:   device,
	}
	if err := s.DB.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, persistence(err)
	}
	return entry, nil
}

// AttributeSignup links a signup to the most recent unclaimed click for the
// code. The claim is an atomic conditional update guarded by the null-referee
// predicate, so concurrent signup attempts for the same code claim distinct
// rows or fail. The reward pair fires only after the claim commits.
//
// A false return means no new effects were committed; callers must not assume
// a transaction was created.
func (s *ReferralService) AttributeSignup(ctx context.Context, referee models.OwnerRef, code string) (bool, error) {
	if referee.IsZero() || code == "" {
		return false, ErrInvalidInput
	}

	var referrerRef models.OwnerRef
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		referrer, err := s.Directory.FindByReferralCode(tx, code)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		var entry models.ReferralLog
		err = tx.Where("referral_code = ? AND referee_id IS NULL", code).
			Order("clicked_at DESC, id DESC").
			First(&entry).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		// Compare-and-swap claim: at most one signup ever wins this row.
		now := s.now()
		res := tx.Model(&models.ReferralLog{}).
			Where("id = ? AND referee_id IS NULL", entry.ID).
			Updates(map[string]interface{}{
				"referee_kind": referee.OwnerKind,
				"referee_id":   referee.OwnerID,
				"signed_up_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrNotFound
		}

		if _, err := s.Directory.Ensure(tx, referee); err != nil {
			return err
		}
		// First successful attribution wins; an existing referrer stays.
		if _, err := s.Directory.SetReferrer(tx, referee, referrer.Owner()); err != nil {
			return err
		}

		referrerRef = referrer.Owner()
		return nil
	})
	if err != nil {
		return false, persistence(err)
	}

	// The claim is committed; a failing reward hook must not unwind it.
	if err := s.grantReferralReward(referrerRef, referee); err != nil {
		log.Printf("⚠️  Referral reward failed for code %s: %v", code, err)
	}
	return true, nil
}

func (s *ReferralService) grantReferralReward(referrer, referee models.OwnerRef) error {
	if s.Policy.ReferralReward != nil {
		return s.Policy.ReferralReward(s.Ledger, referrer, referee)
	}

	ctx := context.Background()
	if _, err := s.Ledger.EarnPoints(ctx, referrer, DefaultReferrerRewardPoints,
		models.JSONMap{"source": "referral", "role": "referrer"}); err != nil {
		return err
	}
	if _, err := s.Ledger.EarnPoints(ctx, referee, DefaultRefereeRewardPoints,
		models.JSONMap{"source": "referral", "role": "referee"}); err != nil {
		return err
	}
	return nil
}

// splitDeviceData pulls the classification fields out of a snapshot and
// returns the remainder as the opaque device payload, mirroring what the
// client-side collector sends: device_type, browser, a geo_data sub-object,
// and a collected_at stamp that is dropped.
func splitDeviceData(data models.JSONMap) (deviceType, browser string, geo, device models.JSONMap) {
	if data == nil {
		return "", "", nil, nil
	}

	deviceType = data.String("device_type")
	browser = data.String("browser")
	if raw, ok := data["geo_data"].(map[string]interface{}); ok {
		geo = models.JSONMap(raw)
	}

	device = models.JSONMap{}
	for k, v := range data {
		switch k {
		case "device_type", "browser", "geo_data", "collected_at":
			continue
		}
		device[k] = v
	}
	if locale := device.String("language"); locale != "" {
		device["language"] = canonicalLocale(locale)
	}
	if len(device) == 0 {
		device = nil
	}
	return deviceType, browser, geo, device
}
