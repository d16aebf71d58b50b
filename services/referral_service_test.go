package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"loyalty-engine/models"
)

func newTestReferral(t *testing.T, db *gorm.DB, policy *Policy, now func() time.Time) (*ReferralService, *LedgerService, *GormAccountDirectory) {
	t.Helper()
	ledger, directory := newTestServices(t, db, policy, now)
	return NewReferralService(db, policy, ledger, directory, now), ledger, directory
}

func countReferralLogs(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&models.ReferralLog{}).Count(&count).Error; err != nil {
		t.Fatalf("count referral logs: %v", err)
	}
	return count
}

func TestRecordClickRequiresCode(t *testing.T) {
	db := setupLoyaltyTestDB(t)
	referrals, _, _ := newTestReferral(t, db, DefaultPolicy(), nil)

	if _, err := referrals.RecordClick(context.Background(), "", "ua", "1.2.3.4", "", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if got := countReferralLogs(t, db); got != 0 {
		t.Fatalf("expected no logs, got %d", got)
	}
}

func TestRecordClickUserAgentFallback(t *testing.T) {
	db := setupLoyaltyTestDB(t)
	referrals, _, _ := newTestReferral(t, db, DefaultPolicy(), nil)

	ua := "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	entry, err := referrals.RecordClick(context.Background(), "ABCD1234", ua, "1.2.3.4", "https://blog.example", nil)
	if err != nil {
		t.Fatalf("record click: %v", err)
	}
	if entry.DeviceType != "mobile" {
		t.Fatalf("expected mobile, got %q", entry.DeviceType)
	}
	if entry.Browser != "Safari" {
		t.Fatalf("expected Safari, got %q", entry.Browser)
	}
	if entry.Converted() {
		t.Fatal("fresh click must not be converted")
	}
}

func TestRecordClickSnapshotOverridesUserAgent(t *testing.T) {
	db := setupLoyaltyTestDB(t)
	referrals, _, _ := newTestReferral(t, db, DefaultPolicy(), nil)

	snapshot := models.JSONMap{
		"device_type":  "tablet",
		"browser":      "Firefox",
		"geo_data":     map[string]interface{}{"country": "DE"},
		"screen_width": float64(1024),
		"language":     "en-us",
		"collected_at": "2026-03-01T12:00:00Z",
	}
	entry, err := referrals.RecordClick(context.Background(), "ABCD1234", "Mozilla/5.0 (iPhone) Safari", "1.2.3.4", "", snapshot)
	if err != nil {
		t.Fatalf("record click: %v", err)
	}
	if entry.DeviceType != "tablet" || entry.Browser != "Firefox" {
		t.Fatalf("snapshot fields should win, got %q/%q", entry.DeviceType, entry.Browser)
	}
	if entry.GeoData.String("country") != "DE" {
		t.Fatalf("expected geo country DE, got %v", entry.GeoData)
	}
	if _, ok := entry.DeviceData["collected_at"]; ok {
		t.Fatal("collected_at must be dropped from the device payload")
	}
	if got := entry.DeviceData.String("language"); got != "en-US" {
		t.Fatalf("expected canonical locale en-US, got %q", got)
	}
	if _, ok := entry.DeviceData["screen_width"]; !ok {
		t.Fatal("remaining snapshot fields must be kept")
	}
}

func TestRecordClickNeverDeduplicates(t *testing.T) {
	db := setupLoyaltyTestDB(t)
	referrals, _, _ := newTestReferral(t, db, DefaultPolicy(), nil)

	for i := 0; i < 2; i++ {
		if _, err := referrals.RecordClick(context.Background(), "ABCD1234", "ua", "1.2.3.4", "", nil); err != nil {
			t.Fatalf("record click: %v", err)
		}
	}
	if got := countReferralLogs(t, db); got != 2 {
		t.Fatalf("expected 2 logs, got %d", got)
	}
}

func TestAttributeSignupHappyPath(t *testing.T) {
	db := setupLoyaltyTestDB(t)
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	referrals, ledger, directory := newTestReferral(t, db, DefaultPolicy(), func() time.Time { return current })

	referrer := models.OwnerRef{OwnerKind: "User", OwnerID: "referrer-1"}
	profile := registerAccount(t, db, directory, referrer)

	if _, err := referrals.RecordClick(context.Background(), profile.ReferralCode, "ua", "1.2.3.4", "", nil); err != nil {
		t.Fatalf("record click: %v", err)
	}

	current = current.Add(time.Hour)
	referee := models.OwnerRef{OwnerKind: "User", OwnerID: "referee-1"}
	attributed, err := referrals.AttributeSignup(context.Background(), referee, profile.ReferralCode)
	if err != nil {
		t.Fatalf("attribute: %v", err)
	}
	if !attributed {
		t.Fatal("expected attribution")
	}

	var entry models.ReferralLog
	if err := db.First(&entry, "referral_code = ?", profile.ReferralCode).Error; err != nil {
		t.Fatalf("load log: %v", err)
	}
	if !entry.Converted() {
		t.Fatal("expected claimed log")
	}
	if entry.RefereeID == nil || *entry.RefereeID != referee.OwnerID {
		t.Fatalf("expected referee stamped, got %+v", entry)
	}
	if entry.SignedUpAt == nil || !entry.SignedUpAt.Equal(current) {
		t.Fatalf("expected signed_up_at %v, got %v", current, entry.SignedUpAt)
	}

	refereeProfile, err := directory.Find(db, referee)
	if err != nil {
		t.Fatalf("referee profile: %v", err)
	}
	got := refereeProfile.Referrer()
	if got == nil || got.OwnerKind != referrer.OwnerKind || got.OwnerID != referrer.OwnerID {
		t.Fatalf("expected referrer %v, got %v", referrer, got)
	}

	referrerBalance, err := ledger.Balance(context.Background(), referrer)
	if err != nil {
		t.Fatalf("referrer balance: %v", err)
	}
	if referrerBalance != DefaultReferrerRewardPoints {
		t.Fatalf("expected referrer reward %d, got %d", DefaultReferrerRewardPoints, referrerBalance)
	}
	refereeBalance, err := ledger.Balance(context.Background(), referee)
	if err != nil {
		t.Fatalf("referee balance: %v", err)
	}
	if refereeBalance != DefaultRefereeRewardPoints {
		t.Fatalf("expected referee reward %d, got %d", DefaultRefereeRewardPoints, refereeBalance)
	}
}

func TestAttributeSignupIdempotentPerCode(t *testing.T) {
	db := setupLoyaltyTestDB(t)
	referrals, ledger, directory := newTestReferral(t, db, DefaultPolicy(), nil)

	referrer := models.OwnerRef{OwnerKind: "User", OwnerID: "referrer-1"}
	profile := registerAccount(t, db, directory, referrer)
	if _, err := referrals.RecordClick(context.Background(), profile.ReferralCode, "ua", "1.2.3.4", "", nil); err != nil {
		t.Fatalf("record click: %v", err)
	}

	referee := models.OwnerRef{OwnerKind: "User", OwnerID: "referee-1"}
	if ok, err := referrals.AttributeSignup(context.Background(), referee, profile.ReferralCode); err != nil || !ok {
		t.Fatalf("first attribution: ok=%v err=%v", ok, err)
	}

	ok, err := referrals.AttributeSignup(context.Background(), referee, profile.ReferralCode)
	if ok {
		t.Fatal("second attribution must not claim again")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	balance, err := ledger.Balance(context.Background(), referrer)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != DefaultReferrerRewardPoints {
		t.Fatalf("reward must fire once, referrer balance %d", balance)
	}
}

func TestAttributeSignupUnknownCode(t *testing.T) {
	db := setupLoyaltyTestDB(t)
	referrals, _, _ := newTestReferral(t, db, DefaultPolicy(), nil)

	referee := models.OwnerRef{OwnerKind: "User", OwnerID: "referee-1"}
	ok, err := referrals.AttributeSignup(context.Background(), referee, "NOPE0000")
	if ok || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected (false, ErrNotFound), got (%v, %v)", ok, err)
	}
}

func TestAttributeSignupNoUnclaimedClick(t *testing.T) {
	db := setupLoyaltyTestDB(t)
	referrals, _, directory := newTestReferral(t, db, DefaultPolicy(), nil)

	referrer := models.OwnerRef{OwnerKind: "User", OwnerID: "referrer-1"}
	profile := registerAccount(t, db, directory, referrer)

	referee := models.OwnerRef{OwnerKind: "User", OwnerID: "referee-1"}
	ok, err := referrals.AttributeSignup(context.Background(), referee, profile.ReferralCode)
	if ok || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected (false, ErrNotFound), got (%v, %v)", ok, err)
	}
}

func TestAttributeSignupClaimsMostRecentClick(t *testing.T) {
	db := setupLoyaltyTestDB(t)
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	referrals, _, directory := newTestReferral(t, db, DefaultPolicy(), func() time.Time { return current })

	referrer := models.OwnerRef{OwnerKind: "User", OwnerID: "referrer-1"}
	profile := registerAccount(t, db, directory, referrer)

	first, err := referrals.RecordClick(context.Background(), profile.ReferralCode, "ua", "1.2.3.4", "", nil)
	if err != nil {
		t.Fatalf("record click: %v", err)
	}
	current = current.Add(time.Hour)
	second, err := referrals.RecordClick(context.Background(), profile.ReferralCode, "ua", "1.2.3.4", "", nil)
	if err != nil {
		t.Fatalf("record click: %v", err)
	}

	referee := models.OwnerRef{OwnerKind: "User", OwnerID: "referee-1"}
	if ok, err := referrals.AttributeSignup(context.Background(), referee, profile.ReferralCode); err != nil || !ok {
		t.Fatalf("attribute: ok=%v err=%v", ok, err)
	}

	var claimed, untouched models.ReferralLog
	if err := db.First(&claimed, "id = ?", second.ID).Error; err != nil {
		t.Fatalf("load second: %v", err)
	}
	if err := db.First(&untouched, "id = ?", first.ID).Error; err != nil {
		t.Fatalf("load first: %v", err)
	}
	if !claimed.Converted() {
		t.Fatal("most recent click must be claimed")
	}
	if untouched.Converted() {
		t.Fatal("older click must stay unclaimed")
	}
}

func TestAttributeSignupFirstReferrerWins(t *testing.T) {
	db := setupLoyaltyTestDB(t)
	referrals, _, directory := newTestReferral(t, db, DefaultPolicy(), nil)

	referrerA := models.OwnerRef{OwnerKind: "User", OwnerID: "referrer-a"}
	referrerB := models.OwnerRef{OwnerKind: "User", OwnerID: "referrer-b"}
	profileA := registerAccount(t, db, directory, referrerA)
	profileB := registerAccount(t, db, directory, referrerB)

	referee := models.OwnerRef{OwnerKind: "User", OwnerID: "referee-1"}

	if _, err := referrals.RecordClick(context.Background(), profileA.ReferralCode, "ua", "1.2.3.4", "", nil); err != nil {
		t.Fatalf("record click: %v", err)
	}
	if ok, err := referrals.AttributeSignup(context.Background(), referee, profileA.ReferralCode); err != nil || !ok {
		t.Fatalf("attribute A: ok=%v err=%v", ok, err)
	}

	if _, err := referrals.RecordClick(context.Background(), profileB.ReferralCode, "ua", "1.2.3.4", "", nil); err != nil {
		t.Fatalf("record click: %v", err)
	}
	if ok, err := referrals.AttributeSignup(context.Background(), referee, profileB.ReferralCode); err != nil || !ok {
		t.Fatalf("attribute B: ok=%v err=%v", ok, err)
	}

	refereeProfile, err := directory.Find(db, referee)
	if err != nil {
		t.Fatalf("referee profile: %v", err)
	}
	got := refereeProfile.Referrer()
	if got == nil || got.OwnerID != referrerA.OwnerID {
		t.Fatalf("first referrer must stick, got %v", got)
	}
}

func TestAttributeSignupCustomRewardHook(t *testing.T) {
	db := setupLoyaltyTestDB(t)
	policy := DefaultPolicy()
	var calls int
	policy.ReferralReward = func(ledger *LedgerService, referrer, referee models.OwnerRef) error {
		calls++
		_, err := ledger.EarnPoints(context.Background(), referrer, 10, models.JSONMap{"source": "referral"})
		return err
	}
	referrals, ledger, directory := newTestReferral(t, db, policy, nil)

	referrer := models.OwnerRef{OwnerKind: "User", OwnerID: "referrer-1"}
	profile := registerAccount(t, db, directory, referrer)
	if _, err := referrals.RecordClick(context.Background(), profile.ReferralCode, "ua", "1.2.3.4", "", nil); err != nil {
		t.Fatalf("record click: %v", err)
	}

	referee := models.OwnerRef{OwnerKind: "User", OwnerID: "referee-1"}
	if ok, err := referrals.AttributeSignup(context.Background(), referee, profile.ReferralCode); err != nil || !ok {
		t.Fatalf("attribute: ok=%v err=%v", ok, err)
	}
	if calls != 1 {
		t.Fatalf("expected hook called once, got %d", calls)
	}

	balance, err := ledger.Balance(context.Background(), referrer)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10 {
		t.Fatalf("expected hook reward 10, got %d", balance)
	}
}

func TestAttributeSignupRewardFailureKeepsClaim(t *testing.T) {
	db := setupLoyaltyTestDB(t)
	policy := DefaultPolicy()
	policy.ReferralReward = func(ledger *LedgerService, referrer, referee models.OwnerRef) error {
		return fmt.Errorf("notification service down")
	}
	referrals, _, directory := newTestReferral(t, db, policy, nil)

	referrer := models.OwnerRef{OwnerKind: "User", OwnerID: "referrer-1"}
	profile := registerAccount(t, db, directory, referrer)
	if _, err := referrals.RecordClick(context.Background(), profile.ReferralCode, "ua", "1.2.3.4", "", nil); err != nil {
		t.Fatalf("record click: %v", err)
	}

	referee := models.OwnerRef{OwnerKind: "User", OwnerID: "referee-1"}
	ok, err := referrals.AttributeSignup(context.Background(), referee, profile.ReferralCode)
	if err != nil {
		t.Fatalf("attribution must survive a failing reward hook: %v", err)
	}
	if !ok {
		t.Fatal("expected attribution despite reward failure")
	}

	var entry models.ReferralLog
	if err := db.First(&entry, "referral_code = ?", profile.ReferralCode).Error; err != nil {
		t.Fatalf("load log: %v", err)
	}
	if !entry.Converted() {
		t.Fatal("claim must stay committed")
	}
}
