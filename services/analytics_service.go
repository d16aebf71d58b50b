package services

import (
	"context"
	"math"
	"time"

	"loyalty-engine/models"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// AnalyticsService powers the admin dashboard endpoints. All reads, no writes.
type AnalyticsService struct {
	DB *gorm.DB

	now func() time.Time
}

func NewAnalyticsService(db *gorm.DB, now func() time.Time) *AnalyticsService {
	if now == nil {
		now = time.Now
	}
	return &AnalyticsService{DB: db, now: now}
}

// Overview aggregates the dashboard landing numbers.
type Overview struct {
	TotalAccounts      int64                `json:"total_accounts"`
	TotalTransactions  int64                `json:"total_transactions"`
	TotalReferrals     int64                `json:"total_referrals"`
	ConversionRate     float64              `json:"conversion_rate"`
	RecentTransactions []models.Transaction `json:"recent_transactions"`
	TopAccounts        []AccountPoints      `json:"top_accounts"`
}

// AccountPoints is one leaderboard row of active points per account.
type AccountPoints struct {
	OwnerKind string `json:"owner_kind"`
	OwnerID   string `json:"owner_id"`
	Points    int64  `json:"points"`
}

// Analytics breaks referral traffic down for the analytics page.
type Analytics struct {
	TotalClicks      int64            `json:"total_clicks"`
	TotalConversions int64            `json:"total_conversions"`
	ConversionRate   float64          `json:"conversion_rate"`
	ByDevice         map[string]int64 `json:"referrals_by_device"`
	ByBrowser        map[string]int64 `json:"referrals_by_browser"`
	DailyClicks      []DailyCount     `json:"daily_clicks"`
}

// DailyCount is one day of click volume.
type DailyCount struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

func (s *AnalyticsService) Overview(ctx context.Context) (*Overview, error) {
	db := s.DB.WithContext(ctx)
	out := &Overview{}

	if err := db.Model(&models.AccountProfile{}).Count(&out.TotalAccounts).Error; err != nil {
		return nil, persistence(err)
	}
	if err := db.Model(&models.Transaction{}).Count(&out.TotalTransactions).Error; err != nil {
		return nil, persistence(err)
	}
	if err := db.Model(&models.ReferralLog{}).Count(&out.TotalReferrals).Error; err != nil {
		return nil, persistence(err)
	}

	rate, err := s.conversionRate(db)
	if err != nil {
		return nil, err
	}
	out.ConversionRate = rate

	if err := db.Model(&models.Transaction{}).
		Order("created_at DESC").
		Limit(10).
		Find(&out.RecentTransactions).Error; err != nil {
		return nil, persistence(err)
	}

	if err := models.ActiveTransactions(db, s.now()).
		Select("owner_kind, owner_id, SUM(points) AS points").
		Group("owner_kind, owner_id").
		Order("points DESC").
		Limit(10).
		Scan(&out.TopAccounts).Error; err != nil {
		return nil, persistence(err)
	}

	return out, nil
}

func (s *AnalyticsService) Analytics(ctx context.Context) (*Analytics, error) {
	db := s.DB.WithContext(ctx)
	out := &Analytics{}

	if err := db.Model(&models.ReferralLog{}).Count(&out.TotalClicks).Error; err != nil {
		return nil, persistence(err)
	}
	if err := db.Model(&models.ReferralLog{}).
		Where("signed_up_at IS NOT NULL AND referee_id IS NOT NULL").
		Count(&out.TotalConversions).Error; err != nil {
		return nil, persistence(err)
	}
	if out.TotalClicks > 0 {
		out.ConversionRate = roundRate(float64(out.TotalConversions) / float64(out.TotalClicks) * 100)
	}

	var err error
	if out.ByDevice, err = s.groupCount(db, "device_type"); err != nil {
		return nil, err
	}
	if out.ByBrowser, err = s.groupCount(db, "browser"); err != nil {
		return nil, err
	}

	since := s.now().AddDate(0, 0, -30)
	if err := db.Model(&models.ReferralLog{}).
		Select("DATE(clicked_at) AS day, COUNT(*) AS count").
		Where("clicked_at >= ?", since).
		Group("DATE(clicked_at)").
		Order("day ASC").
		Scan(&out.DailyClicks).Error; err != nil {
		return nil, persistence(err)
	}

	return out, nil
}

// Referrals pages through the referral log, newest clicks first.
func (s *AnalyticsService) Referrals(ctx context.Context, page, size int) ([]models.ReferralLog, error) {
	page, size = clampPage(page, size)
	var logs []models.ReferralLog
	err := s.DB.WithContext(ctx).
		Order("clicked_at DESC").
		Limit(size).Offset((page - 1) * size).
		Find(&logs).Error
	if err != nil {
		return nil, persistence(err)
	}
	return logs, nil
}

// Transactions pages through the full ledger, newest first.
func (s *AnalyticsService) Transactions(ctx context.Context, page, size int) ([]models.Transaction, error) {
	page, size = clampPage(page, size)
	var txns []models.Transaction
	err := s.DB.WithContext(ctx).
		Order("created_at DESC").
		Limit(size).Offset((page - 1) * size).
		Find(&txns).Error
	if err != nil {
		return nil, persistence(err)
	}
	return txns, nil
}

func (s *AnalyticsService) conversionRate(db *gorm.DB) (float64, error) {
	var clicks, conversions int64
	if err := db.Model(&models.ReferralLog{}).Count(&clicks).Error; err != nil {
		return 0, persistence(err)
	}
	if clicks == 0 {
		return 0, nil
	}
	if err := db.Model(&models.ReferralLog{}).
		Where("signed_up_at IS NOT NULL AND referee_id IS NOT NULL").
		Count(&conversions).Error; err != nil {
		return 0, persistence(err)
	}
	return roundRate(float64(conversions) / float64(clicks) * 100), nil
}

// groupCount buckets referral logs by a column, slugifying keys for stable
// payload shapes ("Chrome" → "chrome", "" → "unknown").
func (s *AnalyticsService) groupCount(db *gorm.DB, column string) (map[string]int64, error) {
	var rows []struct {
		Key   string
		Count int64
	}
	err := db.Model(&models.ReferralLog{}).
		Select(column + " AS key, COUNT(*) AS count").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, persistence(err)
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		key := "unknown"
		if row.Key != "" {
			key = slug.Make(row.Key)
		}
		out[key] += row.Count
	}
	return out, nil
}

func clampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 50
	}
	return page, size
}

func roundRate(rate float64) float64 {
	return math.Round(rate*100) / 100
}
