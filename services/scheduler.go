// services/scheduler.go
package services

import (
	"errors"
	"log"
	"time"

	"loyalty-engine/models"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// StartTierSweep schedules the expiry sweep. Earned points lapse silently;
// without the sweep an account whose balance decayed below a threshold keeps
// its cached tier until its next ledger write. The sweep re-derives tiers for
// accounts whose earn transactions expired since the previous run.
func (s *LedgerService) StartTierSweep(interval time.Duration) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	lastRun := s.now()
	_, _ = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			now := s.now()
			if err := s.SweepExpiredTiers(lastRun, now); err != nil {
				log.Printf("[TierSweep] %v", err)
				return
			}
			lastRun = now
		}),
	)
}

// SweepExpiredTiers re-derives the tier of every account owning an earn
// transaction that expired in (since, now].
func (s *LedgerService) SweepExpiredTiers(since, now time.Time) error {
	var owners []models.OwnerRef
	err := s.DB.Model(&models.Transaction{}).
		Select("DISTINCT owner_kind, owner_id").
		Where("expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?", since, now).
		Scan(&owners).Error
	if err != nil {
		return err
	}

	for _, ref := range owners {
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			profile, err := s.Directory.Lock(tx, ref)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil // account never registered a profile
				}
				return err
			}
			balance, err := s.activeBalance(tx, ref, now)
			if err != nil {
				return err
			}
			return s.Tiers.UpdateTier(tx, profile, balance)
		})
		if err != nil {
			log.Printf("[TierSweep] Failed to re-derive tier for %s/%s: %v", ref.OwnerKind, ref.OwnerID, err)
		}
	}
	return nil
}
