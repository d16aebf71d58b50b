package services

import (
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"loyalty-engine/models"

	"github.com/gosimple/slug"
)

// Default reward pair granted when no ReferralReward hook is configured.
const (
	DefaultReferrerRewardPoints int64 = 100
	DefaultRefereeRewardPoints  int64 = 50
)

// Policy bundles the strategy functions the embedding application supplies.
// It is constructed once and passed by reference into the services; there is
// no process-wide mutable configuration. All hooks are optional — nil means
// the documented default. Every hook except OnTierChanged must be pure.
type Policy struct {
	// EarningRule derives a base point amount from an opaque event.
	// Default: 1 point per event.
	EarningRule func(acct *models.AccountProfile, event models.JSONMap) int64

	// RedeemRule computes the cost debited for a redemption.
	// Default: the requested point count.
	RedeemRule func(acct *models.AccountProfile, offer models.JSONMap) int64

	// RewardModifier scales earned points, e.g. per tier. Default: 1.0.
	RewardModifier func(acct *models.AccountProfile) float64

	// ReferralReward grants the one-time reward pair after a successful
	// attribution. Default: 100 points to the referrer, 50 to the referee.
	ReferralReward func(ledger *LedgerService, referrer, referee models.OwnerRef) error

	// OnTierChanged fires exactly once per tier transition. It may have side
	// effects (notifications) but must not touch ledger state.
	OnTierChanged func(acct *models.AccountProfile, oldTier, newTier string)

	// TierThresholds maps tier name to the minimum active points required.
	TierThresholds map[string]int64

	// PointsExpiryDays is the earn-transaction expiry window; 0 disables expiry.
	PointsExpiryDays int

	// ReferralCodeLength is the generated code length (default 8).
	ReferralCodeLength int
}

// DefaultPolicy mirrors the stock configuration: Silver/Gold/Platinum tiers,
// 90-day expiry, 8-character referral codes.
func DefaultPolicy() *Policy {
	return &Policy{
		TierThresholds: map[string]int64{
			"Silver":   500,
			"Gold":     1000,
			"Platinum": 2500,
		},
		PointsExpiryDays:   90,
		ReferralCodeLength: 8,
	}
}

// PolicyFromEnv builds a policy from environment variables, falling back to
// the defaults. TIER_THRESHOLDS is a comma-separated "Name:points" list.
func PolicyFromEnv() *Policy {
	p := DefaultPolicy()

	if raw := os.Getenv("TIER_THRESHOLDS"); raw != "" {
		thresholds := map[string]int64{}
		for _, pair := range strings.Split(raw, ",") {
			parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
			if len(parts) != 2 {
				log.Printf("⚠️  TIER_THRESHOLDS: skipping malformed entry %q", pair)
				continue
			}
			points, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
			if err != nil {
				log.Printf("⚠️  TIER_THRESHOLDS: skipping entry %q: %v", pair, err)
				continue
			}
			thresholds[strings.TrimSpace(parts[0])] = points
		}
		if len(thresholds) > 0 {
			p.TierThresholds = thresholds
		}
	}

	if raw := os.Getenv("POINTS_EXPIRY_DAYS"); raw != "" {
		if days, err := strconv.Atoi(raw); err == nil && days >= 0 {
			p.PointsExpiryDays = days
		}
	}

	if raw := os.Getenv("REFERRAL_CODE_LENGTH"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			p.ReferralCodeLength = n
		}
	}

	p.OnTierChanged = func(acct *models.AccountProfile, oldTier, newTier string) {
		log.Printf("🏅 Tier change: %s/%s %s → %s", acct.OwnerKind, acct.OwnerID,
			TierSlug(oldTier), TierSlug(newTier))
	}

	return p
}

// TierSlug returns the URL/payload-safe form of a tier name ("no-tier" when
// the account has none).
func TierSlug(tier string) string {
	if tier == "" {
		return "no-tier"
	}
	return slug.Make(tier)
}

// tierThreshold is one sorted ladder rung.
type tierThreshold struct {
	Name   string
	Points int64
}

// sortedThresholds returns the ladder descending by required points. Equal
// requirements tie-break on name so the derived tier is deterministic.
func (p *Policy) sortedThresholds() []tierThreshold {
	out := make([]tierThreshold, 0, len(p.TierThresholds))
	for name, points := range p.TierThresholds {
		out = append(out, tierThreshold{Name: name, Points: points})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return out[i].Name < out[j].Name
	})
	return out
}
