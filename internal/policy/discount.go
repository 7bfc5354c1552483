package policy

import (
	"fmt"

	"lazone/api/internal/apperr"
	"lazone/api/internal/models"
)

// DiscountThresholds are the stay lengths a tier may be configured for.
var DiscountThresholds = []int{3, 5, 7, 14, 30}

// Quote is the priced result of a stay.
type Quote struct {
	Nights         int                  `json:"nights"`
	Currency       string               `json:"currency"`
	NightlyRate    float64              `json:"nightly_rate"`
	EffectivePrice float64              `json:"effective_price"`
	Total          float64              `json:"total"`
	Tier           *models.DiscountTier `json:"tier,omitempty"`
	TierLabel      string               `json:"tier_label,omitempty"`
}

// ApplyDiscount prices a stay of the given length. The tier with the highest
// threshold not exceeding nights applies; with none, the nightly rate is
// unchanged. Prices are rounded half-up to the currency's smallest unit.
//
// Callers must have validated nights against the listing's minimum stay.
func ApplyDiscount(pricePerNight float64, nights int, tiers []models.DiscountTier, currency string) Quote {
	q := Quote{
		Nights:         nights,
		Currency:       currency,
		NightlyRate:    RoundToMinor(pricePerNight, currency),
		EffectivePrice: RoundToMinor(pricePerNight, currency),
	}

	var best *models.DiscountTier
	for i := range tiers {
		t := tiers[i]
		if t.Nights <= 0 || t.Nights > nights || t.Percent <= 0 || t.Percent >= 100 {
			continue
		}
		if best == nil || t.Nights > best.Nights {
			best = &t
		}
	}

	if best != nil {
		q.Tier = best
		q.TierLabel = TierLabel(*best)
		q.EffectivePrice = RoundToMinor(pricePerNight*(1-best.Percent/100), currency)
	}
	q.Total = RoundToMinor(q.EffectivePrice*float64(nights), currency)
	return q
}

// TierLabel renders a tier for display, e.g. "7+ nights -15%".
func TierLabel(t models.DiscountTier) string {
	return fmt.Sprintf("%d+ nights -%g%%", t.Nights, t.Percent)
}

// ValidateTiers checks a listing's discount schedule: thresholds from
// DiscountThresholds, each at most once, percentages strictly between 0 and 100.
func ValidateTiers(tiers []models.DiscountTier) error {
	seen := make(map[int]bool, len(tiers))
	for _, t := range tiers {
		if !isThreshold(t.Nights) {
			return apperr.New(apperr.KindValidation, "", fmt.Sprintf("discount threshold %d is not one of %v", t.Nights, DiscountThresholds))
		}
		if seen[t.Nights] {
			return apperr.New(apperr.KindValidation, "", fmt.Sprintf("discount threshold %d is set more than once", t.Nights))
		}
		seen[t.Nights] = true
		if t.Percent <= 0 || t.Percent >= 100 {
			return apperr.New(apperr.KindValidation, "", fmt.Sprintf("discount for %d nights must be between 0 and 100 percent", t.Nights))
		}
	}
	return nil
}

func isThreshold(n int) bool {
	for _, th := range DiscountThresholds {
		if th == n {
			return true
		}
	}
	return false
}
