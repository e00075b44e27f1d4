package lib

import "guilded/m/v2/app/models"

// Entitlements are the static per-tier limits. Prices are in cents.
type Entitlements struct {
	Order                       int
	Label                       string
	ListPrice                   int64
	AIMessageCap                int
	AITokenCap                  int
	DiscountedConsultationPrice int64
}

const (
	STANDARD_CONSULTATION_PRICE int64 = 20000

	DISCOUNT_MIN_BILLING_CYCLES        = 2
	DISCOUNT_MAX_SESSIONS_PER_YEAR     = 4
	DISCOUNT_MIN_DAYS_BETWEEN_SESSIONS = 60
	DISCOUNT_WINDOW_DAYS               = 365
)

var tiers = map[models.Tier]Entitlements{
	models.TierApprentice: {
		Order:                       0,
		Label:                       "Apprentice",
		ListPrice:                   0,
		AIMessageCap:                0,
		AITokenCap:                  0,
		DiscountedConsultationPrice: STANDARD_CONSULTATION_PRICE,
	},
	models.TierJourneyman: {
		Order:                       1,
		Label:                       "Journeyman",
		ListPrice:                   900,
		AIMessageCap:                15,
		AITokenCap:                  500,
		DiscountedConsultationPrice: STANDARD_CONSULTATION_PRICE,
	},
	models.TierMaster: {
		Order:                       2,
		Label:                       "Master",
		ListPrice:                   3900,
		AIMessageCap:                100,
		AITokenCap:                  2000,
		DiscountedConsultationPrice: 15000,
	},
	models.TierHero: {
		Order:                       3,
		Label:                       "Hero",
		ListPrice:                   7900,
		AIMessageCap:                300,
		AITokenCap:                  8000,
		DiscountedConsultationPrice: 10000,
	},
}

// Tiers lists all tiers from lowest to highest.
var Tiers = []models.Tier{models.TierApprentice, models.TierJourneyman, models.TierMaster, models.TierHero}

// LowestTier is assigned at registration and on cancellation.
const LowestTier = models.TierApprentice

// Entitlement returns the limits of a tier. Unknown tiers get the lowest tier's limits.
func Entitlement(tier models.Tier) Entitlements {
	e, ok := tiers[tier]
	if !ok {
		return tiers[LowestTier]
	}
	return e
}

// LowestTierWith returns the lowest tier whose entitlements satisfy ok, or the highest tier when none does.
func LowestTierWith(ok func(Entitlements) bool) models.Tier {
	for _, tier := range Tiers {
		if ok(Entitlement(tier)) {
			return tier
		}
	}
	return Tiers[len(Tiers)-1]
}

// AIAssistantTier is the lowest tier with a monthly AI message allowance.
var AIAssistantTier = LowestTierWith(func(e Entitlements) bool { return e.AIMessageCap > 0 })

func TierOrder(tier models.Tier) int {
	return Entitlement(tier).Order
}

func AccessAllowed(userTier, requiredTier models.Tier) bool {
	return TierOrder(userTier) >= TierOrder(requiredTier)
}

// IsDiscountTier reports whether the tier is one of the top two tiers.
func IsDiscountTier(tier models.Tier) bool {
	return TierOrder(tier) >= len(Tiers)-2
}
