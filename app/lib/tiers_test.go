package lib

import (
	"testing"

	"guilded/m/v2/app/models"

	"github.com/stretchr/testify/assert"
)

func TestAccessAllowedIsReflexive(t *testing.T) {
	for _, tier := range Tiers {
		assert.True(t, AccessAllowed(tier, tier), "tier %s should access its own resources", tier)
	}
}

func TestAccessAllowedIsMonotonic(t *testing.T) {
	for i, higher := range Tiers {
		for j, lower := range Tiers {
			assert.Equal(t, i >= j, AccessAllowed(higher, lower), "AccessAllowed(%s, %s)", higher, lower)
		}
	}
}

func TestTierOrderIsStrict(t *testing.T) {
	for i := 1; i < len(Tiers); i++ {
		assert.Less(t, TierOrder(Tiers[i-1]), TierOrder(Tiers[i]))
	}
}

func TestEntitlementLimits(t *testing.T) {
	assert.Equal(t, 0, Entitlement(models.TierApprentice).AIMessageCap)
	assert.Equal(t, 15, Entitlement(models.TierJourneyman).AIMessageCap)
	assert.Equal(t, 100, Entitlement(models.TierMaster).AIMessageCap)
	assert.Equal(t, 300, Entitlement(models.TierHero).AIMessageCap)
	assert.Equal(t, int64(15000), Entitlement(models.TierMaster).DiscountedConsultationPrice)
	assert.Equal(t, int64(10000), Entitlement(models.TierHero).DiscountedConsultationPrice)
}

func TestIsDiscountTier(t *testing.T) {
	assert.False(t, IsDiscountTier(models.TierApprentice))
	assert.False(t, IsDiscountTier(models.TierJourneyman))
	assert.True(t, IsDiscountTier(models.TierMaster))
	assert.True(t, IsDiscountTier(models.TierHero))
}

func TestParseTier(t *testing.T) {
	tier, err := models.ParseTier("master")
	assert.NoError(t, err)
	assert.Equal(t, models.TierMaster, tier)

	_, err = models.ParseTier("PLATINUM")
	assert.ErrorIs(t, err, models.ErrUnknownTier)

	var parsed models.Tier
	assert.Error(t, parsed.UnmarshalText([]byte("")))
}

func TestLowestTierWith(t *testing.T) {
	assert.Equal(t, models.TierJourneyman, AIAssistantTier)
	assert.Equal(t, models.TierMaster, LowestTierWith(func(e Entitlements) bool { return e.DiscountedConsultationPrice < STANDARD_CONSULTATION_PRICE }))
	assert.Equal(t, models.TierApprentice, LowestTierWith(func(e Entitlements) bool { return true }))
	assert.Equal(t, models.TierHero, LowestTierWith(func(e Entitlements) bool { return false }))
}
