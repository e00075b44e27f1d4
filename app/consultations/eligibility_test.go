package consultations

import (
	"context"
	"guilded/m/v2/app/db/mongo"
	"guilded/m/v2/app/lib"
	"guilded/m/v2/app/models"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var day0 = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return day0.AddDate(0, 0, n)
}

func matureUser(tier models.Tier) models.User {
	return models.User{
		ID:                     "1",
		Tier:                   tier,
		SubscriptionStatus:     models.SubscriptionStatusActive,
		SuccessfulBillingCount: 3,
	}
}

func purchases(days ...int) []models.Consultation {
	result := []models.Consultation{}
	for i, d := range days {
		result = append(result, models.Consultation{
			ID:              strconv.Itoa(i),
			UserID:          "1",
			Discounted:      true,
			PurchasedAt:     day(d),
			StripeSessionId: "cs_" + strconv.Itoa(i),
		})
	}
	return result
}

func TestEvaluateMasterEligible(t *testing.T) {
	result := Evaluate(matureUser(models.TierMaster), nil, day(0))
	assert.True(t, result.Eligible)
	assert.Empty(t, result.Reason)
	assert.Equal(t, int64(15000), result.Price)
	assert.Equal(t, lib.DISCOUNT_MAX_SESSIONS_PER_YEAR, result.SessionsRemaining)
	assert.Nil(t, result.NextEligibleAt)
}

func TestEvaluateHeroPastDue(t *testing.T) {
	user := matureUser(models.TierHero)
	user.SubscriptionStatus = models.SubscriptionStatusPastDue
	user.SuccessfulBillingCount = 5

	result := Evaluate(user, nil, day(0))
	assert.False(t, result.Eligible)
	assert.Equal(t, ReasonSubscriptionInactive, result.Reason)
	assert.Equal(t, int64(20000), result.Price)
}

func TestEvaluateFirstFailingGateWins(t *testing.T) {
	// journeyman, canceled and immature: only the tier gate is reported
	user := models.User{ID: "1", Tier: models.TierJourneyman, SubscriptionStatus: models.SubscriptionStatusCanceled}
	result := Evaluate(user, purchases(0, 1, 2, 3), day(10))
	assert.Equal(t, ReasonTierNotEligible, result.Reason)
	assert.Equal(t, lib.STANDARD_CONSULTATION_PRICE, result.Price)

	for _, status := range []models.SubscriptionStatus{
		models.SubscriptionStatusNone,
		models.SubscriptionStatusTrialing,
		models.SubscriptionStatusCanceled,
		models.SubscriptionStatusIncomplete,
	} {
		user := matureUser(models.TierHero)
		user.SubscriptionStatus = status
		assert.Equal(t, ReasonSubscriptionInactive, Evaluate(user, nil, day(0)).Reason, status)
	}
}

func TestEvaluateBillingMaturity(t *testing.T) {
	user := matureUser(models.TierHero)
	user.SuccessfulBillingCount = 1
	assert.Equal(t, ReasonBillingImmature, Evaluate(user, nil, day(0)).Reason)

	user.SuccessfulBillingCount = 2
	assert.True(t, Evaluate(user, nil, day(0)).Eligible)
}

func TestEvaluateRollingWindow(t *testing.T) {
	user := matureUser(models.TierMaster)

	result := Evaluate(user, purchases(0, 200), day(400))
	assert.Equal(t, 1, result.SessionsUsed)
	assert.True(t, result.Eligible)

	result = Evaluate(user, purchases(0), day(370))
	assert.Equal(t, 0, result.SessionsUsed)
	assert.True(t, result.Eligible)

	// exactly 365 days ago is still inside the window
	result = Evaluate(user, purchases(0), day(0).AddDate(0, 0, 365))
	assert.Equal(t, 1, result.SessionsUsed)
}

func TestEvaluateCooldown(t *testing.T) {
	user := matureUser(models.TierMaster)

	result := Evaluate(user, purchases(0), day(59))
	assert.False(t, result.Eligible)
	assert.Equal(t, ReasonCooldown, result.Reason)
	assert.Equal(t, int64(20000), result.Price)
	if assert.NotNil(t, result.NextEligibleAt) {
		assert.Equal(t, day(60), *result.NextEligibleAt)
	}

	result = Evaluate(user, purchases(0), day(60))
	assert.True(t, result.Eligible)
	assert.Equal(t, int64(15000), result.Price)
}

func TestEvaluateWindowCap(t *testing.T) {
	user := matureUser(models.TierHero)

	// four purchases, well spaced, the latest long enough ago to clear the cooldown
	result := Evaluate(user, purchases(0, 70, 140, 210), day(300))
	assert.False(t, result.Eligible)
	assert.Equal(t, ReasonWindowCap, result.Reason)
	assert.Equal(t, 0, result.SessionsRemaining)
	if assert.NotNil(t, result.NextEligibleAt) {
		assert.Equal(t, day(365).Add(time.Millisecond), *result.NextEligibleAt)
		// at exactly 365 days the oldest purchase still counts
		assert.Equal(t, ReasonWindowCap, Evaluate(user, purchases(0, 70, 140, 210), day(365)).Reason)
		assert.True(t, Evaluate(user, purchases(0, 70, 140, 210), *result.NextEligibleAt).Eligible)
	}

	// the cap wins over the cooldown when both fail
	result = Evaluate(user, purchases(0, 1, 2, 3), day(10))
	assert.Equal(t, ReasonWindowCap, result.Reason)
}

func TestEvaluateWindowCapWaitsForCooldown(t *testing.T) {
	user := matureUser(models.TierHero)
	history := purchases(0, 70, 140, 350)

	result := Evaluate(user, history, day(360))
	assert.Equal(t, ReasonWindowCap, result.Reason)
	if assert.NotNil(t, result.NextEligibleAt) {
		assert.Equal(t, day(410), *result.NextEligibleAt)

		// the cap is gone after day 365 but the cooldown still holds
		assert.Equal(t, ReasonCooldown, Evaluate(user, history, day(400)).Reason)

		next := Evaluate(user, history, *result.NextEligibleAt)
		assert.True(t, next.Eligible)
		assert.Equal(t, 3, next.SessionsUsed)
	}
}

func TestEvaluateWindowCapNextEligibleAtIsReachable(t *testing.T) {
	user := matureUser(models.TierMaster)
	for _, history := range [][]int{
		{0, 70, 140, 210},
		{0, 60, 120, 180},
		{5, 90, 200, 300},
		{0, 0, 100, 200},
	} {
		result := Evaluate(user, purchases(history...), day(history[3]+1))
		if !assert.NotNil(t, result.NextEligibleAt, "history %v", history) {
			continue
		}
		at := *result.NextEligibleAt
		assert.True(t, Evaluate(user, purchases(history...), at).Eligible, "history %v at %s", history, at)
		assert.False(t, Evaluate(user, purchases(history...), at.Add(-time.Millisecond)).Eligible, "history %v just before %s", history, at)
	}
}

func TestEvaluateIgnoresUndiscountedPurchases(t *testing.T) {
	history := purchases(0, 10, 20, 30)
	for i := range history {
		history[i].Discounted = false
	}
	result := Evaluate(matureUser(models.TierHero), history, day(31))
	assert.True(t, result.Eligible)
	assert.Equal(t, int64(10000), result.Price)
}

func TestPastPurchaseUnchangedByLaterEvaluation(t *testing.T) {
	user := matureUser(models.TierMaster)
	eligibility := Evaluate(user, nil, day(0))
	consultation, err := FromCheckoutMetadata(CheckoutMetadata(user.ID, eligibility), "cs_1", "pi_1", 0, day(0))
	assert.NoError(t, err)

	user.SuccessfulBillingCount = 0
	later := Evaluate(user, []models.Consultation{consultation}, day(1))
	assert.False(t, later.Eligible)

	assert.True(t, consultation.Discounted)
	assert.Equal(t, int64(15000), consultation.Price)
	assert.Equal(t, models.TierMaster, consultation.TierAtPurchase)
}

func TestFromCheckoutMetadata(t *testing.T) {
	metadata := map[string]string{
		MetadataType:           MetadataTypeValue,
		MetadataUserID:         "1",
		MetadataTierAtPurchase: "HERO",
		MetadataDiscounted:     "true",
	}
	consultation, err := FromCheckoutMetadata(metadata, "cs_1", "pi_1", 10000, day(0))
	assert.NoError(t, err)
	assert.Equal(t, int64(10000), consultation.Price)
	assert.NotEmpty(t, consultation.ID)

	metadata[MetadataTierAtPurchase] = "PLATINUM"
	_, err = FromCheckoutMetadata(metadata, "cs_1", "pi_1", 10000, day(0))
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	_, err = FromCheckoutMetadata(map[string]string{}, "cs_1", "pi_1", 10000, day(0))
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestGetEligibilityUsesStore(t *testing.T) {
	client := mongo.NewMockMongoDBClient()
	client.Consultations = purchases(0, 30)
	mongo.MongoDBClient = client

	user := matureUser(models.TierMaster)
	result, err := GetEligibility(context.Background(), &user, day(45))
	assert.NoError(t, err)
	assert.Equal(t, ReasonCooldown, result.Reason)
	assert.Equal(t, 2, result.SessionsUsed)
}
