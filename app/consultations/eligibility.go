// Package consultations computes the price of a strategy session and whether the discount applies.
package consultations

import (
	"context"
	"fmt"
	"guilded/m/v2/app/db/mongo"
	"guilded/m/v2/app/lib"
	"guilded/m/v2/app/models"
	"sort"
	"time"
)

type Reason string

// Gates are evaluated in this order; only the first failing one is reported.
const (
	ReasonTierNotEligible      Reason = "tier-not-eligible"
	ReasonSubscriptionInactive Reason = "subscription-inactive"
	ReasonBillingImmature      Reason = "billing-immature"
	ReasonWindowCap            Reason = "window-cap"
	ReasonCooldown             Reason = "cooldown"
)

type Eligibility struct {
	Eligible          bool        `json:"eligible"`
	Reason            Reason      `json:"reason,omitempty"`
	Message           string      `json:"message,omitempty"`
	Tier              models.Tier `json:"tier"`
	Price             int64       `json:"price"`
	StandardPrice     int64       `json:"standardPrice"`
	DiscountedPrice   int64       `json:"discountedPrice"`
	SessionsUsed      int         `json:"sessionsUsed"`
	SessionsRemaining int         `json:"sessionsRemaining"`
	NextEligibleAt    *time.Time  `json:"nextEligibleAt,omitempty"`
}

// WindowStart is the inclusive lower bound of the rolling discount window.
func WindowStart(now time.Time) time.Time {
	return now.AddDate(0, 0, -lib.DISCOUNT_WINDOW_DAYS)
}

// windowCapClears is the first instant at which enough purchases have left the window to get
// under the cap and the cooldown after the latest purchase has passed. Purchase times are stored
// with millisecond precision, so the first instant after a purchase leaves the window is +1ms.
func windowCapClears(inWindow []time.Time, latest time.Time) time.Time {
	sort.Slice(inWindow, func(i, j int) bool { return inWindow[i].Before(inWindow[j]) })
	leaving := inWindow[len(inWindow)-lib.DISCOUNT_MAX_SESSIONS_PER_YEAR]
	next := leaving.AddDate(0, 0, lib.DISCOUNT_WINDOW_DAYS).Add(time.Millisecond)
	if cooldownEnd := latest.AddDate(0, 0, lib.DISCOUNT_MIN_DAYS_BETWEEN_SESSIONS); cooldownEnd.After(next) {
		next = cooldownEnd
	}
	return next
}

// Evaluate runs the discount gates over the user's discounted purchase history. It is pure:
// the same inputs always give the same price.
func Evaluate(user models.User, discounted []models.Consultation, now time.Time) Eligibility {
	windowStart := WindowStart(now)
	var inWindow []time.Time
	var latest *time.Time
	for i := range discounted {
		c := discounted[i]
		if !c.Discounted || c.PurchasedAt.Before(windowStart) || c.PurchasedAt.After(now) {
			continue
		}
		inWindow = append(inWindow, c.PurchasedAt)
		if latest == nil || c.PurchasedAt.After(*latest) {
			latest = &discounted[i].PurchasedAt
		}
	}

	result := Eligibility{
		Tier:              user.Tier,
		Price:             lib.STANDARD_CONSULTATION_PRICE,
		StandardPrice:     lib.STANDARD_CONSULTATION_PRICE,
		DiscountedPrice:   lib.Entitlement(user.Tier).DiscountedConsultationPrice,
		SessionsUsed:      len(inWindow),
		SessionsRemaining: max(lib.DISCOUNT_MAX_SESSIONS_PER_YEAR-len(inWindow), 0),
	}

	switch {
	case !lib.IsDiscountTier(user.Tier):
		result.Reason = ReasonTierNotEligible
		result.Message = "Discounted sessions are available on the Master and Hero plans."
	case user.SubscriptionStatus != models.SubscriptionStatusActive:
		result.Reason = ReasonSubscriptionInactive
		result.Message = "Your subscription must be active to use discounted sessions."
	case user.SuccessfulBillingCount < lib.DISCOUNT_MIN_BILLING_CYCLES:
		result.Reason = ReasonBillingImmature
		result.Message = fmt.Sprintf("Discounted sessions unlock after %d successful billing cycles. You have %d.",
			lib.DISCOUNT_MIN_BILLING_CYCLES, user.SuccessfulBillingCount)
	case len(inWindow) >= lib.DISCOUNT_MAX_SESSIONS_PER_YEAR:
		next := windowCapClears(inWindow, *latest)
		result.Reason = ReasonWindowCap
		result.Message = fmt.Sprintf("You have used all %d discounted sessions for the last 12 months.", lib.DISCOUNT_MAX_SESSIONS_PER_YEAR)
		result.NextEligibleAt = &next
	case latest != nil && latest.AddDate(0, 0, lib.DISCOUNT_MIN_DAYS_BETWEEN_SESSIONS).After(now):
		next := latest.AddDate(0, 0, lib.DISCOUNT_MIN_DAYS_BETWEEN_SESSIONS)
		result.Reason = ReasonCooldown
		result.Message = fmt.Sprintf("Discounted sessions must be at least %d days apart. Next available on %s.",
			lib.DISCOUNT_MIN_DAYS_BETWEEN_SESSIONS, next.Format("January 2, 2006"))
		result.NextEligibleAt = &next
	default:
		result.Eligible = true
		result.Price = result.DiscountedPrice
	}
	return result
}

// GetEligibility loads the user's discounted purchases in the window and evaluates them.
func GetEligibility(ctx context.Context, user *models.User, now time.Time) (Eligibility, error) {
	history, err := mongo.MongoDBClient.GetDiscountedConsultationsSince(ctx, user.ID, WindowStart(now))
	if err != nil {
		return Eligibility{}, fmt.Errorf("GetEligibility: %w", err)
	}
	return Evaluate(*user, history, now), nil
}
