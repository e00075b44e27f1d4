// Package usage meters AI messages against the monthly cap of the user's tier.
package usage

import (
	"context"
	"errors"
	"fmt"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/db/mongo"
	"guilded/m/v2/app/db/redis"
	"guilded/m/v2/app/lib"
	"guilded/m/v2/app/models"
	"time"

	log "github.com/sirupsen/logrus"
)

var ErrQuotaExhausted = errors.New("monthly AI message quota exhausted")

type Reason string

const (
	ReasonEntitlementDenied Reason = "entitlement-denied"
	ReasonQuotaExhausted    Reason = "quota-exhausted"
)

// Status is a usage snapshot. Denials are reported through Allowed and Reason, not as errors.
type Status struct {
	Allowed     bool        `json:"allowed"`
	Reason      Reason      `json:"reason,omitempty"`
	Tier        models.Tier `json:"tier"`
	Used        int         `json:"used"`
	Cap         int         `json:"cap"`
	Remaining   int         `json:"remaining"`
	NextResetAt time.Time   `json:"nextResetAt"`
}

// At 50%, 80% and 100% of the monthly cap the send response carries a notice.
var UsageThresholds = models.UsageThresholds{
	Thresholds: []models.UsageThreshold{
		{
			Percentage: 0.5,
			Message:    "You are halfway through your monthly AI messages.",
		},
		{
			Percentage: 0.8,
			Message:    "You are 80% through your monthly AI messages. Consider upgrading your plan.",
		},
		{
			Percentage: 1.0,
			Message:    "You have used all of your monthly AI messages. Upgrade your plan or wait for the monthly reset.",
		},
	},
}

// NextResetDate is the start of the calendar month following now, in UTC.
func NextResetDate(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// TokenBudget is the max output tokens per message for the tier.
func TokenBudget(tier models.Tier) int {
	return lib.Entitlement(tier).AITokenCap
}

func newStatus(tier models.Tier, used int, resetAt time.Time) Status {
	limit := lib.Entitlement(tier).AIMessageCap
	status := Status{
		Tier:        tier,
		Used:        used,
		Cap:         limit,
		Remaining:   max(limit-used, 0),
		NextResetAt: resetAt,
	}
	switch {
	case limit == 0:
		status.Reason = ReasonEntitlementDenied
	case used >= limit:
		status.Reason = ReasonQuotaExhausted
	default:
		status.Allowed = true
	}
	return status
}

// CheckUsage reports whether the user may send one more message. A passed reset date is rolled
// over first; the conditional reset in the store makes concurrent callers reset only once.
// The user is updated in place with the post-reset counters.
func CheckUsage(ctx context.Context, user *models.User, now time.Time) (Status, error) {
	if lib.Entitlement(user.Tier).AIMessageCap == 0 {
		return newStatus(user.Tier, user.AIUsageCount, user.AIUsageResetDate), nil
	}

	if now.Before(user.AIUsageResetDate) {
		return newStatus(user.Tier, user.AIUsageCount, user.AIUsageResetDate), nil
	}

	next := NextResetDate(now)
	reset, err := mongo.MongoDBClient.ResetUserAIUsage(ctx, user.ID, user.AIUsageResetDate, next)
	if err != nil {
		return Status{}, fmt.Errorf("CheckUsage: reset: %w", err)
	}
	if reset {
		log.Infof("reset AI usage for user %s, next reset at %s", user.ID, next.Format(time.RFC3339))
		config.CONFIG.DataDogClient.Incr("ai_usage.reset", []string{"tier:" + string(user.Tier)}, 1)
		user.AIUsageCount = 0
		user.AIUsageResetDate = next
	} else {
		// a concurrent request rolled the month over already
		fresh, err := mongo.MongoDBClient.GetUser(ctx, user.ID)
		if err != nil {
			return Status{}, fmt.Errorf("CheckUsage: reload: %w", err)
		}
		user.AIUsageCount = fresh.AIUsageCount
		user.AIUsageResetDate = fresh.AIUsageResetDate
	}
	return newStatus(user.Tier, user.AIUsageCount, user.AIUsageResetDate), nil
}

// RecordUsage consumes one message slot after a successful completion. The increment is conditional
// on the counter being below the cap, so of two concurrent sends for the last slot only one succeeds;
// the other gets ErrQuotaExhausted.
func RecordUsage(ctx context.Context, user *models.User, tokens int) (Status, error) {
	limit := lib.Entitlement(user.Tier).AIMessageCap
	updated, err := mongo.MongoDBClient.IncrementUserAIUsage(ctx, user.ID, limit)
	if errors.Is(err, mongo.ErrUsageCapReached) {
		config.CONFIG.DataDogClient.Incr("ai_usage.lost_race", []string{"tier:" + string(user.Tier)}, 1)
		return newStatus(user.Tier, limit, user.AIUsageResetDate), ErrQuotaExhausted
	}
	if err != nil {
		return Status{}, fmt.Errorf("RecordUsage: %w", err)
	}

	user.AIUsageCount = updated.AIUsageCount
	config.CONFIG.DataDogClient.Incr("ai_usage.recorded", []string{"tier:" + string(user.Tier)}, 1)
	redis.AddAIUsage(ctx, user.ID, tokens)
	return newStatus(user.Tier, updated.AIUsageCount, updated.AIUsageResetDate), nil
}

// Notice returns the message of the highest threshold crossed by the last recorded message, if any.
func Notice(status Status) string {
	if status.Cap == 0 || status.Used == 0 {
		return ""
	}
	notice := ""
	previous := float64(status.Used-1) / float64(status.Cap)
	current := float64(status.Used) / float64(status.Cap)
	for _, threshold := range UsageThresholds.Thresholds {
		if previous < threshold.Percentage && current >= threshold.Percentage {
			notice = threshold.Message
		}
	}
	return notice
}
