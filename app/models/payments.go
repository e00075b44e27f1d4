package models

import "time"

// SubscriptionUpdate is the state a subscription created/updated event writes onto a user.
type SubscriptionUpdate struct {
	Tier             Tier
	Status           SubscriptionStatus
	SubscriptionId   string
	CustomerId       string
	CurrentPeriodEnd time.Time
	StartDate        time.Time
}

type UsageThresholds struct {
	Thresholds []UsageThreshold
}

type UsageThreshold struct {
	Percentage float64
	Message    string
}
