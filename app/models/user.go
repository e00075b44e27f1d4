package models

import "time"

type User struct {
	ID                     string             `bson:"_id" json:"id"`
	Email                  string             `bson:"email" json:"email"`
	Name                   string             `bson:"name" json:"name"`
	Tier                   Tier               `bson:"tier" json:"tier"`
	SubscriptionStatus     SubscriptionStatus `bson:"subscription_status" json:"subscriptionStatus"`
	SubscriptionStartDate  *time.Time         `bson:"subscription_start_date,omitempty" json:"subscriptionStartDate,omitempty"`
	CurrentPeriodEnd       *time.Time         `bson:"current_period_end,omitempty" json:"currentPeriodEnd,omitempty"`
	SuccessfulBillingCount int                `bson:"successful_billing_count" json:"successfulBillingCount"`
	AIUsageCount           int                `bson:"ai_usage_count" json:"aiUsageCount"`
	AIUsageResetDate       time.Time          `bson:"ai_usage_reset_date" json:"aiUsageResetDate"`
	StripeCustomerId       string             `bson:"stripe_customer_id,omitempty" json:"-"`
	StripeSubscriptionId   string             `bson:"stripe_subscription_id,omitempty" json:"-"`
	CreatedAt              time.Time          `bson:"created_at" json:"createdAt"`
}

// Consultation is a paid strategy session. Price and Discounted are frozen at checkout.
type Consultation struct {
	ID              string    `bson:"_id" json:"id"`
	UserID          string    `bson:"user_id" json:"userId"`
	TierAtPurchase  Tier      `bson:"tier_at_purchase" json:"tierAtPurchase"`
	Price           int64     `bson:"price" json:"price"`
	Discounted      bool      `bson:"discounted" json:"discounted"`
	PurchasedAt     time.Time `bson:"purchased_at" json:"purchasedAt"`
	Completed       bool      `bson:"completed" json:"completed"`
	StripeSessionId string    `bson:"stripe_session_id" json:"-"`
	StripePaymentId string    `bson:"stripe_payment_id,omitempty" json:"-"`
}

// PaymentEvent is the dedup ledger entry for a processed provider event.
type PaymentEvent struct {
	ID          string    `bson:"_id"`
	Type        string    `bson:"type"`
	ProcessedAt time.Time `bson:"processed_at"`
}

type AiMessage struct {
	ID        string    `bson:"_id" json:"id"`
	UserID    string    `bson:"user_id" json:"-"`
	Role      string    `bson:"role" json:"role"`
	Content   string    `bson:"content" json:"content"`
	Tokens    int       `bson:"tokens" json:"tokens"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

type Lesson struct {
	ID           string `bson:"_id" json:"id"`
	ModuleID     string `bson:"module_id" json:"moduleId"`
	Title        string `bson:"title" json:"title"`
	Content      string `bson:"content" json:"content"`
	RequiredTier Tier   `bson:"required_tier" json:"requiredTier"`
	IsPublished  bool   `bson:"is_published" json:"-"`
}
