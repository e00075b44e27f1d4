package mongo

import (
	"context"
	"fmt"
	"guilded/m/v2/app/lib"
	"guilded/m/v2/app/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ClaimPaymentEvent records the event id. The unique _id makes a second delivery fail with ErrDuplicateEvent.
func (c *Client) ClaimPaymentEvent(ctx context.Context, event models.PaymentEvent) error {
	_, err := c.collection(MongoPaymentEventCollection).InsertOne(ctx, event)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("ClaimPaymentEvent: %w", err)
	}
	return nil
}

// ReleasePaymentEvent withdraws a claim whose mutations did not complete, so a provider retry is reprocessed.
func (c *Client) ReleasePaymentEvent(ctx context.Context, eventID string) error {
	_, err := c.collection(MongoPaymentEventCollection).DeleteOne(ctx, bson.M{"_id": eventID})
	if err != nil {
		return fmt.Errorf("ReleasePaymentEvent: %w", err)
	}
	return nil
}

func subscriptionFields(update models.SubscriptionUpdate) bson.M {
	return bson.M{
		"tier":                    update.Tier,
		"subscription_status":     update.Status,
		"stripe_subscription_id":  update.SubscriptionId,
		"current_period_end":      update.CurrentPeriodEnd,
		"subscription_start_date": update.StartDate,
	}
}

func (c *Client) UpdateSubscription(ctx context.Context, update models.SubscriptionUpdate) (int64, error) {
	filter := bson.M{"stripe_customer_id": update.CustomerId}
	result, err := c.collection(MongoUserCollection).UpdateMany(ctx, filter, bson.M{"$set": subscriptionFields(update)})
	if err != nil {
		return 0, fmt.Errorf("UpdateSubscription: %w", err)
	}
	return result.MatchedCount, nil
}

// UpdateSubscriptionForUser applies the update by user id and links the customer on the way.
func (c *Client) UpdateSubscriptionForUser(ctx context.Context, userID string, update models.SubscriptionUpdate) (int64, error) {
	fields := subscriptionFields(update)
	fields["stripe_customer_id"] = update.CustomerId
	result, err := c.collection(MongoUserCollection).UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": fields})
	if err != nil {
		return 0, fmt.Errorf("UpdateSubscriptionForUser: %w", err)
	}
	return result.MatchedCount, nil
}

func (c *Client) CancelSubscription(ctx context.Context, stripeCustomerId string) (int64, error) {
	filter := bson.M{"stripe_customer_id": stripeCustomerId}
	update := bson.M{
		"$set": bson.M{
			"tier":                lib.LowestTier,
			"subscription_status": models.SubscriptionStatusCanceled,
		},
		"$unset": bson.M{
			"stripe_subscription_id": "",
			"current_period_end":     "",
		},
	}
	result, err := c.collection(MongoUserCollection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("CancelSubscription: %w", err)
	}
	return result.MatchedCount, nil
}

func (c *Client) RecordSuccessfulBillingCycle(ctx context.Context, stripeCustomerId string) (int64, error) {
	filter := bson.M{"stripe_customer_id": stripeCustomerId}
	update := bson.M{
		"$inc": bson.M{"successful_billing_count": 1},
		"$set": bson.M{"subscription_status": models.SubscriptionStatusActive},
	}
	result, err := c.collection(MongoUserCollection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("RecordSuccessfulBillingCycle: %w", err)
	}
	return result.MatchedCount, nil
}

func (c *Client) MarkSubscriptionPastDue(ctx context.Context, stripeCustomerId string) (int64, error) {
	filter := bson.M{"stripe_customer_id": stripeCustomerId}
	update := bson.M{"$set": bson.M{"subscription_status": models.SubscriptionStatusPastDue}}
	result, err := c.collection(MongoUserCollection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("MarkSubscriptionPastDue: %w", err)
	}
	return result.MatchedCount, nil
}

// LinkStripeCustomer sets the customer on a user that has none yet, matched by id or, without one, by email.
func (c *Client) LinkStripeCustomer(ctx context.Context, userID, email, stripeCustomerId string) (int64, error) {
	filter := bson.M{"stripe_customer_id": bson.M{"$in": bson.A{nil, ""}}}
	switch {
	case userID != "":
		filter["_id"] = userID
	case email != "":
		filter["email"] = email
	default:
		return 0, nil
	}
	update := bson.M{"$set": bson.M{"stripe_customer_id": stripeCustomerId}}
	result, err := c.collection(MongoUserCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("LinkStripeCustomer: %w", err)
	}
	return result.ModifiedCount, nil
}

func (c *Client) CreateConsultation(ctx context.Context, consultation models.Consultation) error {
	_, err := c.collection(MongoConsultationCollection).InsertOne(ctx, consultation)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateConsultation
	}
	if err != nil {
		return fmt.Errorf("CreateConsultation: %w", err)
	}
	return nil
}
