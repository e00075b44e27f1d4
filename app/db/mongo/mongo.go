package mongo

import (
	"context"
	"errors"
	"fmt"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/models"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"gopkg.in/cenkalti/backoff.v1"
)

const (
	MongoUserCollection          = "users"
	MongoConsultationCollection  = "consultations"
	MongoPaymentEventCollection  = "processed_payment_events"
	MongoAiMessageCollection     = "ai_messages"
	MongoLessonCollection        = "lessons"
	connectMaxElapsedTime        = 30 * time.Second
	connectAttemptTimeout        = 10 * time.Second
	recentConsultationsPageLimit = 100
)

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrLessonNotFound        = errors.New("lesson not found")
	ErrUsageCapReached       = errors.New("usage cap reached")
	ErrDuplicateEvent        = errors.New("payment event already processed")
	ErrDuplicateConsultation = errors.New("consultation already recorded")
)

// Client is a mongo client
type Client struct {
	*mongo.Client
}

// MongoClient is used by request handlers. It cannot change tier, subscription status or billing counters.
type MongoClient interface {
	AddAiMessages(ctx context.Context, messages ...models.AiMessage) error
	CreateUser(ctx context.Context, user models.User) error
	Disconnect(ctx context.Context) error
	EnsureIndexes(ctx context.Context) error
	GetConsultations(ctx context.Context, userID string) ([]models.Consultation, error)
	GetDiscountedConsultationsSince(ctx context.Context, userID string, since time.Time) ([]models.Consultation, error)
	GetLesson(ctx context.Context, lessonID string) (*models.Lesson, error)
	GetRecentAiMessages(ctx context.Context, userID string, limit int) ([]models.AiMessage, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetUsersCount(ctx context.Context) (int64, error)
	GetUsersCountForTier(ctx context.Context, tier models.Tier) (int64, error)
	IncrementUserAIUsage(ctx context.Context, userID string, limit int) (*models.User, error)
	Ping(ctx context.Context, rp *readpref.ReadPref) error
	ResetUserAIUsage(ctx context.Context, userID string, seenResetDate, nextResetDate time.Time) (bool, error)
	UpdateUserStripeCustomerId(ctx context.Context, userID, stripeCustomerId string) error
}

// BillingStore is used only by the payment event reconciler.
type BillingStore interface {
	CancelSubscription(ctx context.Context, stripeCustomerId string) (int64, error)
	ClaimPaymentEvent(ctx context.Context, event models.PaymentEvent) error
	CreateConsultation(ctx context.Context, consultation models.Consultation) error
	LinkStripeCustomer(ctx context.Context, userID, email, stripeCustomerId string) (int64, error)
	MarkSubscriptionPastDue(ctx context.Context, stripeCustomerId string) (int64, error)
	RecordSuccessfulBillingCycle(ctx context.Context, stripeCustomerId string) (int64, error)
	ReleasePaymentEvent(ctx context.Context, eventID string) error
	UpdateSubscription(ctx context.Context, update models.SubscriptionUpdate) (int64, error)
	UpdateSubscriptionForUser(ctx context.Context, userID string, update models.SubscriptionUpdate) (int64, error)
}

var (
	MongoDBClient MongoClient
	BillingDB     BillingStore
)

// NewClient creates a new mongo client
func NewClient(connection string) *Client {
	return &Client{
		Client: mustConnect(connection),
	}
}

// mustConnect connects to mongo and panics on error
func mustConnect(connection string) *mongo.Client {
	client, err := mongo.NewClient(options.Client().ApplyURI(connection).SetMaxConnecting(25))
	if err != nil {
		logrus.WithError(err).Panic("failed to create mongo client")
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectAttemptTimeout)
	defer cancel()
	err = client.Connect(ctx)
	if err != nil {
		logrus.WithError(err).Panic("failed to connect to mongo")
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = connectMaxElapsedTime
	err = backoff.Retry(func() error {
		pingCtx, cancelPing := context.WithTimeout(context.Background(), connectAttemptTimeout)
		defer cancelPing()
		err := client.Ping(pingCtx, readpref.Primary())
		if err != nil {
			logrus.WithError(err).Warn("mongo is not reachable yet, retrying")
		}
		return err
	}, policy)
	if err != nil {
		logrus.WithError(err).Panic("failed to ping mongo")
	}

	return client
}

func (c *Client) collection(name string) *mongo.Collection {
	return c.Database(config.CONFIG.MongoDBName).Collection(name)
}

func (c *Client) EnsureIndexes(ctx context.Context) error {
	_, err := c.collection(MongoConsultationCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "stripe_session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "discounted", Value: 1}, {Key: "purchased_at", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("EnsureIndexes: consultations: %w", err)
	}
	_, err = c.collection(MongoUserCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "stripe_customer_id", Value: 1}}},
		{Keys: bson.D{{Key: "email", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("EnsureIndexes: users: %w", err)
	}
	_, err = c.collection(MongoAiMessageCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("EnsureIndexes: ai messages: %w", err)
	}
	return nil
}

func (c *Client) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := c.collection(MongoUserCollection).FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetUser: failed to find user: %w", err)
	}
	return &user, nil
}

// CreateUser inserts the user unless a user with the same id already exists.
func (c *Client) CreateUser(ctx context.Context, user models.User) error {
	_, err := c.collection(MongoUserCollection).InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("CreateUser: %w", err)
	}
	return nil
}

func (c *Client) GetUsersCount(ctx context.Context) (int64, error) {
	count, err := c.collection(MongoUserCollection).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("GetUsersCount: failed to get users count: %w", err)
	}
	return count, nil
}

func (c *Client) GetUsersCountForTier(ctx context.Context, tier models.Tier) (int64, error) {
	count, err := c.collection(MongoUserCollection).CountDocuments(ctx, bson.M{"tier": tier})
	if err != nil {
		return 0, fmt.Errorf("GetUsersCountForTier: failed to get users count: %w", err)
	}
	return count, nil
}

// ResetUserAIUsage zeroes the monthly counter only if the stored reset date is still the one the caller saw,
// so concurrent requests perform the rollover once.
func (c *Client) ResetUserAIUsage(ctx context.Context, userID string, seenResetDate, nextResetDate time.Time) (bool, error) {
	filter := bson.M{"_id": userID, "ai_usage_reset_date": seenResetDate}
	update := bson.M{
		"$set": bson.M{
			"ai_usage_count":      0,
			"ai_usage_reset_date": nextResetDate,
		},
	}
	result, err := c.collection(MongoUserCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("ResetUserAIUsage: %w", err)
	}
	return result.ModifiedCount == 1, nil
}

// IncrementUserAIUsage adds one message to the counter in a single conditional update.
func (c *Client) IncrementUserAIUsage(ctx context.Context, userID string, limit int) (*models.User, error) {
	filter := bson.M{"_id": userID, "ai_usage_count": bson.M{"$lt": limit}}
	update := bson.M{"$inc": bson.M{"ai_usage_count": 1}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user models.User
	err := c.collection(MongoUserCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUsageCapReached
	}
	if err != nil {
		return nil, fmt.Errorf("IncrementUserAIUsage: %w", err)
	}
	return &user, nil
}

func (c *Client) UpdateUserStripeCustomerId(ctx context.Context, userID, stripeCustomerId string) error {
	filter := bson.M{"_id": userID}
	update := bson.M{
		"$set": bson.M{
			"stripe_customer_id": stripeCustomerId,
		},
	}
	_, err := c.collection(MongoUserCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("UpdateUserStripeCustomerId: %w", err)
	}
	return nil
}

func (c *Client) GetDiscountedConsultationsSince(ctx context.Context, userID string, since time.Time) ([]models.Consultation, error) {
	filter := bson.M{
		"user_id":      userID,
		"discounted":   true,
		"purchased_at": bson.M{"$gte": since},
	}
	opts := options.Find().SetSort(bson.D{{Key: "purchased_at", Value: -1}})
	return c.findConsultations(ctx, filter, opts)
}

func (c *Client) GetConsultations(ctx context.Context, userID string) ([]models.Consultation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "purchased_at", Value: -1}}).SetLimit(recentConsultationsPageLimit)
	return c.findConsultations(ctx, bson.M{"user_id": userID}, opts)
}

func (c *Client) findConsultations(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Consultation, error) {
	cursor, err := c.collection(MongoConsultationCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("findConsultations: %w", err)
	}
	consultations := []models.Consultation{}
	if err := cursor.All(ctx, &consultations); err != nil {
		return nil, fmt.Errorf("findConsultations: decode: %w", err)
	}
	return consultations, nil
}

func (c *Client) AddAiMessages(ctx context.Context, messages ...models.AiMessage) error {
	if len(messages) == 0 {
		return nil
	}
	documents := make([]interface{}, len(messages))
	for i, message := range messages {
		documents[i] = message
	}
	_, err := c.collection(MongoAiMessageCollection).InsertMany(ctx, documents)
	if err != nil {
		return fmt.Errorf("AddAiMessages: %w", err)
	}
	return nil
}

// GetRecentAiMessages returns up to limit latest messages, oldest first.
func (c *Client) GetRecentAiMessages(ctx context.Context, userID string, limit int) ([]models.AiMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	cursor, err := c.collection(MongoAiMessageCollection).Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("GetRecentAiMessages: %w", err)
	}
	messages := []models.AiMessage{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("GetRecentAiMessages: decode: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (c *Client) GetLesson(ctx context.Context, lessonID string) (*models.Lesson, error) {
	var lesson models.Lesson
	filter := bson.M{"_id": lessonID, "is_published": true}
	err := c.collection(MongoLessonCollection).FindOne(ctx, filter).Decode(&lesson)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetLesson: %w", err)
	}
	return &lesson, nil
}
