package mongo

import (
	"context"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/models"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tryvium-travels/memongo"
)

var MockMongoServer *memongo.Server

func TestMain(m *testing.M) {
	opts := &memongo.Options{
		MongoVersion: "6.0.13",
	}
	if runtime.GOARCH == "arm64" {
		if runtime.GOOS == "darwin" {
			// Only set the custom url as workaround for arm64 macs
			opts.DownloadURL = "https://fastdl.mongodb.org/osx/mongodb-macos-x86_64-6.0.13.tgz"
		}
	}

	MockMongoServer, _ = memongo.StartWithOptions(opts)
	defer MockMongoServer.Stop()
	m.Run()
}

func newTestClient(t *testing.T) *Client {
	uri := MockMongoServer.URIWithRandomDB()

	// parse db name from uri
	dbName := uri[strings.LastIndex(uri, "/")+1:]
	config.CONFIG = &config.Config{
		MongoDBName: dbName,
	}
	client := NewClient(uri)
	if err := client.EnsureIndexes(context.Background()); err != nil {
		t.Fatalf("error creating indexes: %v", err)
	}
	return client
}

func insertUser(t *testing.T, client *Client, user models.User) {
	if err := client.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("error inserting user: %v", err)
	}
}

func TestGetUser(t *testing.T) {
	client := newTestClient(t)
	resetDate := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	insertUser(t, client, models.User{
		ID:                 "292902807",
		Email:              "learner@example.com",
		Tier:               models.TierMaster,
		SubscriptionStatus: models.SubscriptionStatusActive,
		AIUsageCount:       7,
		AIUsageResetDate:   resetDate,
	})

	user, err := client.GetUser(context.Background(), "292902807")
	assert.NoError(t, err)
	assert.Equal(t, models.TierMaster, user.Tier)
	assert.Equal(t, 7, user.AIUsageCount)
	assert.True(t, resetDate.Equal(user.AIUsageResetDate))

	_, err = client.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreateUserKeepsExisting(t *testing.T) {
	client := newTestClient(t)
	insertUser(t, client, models.User{ID: "1", Tier: models.TierHero})
	insertUser(t, client, models.User{ID: "1", Tier: models.TierApprentice})

	user, err := client.GetUser(context.Background(), "1")
	assert.NoError(t, err)
	assert.Equal(t, models.TierHero, user.Tier)
}

func TestIncrementUserAIUsageStopsAtLimit(t *testing.T) {
	client := newTestClient(t)
	insertUser(t, client, models.User{ID: "1", Tier: models.TierJourneyman, AIUsageCount: 13})

	user, err := client.IncrementUserAIUsage(context.Background(), "1", 15)
	assert.NoError(t, err)
	assert.Equal(t, 14, user.AIUsageCount)

	user, err = client.IncrementUserAIUsage(context.Background(), "1", 15)
	assert.NoError(t, err)
	assert.Equal(t, 15, user.AIUsageCount)

	_, err = client.IncrementUserAIUsage(context.Background(), "1", 15)
	assert.ErrorIs(t, err, ErrUsageCapReached)
}

func TestIncrementUserAIUsageConcurrentLastSlot(t *testing.T) {
	client := newTestClient(t)
	insertUser(t, client, models.User{ID: "1", Tier: models.TierJourneyman, AIUsageCount: 14})

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.IncrementUserAIUsage(context.Background(), "1", 15)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)

	user, _ := client.GetUser(context.Background(), "1")
	assert.Equal(t, 15, user.AIUsageCount)
}

func TestResetUserAIUsageHappensOnce(t *testing.T) {
	client := newTestClient(t)
	seen := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	next := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	insertUser(t, client, models.User{ID: "1", AIUsageCount: 12, AIUsageResetDate: seen})

	reset, err := client.ResetUserAIUsage(context.Background(), "1", seen, next)
	assert.NoError(t, err)
	assert.True(t, reset)

	reset, err = client.ResetUserAIUsage(context.Background(), "1", seen, next)
	assert.NoError(t, err)
	assert.False(t, reset)

	user, _ := client.GetUser(context.Background(), "1")
	assert.Equal(t, 0, user.AIUsageCount)
	assert.True(t, next.Equal(user.AIUsageResetDate))
}

func TestClaimPaymentEventRejectsDuplicates(t *testing.T) {
	client := newTestClient(t)
	event := models.PaymentEvent{ID: "evt_1", Type: "invoice.payment_succeeded", ProcessedAt: time.Now().UTC()}

	assert.NoError(t, client.ClaimPaymentEvent(context.Background(), event))
	assert.ErrorIs(t, client.ClaimPaymentEvent(context.Background(), event), ErrDuplicateEvent)

	assert.NoError(t, client.ReleasePaymentEvent(context.Background(), "evt_1"))
	assert.NoError(t, client.ClaimPaymentEvent(context.Background(), event))
}

func TestCreateConsultationUniquePerSession(t *testing.T) {
	client := newTestClient(t)
	consultation := models.Consultation{
		ID:              "c1",
		UserID:          "1",
		TierAtPurchase:  models.TierMaster,
		Price:           15000,
		Discounted:      true,
		PurchasedAt:     time.Now().UTC(),
		StripeSessionId: "cs_test_1",
	}
	assert.NoError(t, client.CreateConsultation(context.Background(), consultation))

	consultation.ID = "c2"
	assert.ErrorIs(t, client.CreateConsultation(context.Background(), consultation), ErrDuplicateConsultation)
}

func TestGetDiscountedConsultationsSinceIsInclusive(t *testing.T) {
	client := newTestClient(t)
	since := time.Date(2025, 10, 18, 0, 0, 0, 0, time.UTC)
	for i, purchasedAt := range []time.Time{since.Add(-time.Millisecond), since, since.AddDate(0, 3, 0)} {
		err := client.CreateConsultation(context.Background(), models.Consultation{
			ID:              string(rune('a' + i)),
			UserID:          "1",
			Discounted:      true,
			PurchasedAt:     purchasedAt,
			StripeSessionId: "cs_" + string(rune('a'+i)),
		})
		assert.NoError(t, err)
	}

	consultations, err := client.GetDiscountedConsultationsSince(context.Background(), "1", since)
	assert.NoError(t, err)
	assert.Len(t, consultations, 2)
	assert.True(t, consultations[0].PurchasedAt.After(consultations[1].PurchasedAt))
}

func TestSubscriptionLifecycle(t *testing.T) {
	client := newTestClient(t)
	insertUser(t, client, models.User{ID: "1", Email: "a@b.c", Tier: models.TierApprentice})

	linked, err := client.LinkStripeCustomer(context.Background(), "", "a@b.c", "cus_1")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), linked)

	// already linked users are left alone
	linked, err = client.LinkStripeCustomer(context.Background(), "1", "", "cus_2")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), linked)

	matched, err := client.UpdateSubscription(context.Background(), models.SubscriptionUpdate{
		Tier:             models.TierHero,
		Status:           models.SubscriptionStatusActive,
		SubscriptionId:   "sub_1",
		CustomerId:       "cus_1",
		CurrentPeriodEnd: time.Date(2026, 11, 18, 0, 0, 0, 0, time.UTC),
		StartDate:        time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC),
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), matched)

	_, err = client.RecordSuccessfulBillingCycle(context.Background(), "cus_1")
	assert.NoError(t, err)
	_, err = client.MarkSubscriptionPastDue(context.Background(), "cus_1")
	assert.NoError(t, err)

	user, _ := client.GetUser(context.Background(), "1")
	assert.Equal(t, models.TierHero, user.Tier)
	assert.Equal(t, 1, user.SuccessfulBillingCount)
	assert.Equal(t, models.SubscriptionStatusPastDue, user.SubscriptionStatus)

	_, err = client.CancelSubscription(context.Background(), "cus_1")
	assert.NoError(t, err)
	user, _ = client.GetUser(context.Background(), "1")
	assert.Equal(t, models.TierApprentice, user.Tier)
	assert.Equal(t, models.SubscriptionStatusCanceled, user.SubscriptionStatus)
	assert.Nil(t, user.CurrentPeriodEnd)
	assert.Empty(t, user.StripeSubscriptionId)
}
