package mongo

import (
	"context"
	"guilded/m/v2/app/lib"
	"guilded/m/v2/app/models"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MockMongoDBClient is an in-memory stand-in for both MongoClient and BillingStore.
type MockMongoDBClient struct {
	MongoClient
	mu            sync.Mutex
	Users         map[string]models.User
	Consultations []models.Consultation
	Events        map[string]models.PaymentEvent
	Messages      []models.AiMessage
	Lessons       map[string]models.Lesson
	// BillingErr fails every billing mutation except the event ledger.
	BillingErr error
}

func NewMockMongoDBClient(users ...models.User) *MockMongoDBClient {
	m := &MockMongoDBClient{
		Users:   map[string]models.User{},
		Events:  map[string]models.PaymentEvent{},
		Lessons: map[string]models.Lesson{},
	}
	for _, user := range users {
		m.Users[user.ID] = user
	}
	return m
}

func (m *MockMongoDBClient) Ping(ctx context.Context, rp *readpref.ReadPref) error {
	return nil
}

func (m *MockMongoDBClient) Disconnect(ctx context.Context) error {
	return nil
}

func (m *MockMongoDBClient) EnsureIndexes(ctx context.Context) error {
	return nil
}

func (m *MockMongoDBClient) GetUser(ctx context.Context, userID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.Users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

func (m *MockMongoDBClient) CreateUser(ctx context.Context, user models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Users[user.ID]; !ok {
		m.Users[user.ID] = user
	}
	return nil
}

func (m *MockMongoDBClient) GetUsersCount(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.Users)), nil
}

func (m *MockMongoDBClient) GetUsersCountForTier(ctx context.Context, tier models.Tier) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, user := range m.Users {
		if user.Tier == tier {
			count++
		}
	}
	return count, nil
}

func (m *MockMongoDBClient) ResetUserAIUsage(ctx context.Context, userID string, seenResetDate, nextResetDate time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.Users[userID]
	if !ok || !user.AIUsageResetDate.Equal(seenResetDate) {
		return false, nil
	}
	user.AIUsageCount = 0
	user.AIUsageResetDate = nextResetDate
	m.Users[userID] = user
	return true, nil
}

func (m *MockMongoDBClient) IncrementUserAIUsage(ctx context.Context, userID string, limit int) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.Users[userID]
	if !ok || user.AIUsageCount >= limit {
		return nil, ErrUsageCapReached
	}
	user.AIUsageCount++
	m.Users[userID] = user
	return &user, nil
}

func (m *MockMongoDBClient) UpdateUserStripeCustomerId(ctx context.Context, userID, stripeCustomerId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.Users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.StripeCustomerId = stripeCustomerId
	m.Users[userID] = user
	return nil
}

func (m *MockMongoDBClient) GetDiscountedConsultationsSince(ctx context.Context, userID string, since time.Time) ([]models.Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := []models.Consultation{}
	for _, c := range m.Consultations {
		if c.UserID == userID && c.Discounted && !c.PurchasedAt.Before(since) {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PurchasedAt.After(result[j].PurchasedAt) })
	return result, nil
}

func (m *MockMongoDBClient) GetConsultations(ctx context.Context, userID string) ([]models.Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := []models.Consultation{}
	for _, c := range m.Consultations {
		if c.UserID == userID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PurchasedAt.After(result[j].PurchasedAt) })
	return result, nil
}

func (m *MockMongoDBClient) AddAiMessages(ctx context.Context, messages ...models.AiMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, messages...)
	return nil
}

func (m *MockMongoDBClient) GetRecentAiMessages(ctx context.Context, userID string, limit int) ([]models.AiMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := []models.AiMessage{}
	for _, message := range m.Messages {
		if message.UserID == userID {
			result = append(result, message)
		}
	}
	if len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func (m *MockMongoDBClient) GetLesson(ctx context.Context, lessonID string) (*models.Lesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lesson, ok := m.Lessons[lessonID]
	if !ok || !lesson.IsPublished {
		return nil, ErrLessonNotFound
	}
	return &lesson, nil
}

func (m *MockMongoDBClient) ClaimPaymentEvent(ctx context.Context, event models.PaymentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Events[event.ID]; ok {
		return ErrDuplicateEvent
	}
	m.Events[event.ID] = event
	return nil
}

func (m *MockMongoDBClient) ReleasePaymentEvent(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Events, eventID)
	return nil
}

// updateByCustomer applies fn to every user linked to the customer and returns how many matched.
func (m *MockMongoDBClient) updateByCustomer(stripeCustomerId string, fn func(user *models.User)) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched int64
	for id, user := range m.Users {
		if user.StripeCustomerId != stripeCustomerId {
			continue
		}
		fn(&user)
		m.Users[id] = user
		matched++
	}
	return matched
}

func applySubscription(user *models.User, update models.SubscriptionUpdate) {
	periodEnd, startDate := update.CurrentPeriodEnd, update.StartDate
	user.Tier = update.Tier
	user.SubscriptionStatus = update.Status
	user.StripeSubscriptionId = update.SubscriptionId
	user.CurrentPeriodEnd = &periodEnd
	user.SubscriptionStartDate = &startDate
}

func (m *MockMongoDBClient) UpdateSubscription(ctx context.Context, update models.SubscriptionUpdate) (int64, error) {
	if m.BillingErr != nil {
		return 0, m.BillingErr
	}
	return m.updateByCustomer(update.CustomerId, func(user *models.User) {
		applySubscription(user, update)
	}), nil
}

func (m *MockMongoDBClient) UpdateSubscriptionForUser(ctx context.Context, userID string, update models.SubscriptionUpdate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BillingErr != nil {
		return 0, m.BillingErr
	}
	user, ok := m.Users[userID]
	if !ok {
		return 0, nil
	}
	applySubscription(&user, update)
	user.StripeCustomerId = update.CustomerId
	m.Users[userID] = user
	return 1, nil
}

func (m *MockMongoDBClient) CancelSubscription(ctx context.Context, stripeCustomerId string) (int64, error) {
	if m.BillingErr != nil {
		return 0, m.BillingErr
	}
	return m.updateByCustomer(stripeCustomerId, func(user *models.User) {
		user.Tier = lib.LowestTier
		user.SubscriptionStatus = models.SubscriptionStatusCanceled
		user.StripeSubscriptionId = ""
		user.CurrentPeriodEnd = nil
	}), nil
}

func (m *MockMongoDBClient) RecordSuccessfulBillingCycle(ctx context.Context, stripeCustomerId string) (int64, error) {
	if m.BillingErr != nil {
		return 0, m.BillingErr
	}
	return m.updateByCustomer(stripeCustomerId, func(user *models.User) {
		user.SuccessfulBillingCount++
		user.SubscriptionStatus = models.SubscriptionStatusActive
	}), nil
}

func (m *MockMongoDBClient) MarkSubscriptionPastDue(ctx context.Context, stripeCustomerId string) (int64, error) {
	if m.BillingErr != nil {
		return 0, m.BillingErr
	}
	return m.updateByCustomer(stripeCustomerId, func(user *models.User) {
		user.SubscriptionStatus = models.SubscriptionStatusPastDue
	}), nil
}

func (m *MockMongoDBClient) LinkStripeCustomer(ctx context.Context, userID, email, stripeCustomerId string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BillingErr != nil {
		return 0, m.BillingErr
	}
	for id, user := range m.Users {
		if user.StripeCustomerId != "" {
			continue
		}
		if (userID != "" && id == userID) || (userID == "" && email != "" && user.Email == email) {
			user.StripeCustomerId = stripeCustomerId
			m.Users[id] = user
			return 1, nil
		}
	}
	return 0, nil
}

func (m *MockMongoDBClient) CreateConsultation(ctx context.Context, consultation models.Consultation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BillingErr != nil {
		return m.BillingErr
	}
	for _, c := range m.Consultations {
		if c.StripeSessionId == consultation.StripeSessionId {
			return ErrDuplicateConsultation
		}
	}
	m.Consultations = append(m.Consultations, consultation)
	return nil
}
