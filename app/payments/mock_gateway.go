package payments

import (
	"context"
	"guilded/m/v2/app/models"
	"sync"
)

// MockGateway records requests and returns canned urls.
type MockGateway struct {
	Gateway
	mu        sync.Mutex
	Customers []string
	Checkouts []CheckoutRequest
	Portals   []string
	Err       error
}

func (m *MockGateway) CreateCustomer(ctx context.Context, user *models.User) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Customers = append(m.Customers, user.ID)
	return "cus_" + user.ID, nil
}

func (m *MockGateway) CreateCheckoutSession(ctx context.Context, request CheckoutRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Checkouts = append(m.Checkouts, request)
	return "https://checkout.stripe.test/" + string(request.Mode), nil
}

func (m *MockGateway) CreatePortalSession(ctx context.Context, customerId, returnUrl string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Portals = append(m.Portals, customerId)
	return "https://billing.stripe.test/" + customerId, nil
}
