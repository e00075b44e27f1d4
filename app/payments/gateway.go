package payments

import (
	"context"
	"errors"
	"fmt"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/consultations"
	"guilded/m/v2/app/db/mongo"
	"guilded/m/v2/app/lib"
	"guilded/m/v2/app/models"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	portal "github.com/stripe/stripe-go/v78/billingportal/session"
	"github.com/stripe/stripe-go/v78/checkout/session"
	"github.com/stripe/stripe-go/v78/customer"
)

const (
	UserID   = "user_id"
	TierName = "tier"
	AppID    = "app_id"
	Currency = "usd"
)

var (
	ErrNoPriceForTier = errors.New("tier has no recurring price")
	ErrNoCustomer     = errors.New("user has no billing account yet")
)

// CheckoutRequest describes a hosted checkout. PriceId selects a recurring price; otherwise
// Amount and ProductName build an inline one-off price.
type CheckoutRequest struct {
	Mode        stripe.CheckoutSessionMode
	CustomerId  string
	PriceId     string
	Amount      int64
	ProductName string
	Metadata    map[string]string
	SuccessUrl  string
	CancelUrl   string
}

type Gateway interface {
	CreateCustomer(ctx context.Context, user *models.User) (string, error)
	CreateCheckoutSession(ctx context.Context, request CheckoutRequest) (string, error)
	CreatePortalSession(ctx context.Context, customerId, returnUrl string) (string, error)
}

var PaymentGateway Gateway = StripeGateway{}

// Setup configures the Stripe client with the API key and a bounded request timeout.
func Setup(cfg *config.Config) {
	stripe.Key = cfg.StripeToken
	stripe.SetAppInfo(&stripe.AppInfo{
		Name:    cfg.AppName,
		Version: "0.0.1",
		URL:     cfg.AppUrl,
	})
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: cfg.PaymentRequestTimeout},
	}))
}

type StripeGateway struct{}

func (StripeGateway) CreateCustomer(ctx context.Context, user *models.User) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.Name),
	}
	params.Context = ctx
	params.AddMetadata(UserID, user.ID)
	params.AddMetadata(AppID, config.CONFIG.AppName)

	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("CreateCustomer: %w", err)
	}
	return c.ID, nil
}

func (StripeGateway) CreateCheckoutSession(ctx context.Context, request CheckoutRequest) (string, error) {
	lineItem := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(1)}
	if request.PriceId != "" {
		lineItem.Price = stripe.String(request.PriceId)
	} else {
		lineItem.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(Currency),
			UnitAmount: stripe.Int64(request.Amount),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(request.ProductName),
			},
		}
	}
	params := &stripe.CheckoutSessionParams{
		CancelURL:         stripe.String(request.CancelUrl),
		ClientReferenceID: stripe.String(request.Metadata[UserID]),
		Customer:          stripe.String(request.CustomerId),
		Mode:              stripe.String(string(request.Mode)),
		SuccessURL:        stripe.String(request.SuccessUrl),
		LineItems:         []*stripe.CheckoutSessionLineItemParams{lineItem},
	}
	params.Context = ctx
	for key, value := range request.Metadata {
		params.AddMetadata(key, value)
	}
	params.AddMetadata(AppID, config.CONFIG.AppName)
	// subscription events only carry the subscription's own metadata
	if request.Mode == stripe.CheckoutSessionModeSubscription {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: request.Metadata,
		}
	}

	s, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("CreateCheckoutSession: %w", err)
	}
	return s.URL, nil
}

func (StripeGateway) CreatePortalSession(ctx context.Context, customerId, returnUrl string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerId),
		ReturnURL: stripe.String(returnUrl),
	}
	params.Context = ctx
	s, err := portal.New(params)
	if err != nil {
		return "", fmt.Errorf("CreatePortalSession: %w", err)
	}
	return s.URL, nil
}

// PriceIdForTier returns the configured recurring price of a paid tier.
func PriceIdForTier(tier models.Tier) (string, error) {
	var priceId string
	switch tier {
	case models.TierJourneyman:
		priceId = config.CONFIG.StripePrices.Journeyman
	case models.TierMaster:
		priceId = config.CONFIG.StripePrices.Master
	case models.TierHero:
		priceId = config.CONFIG.StripePrices.Hero
	}
	if priceId == "" {
		return "", fmt.Errorf("PriceIdForTier: %s: %w", tier, ErrNoPriceForTier)
	}
	return priceId, nil
}

// TierForPriceId maps a recurring price back to its tier. Unknown prices fall back to the lowest tier
// so an unexpected price never blocks a subscription event.
func TierForPriceId(priceId string) models.Tier {
	if priceId != "" {
		switch priceId {
		case config.CONFIG.StripePrices.Journeyman:
			return models.TierJourneyman
		case config.CONFIG.StripePrices.Master:
			return models.TierMaster
		case config.CONFIG.StripePrices.Hero:
			return models.TierHero
		}
	}
	log.Warnf("TierForPriceId: unknown price %q, falling back to %s", priceId, lib.LowestTier)
	return lib.LowestTier
}

// ensureCustomer returns the user's customer, creating and storing one on first checkout.
func ensureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerId != "" {
		return user.StripeCustomerId, nil
	}
	customerId, err := PaymentGateway.CreateCustomer(ctx, user)
	if err != nil {
		return "", err
	}
	err = mongo.MongoDBClient.UpdateUserStripeCustomerId(ctx, user.ID, customerId)
	if err != nil {
		return "", fmt.Errorf("ensureCustomer: %w", err)
	}
	user.StripeCustomerId = customerId
	log.Infof("created Stripe customer %s for user %s", customerId, user.ID)
	return customerId, nil
}

// SubscriptionCheckout starts a hosted checkout for a paid tier and returns its redirect url.
func SubscriptionCheckout(ctx context.Context, user *models.User, tier models.Tier) (string, error) {
	priceId, err := PriceIdForTier(tier)
	if err != nil {
		return "", err
	}
	customerId, err := ensureCustomer(ctx, user)
	if err != nil {
		return "", err
	}
	url, err := PaymentGateway.CreateCheckoutSession(ctx, CheckoutRequest{
		Mode:       stripe.CheckoutSessionModeSubscription,
		CustomerId: customerId,
		PriceId:    priceId,
		Metadata:   map[string]string{UserID: user.ID, TierName: string(tier)},
		SuccessUrl: config.CONFIG.AppUrl + "/dashboard?checkout=success",
		CancelUrl:  config.CONFIG.AppUrl + "/pricing?checkout=canceled",
	})
	if err != nil {
		return "", err
	}
	config.CONFIG.DataDogClient.Incr("stripe.checkout_created", []string{"mode:subscription", "tier:" + string(tier)}, 1)
	return url, nil
}

// ConsultationCheckout starts a one-off checkout at the already evaluated price. The eligibility
// decision travels in the session metadata.
func ConsultationCheckout(ctx context.Context, user *models.User, eligibility consultations.Eligibility) (string, error) {
	customerId, err := ensureCustomer(ctx, user)
	if err != nil {
		return "", err
	}
	name := "1:1 Strategy Session"
	if eligibility.Eligible {
		name += " (member discount)"
	}
	url, err := PaymentGateway.CreateCheckoutSession(ctx, CheckoutRequest{
		Mode:        stripe.CheckoutSessionModePayment,
		CustomerId:  customerId,
		Amount:      eligibility.Price,
		ProductName: name,
		Metadata:    consultations.CheckoutMetadata(user.ID, eligibility),
		SuccessUrl:  config.CONFIG.AppUrl + "/dashboard/consultations?checkout=success",
		CancelUrl:   config.CONFIG.AppUrl + "/dashboard/consultations?checkout=canceled",
	})
	if err != nil {
		return "", err
	}
	config.CONFIG.DataDogClient.Incr("stripe.checkout_created", []string{"mode:payment", "discounted:" + fmt.Sprint(eligibility.Eligible)}, 1)
	return url, nil
}

// PortalSession returns the billing portal url of a user with a linked customer.
func PortalSession(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerId == "" {
		return "", ErrNoCustomer
	}
	return PaymentGateway.CreatePortalSession(ctx, user.StripeCustomerId, config.CONFIG.AppUrl+"/dashboard")
}
