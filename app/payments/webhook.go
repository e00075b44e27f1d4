package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/consultations"
	"guilded/m/v2/app/db/mongo"
	"guilded/m/v2/app/models"
	"guilded/m/v2/app/notify"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
	"github.com/valyala/fasthttp"
)

const MaxWebhookBodyBytes = 65536

// ReconcileTimeout keeps a slow store or alert channel under the server's request timeout.
var ReconcileTimeout = 20 * time.Second

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
	OutcomeRejected  Outcome = "rejected"
)

var webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payment_webhook_events_total",
	Help: "Payment provider events by type and outcome.",
}, []string{"type", "outcome"})

type eventHandler func(ctx context.Context, event stripe.Event) error

// eventHandlers lists the event types that change account state. Anything else is acknowledged untouched.
var eventHandlers = map[string]eventHandler{
	"customer.subscription.created": handleSubscriptionChanged,
	"customer.subscription.updated": handleSubscriptionChanged,
	"customer.subscription.deleted": handleSubscriptionDeleted,
	"invoice.payment_succeeded":     handleInvoicePaymentSucceeded,
	"invoice.payment_failed":        handleInvoicePaymentFailed,
	"checkout.session.completed":    handleCheckoutSessionCompleted,
	// delayed payment methods complete the session unpaid and settle later
	"checkout.session.async_payment_succeeded": handleCheckoutAsyncPaymentSucceeded,
}

// Now is replaced in tests.
var Now = time.Now

func StripeWebhook(ctx *fasthttp.RequestCtx) {
	payload := ctx.Request.Body()
	if len(payload) > MaxWebhookBodyBytes {
		log.Errorf("Webhook payload too large: %d bytes", len(payload))
		webhookEvents.WithLabelValues("unknown", string(OutcomeRejected)).Inc()
		ctx.Response.Header.SetStatusCode(http.StatusBadRequest)
		return
	}

	signatureHeader := string(ctx.Request.Header.Peek("Stripe-Signature"))
	if signatureHeader == "" {
		log.Error("Webhook request without Stripe-Signature header")
		webhookEvents.WithLabelValues("unknown", string(OutcomeRejected)).Inc()
		ctx.Response.Header.SetStatusCode(http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, config.CONFIG.StripeEndpointSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Errorf("Webhook signature verification failed. %v", err)
		config.CONFIG.DataDogClient.Incr("stripe.webhook_rejected", nil, 1)
		webhookEvents.WithLabelValues("unknown", string(OutcomeRejected)).Inc()
		ctx.Response.Header.SetStatusCode(http.StatusBadRequest) // Return a 400 error on a bad signature
		return
	}
	config.CONFIG.DataDogClient.Incr("stripe.webhook", []string{"event_type:" + string(event.Type)}, 1)

	reconcileCtx, cancel := context.WithTimeout(context.Background(), ReconcileTimeout)
	defer cancel()
	outcome, err := Reconcile(reconcileCtx, event)
	webhookEvents.WithLabelValues(string(event.Type), string(outcome)).Inc()
	if err != nil {
		log.WithError(err).WithField("event_id", event.ID).Errorf("failed to process %s", event.Type)
		ctx.Response.Header.SetStatusCode(http.StatusInternalServerError)
		return
	}
	ctx.Response.Header.SetStatusCode(http.StatusOK)
}

// Reconcile applies a verified event exactly once. The ledger claim is the first write; when a
// later write fails the claim is released so the provider's retry reprocesses the event.
func Reconcile(ctx context.Context, event stripe.Event) (Outcome, error) {
	handler, ok := eventHandlers[string(event.Type)]
	if !ok {
		log.Infof("Ignoring Stripe event type: %s, id: %s", event.Type, event.ID)
		return OutcomeIgnored, nil
	}

	err := mongo.BillingDB.ClaimPaymentEvent(ctx, models.PaymentEvent{
		ID:          event.ID,
		Type:        string(event.Type),
		ProcessedAt: Now().UTC(),
	})
	if errors.Is(err, mongo.ErrDuplicateEvent) {
		log.WithFields(log.Fields{"event_id": event.ID, "type": event.Type, "duplicate": true}).Info("Stripe event already processed")
		config.CONFIG.DataDogClient.Incr("stripe.webhook_duplicate", []string{"event_type:" + string(event.Type)}, 1)
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("Reconcile: claim %s: %w", event.ID, err)
	}

	err = handler(ctx, event)
	if err != nil {
		if releaseErr := mongo.BillingDB.ReleasePaymentEvent(context.Background(), event.ID); releaseErr != nil {
			log.WithError(releaseErr).Errorf("failed to release claim for event %s", event.ID)
		}
		notify.Send(ctx, fmt.Sprintf("🚨 failed to process Stripe event %s (%s): %v", event.ID, event.Type, err))
		return OutcomeFailed, fmt.Errorf("Reconcile: %s: %w", event.Type, err)
	}
	log.WithFields(log.Fields{"event_id": event.ID, "type": event.Type, "duplicate": false}).Info("Stripe event processed")
	return OutcomeProcessed, nil
}

// MapSubscriptionStatus converts the provider's status. Unrecognized values become incomplete.
func MapSubscriptionStatus(status stripe.SubscriptionStatus) models.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive:
		return models.SubscriptionStatusActive
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusPaused:
		return models.SubscriptionStatusCanceled
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return models.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusTrialing:
		return models.SubscriptionStatusTrialing
	default:
		return models.SubscriptionStatusIncomplete
	}
}

func subscriptionPriceId(subscription stripe.Subscription) string {
	if subscription.Items == nil || len(subscription.Items.Data) == 0 {
		return ""
	}
	item := subscription.Items.Data[0]
	if item == nil || item.Price == nil {
		return ""
	}
	return item.Price.ID
}

func handleSubscriptionChanged(ctx context.Context, event stripe.Event) error {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return fmt.Errorf("error parsing subscription: %w", err)
	}
	if subscription.Customer == nil {
		return fmt.Errorf("subscription %s has no customer", subscription.ID)
	}

	update := models.SubscriptionUpdate{
		Tier:             TierForPriceId(subscriptionPriceId(subscription)),
		Status:           MapSubscriptionStatus(subscription.Status),
		SubscriptionId:   subscription.ID,
		CustomerId:       subscription.Customer.ID,
		CurrentPeriodEnd: time.Unix(subscription.CurrentPeriodEnd, 0).UTC(),
		StartDate:        time.Unix(subscription.StartDate, 0).UTC(),
	}
	matched, err := mongo.BillingDB.UpdateSubscription(ctx, update)
	if err != nil {
		return err
	}
	// the subscription can arrive before checkout completion links the customer
	if matched == 0 && subscription.Metadata[UserID] != "" {
		matched, err = mongo.BillingDB.UpdateSubscriptionForUser(ctx, subscription.Metadata[UserID], update)
		if err != nil {
			return err
		}
	}
	if matched == 0 {
		log.Warnf("No user found for customer %s, subscription %s", update.CustomerId, subscription.ID)
		return nil
	}
	log.Infof("Subscription %s for customer %s is now %s on %s", subscription.ID, update.CustomerId, update.Status, update.Tier)
	config.CONFIG.DataDogClient.Incr("stripe.subscription_changed", []string{"tier:" + string(update.Tier), "status:" + string(update.Status)}, 1)
	return nil
}

func handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return fmt.Errorf("error parsing subscription: %w", err)
	}
	if subscription.Customer == nil {
		return fmt.Errorf("subscription %s has no customer", subscription.ID)
	}
	matched, err := mongo.BillingDB.CancelSubscription(ctx, subscription.Customer.ID)
	if err != nil {
		return err
	}
	log.Infof("Canceled subscription %s for %s, users: %d", subscription.ID, subscription.Customer.ID, matched)
	config.CONFIG.DataDogClient.Incr("stripe.customer_subscription_deleted", nil, 1)
	notify.Send(ctx, fmt.Sprintf("👋 subscription %s canceled for customer %s", subscription.ID, subscription.Customer.ID))
	return nil
}

func handleInvoicePaymentSucceeded(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("error parsing invoice: %w", err)
	}
	// only recurring and initial subscription invoices count as billing cycles
	if invoice.BillingReason != stripe.InvoiceBillingReasonSubscriptionCycle && invoice.BillingReason != stripe.InvoiceBillingReasonSubscriptionCreate {
		log.Infof("Invoice %s with billing reason %s is not a billing cycle", invoice.ID, invoice.BillingReason)
		return nil
	}
	if invoice.Customer == nil {
		return fmt.Errorf("invoice %s has no customer", invoice.ID)
	}
	matched, err := mongo.BillingDB.RecordSuccessfulBillingCycle(ctx, invoice.Customer.ID)
	if err != nil {
		return err
	}
	if matched == 0 {
		log.Warnf("No user found for customer %s, invoice %s", invoice.Customer.ID, invoice.ID)
	}
	config.CONFIG.DataDogClient.Incr("stripe.billing_cycle", []string{"billing_reason:" + string(invoice.BillingReason)}, 1)
	return nil
}

func handleInvoicePaymentFailed(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("error parsing invoice: %w", err)
	}
	if invoice.Customer == nil {
		return fmt.Errorf("invoice %s has no customer", invoice.ID)
	}
	// tier stays until the subscription is deleted
	matched, err := mongo.BillingDB.MarkSubscriptionPastDue(ctx, invoice.Customer.ID)
	if err != nil {
		return err
	}
	log.Infof("Invoice %s payment failed for customer %s, users: %d", invoice.ID, invoice.Customer.ID, matched)
	config.CONFIG.DataDogClient.Incr("stripe.payment_failed", nil, 1)
	return nil
}

func handleCheckoutSessionCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("error parsing checkout session: %w", err)
	}
	config.CONFIG.DataDogClient.Incr("stripe.checkout_session_completed", []string{"payment_status:" + string(session.PaymentStatus), "mode:" + string(session.Mode)}, 1)

	if consultations.IsConsultationCheckout(session.Metadata) {
		return recordConsultation(ctx, event, session)
	}
	if session.Mode == stripe.CheckoutSessionModeSubscription {
		return linkCustomer(ctx, session)
	}
	log.Infof("Ignoring checkout session %s in mode %s", session.ID, session.Mode)
	return nil
}

func handleCheckoutAsyncPaymentSucceeded(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("error parsing checkout session: %w", err)
	}
	config.CONFIG.DataDogClient.Incr("stripe.checkout_async_payment_succeeded", []string{"mode:" + string(session.Mode)}, 1)

	if consultations.IsConsultationCheckout(session.Metadata) {
		return recordConsultation(ctx, event, session)
	}
	log.Infof("Ignoring async payment for checkout session %s in mode %s", session.ID, session.Mode)
	return nil
}

func recordConsultation(ctx context.Context, event stripe.Event, session stripe.CheckoutSession) error {
	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		log.Infof("Checkout session %s completed without payment, waiting for async payment", session.ID)
		return nil
	}
	paymentId := ""
	if session.PaymentIntent != nil {
		paymentId = session.PaymentIntent.ID
	}
	consultation, err := consultations.FromCheckoutMetadata(session.Metadata, session.ID, paymentId, session.AmountTotal, time.Unix(event.Created, 0).UTC())
	if err != nil {
		return err
	}
	err = mongo.BillingDB.CreateConsultation(ctx, consultation)
	if errors.Is(err, mongo.ErrDuplicateConsultation) {
		log.Infof("Consultation for checkout session %s already recorded", session.ID)
		return nil
	}
	if err != nil {
		return err
	}
	log.Infof("Recorded consultation %s for user %s, price %d, discounted %t", consultation.ID, consultation.UserID, consultation.Price, consultation.Discounted)
	config.CONFIG.DataDogClient.Incr("stripe.consultation_booked", []string{"tier:" + string(consultation.TierAtPurchase), fmt.Sprintf("discounted:%t", consultation.Discounted)}, 1)
	notify.Send(ctx, fmt.Sprintf("📅 new consultation booked by user %s (%s), $%.2f, discounted: %t",
		consultation.UserID, consultation.TierAtPurchase, float64(consultation.Price)/100, consultation.Discounted))
	return nil
}

func linkCustomer(ctx context.Context, session stripe.CheckoutSession) error {
	if session.Customer == nil {
		log.Warnf("Subscription checkout session %s has no customer", session.ID)
		return nil
	}
	email := ""
	if session.CustomerDetails != nil {
		email = session.CustomerDetails.Email
	}
	linked, err := mongo.BillingDB.LinkStripeCustomer(ctx, session.Metadata[UserID], email, session.Customer.ID)
	if err != nil {
		return err
	}
	log.Infof("Checkout session %s for customer %s, newly linked users: %d", session.ID, session.Customer.ID, linked)
	return nil
}
