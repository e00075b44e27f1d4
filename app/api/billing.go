package api

import (
	"context"
	"errors"
	"guilded/m/v2/app/models"
	"guilded/m/v2/app/payments"
	"guilded/m/v2/app/util"

	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

type billingCheckoutRequest struct {
	Tier string `json:"tier"`
}

func handleBillingCheckout(ctx *fasthttp.RequestCtx) {
	user := currentUser(ctx)
	if user == nil {
		return
	}
	var request billingCheckoutRequest
	if !decodeBody(ctx, &request) {
		return
	}
	tier, err := models.ParseTier(request.Tier)
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "Unknown tier")
		return
	}

	url, err := payments.SubscriptionCheckout(context.Background(), user, tier)
	if errors.Is(err, payments.ErrNoPriceForTier) {
		writeError(ctx, fasthttp.StatusBadRequest, "This tier cannot be purchased")
		return
	}
	if err != nil {
		log.WithError(err).Errorf("handleBillingCheckout: user %s tier %s", user.ID, tier)
		writeError(ctx, fasthttp.StatusInternalServerError, "Could not start checkout, please try again.")
		return
	}
	util.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"url": url})
}

func handleBillingPortal(ctx *fasthttp.RequestCtx) {
	user := currentUser(ctx)
	if user == nil {
		return
	}
	url, err := payments.PortalSession(context.Background(), user)
	if errors.Is(err, payments.ErrNoCustomer) {
		writeError(ctx, fasthttp.StatusBadRequest, "No billing account yet, subscribe to a plan first")
		return
	}
	if err != nil {
		log.WithError(err).Errorf("handleBillingPortal: user %s", user.ID)
		writeError(ctx, fasthttp.StatusInternalServerError, "Could not open the billing portal, please try again.")
		return
	}
	util.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"url": url})
}
