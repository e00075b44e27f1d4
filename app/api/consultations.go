package api

import (
	"context"
	"guilded/m/v2/app/consultations"
	"guilded/m/v2/app/db/mongo"
	"guilded/m/v2/app/payments"
	"guilded/m/v2/app/util"

	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

func handleConsultations(ctx *fasthttp.RequestCtx) {
	user := currentUser(ctx)
	if user == nil {
		return
	}
	purchases, err := mongo.MongoDBClient.GetConsultations(context.Background(), user.ID)
	if err != nil {
		log.WithError(err).Errorf("handleConsultations: user %s", user.ID)
		writeError(ctx, fasthttp.StatusInternalServerError, genericErrorMessage)
		return
	}
	util.WriteJSON(ctx, fasthttp.StatusOK, map[string]any{"consultations": purchases})
}

func handleConsultationEligibility(ctx *fasthttp.RequestCtx) {
	user := currentUser(ctx)
	if user == nil {
		return
	}
	eligibility, err := consultations.GetEligibility(context.Background(), user, Now())
	if err != nil {
		log.WithError(err).Errorf("handleConsultationEligibility: user %s", user.ID)
		writeError(ctx, fasthttp.StatusInternalServerError, genericErrorMessage)
		return
	}
	util.WriteJSON(ctx, fasthttp.StatusOK, eligibility)
}

// handleConsultationCheckout prices the session now; the price and discount flag are frozen into
// the checkout metadata and recorded as-is when payment completes.
func handleConsultationCheckout(ctx *fasthttp.RequestCtx) {
	user := currentUser(ctx)
	if user == nil {
		return
	}
	background := context.Background()
	eligibility, err := consultations.GetEligibility(background, user, Now())
	if err != nil {
		log.WithError(err).Errorf("handleConsultationCheckout: eligibility for user %s", user.ID)
		writeError(ctx, fasthttp.StatusInternalServerError, genericErrorMessage)
		return
	}
	url, err := payments.ConsultationCheckout(background, user, eligibility)
	if err != nil {
		log.WithError(err).Errorf("handleConsultationCheckout: checkout for user %s", user.ID)
		writeError(ctx, fasthttp.StatusInternalServerError, "Could not start checkout, please try again.")
		return
	}
	util.WriteJSON(ctx, fasthttp.StatusOK, map[string]any{"url": url, "eligibility": eligibility})
}
