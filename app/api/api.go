// Package api serves the JSON endpoints of the dashboard.
package api

import (
	"encoding/json"
	"errors"
	"guilded/m/v2/app/ai"
	"guilded/m/v2/app/auth"
	"guilded/m/v2/app/models"
	"guilded/m/v2/app/payments"
	"guilded/m/v2/app/util"
	"time"

	"github.com/fasthttp/router"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const genericErrorMessage = "Something went wrong, please try again later."

var (
	AI *ai.API

	// Now is the clock used for usage resets and eligibility windows.
	Now = time.Now
)

// RegisterRoutes mounts the API on rtr. aiAPI is used for AI sends.
func RegisterRoutes(rtr *router.Router, aiAPI *ai.API) {
	AI = aiAPI

	api := rtr.Group("/api")
	api.GET("/me", handleMe)

	api.POST("/ai/send", handleAISend)
	api.GET("/ai/usage", handleAIUsage)
	api.GET("/ai/messages", handleAIMessages)

	api.GET("/consultations", handleConsultations)
	api.GET("/consultations/eligibility", handleConsultationEligibility)
	api.POST("/consultations/checkout", handleConsultationCheckout)

	api.POST("/billing/checkout", handleBillingCheckout)
	api.POST("/billing/portal", handleBillingPortal)

	api.GET("/lessons/{lessonId}", handleLesson)

	api.POST("/webhooks/payment", payments.StripeWebhook)
}

func writeError(ctx *fasthttp.RequestCtx, status int, message string) {
	util.WriteJSON(ctx, status, map[string]any{"error": message})
}

// currentUser resolves the signed-in user or writes the error response and returns nil.
func currentUser(ctx *fasthttp.RequestCtx) *models.User {
	user, err := auth.CurrentUser(ctx)
	if errors.Is(err, auth.ErrUnauthenticated) {
		writeError(ctx, fasthttp.StatusUnauthorized, "Unauthorized")
		return nil
	}
	if err != nil {
		log.WithError(err).Errorf("failed to resolve user for %s", ctx.Path())
		writeError(ctx, fasthttp.StatusInternalServerError, genericErrorMessage)
		return nil
	}
	return user
}

// decodeBody unmarshals a JSON body into v, writing 400 on failure.
func decodeBody(ctx *fasthttp.RequestCtx, v any) bool {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
