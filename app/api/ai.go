package api

import (
	"context"
	"errors"
	"guilded/m/v2/app/ai"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/db/mongo"
	"guilded/m/v2/app/lib"
	"guilded/m/v2/app/models"
	"guilded/m/v2/app/usage"
	"guilded/m/v2/app/util"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const MESSAGES_PAGE_LIMIT = 50

var aiSends = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ai_send_requests_total",
	Help: "AI assistant send requests by outcome.",
}, []string{"outcome"})

type sendRequest struct {
	Message string `json:"message"`
}

type sendResponse struct {
	Reply  string       `json:"reply"`
	Usage  usage.Status `json:"usage"`
	Notice string       `json:"notice,omitempty"`
}

func quotaExceeded(ctx *fasthttp.RequestCtx, status usage.Status) {
	util.WriteJSON(ctx, fasthttp.StatusTooManyRequests, map[string]any{
		"error":           "Monthly AI message limit reached",
		"usage":           status,
		"upgradeRequired": true,
		"resetAt":         status.NextResetAt,
	})
}

func entitlementDenied(ctx *fasthttp.RequestCtx, requiredTier models.Tier) {
	util.WriteJSON(ctx, fasthttp.StatusForbidden, map[string]any{
		"error":        "Your plan does not include the AI assistant",
		"requiredTier": requiredTier,
	})
}

// handleAISend gates the message on the monthly quota, asks the model and records usage only after
// a successful reply.
func handleAISend(ctx *fasthttp.RequestCtx) {
	user := currentUser(ctx)
	if user == nil {
		return
	}

	var request sendRequest
	if !decodeBody(ctx, &request) {
		return
	}
	message := strings.TrimSpace(request.Message)
	if message == "" || utf8.RuneCountInString(message) > ai.MAX_MESSAGE_LENGTH {
		aiSends.WithLabelValues("invalid").Inc()
		writeError(ctx, fasthttp.StatusBadRequest, "Message must be between 1 and 4000 characters")
		return
	}

	background := context.Background()
	status, err := usage.CheckUsage(background, user, Now())
	if err != nil {
		log.WithError(err).Errorf("handleAISend: usage check for user %s", user.ID)
		writeError(ctx, fasthttp.StatusInternalServerError, genericErrorMessage)
		return
	}
	if !status.Allowed {
		aiSends.WithLabelValues(string(status.Reason)).Inc()
		config.CONFIG.DataDogClient.Incr("ai.send_denied", []string{"reason:" + string(status.Reason), "tier:" + string(user.Tier)}, 1)
		if status.Reason == usage.ReasonEntitlementDenied {
			entitlementDenied(ctx, lib.AIAssistantTier)
			return
		}
		quotaExceeded(ctx, status)
		return
	}

	history, err := mongo.MongoDBClient.GetRecentAiMessages(background, user.ID, ai.HISTORY_LIMIT)
	if err != nil {
		log.WithError(err).Warnf("handleAISend: history for user %s, continuing without", user.ID)
		history = nil
	}

	result, err := AI.ChatComplete(background, ai.BuildCompletion(user.ID, history, message, usage.TokenBudget(user.Tier)))
	if err != nil {
		aiSends.WithLabelValues("ai-failed").Inc()
		log.WithError(err).Errorf("handleAISend: completion for user %s", user.ID)
		writeError(ctx, fasthttp.StatusInternalServerError, "The AI assistant is unavailable right now, please try again.")
		return
	}

	status, err = usage.RecordUsage(background, user, result.Usage.TotalTokens)
	if errors.Is(err, usage.ErrQuotaExhausted) {
		// another request took the last slot while this one waited on the model
		aiSends.WithLabelValues(string(usage.ReasonQuotaExhausted)).Inc()
		quotaExceeded(ctx, status)
		return
	}
	if err != nil {
		log.WithError(err).Errorf("handleAISend: record usage for user %s", user.ID)
		writeError(ctx, fasthttp.StatusInternalServerError, genericErrorMessage)
		return
	}

	reply := ai.WithDisclaimer(result.Text)
	now := Now().UTC()
	err = mongo.MongoDBClient.AddAiMessages(background,
		models.AiMessage{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			Role:      "user",
			Content:   message,
			Tokens:    result.Usage.PromptTokens,
			CreatedAt: now,
		},
		models.AiMessage{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			Role:      "assistant",
			Content:   reply,
			Tokens:    result.Usage.CompletionTokens,
			CreatedAt: now.Add(time.Millisecond),
		},
	)
	if err != nil {
		log.WithError(err).Errorf("handleAISend: store messages for user %s", user.ID)
	}

	aiSends.WithLabelValues("sent").Inc()
	config.CONFIG.DataDogClient.Incr("ai.sent", []string{"tier:" + string(user.Tier)}, 1)
	util.WriteJSON(ctx, fasthttp.StatusOK, sendResponse{
		Reply:  reply,
		Usage:  status,
		Notice: usage.Notice(status),
	})
}

func handleAIUsage(ctx *fasthttp.RequestCtx) {
	user := currentUser(ctx)
	if user == nil {
		return
	}
	status, err := usage.CheckUsage(context.Background(), user, Now())
	if err != nil {
		log.WithError(err).Errorf("handleAIUsage: user %s", user.ID)
		writeError(ctx, fasthttp.StatusInternalServerError, genericErrorMessage)
		return
	}
	util.WriteJSON(ctx, fasthttp.StatusOK, status)
}

func handleAIMessages(ctx *fasthttp.RequestCtx) {
	user := currentUser(ctx)
	if user == nil {
		return
	}
	messages, err := mongo.MongoDBClient.GetRecentAiMessages(context.Background(), user.ID, MESSAGES_PAGE_LIMIT)
	if err != nil {
		log.WithError(err).Errorf("handleAIMessages: user %s", user.ID)
		writeError(ctx, fasthttp.StatusInternalServerError, genericErrorMessage)
		return
	}
	util.WriteJSON(ctx, fasthttp.StatusOK, map[string]any{"messages": messages})
}
