package api

import (
	"context"
	"errors"
	"guilded/m/v2/app/access"
	"guilded/m/v2/app/db/mongo"
	"guilded/m/v2/app/lib"
	"guilded/m/v2/app/models"
	"guilded/m/v2/app/usage"
	"guilded/m/v2/app/util"

	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

type meResponse struct {
	User      *models.User `json:"user"`
	TierLabel string       `json:"tierLabel"`
	Usage     usage.Status `json:"usage"`
}

func handleMe(ctx *fasthttp.RequestCtx) {
	user := currentUser(ctx)
	if user == nil {
		return
	}
	status, err := usage.CheckUsage(context.Background(), user, Now())
	if err != nil {
		log.WithError(err).Errorf("handleMe: user %s", user.ID)
		writeError(ctx, fasthttp.StatusInternalServerError, genericErrorMessage)
		return
	}
	util.WriteJSON(ctx, fasthttp.StatusOK, meResponse{
		User:      user,
		TierLabel: lib.Entitlement(user.Tier).Label,
		Usage:     status,
	})
}

// handleLesson applies the lesson's own tier requirement on top of the path rule.
func handleLesson(ctx *fasthttp.RequestCtx) {
	user := currentUser(ctx)
	if user == nil {
		return
	}
	lessonID, _ := ctx.UserValue("lessonId").(string)
	lesson, err := mongo.MongoDBClient.GetLesson(context.Background(), lessonID)
	if errors.Is(err, mongo.ErrLessonNotFound) {
		writeError(ctx, fasthttp.StatusNotFound, "Lesson not found")
		return
	}
	if err != nil {
		log.WithError(err).Errorf("handleLesson: lesson %s", lessonID)
		writeError(ctx, fasthttp.StatusInternalServerError, genericErrorMessage)
		return
	}
	if outcome := access.Decide(user, lesson.RequiredTier, true); outcome != access.OutcomeAllow {
		access.Deny(ctx, outcome, lesson.RequiredTier)
		return
	}
	util.WriteJSON(ctx, fasthttp.StatusOK, lesson)
}
