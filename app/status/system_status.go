package status

import (
	"context"
	"guilded/m/v2/app/ai"
	"guilded/m/v2/app/db/mongo"
	"guilded/m/v2/app/db/redis"
	"guilded/m/v2/app/lib"
	"guilded/m/v2/app/models"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type SystemStatus struct {
	MongoDB *Status     `json:"mongodb"`
	Redis   *Status     `json:"redis"`
	AI      *Status     `json:"ai"`
	Time    time.Time   `json:"time"`
	Usage   SystemUsage `json:"usage"`
}

type SystemUsage struct {
	TotalUsers      int64                 `json:"total_users"`
	UsersPerTier    map[models.Tier]int64 `json:"users_per_tier"`
	TotalTokens     int64                 `json:"total_tokens"`
	TotalAIMessages int64                 `json:"total_ai_messages"`
}

// Status
type Status struct {
	Available bool `json:"available"`
}

// SystemStatusHandler is a handler for system status
type SystemStatusHandler struct {
	MongoDB mongo.MongoClient
	Redis   redis.Client
	AI      *ai.API
}

// New creates a new instance of SystemStatusHandler
func New(mongoDB mongo.MongoClient, redis redis.Client, ai *ai.API) *SystemStatusHandler {
	return &SystemStatusHandler{
		MongoDB: mongoDB,
		Redis:   redis,
		AI:      ai,
	}
}

// GetSystemStatus pings the dependencies and collects usage totals from the ones that answer.
func (h *SystemStatusHandler) GetSystemStatus(ctx context.Context) SystemStatus {
	mongoAvailable := false
	ctxPing, cancelPing := context.WithTimeout(ctx, 10*time.Second)
	defer cancelPing()
	err := h.MongoDB.Ping(ctxPing, readpref.Primary())
	if err != nil {
		logrus.WithError(err).Warn("GetSystemStatus: failed to ping MongoDB")
	} else {
		mongoAvailable = true
	}
	status := SystemStatus{
		MongoDB: &Status{
			Available: mongoAvailable,
		},
		Redis: &Status{
			Available: h.Redis != nil && h.Redis.Ping(ctx).Err() == nil,
		},
		AI: &Status{
			Available: h.AI != nil && h.AI.IsAvailable(ctx),
		},
		Usage: SystemUsage{UsersPerTier: map[models.Tier]int64{}},
		Time:  time.Now(),
	}
	if status.Redis.Available {
		tokens := h.Redis.Get(ctx, lib.SystemTotalTokensKey)
		if tokens.Err() == nil {
			status.Usage.TotalTokens, _ = tokens.Int64()
		}
		messages := h.Redis.Get(ctx, lib.SystemTotalMessagesKey)
		if messages.Err() == nil {
			status.Usage.TotalAIMessages, _ = messages.Int64()
		}
	}
	if status.MongoDB.Available {
		users, _ := h.MongoDB.GetUsersCount(ctx)
		status.Usage.TotalUsers = users
		for _, tier := range lib.Tiers {
			count, err := h.MongoDB.GetUsersCountForTier(ctx, tier)
			if err != nil {
				logrus.WithError(err).Warnf("GetSystemStatus: failed to count %s users", tier)
				continue
			}
			status.Usage.UsersPerTier[tier] = count
		}
	}
	return status
}
