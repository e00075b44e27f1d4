// Run regularly to check status of the system and persist it to the redis
package status

import (
	"context"
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"

	"guilded/m/v2/app/config"
	"guilded/m/v2/app/db/mongo"
	"guilded/m/v2/app/db/redis"
	"guilded/m/v2/app/lib"
	"guilded/m/v2/app/notify"
	"guilded/m/v2/app/status"
	"guilded/m/v2/app/workers"
)

var WORKER *workers.Worker

func Run() {
	systemStatus, err := redis.WrapInCache(redis.RedisClient, lib.SystemStatusKey, WORKER.Interval*10, FetchStatus)()
	if err != nil {
		log.Errorf("failed to fetch system status: %s", err)
		return
	}
	log.Debugf("system status: %s", systemStatus)
}

func FetchStatus() (string, error) {
	w := WORKER
	ctx := context.Background()
	systemStatus := status.New(mongo.MongoDBClient, redis.RedisClient, w.AI).GetSystemStatus(ctx)
	config.CONFIG.DataDogClient.Gauge("status_worker.ai_available", boolToFloat64(systemStatus.AI.Available), nil, 1)
	config.CONFIG.DataDogClient.Gauge("status_worker.mongo_db_available", boolToFloat64(systemStatus.MongoDB.Available), nil, 1)
	config.CONFIG.DataDogClient.Gauge("status_worker.redis_available", boolToFloat64(systemStatus.Redis.Available), nil, 1)
	config.CONFIG.DataDogClient.Gauge("status_worker.total_tokens", float64(systemStatus.Usage.TotalTokens), nil, 1)
	config.CONFIG.DataDogClient.Gauge("status_worker.total_ai_messages", float64(systemStatus.Usage.TotalAIMessages), nil, 1)
	config.CONFIG.DataDogClient.Gauge("status_worker.total_users", float64(systemStatus.Usage.TotalUsers), nil, 1)
	for tier, count := range systemStatus.Usage.UsersPerTier {
		config.CONFIG.DataDogClient.Gauge("status_worker.users", float64(count), []string{"tier:" + strings.ToLower(string(tier))}, 1)
	}
	if !systemStatus.MongoDB.Available {
		reportUnavailableStatus(ctx, w.AppName, "MongoDB")
	}
	if !systemStatus.Redis.Available {
		reportUnavailableStatus(ctx, w.AppName, "Redis")
	}
	if !systemStatus.AI.Available {
		reportUnavailableStatus(ctx, w.AppName, "AI")
	}
	statusBytes, _ := json.Marshal(systemStatus)
	return string(statusBytes), nil
}

func reportUnavailableStatus(ctx context.Context, appName string, systemName string) {
	message := "🔥 " + appName + ": " + systemName + " is down 🔥"
	log.Error(message)
	notify.Send(ctx, message)
}

func boolToFloat64(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
