// Run every month to clear the monthly AI usage counters shown on the status page
package clearusage

import (
	"context"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/db/redis"
	"guilded/m/v2/app/lib"
	"guilded/m/v2/app/workers"

	log "github.com/sirupsen/logrus"
)

var WORKER *workers.Worker

// Run clears the per-user redis counters. The quota itself lives on the user record and is reset
// lazily by the usage meter.
func Run() {
	clearByWildcard(lib.UserMonthlyTokensKey("*"))
	clearByWildcard(lib.UserMonthlyMessagesKey("*"))
	log.Info("finished usage clearing")
}

func clearByWildcard(wildcard string) {
	log.Infof("clearing %s..", wildcard)
	keys := redis.RedisClient.Keys(context.Background(), wildcard)
	config.CONFIG.DataDogClient.Gauge("clear_usage_worker.keys", float64(len(keys.Val())), []string{"wildcard:" + wildcard}, 1)
	log.Infof("clearing %s, keys count: %d", wildcard, len(keys.Val()))

	if len(keys.Val()) == 0 {
		log.Infof("no keys to clear for %s", wildcard)
		return
	}
	cmd := redis.RedisClient.Del(context.Background(), keys.Val()...)
	if cmd.Err() != nil {
		log.Errorf("failed to clear %s: %s", wildcard, cmd.Err())
		return
	}
	count, _ := cmd.Result()
	log.Infof("cleared %d keys for %s", count, wildcard)
}
