package redis

import (
	"context"
	"guilded/m/v2/app/lib"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// AddAIUsage bumps the monthly per-user and system counters. They feed the status page only,
// quota enforcement lives on the user record.
func AddAIUsage(ctx context.Context, userID string, tokens int) {
	if RedisClient == nil {
		return
	}
	for key, value := range map[string]int64{
		lib.UserMonthlyTokensKey(userID):   int64(tokens),
		lib.UserMonthlyMessagesKey(userID): 1,
		lib.SystemTotalTokensKey:           int64(tokens),
		lib.SystemTotalMessagesKey:         1,
	} {
		if err := RedisClient.IncrBy(ctx, key, value).Err(); err != nil {
			log.WithError(err).WithField("key", key).Warn("failed to update usage counter")
		}
	}
}

// GetCounter reads an integer counter, treating a missing key as zero.
func GetCounter(ctx context.Context, key string) int64 {
	value, err := RedisClient.Get(ctx, key).Result()
	if err != nil {
		return 0
	}
	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return count
}
