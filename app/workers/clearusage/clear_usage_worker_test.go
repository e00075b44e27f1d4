package clearusage

import (
	"context"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/db/redis"
	"guilded/m/v2/app/lib"
	"testing"

	"github.com/DataDog/datadog-go/v5/statsd"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func init() {
	testClient, err := statsd.New("127.0.0.1:8125", statsd.WithNamespace("tests."))
	if err != nil {
		log.Fatalf("error creating test DataDog client: %v", err)
	}
	config.CONFIG = &config.Config{
		DataDogClient: testClient,
	}
}

func TestRunClearsMonthlyCountersOnly(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	ctx := context.Background()
	redis.AddAIUsage(ctx, "u1", 100)
	redis.AddAIUsage(ctx, "u2", 50)
	redis.RedisClient.Set(ctx, lib.SystemStatusKey, "{}", 0)

	Run()

	for _, user := range []string{"u1", "u2"} {
		assert.Equal(t, int64(0), redis.GetCounter(ctx, lib.UserMonthlyTokensKey(user)))
		assert.Equal(t, int64(0), redis.GetCounter(ctx, lib.UserMonthlyMessagesKey(user)))
	}
	assert.Equal(t, int64(150), redis.GetCounter(ctx, lib.SystemTotalTokensKey))
	assert.Equal(t, int64(2), redis.GetCounter(ctx, lib.SystemTotalMessagesKey))
	assert.Equal(t, "{}", redis.RedisClient.Get(ctx, lib.SystemStatusKey).Val())
}

func TestRunWithNothingToClear(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	Run()
	assert.Empty(t, redis.RedisClient.Keys(context.Background(), "*").Val())
}
