package status

import (
	"context"
	"encoding/json"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/db/mongo"
	"guilded/m/v2/app/db/redis"
	"guilded/m/v2/app/lib"
	"guilded/m/v2/app/models"
	"guilded/m/v2/app/notify"
	"guilded/m/v2/app/workers"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingNotifier) Notify(ctx context.Context, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

func init() {
	testClient, err := statsd.New("127.0.0.1:8125", statsd.WithNamespace("tests."))
	if err != nil {
		log.Fatalf("error creating test DataDog client: %v", err)
	}
	config.CONFIG = &config.Config{
		AppName:       "guilded",
		DataDogClient: testClient,
	}
}

func TestRunCachesStatus(t *testing.T) {
	mongo.MongoDBClient = mongo.NewMockMongoDBClient(
		models.User{ID: "1", Tier: models.TierApprentice},
		models.User{ID: "2", Tier: models.TierMaster},
		models.User{ID: "3", Tier: models.TierMaster},
	)
	redis.RedisClient = redis.NewMockRedisClient()
	redis.AddAIUsage(context.Background(), "2", 300)
	recorder := &recordingNotifier{}
	notify.Ops = recorder
	defer func() { notify.Ops = notify.Stub{} }()

	// no AI client configured, so AI reports down
	WORKER = workers.NewWorker(nil, config.CONFIG, time.Minute, Run, false)
	Run()

	cached, err := redis.RedisClient.Get(context.Background(), lib.SystemStatusKey).Result()
	assert.NoError(t, err)

	var status struct {
		MongoDB struct{ Available bool } `json:"mongodb"`
		AI      struct{ Available bool } `json:"ai"`
		Usage   struct {
			TotalUsers      int64            `json:"total_users"`
			UsersPerTier    map[string]int64 `json:"users_per_tier"`
			TotalTokens     int64            `json:"total_tokens"`
			TotalAIMessages int64            `json:"total_ai_messages"`
		} `json:"usage"`
	}
	assert.NoError(t, json.Unmarshal([]byte(cached), &status))
	assert.True(t, status.MongoDB.Available)
	assert.False(t, status.AI.Available)
	assert.Equal(t, int64(3), status.Usage.TotalUsers)
	assert.Equal(t, int64(2), status.Usage.UsersPerTier["MASTER"])
	assert.Equal(t, int64(0), status.Usage.UsersPerTier["HERO"])
	assert.Equal(t, int64(300), status.Usage.TotalTokens)
	assert.Equal(t, int64(1), status.Usage.TotalAIMessages)

	assert.Equal(t, []string{"🔥 guilded: AI is down 🔥"}, recorder.messages)

	// served from cache on the next run
	Run()
	assert.Len(t, recorder.messages, 1)
}
