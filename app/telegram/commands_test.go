package telegram

import (
	"context"
	"errors"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/db/mongo"
	"guilded/m/v2/app/db/redis"
	"guilded/m/v2/app/lib"
	"guilded/m/v2/app/models"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/undefinedlabs/go-mpatch"
)

const systemChat = 4242

func init() {
	testClient, err := statsd.New("127.0.0.1:8125", statsd.WithNamespace("tests."))
	if err != nil {
		log.Fatalf("error creating test DataDog client: %v", err)
	}
	config.CONFIG = &config.Config{
		DataDogClient:    testClient,
		TelegramSystemTo: "4242",
	}
	setupSystemCommandHandlers()
	SystemBOT = &Bot{
		Name:   "system",
		Bot:    &telego.Bot{},
		ChatID: tu.ID(systemChat),
	}
}

// captureSendMessage records the texts sent to the system chat.
func captureSendMessage(t *testing.T, fail error) *[]string {
	var mu sync.Mutex
	sent := []string{}
	patch, err := mpatch.PatchInstanceMethodByName(
		reflect.TypeOf(SystemBOT.Bot),
		"SendMessage",
		func(bot *telego.Bot, params *telego.SendMessageParams) (*telego.Message, error) {
			if params.ChatID.ID != systemChat {
				t.Errorf("Expected chat ID %d, got %d", systemChat, params.ChatID.ID)
			}
			mu.Lock()
			defer mu.Unlock()
			sent = append(sent, params.Text)
			return &telego.Message{}, fail
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = patch.Unpatch() })
	return &sent
}

func command(text string) *telego.Message {
	return &telego.Message{Text: text, Chat: telego.Chat{ID: systemChat}}
}

func TestHandleUnknownCommand(t *testing.T) {
	sent := captureSendMessage(t, nil)
	SystemCommandHandlers.handleCommand(context.Background(), SystemBOT, command("/dance"))
	assert.Equal(t, []string{"Unknown command \U0001f937"}, *sent)
}

func TestHandleUsersCount(t *testing.T) {
	mongo.MongoDBClient = mongo.NewMockMongoDBClient(
		models.User{ID: "1", Tier: models.TierMaster},
		models.User{ID: "2", Tier: models.TierApprentice},
	)
	sent := captureSendMessage(t, nil)

	SystemCommandHandlers.handleCommand(context.Background(), SystemBOT, command("/userscount@guilded_ops_bot"))
	SystemCommandHandlers.handleCommand(context.Background(), SystemBOT, command("/usersfortier master"))
	SystemCommandHandlers.handleCommand(context.Background(), SystemBOT, command("/usersfortier wizard"))
	SystemCommandHandlers.handleCommand(context.Background(), SystemBOT, command("/usersfortier"))

	assert.Equal(t, []string{
		"Users: 2",
		"Users count for MASTER tier: 1",
		`Unknown tier "wizard"`,
		"Please provide tier name",
	}, *sent)
}

func TestHandleUser(t *testing.T) {
	mongo.MongoDBClient = mongo.NewMockMongoDBClient(models.User{ID: "u1", Tier: models.TierHero, StripeCustomerId: "cus_1"})
	redis.RedisClient = redis.NewMockRedisClient()
	redis.AddAIUsage(context.Background(), "u1", 120)
	sent := captureSendMessage(t, nil)

	SystemCommandHandlers.handleCommand(context.Background(), SystemBOT, command("/user u1"))
	SystemCommandHandlers.handleCommand(context.Background(), SystemBOT, command("/user nobody"))

	assert.Len(t, *sent, 2)
	assert.Contains(t, (*sent)[0], `"tier":"HERO"`)
	assert.Contains(t, (*sent)[0], "cus_1")
	assert.Contains(t, (*sent)[0], "monthly tokens        - 120")
	assert.Contains(t, (*sent)[1], "Failed to get user")
}

func TestHandleUsageReset(t *testing.T) {
	store := mongo.NewMockMongoDBClient(models.User{
		ID:               "u1",
		Tier:             models.TierJourneyman,
		AIUsageCount:     15,
		AIUsageResetDate: time.Now().AddDate(0, 0, 10),
	})
	mongo.MongoDBClient = store
	redis.RedisClient = redis.NewMockRedisClient()
	redis.AddAIUsage(context.Background(), "u1", 120)
	sent := captureSendMessage(t, nil)

	SystemCommandHandlers.handleCommand(context.Background(), SystemBOT, command("/usagereset u1"))

	assert.Equal(t, []string{"Usage reset for user: u1"}, *sent)
	assert.Equal(t, 0, store.Users["u1"].AIUsageCount)
	assert.Equal(t, int64(0), redis.GetCounter(context.Background(), lib.UserMonthlyTokensKey("u1")))
	// system totals are kept
	assert.Equal(t, int64(120), redis.GetCounter(context.Background(), lib.SystemTotalTokensKey))
}

func TestHandleStatus(t *testing.T) {
	redis.RedisClient = redis.NewMockRedisClient()
	sent := captureSendMessage(t, nil)

	SystemCommandHandlers.handleCommand(context.Background(), SystemBOT, command("/status"))
	redis.RedisClient.Set(context.Background(), lib.SystemStatusKey, "all good", 0)
	SystemCommandHandlers.handleCommand(context.Background(), SystemBOT, command("/status"))

	assert.Equal(t, []string{"No status collected yet", "all good"}, *sent)
}

func TestNotifyChunksLongAlerts(t *testing.T) {
	sent := captureSendMessage(t, nil)
	line := strings.Repeat("x", 3000)

	err := SystemBOT.Notify(context.Background(), line+"\n"+line)

	assert.NoError(t, err)
	assert.Equal(t, []string{line, line}, *sent)
}

func TestNotifyReturnsSendErrors(t *testing.T) {
	captureSendMessage(t, errors.New("Forbidden: bot was blocked"))
	err := SystemBOT.Notify(context.Background(), "stripe webhook failed")
	assert.ErrorContains(t, err, "bot was blocked")
}

func TestGenerateStubToken(t *testing.T) {
	assert.Regexp(t, `^\d{9,10}:[\w-]{35}$`, generateStubToken())
}
