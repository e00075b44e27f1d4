package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/db/mongo"
	"guilded/m/v2/app/db/redis"
	"guilded/m/v2/app/lib"
	"guilded/m/v2/app/models"
	"guilded/m/v2/app/usage"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"
)

type Command string

const (
	SYSTEMStatusCommand       Command = "/status"
	SYSTEMUserCommand         Command = "/user"
	SYSTEMUsersCountCommand   Command = "/userscount"
	SYSTEMUsersForTierCommand Command = "/usersfortier"
	SYSTEMUsageResetCommand   Command = "/usagereset"
)

type CommandHandler struct {
	Command Command
	Handler func(context.Context, *Bot, *telego.Message)
}

type CommandHandlers []*CommandHandler

var SystemCommandHandlers CommandHandlers = CommandHandlers{}

func newCommandHandler(command Command, handler func(context.Context, *Bot, *telego.Message)) *CommandHandler {
	return &CommandHandler{
		Command: command,
		Handler: handler,
	}
}

func setupSystemCommandHandlers() {
	SystemCommandHandlers = CommandHandlers{
		newCommandHandler(SYSTEMStatusCommand, handleStatus),
		newCommandHandler(SYSTEMUserCommand, handleUser),
		newCommandHandler(SYSTEMUsersCountCommand, handleUsersCount),
		newCommandHandler(SYSTEMUsersForTierCommand, handleUsersForTier),
		newCommandHandler(SYSTEMUsageResetCommand, handleUsageReset),
	}
}

func (c CommandHandlers) handleCommand(ctx context.Context, bot *Bot, message *telego.Message) {
	commandArray := strings.Split(message.Text, " ")
	command := Command(strings.SplitN(commandArray[0], "@", 2)[0])

	commandHandler := c.getCommandHandler(command)
	if commandHandler != nil {
		config.CONFIG.DataDogClient.Incr("command", []string{"command:" + string(command), "bot_name:" + bot.Name}, 1)
		commandHandler.Handler(ctx, bot, message)
	} else {
		config.CONFIG.DataDogClient.Incr("unknown_command", nil, 1)
		bot.SendMessage(tu.Message(bot.ChatID, "Unknown command \U0001f937"))
	}
}

func (c CommandHandlers) getCommandHandler(command Command) *CommandHandler {
	for _, ch := range c {
		if ch.Command == command {
			return ch
		}
	}
	return nil
}

// commandArgument returns the first argument after the command, asking for it when missing.
func commandArgument(bot *Bot, message *telego.Message, name string) (string, bool) {
	commandArray := strings.Fields(message.Text)
	if len(commandArray) < 2 {
		bot.SendMessage(tu.Message(bot.ChatID, "Please provide "+name))
		return "", false
	}
	return commandArray[1], true
}

func handleStatus(ctx context.Context, bot *Bot, message *telego.Message) {
	systemStatus, err := redis.RedisClient.Get(ctx, lib.SystemStatusKey).Result()
	if err != nil || systemStatus == "" {
		bot.SendMessage(tu.Message(bot.ChatID, "No status collected yet"))
		return
	}
	bot.SendMessage(tu.Message(bot.ChatID, systemStatus))
}

func handleUser(ctx context.Context, bot *Bot, message *telego.Message) {
	userId, ok := commandArgument(bot, message, "user id")
	if !ok {
		return
	}
	user, err := mongo.MongoDBClient.GetUser(ctx, userId)
	if err != nil {
		bot.SendMessage(tu.Message(bot.ChatID, fmt.Sprintf("Failed to get user: %s", err)))
		return
	}
	userJson, err := json.Marshal(user)
	if err != nil {
		log.Errorf("Failed to marshal user: %s", err)
	}
	userString := "DB:\n" + string(userJson) + "\n\n"
	userString += "Stripe customer       - " + user.StripeCustomerId + "\n"
	userString += "Stripe subscription   - " + user.StripeSubscriptionId + "\n\n"
	userString += "Redis:\nmonthly tokens        - " + fmt.Sprint(redis.GetCounter(ctx, lib.UserMonthlyTokensKey(userId))) + "\n"
	userString += "monthly messages      - " + fmt.Sprint(redis.GetCounter(ctx, lib.UserMonthlyMessagesKey(userId)))

	bot.SendMessage(tu.Message(bot.ChatID, "User: "+userString))
}

func handleUsersCount(ctx context.Context, bot *Bot, message *telego.Message) {
	users, err := mongo.MongoDBClient.GetUsersCount(ctx)
	if err != nil {
		bot.SendMessage(tu.Message(bot.ChatID, fmt.Sprintf("Failed to get users: %s", err)))
		return
	}
	bot.SendMessage(tu.Message(bot.ChatID, fmt.Sprintf("Users: %d", users)))
}

func handleUsersForTier(ctx context.Context, bot *Bot, message *telego.Message) {
	tierName, ok := commandArgument(bot, message, "tier name")
	if !ok {
		return
	}
	tier, err := models.ParseTier(tierName)
	if err != nil {
		bot.SendMessage(tu.Message(bot.ChatID, fmt.Sprintf("Unknown tier %q", tierName)))
		return
	}
	usersCount, err := mongo.MongoDBClient.GetUsersCountForTier(ctx, tier)
	if err != nil {
		bot.SendMessage(tu.Message(bot.ChatID, fmt.Sprintf("Failed to get users: %s", err)))
		return
	}
	bot.SendMessage(tu.Message(bot.ChatID, fmt.Sprintf("Users count for %s tier: %d", tier, usersCount)))
}

// handleUsageReset gives the user a fresh monthly allowance right away.
func handleUsageReset(ctx context.Context, bot *Bot, message *telego.Message) {
	userId, ok := commandArgument(bot, message, "user id")
	if !ok {
		return
	}
	user, err := mongo.MongoDBClient.GetUser(ctx, userId)
	if err != nil {
		bot.SendMessage(tu.Message(bot.ChatID, fmt.Sprintf("Failed to get user: %s", err)))
		return
	}
	reset, err := mongo.MongoDBClient.ResetUserAIUsage(ctx, userId, user.AIUsageResetDate, usage.NextResetDate(time.Now()))
	if err != nil {
		bot.SendMessage(tu.Message(bot.ChatID, fmt.Sprintf("Failed to reset usage: %s", err)))
		return
	}
	if !reset {
		bot.SendMessage(tu.Message(bot.ChatID, "Usage changed concurrently, try again: "+userId))
		return
	}
	redis.RedisClient.Del(ctx, lib.UserMonthlyTokensKey(userId), lib.UserMonthlyMessagesKey(userId))
	bot.SendMessage(tu.Message(bot.ChatID, "Usage reset for user: "+userId))
}
