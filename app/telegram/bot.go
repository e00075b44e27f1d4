// Package telegram runs the ops bot: alerts go to the system chat and operators query the
// service with slash commands from that chat only.
package telegram

import (
	"context"
	"fmt"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/models"
	"guilded/m/v2/app/util"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const MAX_MESSAGE_LENGTH = 4096

type Bot struct {
	*telego.Bot
	*th.BotHandler
	Name  string
	Dummy bool
	telego.ChatID
}

var SystemBOT *Bot

func NewSystemBot(rtr *router.Router, cfg *config.Config) (*Bot, error) {
	if cfg.TelegramSystemBotToken == "" {
		return nil, fmt.Errorf("system bot token is empty")
	}
	newBot, err := telego.NewBot(cfg.TelegramSystemBotToken, util.GetBotLoggerOption(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create system bot: %w", err)
	}
	setupSystemCommandHandlers()
	updates, err := signBotForUpdates(newBot, rtr, cfg.BackendBaseUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to sign system bot for updates: %w", err)
	}
	bh, err := th.NewBotHandler(newBot, updates, th.WithStopTimeout(time.Second*10))
	if err != nil {
		return nil, fmt.Errorf("failed to setup system bot handler: %w", err)
	}

	SystemBOT = &Bot{
		Bot:        newBot,
		BotHandler: bh,
		ChatID:     systemChatID(cfg),
		Name:       "system",
	}

	bh.HandleMessage(handleSystemMessage)

	go bh.Start()

	return SystemBOT, nil
}

// NewStubSystemBot accepts every call without reaching Telegram. Used outside production.
func NewStubSystemBot(cfg *config.Config) *Bot {
	SystemBOT = &Bot{
		Dummy:  true,
		Bot:    newStubBot(cfg),
		ChatID: systemChatID(cfg),
		Name:   "system",
	}
	return SystemBOT
}

func systemChatID(cfg *config.Config) telego.ChatID {
	chatId, _ := strconv.ParseInt(cfg.TelegramSystemTo, 10, 64)
	return tu.ID(chatId)
}

// newStubBot creates new stub bot instance, that can be used for testing
func newStubBot(cfg *config.Config) *telego.Bot {
	stubBot, err := telego.NewBot(generateStubToken(), telego.WithHTTPClient(&http.Client{
		Transport: models.RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(`{"ok": true, "result": {}}`)),
			}, nil
		}),
	}), util.GetBotLoggerOption(cfg))
	if err != nil {
		log.Fatalf("Failed to create stub bot: %v", err)
	}
	return stubBot
}

// stub token that matches the pattern ^\d{9,10}:[\w-]{35}$
func generateStubToken() string {
	const digits = "0123456789"
	const alphaNum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"

	tokenBuilder := strings.Builder{}
	for i := 0; i < 9; i++ {
		tokenBuilder.WriteByte(digits[rand.Intn(len(digits))])
	}
	tokenBuilder.WriteString(":")
	for i := 0; i < 35; i++ {
		tokenBuilder.WriteByte(alphaNum[rand.Intn(len(alphaNum))])
	}
	return tokenBuilder.String()
}

func signBotForUpdates(bot *telego.Bot, rtr *router.Router, baseUrl string) (<-chan telego.Update, error) {
	return bot.UpdatesViaWebhook(
		"/sbot"+bot.Token(),
		telego.WithWebhookSet(&telego.SetWebhookParams{
			URL:            baseUrl + "/sbot" + bot.Token(),
			AllowedUpdates: []string{"message"},
		}),
		telego.WithWebhookServer(telego.FastHTTPWebhookServer{
			Logger: log.StandardLogger(),
			Server: &fasthttp.Server{},
			Router: rtr,
		}),
	)
}

// Notify sends an ops alert to the system chat, split into Telegram-sized messages.
func (b *Bot) Notify(ctx context.Context, message string) error {
	for _, chunk := range util.ChunkString(message, MAX_MESSAGE_LENGTH) {
		if _, err := b.SendMessage(tu.Message(b.ChatID, chunk)); err != nil {
			return fmt.Errorf("telegram Notify: %w", err)
		}
	}
	return nil
}

// Close stops receiving updates.
func (b *Bot) Close() {
	if b.Dummy {
		return
	}
	if b.BotHandler != nil {
		b.BotHandler.Stop()
	}
	if err := b.Bot.StopWebhook(); err != nil {
		log.Errorf("Close: StopWebhook for %s bot: %v", b.Name, err)
	}
}

func handleSystemMessage(bot *telego.Bot, message telego.Message) {
	if SystemBOT.ChatID != tu.ID(message.Chat.ID) {
		log.Errorf("System bot received message from chat %d, but expected from %d", message.Chat.ID, SystemBOT.ChatID.ID)
		return
	}

	if strings.HasPrefix(message.Text, "/") {
		log.Infof("System bot received command: %s", message.Text) // audit
		SystemCommandHandlers.handleCommand(context.Background(), SystemBOT, &message)
	}
}
