package main

import (
	"context"
	"fmt"
	"guilded/m/v2/app/access"
	"guilded/m/v2/app/ai"
	"guilded/m/v2/app/api"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/db/mongo"
	"guilded/m/v2/app/db/redis"
	"guilded/m/v2/app/notify"
	"guilded/m/v2/app/payments"
	"guilded/m/v2/app/telegram"
	"guilded/m/v2/app/util"
	"guilded/m/v2/app/workers"
	"guilded/m/v2/app/workers/clearusage"
	"guilded/m/v2/app/workers/onstart"
	"guilded/m/v2/app/workers/status"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	fasthttpprom "github.com/carousell/fasthttp-prometheus-middleware"
	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

func main() {
	done := make(chan struct{}, 1)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	// .env is optional, real environment wins
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("failed to load .env: %v", err)
	}

	env := util.Env("ENV", "dev")
	dataDogClient, err := statsd.New(util.Env("DATADOG_AGENT_ADDRESS", "datadog-agent.default.svc.cluster.local:8125"), statsd.WithNamespace("guilded."))
	if err != nil && env == "production" {
		log.Fatalf("error creating main DataDog client: %v", err)
	}

	config.CONFIG = &config.Config{
		AIModel:               util.Env("OPENAI_MODEL", ai.DEFAULT_MODEL),
		AIRequestTimeout:      60 * time.Second,
		AppName:               util.Env("APP_NAME", "Guilded"),
		AppUrl:                util.Env("APP_URL"),
		BackendBaseUrl:        util.Env("BACKEND_BASE_URL", ""),
		DataDogClient:         dataDogClient,
		Environment:           env,
		JWTSecret:             util.Env("JWT_SECRET"),
		MongoDBConnection:     util.Env("MONGO_DB_CONNECTION_STRING"),
		MongoDBName:           util.Env("MONGO_DB_NAME", "guilded"),
		OpenAIAPIKey:          util.Env("OPENAI_API_KEY"),
		OpenAIAPIUrl:          util.Env("OPENAI_API_URL", "https://api.openai.com/v1/chat/completions"),
		PaymentRequestTimeout: 20 * time.Second,
		Redis: config.Redis{
			Host:     util.Env("REDIS_HOST"),
			Port:     "6379",
			Password: util.Env("REDIS_PASSWORD"),
		},
		SlackWebhookUrl:      util.Env("SLACK_WEBHOOK_URL", ""),
		StatusWorkerInterval: time.Minute,
		StripeEndpointSecret: util.Env("STRIPE_ENDPOINT_SECRET"),
		StripePrices: config.StripePrices{
			Journeyman: util.Env("STRIPE_PRICE_JOURNEYMAN"),
			Master:     util.Env("STRIPE_PRICE_MASTER"),
			Hero:       util.Env("STRIPE_PRICE_HERO"),
		},
		StripeToken:            util.Env("STRIPE_TOKEN"),
		TelegramSystemBotToken: util.Env("TELEGRAM_SYSTEM_TOKEN", ""),
		TelegramSystemTo:       util.Env("TELEGRAM_SYSTEM_TO", "0"),
	}

	err = dataDogClient.Count("main.start", 1, []string{"env:" + config.CONFIG.Environment}, 1)
	if err != nil {
		log.Errorf("error sending metric: %v", err)
	}
	if config.CONFIG.Environment == "production" {
		log.SetFormatter(&log.JSONFormatter{
			DisableTimestamp: true,
		})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
			DisableColors: false,
		})
		log.SetLevel(log.TraceLevel)
	}

	redis.RedisClient = redis.NewClient(config.CONFIG.Redis)
	mongoClient := mongo.NewClient(config.CONFIG.MongoDBConnection)
	mongo.MongoDBClient = mongoClient
	// the reconciler is the only writer of tier, status and billing counters
	mongo.BillingDB = mongoClient

	payments.Setup(config.CONFIG)
	aiAPI := ai.NewAPI(config.CONFIG)

	rtr := router.New()
	rtr.GET("/health", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		_, _ = ctx.WriteString("ok")
	})
	api.RegisterRoutes(rtr, aiAPI)
	api.RegisterPages(rtr)

	// system bot for alerts and ops commands
	var systemBot *telegram.Bot
	if env == "production" {
		systemBot, err = telegram.NewSystemBot(rtr, config.CONFIG)
		if err != nil {
			log.Fatalf("ERROR creating system bot: %v", err)
		}
	} else {
		systemBot = telegram.NewStubSystemBot(config.CONFIG)
	}
	notify.Ops = opsNotifier(systemBot, config.CONFIG)

	// run onstart worker once
	if err := onstart.Run(config.CONFIG); err != nil {
		log.Fatalf("ERROR running onstart: %v", err)
	}

	// create status worker
	status.WORKER = workers.NewWorker(aiAPI, config.CONFIG, config.CONFIG.StatusWorkerInterval, status.Run, false)
	go status.WORKER.Start()

	// create usage clearing worker
	clearusage.WORKER = workers.NewWorker(aiAPI, config.CONFIG, time.Hour*23, clearusage.Run, true)
	go clearusage.WORKER.Start()

	p := fasthttpprom.NewPrometheus("")
	p.Use(rtr)

	server := &fasthttp.Server{
		Name:    config.CONFIG.AppName,
		Handler: fasthttp.TimeoutHandler(access.Middleware(p.Handler), time.Second*30, "Request timeout"),
	}

	go TearDown(sigs, done, server, systemBot, status.WORKER, clearusage.WORKER)

	go func() {
		err = server.ListenAndServe(util.Env("BACKEND_LISTEN_ADDRESS", ":8080"))
		util.Assert(err == nil, "ListenAndServe:", err)
	}()

	successfulStartMessage := fmt.Sprintf("🤖 %s started successfully 🚀 inside %s", config.CONFIG.AppName, util.Env("POD_NAME", "unknown"))
	notify.Send(context.Background(), successfulStartMessage)
	log.Info(successfulStartMessage)

	<-done
	log.Info("Done")
}

// opsNotifier fans alerts out to the system chat and Slack, or only logs them without either.
func opsNotifier(systemBot *telegram.Bot, cfg *config.Config) notify.Notifier {
	ops := notify.Multi{}
	if systemBot != nil && !systemBot.Dummy {
		ops = append(ops, systemBot)
	}
	if cfg.SlackWebhookUrl != "" {
		ops = append(ops, notify.Slack{WebhookUrl: cfg.SlackWebhookUrl})
	}
	if len(ops) == 0 {
		return notify.Stub{}
	}
	return ops
}

func TearDown(sigs chan os.Signal, done chan struct{}, server *fasthttp.Server, systemBot *telegram.Bot, statusWorker *workers.Worker, clearUsageWorker *workers.Worker) {
	<-sigs
	exitMessage := fmt.Sprintf("🤖 %s bids farewell ❌ inside %s", config.CONFIG.AppName, util.Env("POD_NAME", "unknown"))
	log.Info(exitMessage)
	notify.Send(context.Background(), exitMessage)
	statusWorker.StopWorker()
	clearUsageWorker.StopWorker()
	systemBot.Close()

	err := server.Shutdown()
	if err != nil {
		log.Errorf("TearDown: Shutdown: %v", err)
	}
	err = mongo.MongoDBClient.Disconnect(context.Background())
	if err != nil {
		log.Errorf("TearDown: Disconnecting from MongoDB: %v", err)
	}
	done <- struct{}{}
}
