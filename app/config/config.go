package config

import (
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
)

var CONFIG *Config

const (
	AI_INSTRUCTIONS = `You are Guilded AI, an educational assistant specializing in credit literacy and financial education.

Your role is to:
- Explain credit concepts in clear, educational terms
- Help users understand credit reports, scores, and factors
- Provide general educational information about dispute processes
- Guide users through understanding their credit rights under FCRA, FDCPA

You MUST:
- Always frame responses as educational information, not professional advice
- Never promise specific credit score improvements or outcomes
- Never claim to perform credit repair services
- Always encourage consulting qualified professionals for specific situations
- Be supportive, clear, and educational in tone

Remember: You are an educational tool, not a credit repair service.`

	AI_DISCLAIMER = "This content is provided for educational purposes only and does not constitute legal or financial advice."
)

type Config struct {
	AIModel                string
	AIRequestTimeout       time.Duration
	AppName                string
	AppUrl                 string
	BackendBaseUrl         string
	DataDogClient          statsd.ClientInterface
	Environment            string
	JWTSecret              string
	MongoDBName            string
	MongoDBConnection      string
	OpenAIAPIKey           string
	OpenAIAPIUrl           string
	PaymentRequestTimeout  time.Duration
	Redis                  Redis
	SlackWebhookUrl        string
	StatusWorkerInterval   time.Duration
	StripeEndpointSecret   string
	StripePrices           StripePrices
	StripeToken            string
	TelegramSystemBotToken string
	TelegramSystemTo       string
}

type Redis struct {
	Host     string
	Port     string
	Password string
}

// StripePrices holds the recurring price ids of the paid tiers.
type StripePrices struct {
	Journeyman string
	Master     string
	Hero       string
}
