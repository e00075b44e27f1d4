// package to connect to AI API
package ai

import (
	"context"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/models"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	TIMEOUT = 60 * time.Second
)

type API struct {
	client *http.Client
}

// NewAPI creates new AI API
func NewAPI(cfg *config.Config) *API {
	timeout := cfg.AIRequestTimeout
	if timeout == 0 {
		timeout = TIMEOUT
	}
	return &API{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// IsAvailable checks whether AI API is available
func (a *API) IsAvailable(ctx context.Context) bool {
	response, err := a.ChatComplete(ctx, models.ChatCompletion{
		Model: config.CONFIG.AIModel,
		Messages: []models.Message{
			{
				Role:    "system",
				Content: "Reply only \"OK\" or \"Not OK\"",
			},
			{
				Role:    "user",
				Content: "test",
			},
		},
		MaxTokens: 5,
		User:      "SYSTEM:STATUS",
	})
	if err != nil {
		log.Errorf("PING: API error: %+v", err)
		return false
	}

	log.Debugf("PING: API response: %+v", response)
	return true
}
