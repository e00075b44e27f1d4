// https://platform.openai.com/docs/api-reference/chat/create
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/models"
	"io"
	"net/http"
	"time"
	"unicode/utf8"
)

const (
	DEFAULT_MODEL      = "gpt-4o-mini"
	MAX_MESSAGE_LENGTH = 4000
	HISTORY_LIMIT      = 10
	REPLY_SEPARATOR    = "\n\n---\n\n"

	CHARS_PER_TOKEN = 2.0 // average number of characters per token, must be tuned or moved to tiktoken
)

var ErrEmptyResponse = errors.New("empty response")

// ChatComplete sends one chat completion request and returns the first choice.
func (a *API) ChatComplete(ctx context.Context, completion models.ChatCompletion) (models.ChatResult, error) {
	timeNow := time.Now()
	if completion.Model == "" {
		completion.Model = DEFAULT_MODEL
	}

	body, err := json.Marshal(completion)
	if err != nil {
		return models.ChatResult{}, fmt.Errorf("ChatComplete: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.CONFIG.OpenAIAPIUrl, bytes.NewBuffer(body))
	if err != nil {
		return models.ChatResult{}, fmt.Errorf("ChatComplete: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+config.CONFIG.OpenAIAPIKey)

	status := fmt.Sprintf("status:%d", 0)
	defer func() {
		config.CONFIG.DataDogClient.Timing("openai.chat_complete.latency", time.Since(timeNow), []string{status, "model:" + completion.Model}, 1)
	}()

	resp, err := a.client.Do(req)
	if err != nil {
		return models.ChatResult{}, fmt.Errorf("ChatComplete: %w", err)
	}
	defer resp.Body.Close()
	status = fmt.Sprintf("status:%d", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return models.ChatResult{}, errors.New("ChatComplete: " + resp.Status)
	}

	var response models.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		if err == io.EOF {
			return models.ChatResult{}, fmt.Errorf("ChatComplete: %w", ErrEmptyResponse)
		}
		return models.ChatResult{}, fmt.Errorf("ChatComplete: %w", err)
	}
	if len(response.Choices) == 0 || response.Choices[0].Message.Content == "" {
		return models.ChatResult{}, fmt.Errorf("ChatComplete: %w", ErrEmptyResponse)
	}

	text := response.Choices[0].Message.Content
	usage := response.Usage
	if usage.TotalTokens == 0 {
		usage.CompletionTokens = int(ApproximateTokensCount(text))
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	config.CONFIG.DataDogClient.Distribution("openai.chat_complete.tokens", float64(usage.TotalTokens), []string{"model:" + completion.Model}, 1)
	return models.ChatResult{Text: text, Usage: usage}, nil
}

// BuildCompletion puts the fixed instructions first, then the stored history oldest first, then the new message.
func BuildCompletion(userID string, history []models.AiMessage, message string, maxTokens int) models.ChatCompletion {
	if len(history) > HISTORY_LIMIT {
		history = history[len(history)-HISTORY_LIMIT:]
	}
	messages := make([]models.Message, 0, len(history)+2)
	messages = append(messages, models.Message{Role: "system", Content: config.AI_INSTRUCTIONS})
	for _, m := range history {
		messages = append(messages, models.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, models.Message{Role: "user", Content: message})
	return models.ChatCompletion{
		Model:     config.CONFIG.AIModel,
		Messages:  messages,
		MaxTokens: maxTokens,
		User:      userID,
	}
}

// WithDisclaimer prefixes a reply with the educational disclaimer.
func WithDisclaimer(text string) string {
	return config.AI_DISCLAIMER + REPLY_SEPARATOR + text
}

func ApproximateTokensCount(message string) float64 {
	return float64(utf8.RuneCountInString(message)) / CHARS_PER_TOKEN
}
