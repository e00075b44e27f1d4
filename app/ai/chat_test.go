package ai

import (
	"context"
	"encoding/json"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/models"
	"io"
	"log"
	"net/http"
	"strings"
	"testing"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/stretchr/testify/assert"
)

func init() {
	testClient, err := statsd.New("127.0.0.1:8125", statsd.WithNamespace("tests."))
	if err != nil {
		log.Fatalf("error creating test DataDog client: %v", err)
	}
	config.CONFIG = &config.Config{
		AIModel:       "gpt-4o-mini",
		DataDogClient: testClient,
		OpenAIAPIKey:  "sk-test",
		OpenAIAPIUrl:  "https://api.openai.test/v1/chat/completions",
	}
}

func newTestAPI(fn models.RoundTripperFunc) *API {
	return &API{client: &http.Client{Transport: fn}}
}

func respond(status int, body string) (*http.Response, error) {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func TestChatComplete(t *testing.T) {
	var sent models.ChatCompletion
	api := newTestAPI(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&sent))
		return respond(http.StatusOK, `{"choices":[{"index":0,"message":{"role":"assistant","content":"A credit score summarizes..."}}],"usage":{"prompt_tokens":40,"completion_tokens":12,"total_tokens":52}}`)
	})

	result, err := api.ChatComplete(context.Background(), BuildCompletion("1", nil, "What is a credit score?", 2000))
	assert.NoError(t, err)
	assert.Equal(t, "A credit score summarizes...", result.Text)
	assert.Equal(t, 52, result.Usage.TotalTokens)

	assert.Equal(t, 2000, sent.MaxTokens)
	assert.Equal(t, "1", sent.User)
	assert.Equal(t, "gpt-4o-mini", sent.Model)
}

func TestChatCompleteFailures(t *testing.T) {
	api := newTestAPI(func(req *http.Request) (*http.Response, error) {
		return respond(http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`)
	})
	_, err := api.ChatComplete(context.Background(), BuildCompletion("1", nil, "hi", 500))
	assert.Error(t, err)

	api = newTestAPI(func(req *http.Request) (*http.Response, error) {
		return respond(http.StatusOK, `{"choices":[]}`)
	})
	_, err = api.ChatComplete(context.Background(), BuildCompletion("1", nil, "hi", 500))
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestChatCompleteApproximatesMissingUsage(t *testing.T) {
	api := newTestAPI(func(req *http.Request) (*http.Response, error) {
		return respond(http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"abcdefgh"}}]}`)
	})
	result, err := api.ChatComplete(context.Background(), BuildCompletion("1", nil, "hi", 500))
	assert.NoError(t, err)
	assert.Equal(t, 4, result.Usage.TotalTokens)
}

func TestBuildCompletionKeepsRecentHistory(t *testing.T) {
	history := []models.AiMessage{}
	for i := 0; i < 14; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		history = append(history, models.AiMessage{Role: role, Content: string(rune('a' + i))})
	}

	completion := BuildCompletion("1", history, "new question", 500)
	assert.Len(t, completion.Messages, HISTORY_LIMIT+2)
	assert.Equal(t, "system", completion.Messages[0].Role)
	assert.Equal(t, config.AI_INSTRUCTIONS, completion.Messages[0].Content)
	assert.Equal(t, "e", completion.Messages[1].Content)
	assert.Equal(t, "new question", completion.Messages[len(completion.Messages)-1].Content)
}

func TestWithDisclaimer(t *testing.T) {
	reply := WithDisclaimer("Pay on time.")
	assert.True(t, strings.HasPrefix(reply, config.AI_DISCLAIMER))
	assert.True(t, strings.HasSuffix(reply, "---\n\nPay on time."))
}
