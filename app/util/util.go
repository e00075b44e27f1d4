package util

import (
	"encoding/json"
	"guilded/m/v2/app/config"
	"os"
	"strings"

	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

func Env(name string, defaultValue ...string) string {
	value, ok := os.LookupEnv(name)
	if !ok && len(defaultValue) > 0 {
		return defaultValue[0]
	}
	Assert(ok, "Environment variable "+name+" not found")
	return value
}

func Assert(ok bool, args ...any) {
	if !ok {
		log.Fatal("Assertion failed, killing app!!!", append([]any{"FATAL:"}, args...))
		os.Exit(1)
	}
}

func GetBotLoggerOption(cfg *config.Config) telego.BotOption {
	if cfg.Environment == "production" {
		return telego.WithDefaultLogger(false, true)
	} else {
		return telego.WithDefaultDebugLogger()
	}
}

// WriteJSON writes v with the given status code.
func WriteJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Errorf("WriteJSON: %v", err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}

// ChunkString splits s into chunks of at most chunkSize bytes, on line breaks where possible and on words otherwise.
func ChunkString(s string, chunkSize int) []string {
	chunks := []string{}
	lines := strings.Split(s, "\n")
	if len(lines) == 0 {
		return chunks
	}

	currentChunk := ""
	for i_line, line := range lines {
		if len(currentChunk)+len(line)+1 > chunkSize && currentChunk != "" {
			chunks = append(chunks, currentChunk)
			currentChunk = ""
		}
		if currentChunk != "" && i_line < len(lines) {
			currentChunk += "\n"
		}

		if len(line) > chunkSize {
			// split current line by words
			words := strings.Fields(line)
			currentChunk = ""
			for _, word := range words {
				if len(currentChunk)+len(word)+1 > chunkSize {
					chunks = append(chunks, currentChunk)
					currentChunk = ""
				}
				if currentChunk != "" {
					currentChunk += " "
				}
				currentChunk += word
			}
			if currentChunk != "" && i_line < len(lines)-1 {
				currentChunk += "\n"
			}
		} else {
			currentChunk += line
		}
	}
	if currentChunk != "" {
		chunks = append(chunks, currentChunk)
	}
	return chunks
}
