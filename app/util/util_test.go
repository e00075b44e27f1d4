package util

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func TestChunkString(t *testing.T) {
	tests := []struct {
		name      string
		s         string
		chunkSize int
		want      []string
	}{
		{
			name:      "Empty alert",
			s:         "",
			chunkSize: 10,
			want:      []string{},
		},
		{
			name:      "Fits in one message",
			s:         "event failed\nretry scheduled",
			chunkSize: 100,
			want:      []string{"event failed\nretry scheduled"},
		},
		{
			name:      "Long line split by words",
			s:         "stripe event evt_1 failed to process",
			chunkSize: 20,
			want:      []string{"stripe event evt_1", "failed to process"},
		},
		{
			name:      "Short line then long line",
			s:         "a short line\nthis line is too long",
			chunkSize: 15,
			want:      []string{"a short line", "this line is", "too long"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChunkString(tt.s, tt.chunkSize); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("\nRESULT:\n%s\nEXPECTED:\n%s", strings.Join(got, "\n"), strings.Join(tt.want, "\n"))
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	WriteJSON(ctx, fasthttp.StatusTooManyRequests, map[string]any{"error": "quota"})

	assert.Equal(t, fasthttp.StatusTooManyRequests, ctx.Response.StatusCode())
	assert.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))
	assert.JSONEq(t, `{"error":"quota"}`, string(ctx.Response.Body()))
}
