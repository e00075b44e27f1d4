package redis

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	r "github.com/go-redis/redis/v8"
)

// MockRedisClient is a mock for the Redis client in the redis package.
type MockRedisClient struct {
	Client
	mu   sync.Mutex
	data map[string]interface{}
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{
		data: make(map[string]interface{}),
	}
}

func (m *MockRedisClient) IncrBy(ctx context.Context, key string, value int64) *r.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		if i, ok := v.(int64); ok {
			m.data[key] = i + value
		} else {
			m.data[key] = value
		}
	} else {
		m.data[key] = value
	}
	cmd := r.NewIntCmd(ctx)
	cmd.SetVal(m.data[key].(int64))
	return cmd
}

func (m *MockRedisClient) Get(ctx context.Context, key string) *r.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := r.NewStringCmd(ctx)
	if value, ok := m.data[key]; ok {
		strValue := fmt.Sprintf("%v", value) // Convert the value to a string
		cmd.SetVal(strValue)
	} else {
		cmd.SetErr(r.Nil)
	}
	return cmd
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *r.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	cmd := r.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (m *MockRedisClient) Del(ctx context.Context, keys ...string) *r.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			delete(m.data, key)
			deleted++
		}
	}
	cmd := r.NewIntCmd(ctx)
	cmd.SetVal(deleted)
	return cmd
}

func (m *MockRedisClient) Keys(ctx context.Context, pattern string) *r.StringSliceCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := []string{}
	for key := range m.data {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	cmd := r.NewStringSliceCmd(ctx)
	cmd.SetVal(keys)
	return cmd
}

func (m *MockRedisClient) Ping(ctx context.Context) *r.StatusCmd {
	cmd := r.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}
