package workers

import (
	"guilded/m/v2/app/config"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldRun(t *testing.T) {
	cfg := &config.Config{AppName: "guilded"}
	hourly := NewWorker(nil, cfg, time.Hour, func() {}, false)
	monthly := NewWorker(nil, cfg, time.Hour, func() {}, true)

	first := time.Date(2026, 11, 1, 3, 0, 0, 0, time.UTC)
	second := time.Date(2026, 11, 2, 3, 0, 0, 0, time.UTC)

	assert.True(t, hourly.shouldRun(first))
	assert.True(t, hourly.shouldRun(second))
	assert.True(t, monthly.shouldRun(first))
	assert.False(t, monthly.shouldRun(second))
	assert.Equal(t, "guilded", monthly.AppName)
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	runs := make(chan struct{}, 10)
	w := NewWorker(nil, &config.Config{}, time.Hour, func() { runs <- struct{}{} }, false)

	done := make(chan struct{})
	go func() {
		w.Start()
		close(done)
	}()

	select {
	case <-runs:
	case <-time.After(time.Second):
		t.Fatal("worker did not run on start")
	}
	w.StopWorker()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
