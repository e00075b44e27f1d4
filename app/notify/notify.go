// Package notify delivers operational alerts to the team channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"guilded/m/v2/app/config"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
)

type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Ops receives startup, shutdown, booking and webhook fault alerts. main replaces the log-only default.
var Ops Notifier = Stub{}

// SendTimeout bounds how long Send holds its caller, whatever the channel does with the context.
var SendTimeout = 5 * time.Second

// Send delivers to Ops and only logs delivery failures; alerts never fail a request.
func Send(ctx context.Context, message string) {
	ctx, cancel := context.WithTimeout(ctx, SendTimeout)
	defer cancel()

	ops := Ops
	done := make(chan error, 1)
	go func() {
		done <- ops.Notify(ctx, message)
	}()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		log.WithError(err).Warnf("failed to deliver ops alert: %s", message)
		config.CONFIG.DataDogClient.Incr("notify.failed", nil, 1)
	}
}

// Stub only logs.
type Stub struct{}

func (Stub) Notify(ctx context.Context, message string) error {
	log.Infof("[OPS] %s", message)
	return nil
}

// Slack posts to an incoming webhook.
type Slack struct {
	WebhookUrl string
}

var postWebhook = slack.PostWebhookContext

func (s Slack) Notify(ctx context.Context, message string) error {
	err := postWebhook(ctx, s.WebhookUrl, &slack.WebhookMessage{Text: message})
	if err != nil {
		return fmt.Errorf("Slack.Notify: %w", err)
	}
	return nil
}

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
