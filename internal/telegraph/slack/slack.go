// Package slack posts telegraph notices to a Slack incoming webhook.
package slack

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/medqueue/internal/telegraph"
)

// poster abstracts the webhook call, enabling test mocks.
type poster func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error

// Notifier implements telegraph.Notifier for a Slack incoming webhook.
type Notifier struct {
	webhookURL string
	username   string
	post       poster
}

// Opts holds parameters for creating a Slack Notifier.
type Opts struct {
	WebhookURL string // https://hooks.slack.com/services/...
	Username   string // display name override, optional
	// For testing: inject a poster instead of the real webhook call.
	Post poster
}

// New creates a Slack Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.WebhookURL == "" {
		return nil, fmt.Errorf("slack: webhook url is required")
	}
	n := &Notifier{
		webhookURL: opts.WebhookURL,
		username:   opts.Username,
		post:       slackapi.PostWebhookContext,
	}
	if opts.Post != nil {
		n.post = opts.Post
	}
	return n, nil
}

// Notify posts the notice as a colored attachment.
func (n *Notifier) Notify(ctx context.Context, notice telegraph.Notice) error {
	if err := n.post(ctx, n.webhookURL, buildWebhookMessage(notice, n.username)); err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	return nil
}

// buildWebhookMessage converts a notice into a webhook payload.
func buildWebhookMessage(notice telegraph.Notice, username string) *slackapi.WebhookMessage {
	return &slackapi.WebhookMessage{
		Username: username,
		Text:     notice.Title,
		Attachments: []slackapi.Attachment{{
			Color:    telegraph.SeverityColor(notice.Severity),
			Title:    notice.Title,
			Text:     notice.Body,
			Fallback: telegraph.FormatText(notice),
			Footer:   string(notice.Severity),
		}},
	}
}
