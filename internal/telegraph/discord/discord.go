// Package discord posts telegraph notices through a Discord webhook.
package discord

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/medqueue/internal/telegraph"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier implements telegraph.Notifier for a Discord webhook.
type Notifier struct {
	sess      session
	webhookID string
	token     string
	username  string
}

// Opts holds parameters for creating a Discord Notifier.
type Opts struct {
	WebhookID    string
	WebhookToken string
	Username     string // display name override, optional
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.WebhookID == "" || opts.WebhookToken == "" {
		return nil, fmt.Errorf("discord: webhook id and token are required")
	}
	n := &Notifier{
		webhookID: opts.WebhookID,
		token:     opts.WebhookToken,
		username:  opts.Username,
		sess:      opts.Session,
	}
	if n.sess == nil {
		// Webhook execution is authorised by the token in the URL, so the
		// session needs no bot credentials.
		dg, err := discordgo.New("")
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		n.sess = dg
	}
	return n, nil
}

// Notify executes the webhook with the notice as an embed.
func (n *Notifier) Notify(ctx context.Context, notice telegraph.Notice) error {
	params := &discordgo.WebhookParams{
		Username: n.username,
		Embeds:   []*discordgo.MessageEmbed{noticeToEmbed(notice)},
	}
	if _, err := n.sess.WebhookExecute(n.webhookID, n.token, false, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: execute webhook: %w", err)
	}
	return nil
}

// noticeToEmbed converts a notice into a Discord embed.
func noticeToEmbed(notice telegraph.Notice) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       notice.Title,
		Description: notice.Body,
		Color:       parseHexColor(telegraph.SeverityColor(notice.Severity)),
	}
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	v, err := strconv.ParseInt(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}
