package notify

import (
	"context"
	"net/http"
)

// discordMaxContent is the webhook limit on message length.
const discordMaxContent = 2000

type discordMessage struct {
	Username        string                `json:"username,omitempty"`
	Content         string                `json:"content"`
	AllowedMentions discordAllowedMention `json:"allowed_mentions"`
}

// an empty Parse list stops market titles from pinging @everyone or roles
type discordAllowedMention struct {
	Parse []string `json:"parse"`
}

// DiscordSender posts to a channel webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

// Send renders the title in bold above the message. Webhooks answer
// 204 No Content, so the body of a successful reply is ignored.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	msg := discordMessage{
		Username:        "polytrend",
		Content:         truncateRunes("**"+title+"**\n"+message, discordMaxContent),
		AllowedMentions: discordAllowedMention{Parse: []string{}},
	}
	_, err := postJSON(ctx, d.client, d.Name(), d.webhookURL, msg)
	return err
}

func (d *DiscordSender) Name() string { return "discord" }
