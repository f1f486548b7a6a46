package notify

import (
	"context"
	"fmt"
)

// discordRed is the embed color used for every alert.
const discordRed = 0xE74C3C

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordSender posts alerts to a Discord webhook as embeds.
type DiscordSender struct {
	webhookURL string
}

// NewDiscordSender creates a DiscordSender.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL}
}

// Send posts one embed.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := discordPayload{Embeds: []discordEmbed{{Title: title, Description: message, Color: discordRed}}}
	if err := postJSON(ctx, defaultClient, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns "discord".
func (d *DiscordSender) Name() string { return "discord" }
