package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	discordGreen = 0x2ECC71
	discordRed   = 0xE74C3C
)

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	lines := []string{n.Message, "", "**Run:** " + statsLine(n)}
	if line := sentimentLine(n); line != "" {
		lines = append(lines, "**Sentiment:** "+line)
	}
	for _, tc := range n.TopTags {
		lines = append(lines, fmt.Sprintf("• %s (%d)", tc.Tag, tc.Count))
	}

	color := discordGreen
	if n.Failed {
		color = discordRed
	}
	embed := map[string]any{
		"title":       n.Title(),
		"description": strings.Join(lines, "\n"),
		"color":       color,
		"timestamp":   n.FinishedAt.Format(time.RFC3339),
	}

	if err := postJSON(ctx, d.client, d.webhookURL, map[string]any{"embeds": []map[string]any{embed}}, nil); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}
