package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Slack sends notifications via Slack incoming webhook.
type Slack struct {
	client     *http.Client
	webhookURL string
}

// NewSlack creates a new Slack notifier.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	text := []string{n.Message, "*Run:* " + statsLine(n)}
	if line := sentimentLine(n); line != "" {
		text = append(text, "*Sentiment:* "+line)
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": n.Title()},
		},
		{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": strings.Join(text, "\n")},
		},
	}

	if len(n.TopTags) > 0 {
		var elements []map[string]any
		for _, tc := range n.TopTags {
			elements = append(elements, map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("`%s` %d", tc.Tag, tc.Count),
			})
		}
		blocks = append(blocks, map[string]any{"type": "context", "elements": elements})
	}

	if err := postJSON(ctx, s.client, s.webhookURL, map[string]any{"blocks": blocks}, nil); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}
