package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Slack posts run summaries to a Slack incoming webhook. Like Webhook it
// ignores Progress events and delivers asynchronously.
type Slack struct {
	WebhookURL string
	Template   string

	async asyncErrs
}

func NewSlack(url, tmpl string) *Slack {
	return &Slack{WebhookURL: url, Template: tmpl}
}

type slackAttachment struct {
	Color  string `json:"color"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Footer string `json:"footer"`
	Ts     int64  `json:"ts"`
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

func (s *Slack) Progress(string, string, int, int) {}

func (s *Slack) Complete(title, message string) {
	if s.WebhookURL == "" {
		return
	}
	ev := Event{Title: title, Message: message, Timestamp: time.Now()}
	s.async.spawn(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		return s.send(ctx, ev)
	})
}

// Flush waits for pending deliveries and reports any that failed.
func (s *Slack) Flush() error {
	return s.async.wait()
}

func (s *Slack) send(ctx context.Context, ev Event) error {
	var body []byte
	var err error

	if s.Template != "" {
		body, err = renderTemplate("slack", s.Template, ev)
		if err != nil {
			return fmt.Errorf("failed to render slack template: %w", err)
		}
	} else {
		// Summaries that report failures say so in the message.
		color, icon := "#36a64f", "✅"
		if strings.Contains(ev.Message, "failed") || strings.Contains(ev.Title, "failed") {
			color, icon = "#ff0000", "❌"
		}

		payload := slackPayload{
			Attachments: []slackAttachment{{
				Color:  color,
				Title:  fmt.Sprintf("%s %s", icon, ev.Title),
				Text:   ev.Message,
				Footer: "appvault",
				Ts:     ev.Timestamp.Unix(),
			}},
		}
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack notification failed with status: %s", resp.Status)
	}

	return nil
}
