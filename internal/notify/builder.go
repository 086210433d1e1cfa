package notify

import (
	"github.com/lupppig/appvault/internal/config"
)

// Build assembles the HTTP notifiers configured under notifications. Returns
// nil when none are configured; callers compose the result with their
// terminal notifier via NewMulti.
func Build(cfg *config.Config) Notifier {
	var notifiers []Notifier

	if cfg.Notifications.Slack.WebhookURL != "" {
		notifiers = append(notifiers, NewSlack(cfg.Notifications.Slack.WebhookURL, cfg.Notifications.Slack.Template))
	}

	for _, w := range cfg.Notifications.Webhooks {
		if w.URL != "" {
			notifiers = append(notifiers, NewWebhook(w.URL, w.Method, w.Template, w.Headers))
		}
	}

	if len(notifiers) == 0 {
		return nil
	}
	if len(notifiers) == 1 {
		return notifiers[0]
	}
	return NewMulti(notifiers...)
}
