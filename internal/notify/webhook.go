package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"text/template"
	"time"
)

const sendTimeout = 10 * time.Second

// Webhook posts run summaries to an HTTP endpoint. Progress events are
// dropped; only Complete triggers a delivery. Sends run in the background so
// the engine is never held up by a slow endpoint; call Flush before exiting.
type Webhook struct {
	URL      string
	Method   string
	Template string
	Headers  map[string]string

	async asyncErrs
}

func NewWebhook(url, method, tmpl string, headers map[string]string) *Webhook {
	if method == "" {
		method = "POST"
	}
	return &Webhook{
		URL:      url,
		Method:   method,
		Template: tmpl,
		Headers:  headers,
	}
}

// Event is the payload delivered for a completed run. It doubles as the
// template context, so custom templates can reference {{.Title}},
// {{.Message}} and {{.Timestamp}}.
type Event struct {
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (n *Webhook) Progress(string, string, int, int) {}

func (n *Webhook) Complete(title, message string) {
	if n.URL == "" {
		return
	}
	ev := Event{Title: title, Message: message, Timestamp: time.Now()}
	n.async.spawn(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		return n.send(ctx, ev)
	})
}

// Flush waits for pending deliveries and reports any that failed.
func (n *Webhook) Flush() error {
	return n.async.wait()
}

func (n *Webhook) send(ctx context.Context, ev Event) error {
	var body []byte
	var err error

	if n.Template != "" {
		body, err = renderTemplate("webhook", n.Template, ev)
		if err != nil {
			return fmt.Errorf("failed to render webhook template: %w", err)
		}
	} else {
		body, _ = json.Marshal(ev)
	}

	req, err := http.NewRequestWithContext(ctx, n.Method, n.URL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.Headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

func renderTemplate(name, tmpl string, ev Event) ([]byte, error) {
	t, err := template.New(name).Parse(tmpl)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ev); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
