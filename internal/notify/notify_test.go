package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lupppig/appvault/internal/logger"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{500, "500 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
		{1048576 * 1024, "1.00 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatSize(tt.bytes))
		})
	}
}

func TestWebhook_Complete(t *testing.T) {
	got := make(chan Event, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var ev Event
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		got <- ev
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhook(server.URL, "", "", nil)
	n.Complete("backup complete", "3 apps in 42s (1.50 KB)")
	require.NoError(t, n.Flush())

	ev := <-got
	assert.Equal(t, "backup complete", ev.Title)
	assert.Equal(t, "3 apps in 42s (1.50 KB)", ev.Message)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestWebhook_TemplateAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PUT", r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Token"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"text":"restore complete: done"}`, string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhook(server.URL, "PUT", `{"text":"{{.Title}}: {{.Message}}"}`, map[string]string{"X-Token": "secret"})
	n.Complete("restore complete", "done")
	require.NoError(t, n.Flush())
}

func TestWebhook_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewWebhook(server.URL, "", "", nil)
	n.Complete("backup complete", "done")

	err := n.Flush()
	assert.ErrorContains(t, err, "status 500")
	// A second flush starts clean.
	assert.NoError(t, n.Flush())
}

func TestWebhook_EmptyURL(t *testing.T) {
	n := NewWebhook("", "", "", nil)
	n.Complete("backup complete", "done")
	assert.NoError(t, n.Flush())
}

func TestSlack_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload slackPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		assert.Len(t, payload.Attachments, 1)
		att := payload.Attachments[0]
		assert.Equal(t, "#36a64f", att.Color)
		assert.Equal(t, "✅ backup complete", att.Title)
		assert.Equal(t, "14 apps in 1m3s (2.10 GB)", att.Text)
		assert.Equal(t, "appvault", att.Footer)
		assert.NotZero(t, att.Ts)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewSlack(server.URL, "")
	n.Complete("backup complete", "14 apps in 1m3s (2.10 GB)")
	require.NoError(t, n.Flush())
}

func TestSlack_Complete_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload slackPayload
		json.NewDecoder(r.Body).Decode(&payload)

		att := payload.Attachments[0]
		assert.Equal(t, "#ff0000", att.Color)
		assert.Equal(t, "❌ backup complete", att.Title)
		assert.Contains(t, att.Text, "2 failed")

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewSlack(server.URL, "")
	n.Complete("backup complete", "12 of 14 apps, 2 failed in 1m3s")
	require.NoError(t, n.Flush())
}

func TestSlack_EmptyURL(t *testing.T) {
	n := NewSlack("", "")
	n.Complete("backup complete", "done")
	assert.NoError(t, n.Flush())
}

type recorder struct {
	progress []string
	complete []string
	flushErr error
}

func (r *recorder) Progress(title, message string, total, index int) {
	r.progress = append(r.progress, message)
}

func (r *recorder) Complete(title, message string) {
	r.complete = append(r.complete, message)
}

func (r *recorder) Flush() error { return r.flushErr }

func TestMulti_FanOut(t *testing.T) {
	a := &recorder{}
	b := &recorder{flushErr: errors.New("endpoint down")}

	m := NewMulti(a, nil, b)
	m.Progress("backup", "com.example.mail", 3, 1)
	m.Complete("backup complete", "done")

	assert.Equal(t, []string{"com.example.mail"}, a.progress)
	assert.Equal(t, []string{"done"}, a.complete)
	assert.Equal(t, []string{"done"}, b.complete)

	err := m.Flush()
	assert.ErrorContains(t, err, "endpoint down")
}

func TestLog_RendersProgressAndCompletion(t *testing.T) {
	var buf bytes.Buffer
	n := NewLog(logger.New(logger.Config{Writer: &buf, JSON: true}))

	n.Progress("backup", "com.example.mail", 14, 3)
	n.Progress("backup", "scanning library", 0, 0)
	n.Complete("backup complete", "14 apps in 1m3s")

	out := buf.String()
	assert.Contains(t, out, `"progress":"3/14"`)
	assert.Contains(t, out, `"status":"scanning library"`)
	assert.Contains(t, out, `"result":"14 apps in 1m3s"`)
}

func TestFlushOnPlainNotifier(t *testing.T) {
	assert.NoError(t, Flush(Noop{}))
}
