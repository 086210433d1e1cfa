package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Writer: &buf, JSON: true})

	l.Info("backup started", "package", "org.example.notes", "user", 0)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "backup started", entry["msg"])
	assert.Equal(t, "org.example.notes", entry["package"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestNew_TextOutputNoColor(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Writer: &buf, NoColor: true})

	l.Warn("slow listing", "entries", 4821)

	out := buf.String()
	assert.Contains(t, out, "[WARN]")
	assert.Contains(t, out, "slow listing")
	assert.Contains(t, out, "entries=4821")
	assert.NotContains(t, out, "\033[")
}

func TestNew_DebugLevel(t *testing.T) {
	var buf bytes.Buffer

	l := New(Config{Writer: &buf, JSON: true})
	l.Debug("hidden")
	assert.Empty(t, buf.String())

	l = New(Config{Writer: &buf, JSON: true, Debug: true})
	l.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestWith_CarriesAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Writer: &buf, JSON: true}).With("run", 7)

	l.Info("processing")

	assert.Contains(t, buf.String(), `"run":7`)
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Writer: &buf, JSON: true})

	ctx := IntoContext(context.Background(), l)
	got := FromContext(ctx)
	require.Same(t, l, got)

	got.Info("via context")
	assert.True(t, strings.Contains(buf.String(), "via context"))
}

func TestFromContext_Default(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
}
