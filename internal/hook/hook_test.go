package hook

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lupppig/appvault/internal/errors"
)

func TestExpand(t *testing.T) {
	argv := []string{"pm", "install", "--user", "{user}", "{apk}"}
	got := Expand(argv, Vars{Package: "com.example.mail", APK: "/tmp/base.apk", User: 10})
	assert.Equal(t, []string{"pm", "install", "--user", "10", "/tmp/base.apk"}, got)
}

func TestRunner_InstallWritesExpandedArgs(t *testing.T) {
	out := filepath.Join(t.TempDir(), "invoked.txt")
	r := New([]string{"sh", "-c", "echo {package} {user} > " + out}, nil, nil)

	err := r.Install(context.Background(), Vars{Package: "com.example.mail", User: 0})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "com.example.mail 0\n", string(data))
}

func TestRunner_NoHookConfigured(t *testing.T) {
	r := New(nil, nil, nil)
	assert.NoError(t, r.Install(context.Background(), Vars{Package: "com.example.mail"}))
	assert.NoError(t, r.Uninstall(context.Background(), Vars{Package: "com.example.mail"}))
}

func TestRunner_FailureCarriesOutput(t *testing.T) {
	r := New([]string{"sh", "-c", "echo install rejected >&2; exit 3"}, nil, nil)

	err := r.Install(context.Background(), Vars{Package: "com.example.mail"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeInternal))

	var ae *apperrors.AppError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Hint, "install rejected")
}

func TestRunner_Timeout(t *testing.T) {
	r := New([]string{"sh", "-c", "sleep 5"}, nil, nil).WithTimeout(50 * time.Millisecond)

	start := time.Now()
	err := r.Install(context.Background(), Vars{Package: "com.example.mail"})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
