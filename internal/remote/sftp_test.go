package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	apperrors "github.com/lupppig/appvault/internal/errors"
)

func TestSFTP_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	// Format: user:pass:uid:gid:dir
	username := "testuser"
	password := "testpass"
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "atmoz/sftp",
			Env: map[string]string{
				"SFTP_USERS": fmt.Sprintf("%s:%s:::upload", username, password),
			},
			ExposedPorts: []string{"22/tcp"},
			WaitingFor:   wait.ForLog("Server listening on"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "22")
	require.NoError(t, err)

	uri := fmt.Sprintf("sftp://%s:%s@%s:%d/upload", username, password, host, port.Int())
	c, err := FromURI(uri, Options{})
	require.NoError(t, err)

	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	t.Run("MkdirAllIdempotent", func(t *testing.T) {
		require.NoError(t, c.MkdirAll(ctx, "/apps/com.example.mail/0"))
		require.NoError(t, c.MkdirAll(ctx, "/apps/com.example.mail/0"))

		listing, err := c.ListFiles(ctx, "/apps")
		require.NoError(t, err)
		require.Len(t, listing.Dirs, 1)
		assert.Equal(t, "com.example.mail", listing.Dirs[0].Name)
	})

	t.Run("UploadListDownload", func(t *testing.T) {
		src := filepath.Join(t.TempDir(), "base.tar.zst")
		require.NoError(t, os.WriteFile(src, []byte("archive payload"), 0o644))

		require.NoError(t, c.Upload(ctx, src, "/apps/com.example.mail/0"))

		listing, err := c.ListFiles(ctx, "/apps/com.example.mail/0")
		require.NoError(t, err)
		require.Len(t, listing.Files, 1)
		assert.Equal(t, "base.tar.zst", listing.Files[0].Name)
		assert.EqualValues(t, 15, listing.Files[0].Size)

		n, err := c.Size(ctx, "/apps/com.example.mail")
		require.NoError(t, err)
		assert.EqualValues(t, 15, n)

		dst := t.TempDir()
		require.NoError(t, c.Download(ctx, "/apps/com.example.mail/0/base.tar.zst", dst))
		got, err := os.ReadFile(filepath.Join(dst, "base.tar.zst"))
		require.NoError(t, err)
		assert.Equal(t, []byte("archive payload"), got)
	})

	t.Run("DeleteRecursively", func(t *testing.T) {
		require.NoError(t, c.DeleteRecursively(ctx, "/apps/com.example.mail"))

		err := c.DeleteRecursively(ctx, "/apps/com.example.mail")
		assert.True(t, apperrors.IsType(err, apperrors.TypeNotFound))
	})

	t.Run("TestConnection", func(t *testing.T) {
		probe, err := FromURI(uri, Options{})
		require.NoError(t, err)
		assert.NoError(t, TestConnection(ctx, probe))
	})
}
