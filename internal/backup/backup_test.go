package backup

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lupppig/appvault/internal/applib"
	"github.com/lupppig/appvault/internal/archive"
	"github.com/lupppig/appvault/internal/engine"
	apperrors "github.com/lupppig/appvault/internal/errors"
	"github.com/lupppig/appvault/internal/hook"
	"github.com/lupppig/appvault/internal/record"
	"github.com/lupppig/appvault/internal/remote"
	"github.com/lupppig/appvault/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Options{Driver: store.DriverSQLite, DSN: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedLibrary lays out one app with an APK directory and per-user data.
func seedLibrary(t *testing.T, name string) applib.Library {
	t.Helper()
	root := t.TempDir()
	lib := applib.Library{
		APKRoot:  filepath.Join(root, "apk"),
		DataRoot: filepath.Join(root, "data"),
	}

	apkDir := filepath.Join(lib.APKRoot, name)
	require.NoError(t, os.MkdirAll(apkDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(apkDir, "base.apk"), []byte("apk-bytes"), 0o644))

	dataDir := filepath.Join(lib.DataRoot, "0", name)
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "prefs.xml"), []byte("<prefs/>"), 0o600))

	return lib
}

func seedItem(t *testing.T, st *store.Store, name string, op record.OpType) *record.Item {
	t.Helper()
	item := &record.Item{
		Name:      name,
		OpType:    op,
		Activated: true,
		ApkBytes:  9,
		DataBytes: 8,
	}
	require.NoError(t, st.UpsertItem(context.Background(), item))
	return item
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	const pkg = "com.example.mail"
	ctx := context.Background()
	st := newTestStore(t)
	target := t.TempDir()

	lib := seedLibrary(t, pkg)
	seedItem(t, st, pkg, record.OpBackup)

	bak, err := NewBackup(Options{
		Kind:        record.KindFull,
		Target:      target,
		Library:     lib,
		Store:       st,
		Compression: archive.Gzip,
	})
	require.NoError(t, err)
	defer bak.Close()

	e, err := engine.New(engine.Config{Store: st})
	require.NoError(t, err)

	task, err := e.Run(ctx, bak)
	require.NoError(t, err)
	assert.Equal(t, 1, task.TotalCount)
	assert.Equal(t, 1, task.SuccessCount)
	assert.Equal(t, 0, task.FailureCount)
	assert.False(t, task.Processing)
	assert.Equal(t, "local://"+target, task.Target)

	gen := filepath.Join(target, "apps", pkg, "0", "0")
	for _, f := range []string{"apk.tar.gz", "data.tar.gz", "manifest.json"} {
		assert.FileExists(t, filepath.Join(gen, f))
	}

	// Restore into a fresh library.
	restoredRoot := t.TempDir()
	restLib := applib.Library{
		APKRoot:  filepath.Join(restoredRoot, "apk"),
		DataRoot: filepath.Join(restoredRoot, "data"),
	}
	seedItem(t, st, pkg, record.OpRestore)

	rst, err := NewRestore(Options{
		Kind:    record.KindFull,
		Target:  target,
		Library: restLib,
		Store:   st,
	})
	require.NoError(t, err)
	defer rst.Close()

	task, err = e.Run(ctx, rst)
	require.NoError(t, err)
	assert.Equal(t, 1, task.SuccessCount)

	apkBytes, err := os.ReadFile(filepath.Join(restLib.APKDir(pkg), "base.apk"))
	require.NoError(t, err)
	assert.Equal(t, "apk-bytes", string(apkBytes))

	dataBytes, err := os.ReadFile(filepath.Join(restLib.DataDir(0, pkg), "prefs.xml"))
	require.NoError(t, err)
	assert.Equal(t, "<prefs/>", string(dataBytes))

	items, err := st.Items(ctx, record.OpRestore)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, record.StateSucceeded, items[0].State)
	assert.False(t, items[0].Activated)
}

func TestBackup_PackageOnlyLeavesDataBehind(t *testing.T) {
	const pkg = "com.example.notes"
	ctx := context.Background()
	st := newTestStore(t)
	target := t.TempDir()
	lib := seedLibrary(t, pkg)
	item := seedItem(t, st, pkg, record.OpBackup)

	bak, err := NewBackup(Options{Target: target, Library: lib, Store: st})
	require.NoError(t, err)
	defer bak.Close()
	require.NoError(t, bak.Prepare(ctx))

	task := record.NewTask(record.OpBackup, record.KindPackage, bak.Target())
	require.NoError(t, bak.ProcessItem(ctx, task, item))
	assert.Equal(t, 1, task.SuccessCount)

	gen := filepath.Join(target, "apps", pkg, "0", "0")
	assert.FileExists(t, filepath.Join(gen, "apk.tar.zst"))
	assert.NoFileExists(t, filepath.Join(gen, "data.tar.zst"))
	assert.Equal(t, string(archive.Zstd), item.Compression)
}

func TestBackup_MissingAPKDirMarksItemFailed(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	lib := seedLibrary(t, "com.example.mail")
	item := seedItem(t, st, "com.example.gone", record.OpBackup)

	bak, err := NewBackup(Options{Target: t.TempDir(), Library: lib, Store: st})
	require.NoError(t, err)
	defer bak.Close()
	require.NoError(t, bak.Prepare(ctx))

	task := record.NewTask(record.OpBackup, record.KindPackage, bak.Target())
	err = bak.ProcessItem(ctx, task, item)
	require.Error(t, err)
	assert.False(t, apperrors.IsType(err, apperrors.TypePersistence))
	assert.Equal(t, 1, task.FailureCount)
	assert.Equal(t, record.StateFailed, item.State)
	assert.NotEmpty(t, item.Message)
}

func TestRestore_CorruptArchiveFails(t *testing.T) {
	const pkg = "com.example.mail"
	ctx := context.Background()
	st := newTestStore(t)
	target := t.TempDir()
	lib := seedLibrary(t, pkg)
	item := seedItem(t, st, pkg, record.OpBackup)

	bak, err := NewBackup(Options{Target: target, Library: lib, Store: st, Compression: archive.Gzip})
	require.NoError(t, err)
	defer bak.Close()
	require.NoError(t, bak.Prepare(ctx))
	task := record.NewTask(record.OpBackup, record.KindPackage, bak.Target())
	require.NoError(t, bak.ProcessItem(ctx, task, item))

	// Flip bytes in the stored archive so the checksum no longer matches.
	archivePath := filepath.Join(target, "apps", pkg, "0", "0", "apk.tar.gz")
	require.NoError(t, os.WriteFile(archivePath, []byte("garbage"), 0o644))

	rst, err := NewRestore(Options{Target: target, Library: lib, Store: st})
	require.NoError(t, err)
	defer rst.Close()
	require.NoError(t, rst.Prepare(ctx))

	restoreItem := seedItem(t, st, pkg, record.OpRestore)
	task = record.NewTask(record.OpRestore, record.KindPackage, rst.Target())
	err = rst.ProcessItem(ctx, task, restoreItem)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeTransfer))
	assert.Contains(t, restoreItem.Message, "corrupt")
	assert.Equal(t, 1, task.FailureCount)
}

func TestRestore_RunsInstallHook(t *testing.T) {
	const pkg = "com.example.mail"
	ctx := context.Background()
	st := newTestStore(t)
	target := t.TempDir()
	lib := seedLibrary(t, pkg)
	item := seedItem(t, st, pkg, record.OpBackup)

	bak, err := NewBackup(Options{Target: target, Library: lib, Store: st})
	require.NoError(t, err)
	defer bak.Close()
	require.NoError(t, bak.Prepare(ctx))
	task := record.NewTask(record.OpBackup, record.KindPackage, bak.Target())
	require.NoError(t, bak.ProcessItem(ctx, task, item))

	marker := filepath.Join(t.TempDir(), "installed.txt")
	hooks := hook.New([]string{"sh", "-c", "echo {package} {apk} > " + marker}, nil, nil)

	restLib := applib.Library{
		APKRoot:  filepath.Join(t.TempDir(), "apk"),
		DataRoot: filepath.Join(t.TempDir(), "data"),
	}
	rst, err := NewRestore(Options{Target: target, Library: restLib, Store: st, Hooks: hooks})
	require.NoError(t, err)
	defer rst.Close()
	require.NoError(t, rst.Prepare(ctx))

	restoreItem := seedItem(t, st, pkg, record.OpRestore)
	task = record.NewTask(record.OpRestore, record.KindPackage, rst.Target())
	require.NoError(t, rst.ProcessItem(ctx, task, restoreItem))

	out, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Contains(t, string(out), pkg)
	assert.Contains(t, string(out), filepath.Join(restLib.APKDir(pkg), "base.apk"))
}

// flakyClient fails uploads with transfer errors until the budget runs out.
type flakyClient struct {
	remote.Client
	connects int
	failures int
}

func (f *flakyClient) Connect(ctx context.Context) error {
	f.connects++
	return f.Client.Connect(ctx)
}

func (f *flakyClient) Upload(ctx context.Context, src, dst string) error {
	if f.failures > 0 {
		f.failures--
		return apperrors.New(apperrors.TypeTransfer, "simulated transfer failure", "")
	}
	return f.Client.Upload(ctx, src, dst)
}

func TestWithRetry_ReconnectsOnceOnTransientFailure(t *testing.T) {
	ctx := context.Background()
	fc := &flakyClient{Client: remote.NewLocal(t.TempDir()), failures: 1}
	svc := service{opts: Options{}.defaults(), client: fc}
	require.NoError(t, fc.Connect(ctx))

	src := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	err := svc.withRetry(ctx, "com.example.mail", func() error {
		return svc.client.Upload(ctx, src, "")
	})
	require.NoError(t, err)
	assert.Equal(t, 2, fc.connects) // initial connect plus one reconnect
}

func TestWithRetry_SecondFailureIsFinal(t *testing.T) {
	ctx := context.Background()
	fc := &flakyClient{Client: remote.NewLocal(t.TempDir()), failures: 10}
	svc := service{opts: Options{}.defaults(), client: fc}
	require.NoError(t, fc.Connect(ctx))

	err := svc.withRetry(ctx, "com.example.mail", func() error {
		return svc.client.Upload(ctx, "ignored", "")
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeTransfer))
	assert.Equal(t, 2, fc.connects) // never more than one reconnect
}

func TestPrune_KeepsLiveAndNewestGenerations(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	c := remote.NewLocal(root)
	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	for _, gen := range []string{"0", "1000", "2000", "3000"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "apps", "com.example.mail", "0", gen), 0o755))
	}

	removed, err := Prune(ctx, c, PruneOptions{Keep: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.DirExists(t, filepath.Join(root, "apps", "com.example.mail", "0", "0"))
	assert.DirExists(t, filepath.Join(root, "apps", "com.example.mail", "0", "3000"))
	assert.NoDirExists(t, filepath.Join(root, "apps", "com.example.mail", "0", "2000"))
	assert.NoDirExists(t, filepath.Join(root, "apps", "com.example.mail", "0", "1000"))
}

func TestPrune_AgesOutOldGenerations(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	c := remote.NewLocal(root)
	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	old := strconv.FormatInt(time.Now().Add(-48*time.Hour).UnixMilli(), 10)
	fresh := strconv.FormatInt(time.Now().UnixMilli(), 10)
	for _, gen := range []string{"0", old, fresh} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "apps", "com.example.mail", "0", gen), 0o755))
	}

	removed, err := Prune(ctx, c, PruneOptions{OlderThan: 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.DirExists(t, filepath.Join(root, "apps", "com.example.mail", "0", "0"))
	assert.DirExists(t, filepath.Join(root, "apps", "com.example.mail", "0", fresh))
	assert.NoDirExists(t, filepath.Join(root, "apps", "com.example.mail", "0", old))
}

func TestPrune_EmptyTargetIsFine(t *testing.T) {
	ctx := context.Background()
	c := remote.NewLocal(t.TempDir())
	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	removed, err := Prune(ctx, c, PruneOptions{Keep: 2})
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestParseRetention(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Duration
		wantErr bool
	}{
		{name: "Empty Means No Limit", in: "", want: 0},
		{name: "Day Suffix", in: "30d", want: 30 * 24 * time.Hour},
		{name: "Plain Duration", in: "72h", want: 72 * time.Hour},
		{name: "Garbage", in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRetention(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
