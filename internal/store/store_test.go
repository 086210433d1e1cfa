package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lupppig/appvault/internal/errors"
	"github.com/lupppig/appvault/internal/record"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Options{Driver: "oracle"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeConfig))
}

func TestUpsertTaskAssignsID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := record.NewTask(record.OpBackup, record.KindPackage, "local:///tmp/target")
	require.NoError(t, s.UpsertTask(ctx, task))
	require.NotZero(t, task.ID)

	task.SuccessCount = 3
	require.NoError(t, s.UpsertTask(ctx, task))

	tasks, err := s.Tasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ID, tasks[0].ID)
	assert.Equal(t, 3, tasks[0].SuccessCount)
	assert.True(t, tasks[0].Processing)
}

func TestUpsertItemMatchesIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &record.Item{Name: "com.example.mail", OpType: record.OpBackup, UserID: 0, PreserveID: 0, ApkBytes: 100}
	require.NoError(t, s.UpsertItem(ctx, first))
	require.NotZero(t, first.ID)

	// Same identity, fresh struct: must update in place, not insert.
	second := &record.Item{Name: "com.example.mail", OpType: record.OpBackup, UserID: 0, PreserveID: 0, ApkBytes: 250}
	require.NoError(t, s.UpsertItem(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	// Different user is a different row.
	third := &record.Item{Name: "com.example.mail", OpType: record.OpBackup, UserID: 10, PreserveID: 0, ApkBytes: 50}
	require.NoError(t, s.UpsertItem(ctx, third))
	assert.NotEqual(t, first.ID, third.ID)

	items, err := s.Items(ctx, record.OpBackup)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.EqualValues(t, 250, items[0].ApkBytes)
}

func TestActivatedItemsOrderAndScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed := []*record.Item{
		{Name: "b.app", OpType: record.OpBackup, Activated: true, ApkBytes: 10, DataBytes: 100},
		{Name: "a.app", OpType: record.OpBackup, Activated: true, ApkBytes: 20, DataBytes: 200},
		{Name: "c.app", OpType: record.OpBackup, Activated: false, ApkBytes: 40},
		{Name: "a.app", OpType: record.OpRestore, Activated: true, ApkBytes: 80},
	}
	for _, it := range seed {
		require.NoError(t, s.UpsertItem(ctx, it))
	}

	items, err := s.ActivatedItems(ctx, record.OpBackup)
	require.NoError(t, err)
	require.Len(t, items, 2)
	// Insertion order, not name order.
	assert.Equal(t, "b.app", items[0].Name)
	assert.Equal(t, "a.app", items[1].Name)
}

func TestSumActivatedBytes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed := []*record.Item{
		{Name: "a.app", OpType: record.OpBackup, Activated: true, ApkBytes: 10, DataBytes: 100},
		{Name: "b.app", OpType: record.OpBackup, Activated: true, ApkBytes: 20, DataBytes: 200},
		{Name: "c.app", OpType: record.OpBackup, Activated: false, ApkBytes: 1000, DataBytes: 1000},
	}
	for _, it := range seed {
		require.NoError(t, s.UpsertItem(ctx, it))
	}

	apkOnly, err := s.SumActivatedBytes(ctx, record.OpBackup, record.KindPackage)
	require.NoError(t, err)
	assert.EqualValues(t, 30, apkOnly)

	full, err := s.SumActivatedBytes(ctx, record.OpBackup, record.KindFull)
	require.NoError(t, err)
	assert.EqualValues(t, 330, full)

	none, err := s.SumActivatedBytes(ctx, record.OpRestore, record.KindFull)
	require.NoError(t, err)
	assert.Zero(t, none)
}

func TestSetAndClearActivated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a.app", "b.app", "c.app"} {
		require.NoError(t, s.UpsertItem(ctx, &record.Item{Name: name, OpType: record.OpBackup}))
	}

	n, err := s.SetActivated(ctx, record.OpBackup, 0, []string{"a.app", "c.app"}, true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	items, err := s.ActivatedItems(ctx, record.OpBackup)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	// Empty name list selects everything.
	n, err = s.SetActivated(ctx, record.OpBackup, 0, nil, true)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	require.NoError(t, s.ClearActivated(ctx))
	items, err = s.ActivatedItems(ctx, record.OpBackup)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDanglingTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	crashed := record.NewTask(record.OpBackup, record.KindFull, "sftp://host/backups")
	require.NoError(t, s.UpsertTask(ctx, crashed))

	done := record.NewTask(record.OpBackup, record.KindFull, "sftp://host/backups")
	done.Finish()
	require.NoError(t, s.UpsertTask(ctx, done))

	dangling, err := s.DanglingTasks(ctx)
	require.NoError(t, err)
	require.Len(t, dangling, 1)
	assert.Equal(t, crashed.ID, dangling[0].ID)

	require.NoError(t, s.ReconcileDangling(ctx, crashed.ID))

	dangling, err = s.DanglingTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, dangling)

	tasks, err := s.Tasks(ctx, 10)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.False(t, task.Processing)
		require.NotNil(t, task.EndedAt)
	}
}
