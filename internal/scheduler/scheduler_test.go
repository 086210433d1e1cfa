package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lupppig/appvault/internal/errors"
	"github.com/lupppig/appvault/internal/record"
)

func noopRun(context.Context, *Job) error { return nil }

func newTestScheduler(t *testing.T, run RunFunc) *Scheduler {
	t.Helper()
	if run == nil {
		run = noopRun
	}
	s, err := New(t.TempDir(), run, nil)
	require.NoError(t, err)
	t.Cleanup(func() { <-s.Stop().Done() })
	return s
}

func TestScheduler_AddListRemove(t *testing.T) {
	s := newTestScheduler(t, nil)

	job := &Job{
		Op:       record.OpBackup,
		Kind:     record.KindFull,
		Target:   "nas",
		Schedule: "@daily",
	}
	require.NoError(t, s.Add(job))
	assert.NotEmpty(t, job.ID)

	jobs := s.List()
	require.Len(t, jobs, 1)
	assert.Equal(t, StatusPending, jobs[0].Status)
	assert.FileExists(t, filepath.Join(s.dataDir, schedulesFile))

	require.NoError(t, s.Remove(job.ID))
	assert.Empty(t, s.List())

	err := s.Remove(job.ID)
	assert.True(t, apperrors.IsType(err, apperrors.TypeNotFound))
}

func TestScheduler_DurationShorthand(t *testing.T) {
	s := newTestScheduler(t, nil)

	job := &Job{Op: record.OpBackup, Target: "nas", Schedule: "12h"}
	require.NoError(t, s.Add(job))
	// The original spelling stays on the job.
	assert.Equal(t, "12h", s.List()[0].Schedule)
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := newTestScheduler(t, nil)

	err := s.Add(&Job{Op: record.OpBackup, Target: "nas", Schedule: "whenever"})
	assert.True(t, apperrors.IsType(err, apperrors.TypeConfig))
	assert.Empty(t, s.List())
}

func TestScheduler_PersistAndReload(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, noopRun, nil)
	require.NoError(t, err)

	job := &Job{
		Op:       record.OpBackup,
		Kind:     record.KindPackage,
		Target:   "smb://backup:pw@nas/media/apps",
		Packages: []string{"com.example.mail"},
		Schedule: "@daily",
	}
	require.NoError(t, s.Add(job))
	// Simulate a job that died mid-run.
	s.jobs[job.ID].Status = StatusRunning
	require.NoError(t, s.Save())
	<-s.Stop().Done()

	s2, err := New(dir, noopRun, nil)
	require.NoError(t, err)
	defer func() { <-s2.Stop().Done() }()
	require.NoError(t, s2.Load())

	jobs := s2.List()
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
	assert.Equal(t, record.OpBackup, jobs[0].Op)
	assert.Equal(t, []string{"com.example.mail"}, jobs[0].Packages)
	assert.Equal(t, StatusPending, jobs[0].Status) // running state does not survive a restart
}

func TestExecute_UpdatesStatusAndRetries(t *testing.T) {
	calls := 0
	run := func(context.Context, *Job) error {
		calls++
		if calls == 1 {
			return errors.New("target unreachable")
		}
		return nil
	}
	s := newTestScheduler(t, run)

	job := &Job{Op: record.OpBackup, Target: "nas", Schedule: "@daily", Retries: 1, RetryDelay: "1ms"}
	require.NoError(t, s.Add(job))

	s.execute(job.ID)
	assert.Equal(t, 2, calls)
	assert.Equal(t, StatusSuccess, job.Status)
	assert.NotNil(t, job.LastRun)
}

func TestExecute_FailureAfterRetries(t *testing.T) {
	run := func(context.Context, *Job) error { return errors.New("still broken") }
	s := newTestScheduler(t, run)

	job := &Job{Op: record.OpRestore, Target: "nas", Schedule: "@daily", RetryDelay: "1ms"}
	require.NoError(t, s.Add(job))

	s.execute(job.ID)
	assert.Equal(t, StatusFailed, job.Status)
}
