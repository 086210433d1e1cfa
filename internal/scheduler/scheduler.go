// Package scheduler runs recurring backup jobs on a cron timetable and keeps
// the job list in a JSON file so schedules survive restarts.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	apperrors "github.com/lupppig/appvault/internal/errors"
	"github.com/lupppig/appvault/internal/logger"
	"github.com/lupppig/appvault/internal/record"
)

const schedulesFile = "schedules.json"

type JobStatus string

const (
	StatusPending JobStatus = "pending"
	StatusRunning JobStatus = "running"
	StatusSuccess JobStatus = "success"
	StatusFailed  JobStatus = "failed"
)

// Job is one recurring run definition.
type Job struct {
	ID       string          `json:"id"`
	Op       record.OpType   `json:"op"`
	Kind     record.TaskKind `json:"kind"`
	Target   string          `json:"target"` // target name or URI, resolved at run time
	Packages []string        `json:"packages,omitempty"`
	Users    []int           `json:"users,omitempty"`
	Schedule string          `json:"schedule"` // cron spec, @daily shorthand or a duration

	Retries    int    `json:"retries,omitempty"`
	RetryDelay string `json:"retry_delay,omitempty"`

	Status  JobStatus  `json:"status"`
	LastRun *time.Time `json:"last_run,omitempty"`
	NextRun *time.Time `json:"next_run,omitempty"`

	cronID cron.EntryID
}

// RunFunc executes one due job. The scheduler owns timing, persistence and
// status; everything else is the caller's.
type RunFunc func(ctx context.Context, job *Job) error

type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]*Job
	mu      sync.RWMutex
	dataDir string
	run     RunFunc
	log     *logger.Logger
}

func New(dataDir string, run RunFunc, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.Noop()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	return &Scheduler{
		cron:    cron.New(),
		jobs:    make(map[string]*Job),
		dataDir: dataDir,
		run:     run,
		log:     log,
	}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// normalizeSpec lets plain durations like "12h" stand in for "@every 12h".
func normalizeSpec(spec string) string {
	if !strings.HasPrefix(spec, "@") && strings.Count(spec, " ") < 4 {
		if _, err := time.ParseDuration(spec); err == nil {
			return "@every " + spec
		}
	}
	return spec
}

func (s *Scheduler) Add(job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(normalizeSpec(job.Schedule), s.runnerFor(job.ID))
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeConfig,
			fmt.Sprintf("invalid schedule %q", job.Schedule),
			"Use a cron expression, an @daily style shorthand or a duration like 12h.")
	}

	job.cronID = id
	job.Status = StatusPending
	s.jobs[job.ID] = job
	return s.saveLocked()
}

func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return apperrors.New(apperrors.TypeNotFound, fmt.Sprintf("no such job %s", id), "")
	}

	s.cron.Remove(job.cronID)
	delete(s.jobs, id)
	return s.saveLocked()
}

// List returns the jobs sorted by ID, with NextRun filled in from cron.
func (s *Scheduler) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		entry := s.cron.Entry(j.cronID)
		if !entry.Next.IsZero() {
			next := entry.Next
			j.NextRun = &next
		}
		list = append(list, j)
	}
	sort.Slice(list, func(i, k int) bool { return list[i].ID < list[k].ID })
	return list
}

func (s *Scheduler) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

// saveLocked writes the job file; the caller holds mu.
func (s *Scheduler) saveLocked() error {
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dataDir, schedulesFile), data, 0600)
}

// Load reads the job file and re-arms the cron entries. Jobs that died
// mid-run in a previous process show up as pending again.
func (s *Scheduler) Load() error {
	path := filepath.Join(s.dataDir, schedulesFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := json.Unmarshal(data, &s.jobs); err != nil {
		return err
	}

	for _, job := range s.jobs {
		if job.Status == StatusRunning {
			job.Status = StatusPending
		}
		id, err := s.cron.AddFunc(normalizeSpec(job.Schedule), s.runnerFor(job.ID))
		if err != nil {
			s.log.Warn("dropping job with invalid schedule", "id", job.ID, "schedule", job.Schedule)
			delete(s.jobs, job.ID)
			continue
		}
		job.cronID = id
	}
	return nil
}

func (s *Scheduler) runnerFor(id string) func() {
	return func() { s.execute(id) }
}

func (s *Scheduler) execute(id string) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if job.Status == StatusRunning {
		s.mu.Unlock()
		s.log.Warn("skipping job, previous run still active", "id", id)
		return
	}
	job.Status = StatusRunning
	now := time.Now()
	job.LastRun = &now
	s.mu.Unlock()
	s.Save()

	retryDelay, _ := time.ParseDuration(job.RetryDelay)
	if retryDelay == 0 {
		retryDelay = 5 * time.Minute
	}

	var err error
	for i := 0; i <= job.Retries; i++ {
		if i > 0 {
			s.log.Info("retrying job", "id", job.ID, "attempt", i, "delay", retryDelay)
			time.Sleep(retryDelay)
		}
		err = s.run(context.Background(), job)
		if err == nil {
			break
		}
	}

	s.mu.Lock()
	if err != nil {
		job.Status = StatusFailed
		s.log.Error("scheduled job failed", "id", job.ID, "error", err)
	} else {
		job.Status = StatusSuccess
		s.log.Info("scheduled job finished", "id", job.ID)
	}
	s.mu.Unlock()
	s.Save()
}
