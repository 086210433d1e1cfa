package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lupppig/appvault/internal/logger"
	"github.com/lupppig/appvault/internal/record"
	"github.com/lupppig/appvault/internal/scheduler"
)

var (
	cronSpec   string
	interval   string
	retries    int
	retryDelay string
	daemonMode bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring backup and restore runs",
}

var scheduleBackupCmd = &cobra.Command{
	Use:           "backup [package...]",
	Short:         "Schedule a recurring backup",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return addJob(cmd, record.OpBackup, args)
	},
}

var scheduleRestoreCmd = &cobra.Command{
	Use:           "restore [package...]",
	Short:         "Schedule a recurring restore",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return addJob(cmd, record.OpRestore, args)
	},
}

func addJob(cmd *cobra.Command, op record.OpType, packages []string) error {
	l := logger.FromContext(cmd.Context())

	sched := cronSpec
	if interval != "" {
		sched = interval
	}
	if sched == "" {
		return fmt.Errorf("either --cron or --every is required")
	}

	s, err := newScheduler(l)
	if err != nil {
		return err
	}

	kind := record.KindPackage
	if fullRun {
		kind = record.KindFull
	}

	job := &scheduler.Job{
		Op:         op,
		Kind:       kind,
		Target:     target,
		Packages:   packages,
		Users:      []int{userID},
		Schedule:   sched,
		Retries:    retries,
		RetryDelay: retryDelay,
	}
	if err := s.Add(job); err != nil {
		return err
	}

	l.Info("Schedule added", "op", op, "schedule", sched, "id", job.ID)

	if !daemonMode {
		return spawnDaemon(l)
	}
	return nil
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "remove [ID]",
	Short: "Remove a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		s, err := newScheduler(l)
		if err != nil {
			return err
		}
		if err := s.Remove(args[0]); err != nil {
			return err
		}
		l.Info("Schedule removed", "id", args[0])
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		s, err := newScheduler(l)
		if err != nil {
			return err
		}

		jobs := s.List()
		if len(jobs) == 0 {
			l.Info("No schedules found")
			return nil
		}
		for _, j := range jobs {
			next := "N/A"
			if j.NextRun != nil && !j.NextRun.IsZero() {
				next = j.NextRun.Format("2006-01-02 15:04:05")
			}
			l.Info("Schedule",
				"id", j.ID,
				"op", j.Op,
				"kind", j.Kind,
				"target", j.Target,
				"status", j.Status,
				"schedule", j.Schedule,
				"next_run", next,
			)
		}
		return nil
	},
}

var scheduleStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the scheduler until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		s, err := newScheduler(l)
		if err != nil {
			return err
		}

		dir, err := dataDir()
		if err != nil {
			return err
		}
		pidFile := filepath.Join(dir, "scheduler.pid")
		if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			l.Warn("Cannot write pidfile", "error", err)
		}
		defer os.Remove(pidFile)

		l.Info("Scheduler running", "jobs", len(s.List()))

		s.Start()
		defer func() { <-s.Stop().Done() }()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		l.Info("Shutting down scheduler")
		return nil
	},
}

func newScheduler(l *logger.Logger) (*scheduler.Scheduler, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	s, err := scheduler.New(dir, scheduleRunner(l), l)
	if err != nil {
		return nil, err
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// scheduleRunner executes one due job the same way the backup and restore
// commands do, minus the terminal bar.
func scheduleRunner(l *logger.Logger) scheduler.RunFunc {
	return func(ctx context.Context, job *scheduler.Job) error {
		jl := l.With("job", job.ID, "op", job.Op)
		task, err := runOp(ctx, jl, job.Op, opSettings{
			target:     job.Target,
			kind:       job.Kind,
			packages:   job.Packages,
			users:      job.Users,
			noProgress: true,
		})
		if err != nil {
			return err
		}
		if task.FailureCount > 0 {
			return fmt.Errorf("%d of %d apps failed", task.FailureCount, task.TotalCount)
		}
		return nil
	}
}

func dataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".appvault")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", dir, err)
	}
	return dir, nil
}

// spawnDaemon starts `appvault schedule start --daemon` detached from the
// terminal, unless a previous daemon still holds the pidfile.
func spawnDaemon(l *logger.Logger) error {
	dir, err := dataDir()
	if err != nil {
		return err
	}
	pidFile := filepath.Join(dir, "scheduler.pid")
	if pid, err := readPid(pidFile); err == nil && processAlive(pid) {
		l.Info("Scheduler daemon already running", "pid", pid)
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	cmd := exec.Command(exe, "schedule", "start", "--daemon")
	cmd.Dir = filepath.Dir(exe)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	l.Info("Scheduler daemon started", "pid", cmd.Process.Pid)
	return nil
}

func readPid(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleBackupCmd)
	scheduleCmd.AddCommand(scheduleRestoreCmd)
	scheduleCmd.AddCommand(scheduleRemoveCmd)
	scheduleCmd.AddCommand(scheduleStartCmd)
	scheduleCmd.AddCommand(scheduleListCmd)

	scheduleStartCmd.Flags().BoolVar(&daemonMode, "daemon", false, "Run in daemon mode (internal)")
	scheduleStartCmd.Flags().MarkHidden("daemon")

	for _, c := range []*cobra.Command{scheduleBackupCmd, scheduleRestoreCmd} {
		c.Flags().StringVarP(&target, "target", "t", "", "target name from the config or a URI")
		c.Flags().StringVar(&cronSpec, "cron", "", "cron schedule (e.g. \"0 2 * * *\")")
		c.Flags().StringVar(&interval, "every", "", "interval schedule (e.g. \"1h\", \"30m\")")
		c.Flags().BoolVar(&fullRun, "full", false, "include each app's data directory")
		c.Flags().IntVar(&userID, "user", 0, "user profile the package arguments refer to")
		c.Flags().IntVar(&retries, "retries", 3, "number of retries on failure")
		c.Flags().StringVar(&retryDelay, "retry-delay", "5m", "delay between retries")
	}
}
