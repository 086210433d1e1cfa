package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lupppig/appvault/internal/applib"
	"github.com/lupppig/appvault/internal/archive"
	"github.com/lupppig/appvault/internal/backup"
	"github.com/lupppig/appvault/internal/config"
	"github.com/lupppig/appvault/internal/engine"
	"github.com/lupppig/appvault/internal/hook"
	"github.com/lupppig/appvault/internal/logger"
	"github.com/lupppig/appvault/internal/notify"
	"github.com/lupppig/appvault/internal/record"
	"github.com/lupppig/appvault/internal/remote"
	"github.com/lupppig/appvault/internal/store"
)

var (
	target          string
	fullRun         bool
	compressionAlgo string
	stagingDir      string
	allowInsecure   bool
	noProgress      bool
	userID          int
	pruneAfter      bool
	keepGens        int
	olderThan       string
)

var backupCmd = &cobra.Command{
	Use:   "backup [package...]",
	Short: "Back up the selected apps to a storage target",
	Long: `Back up apps to a local folder or a remote storage target.

With package arguments the named apps are selected first; without arguments the
run covers whatever 'appvault select' activated earlier. By default only the
package payload is preserved; --full includes each app's data directory. If any
app fails, appvault exits with a non-zero status code.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		cfg := config.GetConfig()

		kind := record.KindPackage
		if fullRun {
			kind = record.KindFull
		}

		uri, err := cfg.ResolveTarget(target)
		if err != nil {
			return err
		}

		l.Info("Backup started", "target", remote.Scrub(uri), "kind", kind)
		start := time.Now()

		task, err := runOp(cmd.Context(), l, record.OpBackup, opSettings{
			target:      target,
			kind:        kind,
			packages:    args,
			users:       []int{userID},
			compression: compressionAlgo,
			stagingDir:  stagingDir,
			noProgress:  noProgress,
		})
		if err != nil {
			l.Error("Backup failed", "error", err)
			return err
		}

		l.Info("Backup finished",
			"succeeded", task.SuccessCount,
			"failed", task.FailureCount,
			"duration", time.Since(start).String(),
		)

		if pruneAfter {
			keep := keepGens
			if keep <= 0 {
				keep = cfg.Keep
			}
			age, perr := backup.ParseRetention(cfg.Retention)
			if perr != nil {
				l.Warn("Ignoring invalid retention value", "retention", cfg.Retention, "error", perr)
			}
			removed, perr := pruneTarget(cmd.Context(), l, target, keep, age)
			if perr != nil {
				l.Warn("Prune after backup failed", "error", perr)
			} else if removed > 0 {
				l.Info("Pruned old generations", "removed", removed, "keep", keep)
			}
		}

		if task.FailureCount > 0 {
			return fmt.Errorf("%d of %d apps failed", task.FailureCount, task.TotalCount)
		}
		return nil
	},
}

// opSettings collects what one orchestrated run needs beyond the operation
// itself. Zero values fall back to the configuration file.
type opSettings struct {
	target      string // target name or URI
	kind        record.TaskKind
	packages    []string // non-empty selects these packages before the run
	users       []int
	compression string
	stagingDir  string
	noProgress  bool
}

// runOp wires a store, a processor and the notifiers together and executes
// one run. Shared by the backup and restore commands and the scheduler.
func runOp(ctx context.Context, l *logger.Logger, op record.OpType, set opSettings) (*record.Task, error) {
	cfg := config.GetConfig()

	uri, err := cfg.ResolveTarget(set.target)
	if err != nil {
		return nil, err
	}

	st, err := openStore()
	if err != nil {
		return nil, err
	}
	defer st.Close()

	if len(set.packages) > 0 {
		users := set.users
		if len(users) == 0 {
			users = []int{0}
		}
		var matched int64
		for _, u := range users {
			n, err := st.SetActivated(ctx, op, u, set.packages, true)
			if err != nil {
				return nil, err
			}
			matched += n
		}
		if matched == 0 {
			return nil, fmt.Errorf("none of the named packages are cataloged for %s; run 'appvault scan' first", op)
		}
	}

	hooks := hook.New(cfg.Hooks.Install, cfg.Hooks.Uninstall, l)
	if d := cfg.Hooks.TimeoutDuration(); d > 0 {
		hooks = hooks.WithTimeout(d)
	}

	compression := set.compression
	if compression == "" {
		compression = cfg.Compression
	}
	staging := set.stagingDir
	if staging == "" {
		staging = cfg.StagingDir
	}

	opts := backup.Options{
		Kind:          set.kind,
		Target:        uri,
		Library:       appLibrary(),
		Store:         st,
		StagingDir:    staging,
		Compression:   archive.Algorithm(compression),
		Hooks:         hooks,
		AllowInsecure: allowInsecure || cfg.AllowInsecure,
		Log:           l,
	}

	var proc interface {
		engine.Processor
		Close()
	}
	switch op {
	case record.OpRestore:
		proc, err = backup.NewRestore(opts)
	default:
		proc, err = backup.NewBackup(opts)
	}
	if err != nil {
		return nil, err
	}
	defer proc.Close()

	notifier := notify.NewMulti(progressNotifier(set.noProgress, l), notify.Build(cfg))
	defer func() {
		if err := notify.Flush(notifier); err != nil {
			l.Warn("Notification delivery incomplete", "error", err)
		}
	}()

	eng, err := engine.New(engine.Config{Store: st, Notifier: notifier, Log: l})
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx, proc)
}

// progressNotifier picks a terminal bar for interactive runs and plain log
// lines everywhere else.
func progressNotifier(noProgress bool, l *logger.Logger) notify.Notifier {
	if noProgress || LogJSON {
		return notify.NewLog(l)
	}
	return notify.NewBar()
}

func openStore() (*store.Store, error) {
	cfg := config.GetConfig()
	return store.Open(store.Options{Driver: cfg.Store.Driver, DSN: cfg.Store.DSN})
}

func appLibrary() applib.Library {
	cfg := config.GetConfig()
	return applib.Library{APKRoot: cfg.Library.APKRoot, DataRoot: cfg.Library.DataRoot}
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.Flags().StringVarP(&target, "target", "t", "", "target name from the config or a URI (e.g. sftp://user@host/backups)")
	backupCmd.Flags().BoolVar(&fullRun, "full", false, "include each app's data directory, not just the package")
	backupCmd.Flags().IntVar(&userID, "user", 0, "user profile the package arguments refer to")
	backupCmd.Flags().StringVar(&compressionAlgo, "compression", "", "compression algorithm (gzip, zstd, lz4, none; defaults to the config value)")
	backupCmd.Flags().StringVar(&stagingDir, "staging-dir", "", "scratch directory for building archives")
	backupCmd.Flags().BoolVar(&allowInsecure, "allow-insecure", false, "permit plaintext protocols such as ftp://")
	backupCmd.Flags().BoolVar(&noProgress, "no-progress", false, "log progress instead of drawing a bar")
	backupCmd.Flags().BoolVar(&pruneAfter, "prune", false, "prune old retained generations after a successful run")
	backupCmd.Flags().IntVar(&keepGens, "keep", 0, "retained generations to keep per app when pruning (defaults to the config value)")
}
