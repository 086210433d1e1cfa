package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lupppig/appvault/internal/config"
	"github.com/lupppig/appvault/internal/logger"
	"github.com/lupppig/appvault/internal/record"
	"github.com/lupppig/appvault/internal/remote"
)

var restoreCmd = &cobra.Command{
	Use:   "restore [package...]",
	Short: "Restore apps from a storage target",
	Long: `Restore previously backed up apps into the local library.

Restore candidates come from 'appvault scan --target', which catalogs what a
target holds, including older retained generations. With package arguments the
named apps are selected first; without arguments the run covers whatever
'appvault select --op restore' activated. Restored payloads overwrite the
library directories of the same app and user. When an install hook is
configured it runs after each app is unpacked.`,
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

		l.Info("Restore started", "target", remote.Scrub(uri), "kind", kind)
		start := time.Now()

		task, err := runOp(cmd.Context(), l, record.OpRestore, opSettings{
			target:     target,
			kind:       kind,
			packages:   args,
			users:      []int{userID},
			stagingDir: stagingDir,
			noProgress: noProgress,
		})
		if err != nil {
			l.Error("Restore failed", "error", err)
			return err
		}

		l.Info("Restore finished",
			"succeeded", task.SuccessCount,
			"failed", task.FailureCount,
			"duration", time.Since(start).String(),
		)

		if task.FailureCount > 0 {
			return fmt.Errorf("%d of %d apps failed", task.FailureCount, task.TotalCount)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().StringVarP(&target, "target", "t", "", "target name from the config or a URI")
	restoreCmd.Flags().BoolVar(&fullRun, "full", false, "restore each app's data directory, not just the package")
	restoreCmd.Flags().IntVar(&userID, "user", 0, "user profile the package arguments refer to")
	restoreCmd.Flags().StringVar(&stagingDir, "staging-dir", "", "scratch directory for downloaded archives")
	restoreCmd.Flags().BoolVar(&allowInsecure, "allow-insecure", false, "permit plaintext protocols such as ftp://")
	restoreCmd.Flags().BoolVar(&noProgress, "no-progress", false, "log progress instead of drawing a bar")
}
