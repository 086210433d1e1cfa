package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lupppig/appvault/internal/backup"
	"github.com/lupppig/appvault/internal/config"
	"github.com/lupppig/appvault/internal/logger"
	"github.com/lupppig/appvault/internal/notify"
	"github.com/lupppig/appvault/internal/remote"
)

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Inspect and maintain storage targets",
}

var targetTestCmd = &cobra.Command{
	Use:   "test [target]",
	Short: "Check that a storage target is reachable and writable",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.GetConfig()

		name := argOrEmpty(args, 0)
		if name == "" {
			name = target
		}
		uri, err := cfg.ResolveTarget(name)
		if err != nil {
			return err
		}
		c, err := remote.FromURI(uri, remote.Options{AllowInsecure: allowInsecure || cfg.AllowInsecure})
		if err != nil {
			return err
		}

		fmt.Printf("Checking %s...\n", c.Location())

		start := time.Now()
		if err := c.Connect(cmd.Context()); err != nil {
			fmt.Printf("  [ ] Connection: FAILED (%v)\n", err)
			return fmt.Errorf("target check failed")
		}
		defer c.Disconnect()
		fmt.Printf("  [x] Connection: OK (%s)\n", time.Since(start).Truncate(time.Millisecond))

		probe := ".appvault-probe"
		wstart := time.Now()
		if err := c.MkdirAll(cmd.Context(), probe); err != nil {
			fmt.Printf("  [ ] Permissions: WRITE FAILED (%v)\n", err)
			return fmt.Errorf("target check failed")
		}
		_ = c.RemoveDirectory(cmd.Context(), probe)
		fmt.Printf("  [x] Permissions: READ/WRITE OK (%s)\n", time.Since(wstart).Truncate(time.Millisecond))

		if cr, ok := c.(remote.CapacityReporter); ok {
			if free, total, err := cr.Capacity(cmd.Context()); err == nil {
				fmt.Printf("  [x] Capacity: %s free of %s\n",
					notify.FormatSize(int64(free)), notify.FormatSize(int64(total)))
			}
		}
		return nil
	},
}

var targetLsCmd = &cobra.Command{
	Use:   "ls [target] [path]",
	Short: "List a directory on a storage target",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openTarget(cmd.Context(), argOrEmpty(args, 0))
		if err != nil {
			return err
		}
		defer c.Disconnect()

		listing, err := c.ListFiles(cmd.Context(), argOrEmpty(args, 1))
		if err != nil {
			return err
		}

		fmt.Printf("\n%-19s %10s  %s\n", "MODIFIED", "SIZE", "NAME")
		fmt.Println(strings.Repeat("-", 60))
		for _, d := range listing.Dirs {
			fmt.Printf("%-19s %10s  %s/\n", modTime(d.ModTime), "<dir>", d.Name)
		}
		for _, f := range listing.Files {
			fmt.Printf("%-19s %10s  %s\n", modTime(f.ModTime), notify.FormatSize(f.Size), f.Name)
		}
		return nil
	},
}

var targetDuCmd = &cobra.Command{
	Use:   "du [target] [path]",
	Short: "Report how much space a target path uses",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openTarget(cmd.Context(), argOrEmpty(args, 0))
		if err != nil {
			return err
		}
		defer c.Disconnect()

		path := argOrEmpty(args, 1)
		size, err := c.Size(cmd.Context(), path)
		if err != nil {
			return err
		}

		l := logger.FromContext(cmd.Context())
		l.Info("Target usage", "path", path, "bytes", size, "size", notify.FormatSize(size))
		return nil
	},
}

var targetPruneCmd = &cobra.Command{
	Use:   "prune [target]",
	Short: "Remove old retained generations from a target",
	Long: `Remove retained generations beyond the newest --keep per app and user, or
older than --older-than when no keep count is in force. The live generation of
each app is never touched.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		cfg := config.GetConfig()

		keep := keepGens
		if keep <= 0 {
			keep = cfg.Keep
		}
		retention := olderThan
		if retention == "" {
			retention = cfg.Retention
		}
		age, err := backup.ParseRetention(retention)
		if err != nil {
			return err
		}
		if keep <= 0 && age <= 0 {
			return fmt.Errorf("--keep or --older-than (or the keep/retention config values) must be set")
		}

		removed, err := pruneTarget(cmd.Context(), l, argOrEmpty(args, 0), keep, age)
		if err != nil {
			return err
		}
		l.Info("Prune complete", "removed", removed, "keep", keep)
		return nil
	},
}

// openTarget resolves and connects a target given by name, URI or the
// --target flag. The caller owns the Disconnect.
func openTarget(ctx context.Context, name string) (remote.Client, error) {
	cfg := config.GetConfig()
	if name == "" {
		name = target
	}
	uri, err := cfg.ResolveTarget(name)
	if err != nil {
		return nil, err
	}
	c, err := remote.FromURI(uri, remote.Options{AllowInsecure: allowInsecure || cfg.AllowInsecure})
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func pruneTarget(ctx context.Context, l *logger.Logger, name string, keep int, age time.Duration) (int, error) {
	c, err := openTarget(ctx, name)
	if err != nil {
		return 0, err
	}
	defer c.Disconnect()
	return backup.Prune(ctx, c, backup.PruneOptions{Keep: keep, OlderThan: age, Log: l})
}

func argOrEmpty(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func modTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func init() {
	rootCmd.AddCommand(targetCmd)
	targetCmd.AddCommand(targetTestCmd)
	targetCmd.AddCommand(targetLsCmd)
	targetCmd.AddCommand(targetDuCmd)
	targetCmd.AddCommand(targetPruneCmd)

	targetCmd.PersistentFlags().StringVarP(&target, "target", "t", "", "target name from the config or a URI")
	targetCmd.PersistentFlags().BoolVar(&allowInsecure, "allow-insecure", false, "permit plaintext protocols such as ftp://")
	targetPruneCmd.Flags().IntVar(&keepGens, "keep", 0, "retained generations to keep per app (defaults to the config value)")
	targetPruneCmd.Flags().StringVar(&olderThan, "older-than", "", "age out retained generations older than this (e.g. 30d, 72h)")
}
