package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lupppig/appvault/internal/applib"
	"github.com/lupppig/appvault/internal/config"
	"github.com/lupppig/appvault/internal/logger"
	"github.com/lupppig/appvault/internal/record"
	"github.com/lupppig/appvault/internal/remote"
	"github.com/lupppig/appvault/internal/store"
)

var scanAllUsers bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Catalog apps from the local library or a storage target",
	Long: `Catalog apps so they can be selected for a run.

Without flags the local library is scanned and every app found becomes a backup
candidate. With --target the storage target is scanned instead and its backed up
apps, including retained generations, become restore candidates.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if target != "" {
			return scanTarget(cmd, l, st)
		}

		lib := appLibrary()
		users := []int{userID}
		if scanAllUsers {
			users, err = lib.Users()
			if err != nil {
				return err
			}
		}

		total := 0
		for _, u := range users {
			apps, err := lib.Scan(cmd.Context(), u)
			if err != nil {
				return err
			}
			for _, a := range apps {
				if err := st.UpsertItem(cmd.Context(), a.Item(record.OpBackup)); err != nil {
					return err
				}
			}
			l.Debug("User scanned", "user", u, "apps", len(apps))
			total += len(apps)
		}

		l.Info("Scan complete", "apps", total, "users", len(users))
		if total == 0 {
			l.Info("Nothing found. Check library.apk_root in the config.")
		}
		return nil
	},
}

func scanTarget(cmd *cobra.Command, l *logger.Logger, st *store.Store) error {
	cfg := config.GetConfig()
	uri, err := cfg.ResolveTarget(target)
	if err != nil {
		return err
	}

	c, err := remote.FromURI(uri, remote.Options{AllowInsecure: allowInsecure || cfg.AllowInsecure})
	if err != nil {
		return err
	}
	if err := c.Connect(cmd.Context()); err != nil {
		return err
	}
	defer c.Disconnect()

	staging, err := os.MkdirTemp("", "appvault-*")
	if err != nil {
		return fmt.Errorf("cannot create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	l.Info("Scanning target for restorable apps", "target", c.Location())

	apps, err := applib.ScanTarget(cmd.Context(), c, staging)
	if err != nil {
		return err
	}
	for _, a := range apps {
		if err := st.UpsertItem(cmd.Context(), a.Item(record.OpRestore)); err != nil {
			return err
		}
	}

	l.Info("Scan complete", "apps", len(apps))
	return nil
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&target, "target", "t", "", "scan this storage target instead of the local library")
	scanCmd.Flags().IntVar(&userID, "user", 0, "user profile to scan")
	scanCmd.Flags().BoolVar(&scanAllUsers, "all-users", false, "scan every user profile found in the library")
	scanCmd.Flags().BoolVar(&allowInsecure, "allow-insecure", false, "permit plaintext protocols such as ftp://")
}
