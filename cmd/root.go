package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lupppig/appvault/internal/config"
	"github.com/lupppig/appvault/internal/logger"
)

var (
	cfgFile string

	LogJSON bool
	NoColor bool
	Debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "appvault",
	Short: "appvault backs up installed apps and their data to local folders or remote servers",
	Long: `appvault is a command-line tool for preserving installed applications: the
	package payload and, optionally, the per-user data directory of each app. Backups
	go to a local folder or a remote target (SFTP, FTP, SMB, WebDAV, S3) and can be
	restored from there later, including older retained generations.
	The usual flow is scan to catalog the library, select to choose apps, then backup
	or restore. Schedules, named targets, notifications and install hooks are wired
	through the configuration file.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(cfgFile); err != nil {
			return err
		}
		cfg := config.GetConfig()
		l := logger.New(logger.Config{
			JSON:    LogJSON || cfg.LogJSON,
			NoColor: NoColor || cfg.NoColor,
			Debug:   Debug || cfg.Debug,
		})
		cmd.SetContext(logger.IntoContext(cmd.Context(), l))
		return nil
	},
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("appvault version {{ .Version }}\n")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&LogJSON, "log-json", false, "emit logs as JSON")
	rootCmd.PersistentFlags().BoolVar(&NoColor, "no-color", false, "disable colored log output")
	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "enable debug logging")
}

func Execute() error {
	return rootCmd.Execute()
}
