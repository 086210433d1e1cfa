package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lupppig/appvault/internal/logger"
	"github.com/lupppig/appvault/internal/notify"
	"github.com/lupppig/appvault/internal/record"
)

var opName string

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "List cataloged apps",
	Long: `List the apps the catalog knows about.
Backup candidates come from scanning the local library, restore candidates from
scanning a storage target. Apps selected for the next run are marked with *.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		op, err := parseOp(opName)
		if err != nil {
			return err
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		l := logger.FromContext(cmd.Context())
		items, err := st.Items(cmd.Context(), op)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			l.Info("No cataloged apps. Run 'appvault scan' first.")
			return nil
		}

		fmt.Printf("\n%-3s %-36s %-22s %-14s %-4s %-19s %-10s %-9s\n",
			"SEL", "PACKAGE", "LABEL", "VERSION", "USER", "GENERATION", "SIZE", "STATE")
		fmt.Println(strings.Repeat("-", 120))

		for _, it := range items {
			sel := ""
			if it.Activated {
				sel = "*"
			}
			gen := "live"
			if it.PreserveID != 0 {
				gen = time.UnixMilli(it.PreserveID).Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-3s %-36s %-22s %-14s %-4d %-19s %-10s %-9s\n",
				sel,
				it.Name,
				it.Label,
				it.VersionName,
				it.UserID,
				gen,
				notify.FormatSize(it.ApkBytes+it.DataBytes),
				string(it.State),
			)
		}

		l.Info("Apps listed", "count", len(items))
		return nil
	},
}

func parseOp(s string) (record.OpType, error) {
	switch s {
	case "backup":
		return record.OpBackup, nil
	case "restore":
		return record.OpRestore, nil
	}
	return "", fmt.Errorf("unknown operation %q (use backup or restore)", s)
}

func init() {
	rootCmd.AddCommand(appsCmd)

	appsCmd.Flags().StringVar(&opName, "op", "backup", "which candidates to list (backup or restore)")
}
