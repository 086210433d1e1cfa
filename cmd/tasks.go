package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lupppig/appvault/internal/logger"
	"github.com/lupppig/appvault/internal/notify"
)

var tasksLimit int

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Show recent run history",
	Long: `Show past backup and restore runs, newest first.
A run still marked running after a crash can be repaired with 'appvault doctor --repair'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		l := logger.FromContext(cmd.Context())
		tasks, err := st.Tasks(cmd.Context(), tasksLimit)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			l.Info("No runs recorded yet.")
			return nil
		}

		fmt.Printf("\n%-5s %-8s %-8s %-19s %-10s %-9s %-9s %-10s %s\n",
			"ID", "OP", "KIND", "STARTED AT", "DURATION", "APPS", "STATUS", "SIZE", "TARGET")
		fmt.Println(strings.Repeat("-", 110))

		for _, t := range tasks {
			status := "ok"
			switch {
			case t.Processing:
				status = "running"
			case t.FailureCount > 0:
				status = "failed"
			}
			fmt.Printf("%-5d %-8s %-8s %-19s %-10s %-9s %-9s %-10s %s\n",
				t.ID,
				string(t.OpType),
				string(t.Kind),
				t.StartedAt.Format("2006-01-02 15:04:05"),
				t.Elapsed().Truncate(time.Second).String(),
				fmt.Sprintf("%d/%d", t.SuccessCount, t.TotalCount),
				status,
				notify.FormatSize(int64(t.RawBytes)),
				t.Target,
			)
		}

		l.Info("Tasks listed", "count", len(tasks))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd)

	tasksCmd.Flags().IntVar(&tasksLimit, "limit", 20, "maximum number of runs to show")
}
