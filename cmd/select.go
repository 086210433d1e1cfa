package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lupppig/appvault/internal/logger"
)

var (
	selectAll  bool
	selectNone bool
	deselect   bool
)

var selectCmd = &cobra.Command{
	Use:   "select [package...]",
	Short: "Choose which apps the next run covers",
	Long: `Mark cataloged apps as selected for the next backup or restore run.
A finished run clears every selection, so selections never leak into later runs.
--all selects every candidate for the operation, --none clears the selection and
--deselect unmarks the named packages instead of marking them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		op, err := parseOp(opName)
		if err != nil {
			return err
		}

		if selectAll && selectNone {
			return fmt.Errorf("--all and --none are mutually exclusive")
		}
		if !selectAll && !selectNone && len(args) == 0 {
			return fmt.Errorf("name packages to select, or pass --all or --none")
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		activated := !selectNone && !deselect
		names := args
		if selectAll || selectNone {
			names = nil
		}

		n, err := st.SetActivated(cmd.Context(), op, userID, names, activated)
		if err != nil {
			return err
		}
		if n == 0 && len(names) > 0 {
			return fmt.Errorf("no cataloged apps match; run 'appvault scan' first")
		}

		if activated {
			l.Info("Apps selected", "count", n, "op", op)
		} else {
			l.Info("Apps deselected", "count", n, "op", op)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(selectCmd)

	selectCmd.Flags().StringVar(&opName, "op", "backup", "operation the selection is for (backup or restore)")
	selectCmd.Flags().IntVar(&userID, "user", 0, "user profile the packages belong to")
	selectCmd.Flags().BoolVar(&selectAll, "all", false, "select every cataloged app for the operation")
	selectCmd.Flags().BoolVar(&selectNone, "none", false, "clear the selection for the operation")
	selectCmd.Flags().BoolVar(&deselect, "deselect", false, "unmark the named packages instead of marking them")
}
