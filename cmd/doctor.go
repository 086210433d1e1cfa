package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/lupppig/appvault/internal/config"
	"github.com/lupppig/appvault/internal/logger"
	"github.com/lupppig/appvault/internal/remote"
)

var repairRuns bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the library, the record store and the storage targets",
	Long: `Verify that the app library, the record store and the configured storage
targets are usable, and list runs that were interrupted before finishing.
With --repair interrupted runs are closed out so they stop showing as running.`,
	Run: func(cmd *cobra.Command, args []string) {
		l := logger.FromContext(cmd.Context())
		l.Info("appvault doctor - environment check", "os", runtime.GOOS, "arch", runtime.GOARCH)

		cfg := config.GetConfig()
		allOk := true

		fmt.Printf("[Library]\n")
		for _, d := range []struct{ name, path string }{
			{"apk root", cfg.Library.APKRoot},
			{"data root", cfg.Library.DataRoot},
		} {
			if fi, err := os.Stat(d.path); err == nil && fi.IsDir() {
				fmt.Printf("  [x] %-12s: %s\n", d.name, d.path)
			} else {
				fmt.Printf("  [ ] %-12s: NOT FOUND (%s)\n", d.name, d.path)
				allOk = false
			}
		}
		fmt.Println()

		fmt.Printf("[Record store]\n")
		driver := cfg.Store.Driver
		if driver == "" {
			driver = "sqlite"
		}
		st, err := openStore()
		if err != nil {
			fmt.Printf("  [ ] %-12s: FAILED (%v)\n", "open", err)
			allOk = false
		} else {
			fmt.Printf("  [x] %-12s: %s\n", "open", driver)

			dangling, derr := st.DanglingTasks(cmd.Context())
			switch {
			case derr != nil:
				fmt.Printf("  [ ] %-12s: FAILED (%v)\n", "runs", derr)
				allOk = false
			case len(dangling) == 0:
				fmt.Printf("  [x] %-12s: no interrupted runs\n", "runs")
			case repairRuns:
				repaired := 0
				for _, t := range dangling {
					if err := st.ReconcileDangling(cmd.Context(), t.ID); err != nil {
						fmt.Printf("  [ ] %-12s: task %d not repaired (%v)\n", "runs", t.ID, err)
						allOk = false
						continue
					}
					repaired++
				}
				fmt.Printf("  [x] %-12s: %d interrupted runs repaired\n", "runs", repaired)
			default:
				fmt.Printf("  [ ] %-12s: %d interrupted runs (rerun with --repair)\n", "runs", len(dangling))
				allOk = false
			}
			st.Close()
		}
		fmt.Println()

		if len(cfg.Hooks.Install) > 0 || len(cfg.Hooks.Uninstall) > 0 {
			fmt.Printf("[Hooks]\n")
			for _, h := range []struct {
				name string
				argv []string
			}{
				{"install", cfg.Hooks.Install},
				{"uninstall", cfg.Hooks.Uninstall},
			} {
				if len(h.argv) == 0 {
					continue
				}
				path, err := exec.LookPath(h.argv[0])
				if err != nil {
					fmt.Printf("  [ ] %-12s: NOT FOUND (%s)\n", h.name, h.argv[0])
					allOk = false
				} else {
					fmt.Printf("  [x] %-12s: %s\n", h.name, path)
				}
			}
			fmt.Println()
		}

		// Live target checks
		targets := make(map[string]bool)
		if cfg.DefaultTarget != "" {
			if uri, err := cfg.ResolveTarget(cfg.DefaultTarget); err == nil {
				targets[uri] = true
			}
		}
		for _, t := range cfg.Targets {
			if t.URI != "" {
				targets[t.URI] = true
			}
		}

		if len(targets) > 0 {
			fmt.Println("[Storage targets]")
			for uri := range targets {
				c, err := remote.FromURI(uri, remote.Options{AllowInsecure: cfg.AllowInsecure})
				if err != nil {
					fmt.Printf("  [ ] %s: %v\n", remote.Scrub(uri), err)
					allOk = false
					continue
				}
				fmt.Printf("  Checking %s...\n", c.Location())

				start := time.Now()
				if err := c.Connect(cmd.Context()); err != nil {
					fmt.Printf("    [ ] Connection: FAILED (%v)\n", err)
					allOk = false
					continue
				}
				latency := time.Since(start)

				probe := ".appvault-probe"
				if err := c.MkdirAll(cmd.Context(), probe); err != nil {
					fmt.Printf("    [ ] Permissions: FAILED (write failed: %v)\n", err)
					allOk = false
				} else {
					fmt.Printf("    [x] Latency: %s\n", latency.Truncate(time.Millisecond))
					fmt.Printf("    [x] Permissions: READ/WRITE OK\n")
					_ = c.RemoveDirectory(cmd.Context(), probe)
				}
				c.Disconnect()
			}
			fmt.Println()
		}

		if allOk {
			fmt.Println("Result: Everything checks out. Your environment is ready for appvault.")
		} else {
			fmt.Println("Result: Some checks failed. Fix the issues above before relying on backups.")
		}
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().BoolVar(&repairRuns, "repair", false, "close out interrupted runs")
}
