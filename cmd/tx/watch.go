package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesaphoenix/tx/internal/lockfile"
)

// version is stamped into the watch lock file for operator diagnostics;
// overridden at build time via -ldflags where the release pipeline sets it.
var version = "dev"

func newWatchCmd() *cobra.Command {
	var intervalSeconds int
	var once bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the orchestrator's reconcile sweep on a fixed interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			lock, err := lockfile.AcquireWatchLock(projectRoot, dbPath, version)
			if err != nil {
				if lockfile.IsLocked(err) {
					if running, pid := lockfile.TryDaemonLock(projectRoot); running {
						return fmt.Errorf("watch: already running (pid %d)", pid)
					}
					return fmt.Errorf("watch: already running")
				}
				return err
			}
			defer lock.Close()

			o := workerOrchestrator()
			ctx := cmd.Context()

			runOnce := func() error {
				result, err := o.Reconcile(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(result)
				} else {
					fmt.Printf("reconcile: %d dead worker(s), %d expired claim(s), %d orphaned task(s), %d stale state(s)\n",
						result.DeadWorkersFound, result.ExpiredClaimsReleased,
						result.OrphanedTasksRecovered, result.StaleStatesFixed)
				}
				return nil
			}

			if once {
				return runOnce()
			}

			ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
			defer ticker.Stop()
			for {
				if err := runOnce(); err != nil {
					return err
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().IntVar(&intervalSeconds, "interval", 60, "seconds between reconcile sweeps")
	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	return cmd
}
