package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jamesaphoenix/tx/internal/types"
)

func newClaimCmd() *cobra.Command {
	var workerID, workerName string

	cmd := &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim a task under a fresh lease, registering a worker first if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o := workerOrchestrator()

			if workerID == "" {
				hostname, _ := os.Hostname()
				w, err := o.Register(cmd.Context(), workerName, hostname, os.Getpid())
				if err != nil {
					return err
				}
				workerID = w.ID
			}

			claim, err := o.Claim(cmd.Context(), args[0], workerID)
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(claim)
			} else {
				fmt.Printf("Claimed %s as worker %s (claim %d, lease expires %s)\n",
					claim.TaskID, claim.WorkerID, claim.ID, claim.LeaseExpiresAt.Format("15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workerID, "worker", "", "existing worker id (registers a new one if empty)")
	cmd.Flags().StringVar(&workerName, "name", "", "name for a newly-registered worker")
	return cmd
}

func newClaimRenewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim:renew <id>",
		Short: "Renew the active claim's lease for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			active, err := db.GetActiveClaim(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renewed, err := workerOrchestrator().Renew(cmd.Context(), active.ID)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(renewed)
			} else {
				fmt.Printf("Renewed claim %d (renewal #%d, lease expires %s)\n",
					renewed.ID, renewed.RenewalCount, renewed.LeaseExpiresAt.Format("15:04:05"))
			}
			return nil
		},
	}
}

func newClaimReleaseCmd() *cobra.Command {
	var completed bool

	cmd := &cobra.Command{
		Use:   "claim:release <id>",
		Short: "Release the active claim for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			active, err := db.GetActiveClaim(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			status := types.ClaimReleased
			if completed {
				status = types.ClaimCompleted
			}
			if err := workerOrchestrator().Release(cmd.Context(), active.ID, status); err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]any{"claim_id": active.ID, "status": status})
			} else {
				fmt.Printf("Released claim %d (%s)\n", active.ID, status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&completed, "completed", false, "mark the claim completed instead of released")
	return cmd
}
