package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jamesaphoenix/tx/internal/kernel"
	"github.com/jamesaphoenix/tx/internal/types"
)

// ExecuteFunc runs task to completion, returning a human-readable summary
// or an error. Callers provide this; the worker loop never executes code
// itself.
type ExecuteFunc func(ctx context.Context, task *types.Task) (summary string, err error)

// CaptureIOFunc optionally reports where a run's stdout/stderr/transcript
// are being written, for heartbeat byte-counting.
type CaptureIOFunc func(task *types.Task) (stdoutPath, stderrPath, transcriptPath string)

// WorkerLoopConfig configures a single headless worker's fibers.
type WorkerLoopConfig struct {
	WorkerID  string
	Execute   ExecuteFunc
	CaptureIO CaptureIOFunc
}

// RunWorkerLoop drives one headless worker until ctx is cancelled: a
// heartbeat fiber posts liveness at the configured interval, a
// lease-renewal fiber extends the active claim at 10x the heartbeat
// interval, and the main fiber repeatedly claims the top ready task,
// executes it, and releases the claim. A failed renewal means another
// worker may have already reclaimed the task, so the loop initiates
// graceful shutdown rather than continuing to execute.
func (o *Orchestrator) RunWorkerLoop(ctx context.Context, cfg WorkerLoopConfig) error {
	g, ctx := errgroup.WithContext(ctx)
	heartbeatInterval := time.Duration(o.config.HeartbeatIntervalSecond) * time.Second
	renewInterval := heartbeatInterval * 10

	g.Go(func() error {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := o.Heartbeat(ctx, cfg.WorkerID, types.Worker{Status: types.WorkerBusy}); err != nil {
					slog.Warn("heartbeat failed", "worker", cfg.WorkerID, "error", err)
				}
			}
		}
	})

	currentClaim := make(chan *types.TaskClaim, 1)
	g.Go(func() error {
		ticker := time.NewTicker(renewInterval)
		defer ticker.Stop()
		var active *types.TaskClaim
		for {
			select {
			case <-ctx.Done():
				return nil
			case c := <-currentClaim:
				active = c
			case <-ticker.C:
				if active == nil {
					continue
				}
				if _, err := o.Renew(ctx, active.ID); err != nil {
					slog.Warn("lease renewal failed, initiating shutdown", "worker", cfg.WorkerID, "claim", active.ID, "error", err)
					return fmt.Errorf("renew claim %d: %w", active.ID, err)
				}
			}
		}
	})

	k := kernel.NewWithClock(o.store, o.clock)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			ready, err := k.Ready(ctx, 1)
			if err != nil {
				return fmt.Errorf("read ready set: %w", err)
			}
			if len(ready) == 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(heartbeatInterval):
					continue
				}
			}

			task := ready[0].Task
			claim, err := o.Claim(ctx, task.ID, cfg.WorkerID)
			if err != nil {
				continue // lost the race to another worker; retry next tick
			}
			select {
			case currentClaim <- claim:
			default:
			}

			run := &types.Run{
				ID:        uuid.NewString(),
				TaskID:    task.ID,
				Agent:     cfg.WorkerID,
				StartedAt: o.clock.Now(),
				Status:    types.RunRunning,
			}
			if cfg.CaptureIO != nil {
				run.StdoutPath, run.StderrPath, run.TranscriptPath = cfg.CaptureIO(task)
			}
			if err := o.store.CreateRun(ctx, run); err != nil {
				slog.Warn("create run failed", "task", task.ID, "error", err)
			}

			summary, execErr := cfg.Execute(ctx, task)

			status := types.ClaimCompleted
			endedAt := o.clock.Now()
			run.EndedAt = &endedAt
			run.Summary = summary
			if execErr != nil {
				status = types.ClaimReleased
				run.Status = types.RunFailed
				run.ErrorMessage = execErr.Error()
				code := 1
				run.ExitCode = &code
				slog.Warn("task execution failed", "task", task.ID, "error", execErr)
			} else {
				run.Status = types.RunSucceeded
				code := 0
				run.ExitCode = &code
				if _, _, err := o.store.CompleteTask(ctx, task.ID); err != nil {
					slog.Warn("complete task failed", "task", task.ID, "error", err)
				}
			}
			if err := o.store.UpdateRun(ctx, run); err != nil {
				slog.Warn("update run failed", "run", run.ID, "error", err)
			}

			if err := o.Release(ctx, claim.ID, status); err != nil {
				slog.Warn("release claim failed", "claim", claim.ID, "error", err)
			}
		}
	})

	return g.Wait()
}
