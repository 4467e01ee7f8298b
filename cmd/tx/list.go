package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/types"
)

func newListCmd() *cobra.Command {
	var statusFlag, assignee, query string
	var limit, offset int
	var watch bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.TaskFilter{
				AssigneeID: assignee,
				Query:      query,
				Limit:      limit,
				Offset:     offset,
			}
			if statusFlag != "" {
				s := types.Status(statusFlag)
				if !s.IsValid() {
					return fmt.Errorf("invalid status %q", statusFlag)
				}
				filter.Statuses = []types.Status{s}
			}

			if watch {
				return watchTasks(cmd, filter)
			}

			tasks, err := db.ListTasks(cmd.Context(), filter)
			if err != nil {
				return err
			}
			printTaskList(tasks)
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "", "filter by status")
	cmd.Flags().StringVar(&assignee, "assignee", "", "filter by assignee id")
	cmd.Flags().StringVar(&query, "query", "", "filter by title/description substring")
	cmd.Flags().IntVar(&limit, "limit", 0, "max results (0 = unbounded)")
	cmd.Flags().IntVar(&offset, "offset", 0, "result offset")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-list whenever the database or sync file changes")
	return cmd
}

func printTaskList(tasks []*types.Task) {
	if jsonOutput {
		printJSON(tasks)
		return
	}
	for _, t := range tasks {
		fmt.Printf("%s  [%s]  %s\n", t.ID, t.Status, t.Title)
	}
}

// watchTasks re-runs the list on every write to the database file or the
// project's JSONL sync file, debounced so a burst of writes (e.g. a WAL
// checkpoint) only triggers one re-list.
func watchTasks(cmd *cobra.Command, filter storage.TaskFilter) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	watchDirs := []string{projectRoot}
	if resolvedDBPath != "" && filepath.Dir(resolvedDBPath) != projectRoot {
		watchDirs = append(watchDirs, filepath.Dir(resolvedDBPath))
	}
	for _, watchDir := range watchDirs {
		if err := watcher.Add(watchDir); err != nil {
			return fmt.Errorf("watch %s: %w", watchDir, err)
		}
	}

	relist := func() {
		tasks, err := db.ListTasks(cmd.Context(), filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error refreshing list: %v\n", err)
			return
		}
		printTaskList(tasks)
		fmt.Fprintln(os.Stderr, "\nWatching for changes... (Ctrl+C to exit)")
	}
	relist()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var debounce *time.Timer
	const debounceDelay = 500 * time.Millisecond

	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nStopped watching.")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) {
				continue
			}
			base := filepath.Base(event.Name)
			if base != "tasks.jsonl" && base != "beads.jsonl" && !strings.HasSuffix(base, ".db") && !strings.HasSuffix(base, ".db-wal") {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, relist)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		}
	}
}
