// Command tx is the CLI surface over the task-and-knowledge substrate:
// a thin cobra adapter that opens the store, wires the kernel,
// orchestrator, retrieval engine, and compactor, and maps library error
// kinds to the stable exit codes spec.md §6 and §7 describe (0 success,
// 1 general error, 2 not-found).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesaphoenix/tx/internal/clock"
	"github.com/jamesaphoenix/tx/internal/compact"
	"github.com/jamesaphoenix/tx/internal/config"
	"github.com/jamesaphoenix/tx/internal/kernel"
	"github.com/jamesaphoenix/tx/internal/orchestrator"
	"github.com/jamesaphoenix/tx/internal/retrieval"
	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/storage/sqlite"
	"github.com/jamesaphoenix/tx/internal/validation"
)

var (
	dbPath     string
	jsonOutput bool

	projectRoot    string
	resolvedDBPath string
	db             storage.Store
	realClock      = clock.Real{}

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

func rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tx",
		Short:         "A local task-and-knowledge substrate for AI coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" {
				return nil
			}
			return openStore()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if db != nil {
				return db.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides TX_DB_PATH and .txrc.json)")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON instead of plain text")
	_ = viper.BindPFlag("db", cmd.PersistentFlags().Lookup("db"))

	cmd.AddCommand(
		newInitCmd(),
		newAddCmd(),
		newListCmd(),
		newReadyCmd(),
		newShowCmd(),
		newUpdateCmd(),
		newDoneCmd(),
		newDeleteCmd(),
		newBlockCmd(),
		newUnblockCmd(),
		newTreeCmd(),
		newClaimCmd(),
		newClaimRenewCmd(),
		newClaimReleaseCmd(),
		newContextCmd(),
		newLearnCmd(),
		newRecallCmd(),
		newValidateCmd(),
		newCompactCmd(),
		newBulkCmd(),
		newWatchCmd(),
	)
	return cmd
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCommand().ExecuteContext(rootCtx); err != nil {
		exitWithError(err)
	}
}

// openStore resolves the database location (flag > TX_DB_PATH > .txrc.json
// > default) and opens (migrating, if needed) the SQLite-backed store.
func openStore() error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}
	projectRoot = wd

	cfg := config.LoadLocalConfigWithEnv(projectRoot)
	path := dbPath
	if path == "" {
		path = cfg.ResolvedDBPath(projectRoot)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}

	s, err := sqlite.OpenWithClock(rootCtx, path, realClock)
	if err != nil {
		return fmt.Errorf("open database at %s: %w", path, err)
	}
	db = s
	resolvedDBPath = path
	return nil
}

func taskKernel() *kernel.Kernel {
	return kernel.NewWithClock(db, realClock)
}

func workerOrchestrator() *orchestrator.Orchestrator {
	return orchestrator.NewWithClock(db, orchestrator.DefaultConfig(), realClock)
}

func retrievalEngine() *retrieval.Engine {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	embedder := retrieval.NewLiveEmbedder(apiKey, 256)
	reranker := retrieval.NewLiveReranker(apiKey)
	return retrieval.NewWithClock(db, embedder, reranker, retrieval.DefaultConfig(), realClock)
}

func compactor() *compact.Compactor {
	llm := compact.NewLLM(os.Getenv("ANTHROPIC_API_KEY"))
	return compact.NewWithClock(db, llm, compact.Config{
		ProjectRoot:  projectRoot,
		MarkdownPath: "LEARNINGS.md",
	}, realClock)
}

func validationChecker() *validation.Checker {
	return validation.New(db)
}
