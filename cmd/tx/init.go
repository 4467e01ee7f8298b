package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jamesaphoenix/tx/internal/config"
	"github.com/jamesaphoenix/tx/internal/storage/sqlite"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a tx database in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getwd: %w", err)
			}

			cfg := config.LoadLocalConfigWithEnv(wd)
			path := dbPath
			if path == "" {
				path = cfg.ResolvedDBPath(wd)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create database directory: %w", err)
			}

			s, err := sqlite.Open(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("open database at %s: %w", path, err)
			}
			defer func() { _ = s.Close() }()

			if jsonOutput {
				printJSON(map[string]any{"db_path": path})
			} else {
				fmt.Printf("Initialized tx database at %s\n", path)
			}
			return nil
		},
	}
}
