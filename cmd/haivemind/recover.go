package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hAIvemind-dev/haivemind/internal/registry"
	"github.com/hAIvemind-dev/haivemind/internal/snapshot"
)

func recoverCmd() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "List sessions left interrupted by a prior crash, without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(dataDir)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "project registry and session storage root (default: $HAIVEMIND_DATA_DIR or ~/.haivemind)")
	return cmd
}

func runRecover(dataDirFlag string) error {
	baseDir, err := resolveDataDir(dataDirFlag)
	if err != nil {
		return err
	}
	reg := registry.New(baseDir)
	records, err := reg.List()
	if err != nil {
		return fmt.Errorf("haivemind: list projects: %w", err)
	}
	dirs := make([]string, 0, len(records))
	for _, rec := range records {
		dirs = append(dirs, rec.Dir)
	}

	orphaned, err := snapshot.MigrateOrphaned(baseDir, dirs)
	if err != nil {
		return fmt.Errorf("haivemind: migrate orphaned checkpoints: %w", err)
	}
	if len(orphaned) == 0 {
		fmt.Println("no interrupted sessions found")
		return nil
	}
	for _, c := range orphaned {
		fmt.Printf("%s\tproject=%s\tprompt=%q\n", c.SessionID, c.ProjectSlug, c.Prompt)
	}
	return nil
}
