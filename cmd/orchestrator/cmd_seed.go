package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liamcoop/loanorchestrator/decision"
	"github.com/liamcoop/loanorchestrator/internal/logger"
)

var seedCmd = &cobra.Command{
	Use:   "seed <fixtures.yaml>",
	Short: "Load applications and pipelines from a YAML file into the configured store",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Database.URL == "" {
		logger.Warn("seeding the in-memory store, data is discarded on exit")
	}
	if err := seedFile(cmd.Context(), a.store, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s\n", args[0])
	return nil
}

func seedFile(ctx context.Context, store decision.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open fixtures: %w", err)
	}
	defer f.Close()

	fixtures, err := decision.LoadFixtures(f)
	if err != nil {
		return fmt.Errorf("load fixtures %s: %w", path, err)
	}
	if err := decision.Seed(ctx, store, fixtures); err != nil {
		return err
	}
	logger.Info("fixtures seeded", "path", path, "applications", len(fixtures.Applications), "pipelines", len(fixtures.Pipelines))
	return nil
}
