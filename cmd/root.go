package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mailtriage/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "mailtriage",
	Short: "Progressive refinement pipeline for business email analysis",
	Long:  "Triages the full mailbox with deterministic heuristics, analyzes the priority tier with a fast Claude model, and escalates the critical tier to a deep model with fallback.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
