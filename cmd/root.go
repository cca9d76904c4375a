package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lmeira/docsqueeze/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "docsqueeze",
	Short: "AI metadata extraction for a paperless-ngx archive",
	Long:  "Classifies scanned documents against templates, extracts structured fields via two-stage Claude models, and writes the results back to the archive with a tag-based review workflow.",
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
