// Package cli implements settlectl, the operator tool for the settlement
// ledger.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/biosmarket/settlement/internal/config"
	"github.com/biosmarket/settlement/internal/infra/logger"
)

var (
	configPath string

	cfg config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "settlectl",
	Short:         "Operate the marketplace settlement ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		l, err := logger.New(loaded.Log.Level)
		if err != nil {
			return err
		}
		cfg = loaded
		log = l.Named("settlectl")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	defaultPath := os.Getenv("APP_CONFIG")
	if defaultPath == "" {
		defaultPath = "configs/config.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath, "Path to the YAML config file")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
