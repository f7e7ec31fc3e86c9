// Package main is the docchat server, worker and operator CLI.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/custodia-labs/docchat/internal/config"
	"github.com/custodia-labs/docchat/internal/logger"
)

var (
	// configPath is the optional YAML configuration file
	configPath string
	// version is set at build time with -ldflags "-X main.version=..."
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "docchat",
	Short: "Ask questions about your PDFs",
	Long: `docchat ingests uploaded PDFs into per-document vector namespaces and
answers questions about them with retrieved passages and a streaming chat model.

Configuration comes from an optional YAML file (--config) and DOCCHAT_*
environment variables, e.g. DOCCHAT_DATABASE_URL or DOCCHAT_OPENAI_API_KEY.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, workerCmd, allCmd, ingestCmd, tokenCmd, migrateCmd)
}

// loadConfig reads the configuration and builds the logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewLogger(cfg.Env, cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log.With(zap.String("version", version)), nil
}
