package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/custodia-labs/docchat/internal/adapters/driven/postgres"
	"github.com/custodia-labs/docchat/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema",
	Long:  "Create the documents, messages and task tables, plus the pgvector passage table when index.backend is pgvector.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx := cmd.Context()
		db, err := postgres.Connect(ctx, postgres.DefaultConfig(cfg.Database.URL))
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.InitSchema(ctx); err != nil {
			return err
		}
		if cfg.Index.Backend == config.IndexPgvector {
			if err := db.InitVectorSchema(ctx); err != nil {
				return err
			}
		}

		log.Info("schema ready", zap.String("index", cfg.Index.Backend))
		_, err = fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
		return err
	},
}
