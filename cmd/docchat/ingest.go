package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driving"
)

var (
	ingestOwner string
	ingestName  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <source-key>",
	Short: "Ingest one stored PDF without the queue",
	Long: `Fetch a PDF from the configured storage, split and embed it, and write its
passages to the vector index. The document row is printed when ingestion ends.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, log, appOptions{Inline: true})
		if err != nil {
			return err
		}
		defer a.Close()

		name := ingestName
		if name == "" {
			name = args[0]
		}
		doc, err := a.ingestion.Accept(ctx, driving.AcceptRequest{
			OwnerID:   ingestOwner,
			SourceKey: args[0],
			Name:      name,
		})
		if err != nil {
			return err
		}
		a.ingestion.Wait()

		doc, err = a.documents.Get(ctx, doc.ID, ingestOwner)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return err
		}
		if doc.Status != domain.IngestionSuccess {
			return fmt.Errorf("ingestion %s: %s", doc.Status, doc.Error)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestOwner, "owner", os.Getenv("USER"), "owner user ID")
	ingestCmd.Flags().StringVar(&ingestName, "name", "", "display name (defaults to the source key)")
}
