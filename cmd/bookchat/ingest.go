package main

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/readerlab/bookchat/config"
	"github.com/readerlab/bookchat/internal/index/qdrant"
	"github.com/readerlab/bookchat/internal/ingest"
	"github.com/readerlab/bookchat/internal/store"
	"github.com/readerlab/bookchat/provider"
	"github.com/spf13/cobra"
)

func ingestCMD() *cobra.Command {
	var cfgPath string
	var bookIDStr string

	var cmd = &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest a book file (txt or md) into Postgres and Qdrant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := cmd.Context()

			bookID := uuid.New()
			if bookIDStr != "" {
				id, err := uuid.Parse(bookIDStr)
				if err != nil {
					return fmt.Errorf("invalid book id: %w", err)
				}
				bookID = id
			}

			st, err := store.New(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return fmt.Errorf("postgres connection failed: %w", err)
			}
			prov, err := provider.NewProvider(cfg.Providers)
			if err != nil {
				return err
			}
			idx := qdrant.NewStorage(qdrant.Config{
				URL:        cfg.Qdrant.URL,
				APIKey:     cfg.Qdrant.APIKey,
				Collection: cfg.Qdrant.Collection,
				Timeout:    cfg.Qdrant.Timeout,
			})

			logger := log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
			p := ingest.NewPipeline(prov, idx, st, logger,
				cfg.RAG.ChunkTargetTokens, cfg.RAG.ChunkOverlapTokens, cfg.Qdrant.Dimensions)
			res, err := p.IngestFile(ctx, args[0], bookID)
			if err != nil {
				return err
			}
			logger.Printf("ingested book %s: %d chunks from %d characters", res.BookID, res.Chunks, res.Characters)
			return nil
		},
	}
	cmd.Flags().StringVar(&bookIDStr, "book-id", "", "book id (defaults to a new uuid; reuse an id to replace a book)")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
