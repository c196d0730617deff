package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/example/go-subword/internal/config"
	"github.com/example/go-subword/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var graphName string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tokenization HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			tok, err := loadTokenizer(cfg)
			if err != nil {
				return err
			}

			// The encoder graph is optional; without it /embed reports 501.
			var embedder server.Embedder
			if cfg.Paths.ManifestPath != "" {
				svc, closeRunner, err := buildEmbedder(cfg, graphName, true)
				if err != nil {
					slog.Warn("embedding disabled", "error", err.Error())
				} else {
					defer closeRunner()
					embedder = svc
				}
			}

			srv := server.New(cfg, tok, embedder)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}

	defaults := config.DefaultConfig()
	config.RegisterFlags(cmd.Flags(), defaults)
	cmd.Flags().StringVar(&graphName, "graph", "encoder", "Encoder graph name from the manifest")

	return cmd
}
