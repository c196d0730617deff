package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/example/go-subword/internal/config"
	"github.com/example/go-subword/internal/embed"
	"github.com/example/go-subword/internal/onnx"
	"github.com/spf13/cobra"
)

func newEmbedCmd() *cobra.Command {
	var (
		text      string
		graphName string
		normalize bool
	)

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed text with the configured ONNX encoder",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			input, err := resolveText(text, args)
			if err != nil {
				return err
			}

			svc, closeRunner, err := buildEmbedder(cfg, graphName, normalize)
			if err != nil {
				return err
			}
			defer closeRunner()

			vec, err := svc.Embed(cmd.Context(), input)
			if err != nil {
				return err
			}

			return json.NewEncoder(os.Stdout).Encode(vec)
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to embed ('-' reads stdin; positional arg also accepted)")
	cmd.Flags().StringVar(&graphName, "graph", "encoder", "Graph name from the manifest")
	cmd.Flags().BoolVar(&normalize, "normalize", true, "L2-normalize the pooled vector")

	return cmd
}

func buildEmbedder(cfg config.Config, graphName string, normalize bool) (*embed.Service, func(), error) {
	sessions, err := onnx.LoadSessions(cfg.Paths.ManifestPath)
	if err != nil {
		return nil, nil, err
	}

	meta, ok := onnx.FindSession(sessions, graphName)
	if !ok {
		return nil, nil, fmt.Errorf("graph %q not found in manifest %s", graphName, cfg.Paths.ManifestPath)
	}

	runner, err := onnx.NewRunner(meta, onnx.RunnerConfig{
		LibraryPath: cfg.Runtime.ORTLibraryPath,
	})
	if err != nil {
		return nil, nil, err
	}

	tok, err := loadTokenizer(cfg)
	if err != nil {
		runner.Close()
		return nil, nil, err
	}

	svc, err := embed.NewService(tok, runner, embed.Options{
		MaxLength: cfg.Tokenizer.MaxLength,
		Normalize: normalize,
	})
	if err != nil {
		runner.Close()
		return nil, nil, err
	}

	return svc, runner.Close, nil
}
