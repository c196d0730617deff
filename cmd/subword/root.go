package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/example/go-subword/internal/config"
	"github.com/example/go-subword/internal/model"
	"github.com/example/go-subword/internal/server"
	"github.com/example/go-subword/internal/tokenizer"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	cfgLoaded bool
	activeCfg config.Config
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "subword",
		Short: "Subword tokenization command line",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			cfgLoaded = true
			setupLogger(loaded.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newEncodeCmd())
	cmd.AddCommand(newDecodeCmd())
	cmd.AddCommand(newEmbedCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newHealthCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(levelStr string) {
	lvl, err := server.ParseLogLevel(levelStr)
	if err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

func requireConfig() (config.Config, error) {
	if !cfgLoaded {
		return config.Config{}, fmt.Errorf("configuration not loaded")
	}
	return activeCfg, nil
}

func loadTokenizer(cfg config.Config) (tokenizer.Tokenizer, error) {
	return model.LoadTokenizer(model.ArtifactPaths{
		Kind:          cfg.Tokenizer.Kind,
		VocabPath:     cfg.Paths.VocabPath,
		MergesPath:    cfg.Paths.MergesPath,
		TokenizerPath: cfg.Paths.TokenizerPath,
	})
}
