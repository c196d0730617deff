package main

import (
	"fmt"
	"os"

	"github.com/example/go-subword/internal/model"
	"github.com/spf13/cobra"
)

func newDownloadCmd() *cobra.Command {
	var hfRepo string
	var outDir string
	var hfToken string

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download tokenizer artifacts from Hugging Face",
		RunE: func(_ *cobra.Command, _ []string) error {
			if hfToken == "" {
				hfToken = os.Getenv("HF_TOKEN")
			}

			err := model.Download(model.DownloadOptions{
				Repo:    hfRepo,
				OutDir:  outDir,
				HFToken: hfToken,
				Stdout:  os.Stdout,
			})
			if err != nil {
				return fmt.Errorf("artifact download failed: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&hfRepo, "hf-repo", "bert-base-uncased", "Hugging Face tokenizer repository")
	cmd.Flags().StringVar(&outDir, "out-dir", "models", "Directory where artifact files are stored")
	cmd.Flags().StringVar(&hfToken, "hf-token", "", "Hugging Face token (falls back to HF_TOKEN env var)")

	return cmd
}
