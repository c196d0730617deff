package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/example/go-subword/internal/tokenizer"
	"github.com/spf13/cobra"
)

func newEncodeCmd() *cobra.Command {
	var (
		text      string
		textPair  string
		maxLength int
		idsOnly   bool
	)

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode text into token ids",
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			input, err := resolveText(text, args)
			if err != nil {
				return err
			}

			tok, err := loadTokenizer(cfg)
			if err != nil {
				return err
			}

			if maxLength == 0 {
				maxLength = cfg.Tokenizer.MaxLength
			}

			var enc tokenizer.EncodedInput
			if textPair != "" {
				enc, err = tok.EncodePair(input, textPair, maxLength)
			} else {
				enc, err = tok.Encode(input, maxLength)
			}
			if err != nil {
				return err
			}

			if idsOnly {
				parts := make([]string, len(enc.InputIDs))
				for i, id := range enc.InputIDs {
					parts[i] = fmt.Sprintf("%d", id)
				}
				_, err = fmt.Fprintln(os.Stdout, strings.Join(parts, " "))
				return err
			}

			out := map[string][]int64{
				"input_ids":      enc.InputIDs,
				"attention_mask": enc.AttentionMask,
				"token_type_ids": enc.TokenTypeIDs,
			}
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(out)
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to encode ('-' reads stdin; positional arg also accepted)")
	cmd.Flags().StringVar(&textPair, "pair", "", "Optional second segment for pair encoding")
	cmd.Flags().IntVar(&maxLength, "max-length", 0, "Sequence length bound (0 uses the configured default)")
	cmd.Flags().BoolVar(&idsOnly, "ids-only", false, "Print space-separated ids instead of JSON")

	return cmd
}

// resolveText picks the input text from the --text flag, a positional
// argument, or stdin when the flag value is "-".
func resolveText(flagText string, args []string) (string, error) {
	if flagText == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimRight(string(b), "\n"), nil
	}
	if flagText != "" {
		return flagText, nil
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	return "", fmt.Errorf("no input text; pass --text, a positional argument, or --text - for stdin")
}
