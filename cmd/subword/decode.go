package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/example/go-subword/internal/tokenizer"
	"github.com/spf13/cobra"
)

// streamDecoder is implemented by segmenters with incremental decode support.
type streamDecoder interface {
	NewStream() *tokenizer.DecodeStream
}

func newDecodeCmd() *cobra.Command {
	var stream bool

	cmd := &cobra.Command{
		Use:   "decode [ids...]",
		Short: "Decode token ids back into text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			tok, err := loadTokenizer(cfg)
			if err != nil {
				return err
			}

			if stream {
				sd, ok := tok.(streamDecoder)
				if !ok {
					return fmt.Errorf("configured tokenizer does not support streaming decode")
				}
				ds := sd.NewStream()
				for _, id := range ids {
					chunk, err := ds.Decode(id)
					if err != nil {
						return err
					}
					_, _ = fmt.Fprint(os.Stdout, chunk)
				}
				_, _ = fmt.Fprintln(os.Stdout, ds.Flush())
				return nil
			}

			text, err := tok.Decode(ids)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(os.Stdout, text)
			return err
		},
	}

	cmd.Flags().BoolVar(&stream, "stream", false, "Emit text incrementally per id")

	return cmd
}

// parseIDs accepts ids as separate arguments or comma-separated lists.
func parseIDs(args []string) ([]int64, error) {
	var ids []int64
	for _, arg := range args {
		for _, field := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' }) {
			id, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid token id %q", field)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no token ids supplied")
	}
	return ids, nil
}
