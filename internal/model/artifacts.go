package model

import (
	"fmt"
	"os"

	"github.com/example/go-subword/internal/tokenizer"
)

// ArtifactPaths names the on-disk tokenizer artifacts. Which fields are
// required depends on Kind; with Kind empty the populated paths select the
// segmenter.
type ArtifactPaths struct {
	Kind          string // wordpiece | bpe | unigram | "" (detect)
	VocabPath     string // WordPiece line list or BPE vocabulary JSON
	MergesPath    string // BPE merge rules
	TokenizerPath string // unigram tokenizer JSON
}

// LoadTokenizer reads the configured artifact files and constructs the
// matching segmenter.
func LoadTokenizer(p ArtifactPaths) (tokenizer.Tokenizer, error) {
	arts, err := readArtifacts(p)
	if err != nil {
		return nil, err
	}
	return tokenizer.FromArtifacts(arts)
}

func readArtifacts(p ArtifactPaths) (tokenizer.Artifacts, error) {
	var arts tokenizer.Artifacts

	switch p.Kind {
	case "wordpiece":
		b, err := readArtifactFile("vocabulary", p.VocabPath)
		if err != nil {
			return arts, err
		}
		arts.WordPieceVocab = b
	case "bpe":
		vocab, err := readArtifactFile("vocabulary", p.VocabPath)
		if err != nil {
			return arts, err
		}
		merges, err := readArtifactFile("merge rules", p.MergesPath)
		if err != nil {
			return arts, err
		}
		arts.BPEVocab = vocab
		arts.BPEMerges = merges
	case "unigram":
		b, err := readArtifactFile("tokenizer model", p.TokenizerPath)
		if err != nil {
			return arts, err
		}
		arts.UnigramModel = b
	case "":
		if err := detectArtifacts(p, &arts); err != nil {
			return arts, err
		}
	default:
		return arts, fmt.Errorf("unknown tokenizer kind %q", p.Kind)
	}

	return arts, nil
}

// detectArtifacts fills arts from whichever paths are configured. A unigram
// model wins over a vocab, and a vocab with merges is treated as BPE rather
// than WordPiece.
func detectArtifacts(p ArtifactPaths, arts *tokenizer.Artifacts) error {
	switch {
	case p.TokenizerPath != "":
		b, err := readArtifactFile("tokenizer model", p.TokenizerPath)
		if err != nil {
			return err
		}
		arts.UnigramModel = b
	case p.VocabPath != "" && p.MergesPath != "":
		vocab, err := readArtifactFile("vocabulary", p.VocabPath)
		if err != nil {
			return err
		}
		merges, err := readArtifactFile("merge rules", p.MergesPath)
		if err != nil {
			return err
		}
		arts.BPEVocab = vocab
		arts.BPEMerges = merges
	case p.VocabPath != "":
		b, err := readArtifactFile("vocabulary", p.VocabPath)
		if err != nil {
			return err
		}
		arts.WordPieceVocab = b
	default:
		return fmt.Errorf("no tokenizer artifact paths configured")
	}
	return nil
}

func readArtifactFile(label, path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%s path is required", label)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", label, err)
	}
	return b, nil
}
