package tokenizer

import "fmt"

// Artifacts holds already-read vocabulary artifact bytes. Exactly one
// artifact family selects the segmenter implementation: a structured
// unigram model, a JSON vocabulary with merge rules, or a newline-delimited
// token list.
type Artifacts struct {
	WordPieceVocab []byte // newline-delimited token list
	BPEVocab       []byte // JSON token-to-id map
	BPEMerges      []byte // "left right" merge rules in training order
	UnigramModel   []byte // structured JSON artifact with scores and added tokens
}

// FromArtifacts constructs the tokenizer variant matching the supplied
// artifact format, with default special-token configuration. Callers that
// need non-default special tokens use the variant constructors directly.
func FromArtifacts(a Artifacts) (Tokenizer, error) {
	switch {
	case a.UnigramModel != nil:
		return NewUnigram(a.UnigramModel)
	case a.BPEVocab != nil:
		if a.BPEMerges == nil {
			return nil, fmt.Errorf("BPE vocabulary requires a merge-rules artifact")
		}
		vocab, err := ParseVocabJSON(a.BPEVocab)
		if err != nil {
			return nil, err
		}
		merges, err := ParseMerges(a.BPEMerges)
		if err != nil {
			return nil, err
		}
		return NewBPE(vocab, merges, BPEConfig{})
	case a.WordPieceVocab != nil:
		vocab, err := ParseVocabLines(a.WordPieceVocab)
		if err != nil {
			return nil, err
		}
		return NewWordPiece(vocab, WordPieceConfig{})
	default:
		return nil, fmt.Errorf("no vocabulary artifact supplied")
	}
}
