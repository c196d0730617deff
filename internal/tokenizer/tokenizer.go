// Package tokenizer converts raw text into the integer token-id sequences
// consumed by transformer models and converts id sequences back into text.
// Three segmentation algorithms are provided behind a common contract:
// greedy longest-match WordPiece, byte-level byte-pair encoding, and
// Viterbi-optimal Unigram segmentation with byte fallback.
//
// A constructed tokenizer has no mutable state and is safe for unlimited
// concurrent Encode/Decode calls. Streaming decode state is an explicit
// per-consumer value, see DecodeStream.
package tokenizer

import "errors"

// ErrInvalidTokenID is returned when a decode call references an id outside
// the vocabulary range. This indicates a caller bug and is never masked.
var ErrInvalidTokenID = errors.New("token id outside vocabulary range")

// EncodedInput is the model-boundary shape produced by every Encode call:
// three parallel integer arrays of identical length.
type EncodedInput struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
}

// Len returns the number of encoded positions.
func (e EncodedInput) Len() int {
	return len(e.InputIDs)
}

// Tokenizer is the common contract implemented by WordPiece, BPE, and
// Unigram. maxLength <= 0 means unbounded.
type Tokenizer interface {
	// Encode tokenizes a single sequence.
	Encode(text string, maxLength int) (EncodedInput, error)
	// EncodePair tokenizes a sentence pair, marking the second sequence
	// with token type id 1.
	EncodePair(textA, textB string, maxLength int) (EncodedInput, error)
	// Decode reverses an id sequence back to text, skipping added/special
	// tokens. Ids outside the vocabulary range return ErrInvalidTokenID.
	Decode(ids []int64) (string, error)
}

// newEncodedInput builds an EncodedInput from ids and per-position type ids,
// with an all-ones attention mask. typeIDs may be nil for all-zero segments.
func newEncodedInput(ids, typeIDs []int64) EncodedInput {
	mask := make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	if typeIDs == nil {
		typeIDs = make([]int64, len(ids))
	}
	return EncodedInput{InputIDs: ids, AttentionMask: mask, TokenTypeIDs: typeIDs}
}

// truncate slices all three arrays to maxLength. maxLength <= 0 leaves the
// input untouched.
func (e EncodedInput) truncate(maxLength int) EncodedInput {
	if maxLength <= 0 || len(e.InputIDs) <= maxLength {
		return e
	}
	return EncodedInput{
		InputIDs:      e.InputIDs[:maxLength],
		AttentionMask: e.AttentionMask[:maxLength],
		TokenTypeIDs:  e.TokenTypeIDs[:maxLength],
	}
}
