package tokenizer

import (
	"reflect"
	"testing"
)

// bpeFixture builds a byte-level BPE segmenter over a small CLIP-style
// vocabulary: pad and wrapping specials, the single-byte symbols needed by
// the tests, and a couple of merged tokens.
func bpeFixture(t *testing.T) *BPE {
	t.Helper()

	vocabJSON := `{
		"<|pad|>": 0,
		"<|startoftext|>": 1,
		"<|endoftext|>": 2,
		"a": 3,
		"c": 4,
		"t</w>": 5,
		"ca": 6,
		"cat</w>": 7,
		"a</w>": 8,
		"b": 9,
		"c</w>": 10,
		"bc</w>": 11,
		"ab": 12,
		"Ã": 13,
		"©</w>": 14,
		".</w>": 15
	}`
	merges := "#version: 0.2\nc a\nca t</w>\nb c</w>\na b\n"

	vocab, err := ParseVocabJSON([]byte(vocabJSON))
	if err != nil {
		t.Fatalf("ParseVocabJSON: %v", err)
	}
	table, err := ParseMerges([]byte(merges))
	if err != nil {
		t.Fatalf("ParseMerges: %v", err)
	}

	b, err := NewBPE(vocab, table, BPEConfig{
		Added: []AddedToken{{Content: "<|pad|>", ID: 0}},
	})
	if err != nil {
		t.Fatalf("NewBPE: %v", err)
	}
	return b
}

func TestBPE_MergeAndPad(t *testing.T) {
	b := bpeFixture(t)

	got, err := b.Encode("a cat", 8)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// <|startoftext|> a</w> cat</w> <|endoftext|> then zero-padding.
	wantIDs := []int64{1, 8, 7, 2, 0, 0, 0, 0}
	if !reflect.DeepEqual(got.InputIDs, wantIDs) {
		t.Errorf("InputIDs = %v, want %v", got.InputIDs, wantIDs)
	}

	wantMask := []int64{1, 1, 1, 1, 0, 0, 0, 0}
	if !reflect.DeepEqual(got.AttentionMask, wantMask) {
		t.Errorf("AttentionMask = %v, want %v", got.AttentionMask, wantMask)
	}
}

func TestBPE_AlwaysPadsToMaxLength(t *testing.T) {
	b := bpeFixture(t)

	for _, text := range []string{"", "a", "a cat cat cat"} {
		got, err := b.Encode(text, 16)
		if err != nil {
			t.Fatalf("Encode(%q): %v", text, err)
		}
		if got.Len() != 16 {
			t.Errorf("Encode(%q).Len() = %d, want 16", text, got.Len())
		}

		zeros := 0
		for _, m := range got.AttentionMask {
			if m == 0 {
				zeros++
			}
		}
		real := 0
		for i, m := range got.AttentionMask {
			if m == 1 {
				real = i + 1
			}
		}
		if zeros != 16-real {
			t.Errorf("Encode(%q): %d mask zeros, want %d", text, zeros, 16-real)
		}
	}
}

func TestBPE_MergePriorityOrder(t *testing.T) {
	b := bpeFixture(t)

	// Word "abc": pairs (a,b) rank 3 and (b,c</w>) rank 2. The lower rank
	// merges first, so the result is a + bc</w>, not ab + c</w>.
	got, err := b.Encode("abc", 8)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	wantIDs := []int64{1, 3, 11, 2, 0, 0, 0, 0}
	if !reflect.DeepEqual(got.InputIDs, wantIDs) {
		t.Errorf("InputIDs = %v, want %v", got.InputIDs, wantIDs)
	}
}

func TestBPE_LowercasesAndCleansWhitespace(t *testing.T) {
	b := bpeFixture(t)

	upper, err := b.Encode("A  CAT", 8)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	lower, err := b.Encode("a cat", 8)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if !reflect.DeepEqual(upper.InputIDs, lower.InputIDs) {
		t.Errorf("InputIDs = %v, want %v", upper.InputIDs, lower.InputIDs)
	}
}

func TestBPE_AddedTokenNeverSplit(t *testing.T) {
	b := bpeFixture(t)

	got, err := b.Encode("a<|endoftext|>cat", 8)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	wantIDs := []int64{1, 8, 2, 7, 2, 0, 0, 0}
	if !reflect.DeepEqual(got.InputIDs, wantIDs) {
		t.Errorf("InputIDs = %v, want %v", got.InputIDs, wantIDs)
	}
}

func TestBPE_SymbolMissingFromVocabulary(t *testing.T) {
	b := bpeFixture(t)

	// "z" never appears in the fixture vocabulary, so the merged word symbol
	// "z</w>" has no id. That is a vocabulary/merge-rules mismatch and must
	// surface as an error, not a silently shortened sequence.
	if _, err := b.Encode("z", 8); err == nil {
		t.Fatal("expected error for symbol absent from the vocabulary")
	}
}

func TestBPE_DecodeRoundTrip(t *testing.T) {
	b := bpeFixture(t)

	enc, err := b.Encode("a cat.", 16)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := b.Decode(enc.InputIDs)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	// Specials and padding are skipped; words rejoin with single spaces.
	if got != "a cat ." {
		t.Errorf("Decode = %q, want %q", got, "a cat .")
	}
}

func TestBPE_DecodeInvalidID(t *testing.T) {
	b := bpeFixture(t)

	if _, err := b.Decode([]int64{1, 500, 2}); err == nil {
		t.Fatal("expected error for out-of-range id")
	}
}

func TestBPE_PairTokenTypeIDs(t *testing.T) {
	b := bpeFixture(t)

	got, err := b.EncodePair("a", "cat", 10)
	if err != nil {
		t.Fatalf("EncodePair: %v", err)
	}

	// start a</w> end | cat</w> end, then padding with type id 0.
	wantIDs := []int64{1, 8, 2, 7, 2, 0, 0, 0, 0, 0}
	if !reflect.DeepEqual(got.InputIDs, wantIDs) {
		t.Fatalf("InputIDs = %v, want %v", got.InputIDs, wantIDs)
	}

	wantTypes := []int64{0, 0, 0, 1, 1, 0, 0, 0, 0, 0}
	if !reflect.DeepEqual(got.TokenTypeIDs, wantTypes) {
		t.Errorf("TokenTypeIDs = %v, want %v", got.TokenTypeIDs, wantTypes)
	}
}

func TestBPE_MultiByteCharacterBytesSplitAcrossTokens(t *testing.T) {
	b := bpeFixture(t)

	// "é" is 0xC3 0xA9; the byte-level symbols Ã and ©</w> each carry one
	// of its bytes, so the two tokens must be decoded together.
	enc, err := b.Encode("é", 8)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	wantIDs := []int64{1, 13, 14, 2, 0, 0, 0, 0}
	if !reflect.DeepEqual(enc.InputIDs, wantIDs) {
		t.Fatalf("InputIDs = %v, want %v", enc.InputIDs, wantIDs)
	}

	got, err := b.Decode(enc.InputIDs)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "é" {
		t.Errorf("Decode = %q, want %q", got, "é")
	}
}

func TestBPE_StreamDecodeHoldsPartialCharacter(t *testing.T) {
	b := bpeFixture(t)

	stream := b.NewStream()

	out, err := stream.Decode(13) // Ã carries 0xC3, an incomplete prefix
	if err != nil {
		t.Fatalf("stream.Decode: %v", err)
	}
	if out != "" {
		t.Errorf("first call = %q, want empty (partial character pending)", out)
	}

	out, err = stream.Decode(14) // ©</w> completes 0xC3 0xA9 and ends the word
	if err != nil {
		t.Fatalf("stream.Decode: %v", err)
	}
	if out != "é " {
		t.Errorf("second call = %q, want %q", out, "é ")
	}

	if rest := stream.Flush(); rest != "" {
		t.Errorf("Flush = %q, want empty", rest)
	}
}

func TestBPE_SingleTokenDecodeMatchesSequence(t *testing.T) {
	b := bpeFixture(t)

	single, err := b.DecodeToken(7)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	seq, err := b.Decode([]int64{7})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if single != seq {
		t.Errorf("DecodeToken = %q, Decode([id]) = %q; want equal", single, seq)
	}
}

func TestNewBPE_MissingSpecialToken(t *testing.T) {
	vocab, err := ParseVocabJSON([]byte(`{"a": 0}`))
	if err != nil {
		t.Fatalf("ParseVocabJSON: %v", err)
	}
	table, err := ParseMerges([]byte("a b\n"))
	if err != nil {
		t.Fatalf("ParseMerges: %v", err)
	}

	if _, err := NewBPE(vocab, table, BPEConfig{}); err == nil {
		t.Fatal("expected error for vocabulary without wrapping special tokens")
	}
}
